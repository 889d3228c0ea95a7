package store

import (
	"time"
)

// Account is one registered external mailbox.
type Account struct {
	ID                uint   `gorm:"primaryKey"`
	OwnerUserID       uint   `gorm:"index;not null"`
	Address           string `gorm:"size:255;not null"`
	ProviderKind      string `gorm:"size:32;not null"`
	IMAPHost          string `gorm:"size:255"`
	IMAPPort          int
	SMTPHost          string `gorm:"size:255"`
	SMTPPort          int
	UseSSL            bool   `gorm:"default:true"`
	AuthUser          string `gorm:"size:255"`
	EncryptedPassword string `gorm:"size:1024"`
	Active            bool   `gorm:"default:true"`
	LastSyncAt        *time.Time
	CreatedAt         time.Time
}

// Folder is one IMAP mailbox of an account. LastUIDCursor is the greatest UID
// successfully persisted for the current UIDVALIDITY generation.
type Folder struct {
	ID            uint   `gorm:"primaryKey"`
	AccountID     uint   `gorm:"not null;uniqueIndex:idx_folders_account_name"`
	Name          string `gorm:"size:255;not null;uniqueIndex:idx_folders_account_name"`
	Delimiter     string `gorm:"size:8"`
	Attributes    string `gorm:"size:255"`
	UIDValidity   *uint32
	LastUIDCursor uint32 `gorm:"default:0"`
	LastSyncAt    *time.Time
	CreatedAt     time.Time
}

// Message is one logical email, unique per (account, rfc message id) even
// when it appears in several folders.
type Message struct {
	ID             uint   `gorm:"primaryKey"`
	AccountID      uint   `gorm:"not null;uniqueIndex:idx_messages_account_rfc"`
	RFCMessageID   string `gorm:"column:rfc_message_id;size:255;not null;uniqueIndex:idx_messages_account_rfc"`
	Subject        string `gorm:"size:998"`
	SenderName     string `gorm:"size:255"`
	SenderAddress  string `gorm:"size:255;index"`
	Snippet        string `gorm:"size:255"`
	ReceivedAt     *time.Time
	Size           uint32
	PhishingLevel  string  `gorm:"size:16;not null;default:NORMAL"`
	PhishingScore  float64 `gorm:"not null;default:0"`
	PhishingReason string  `gorm:"size:1024"`
	PhishingStatus string  `gorm:"size:16;not null;default:PENDING;index"`
	CreatedAt      time.Time
}

// Body holds the large text/html columns, 1:1 with Message.
type Body struct {
	MessageID uint   `gorm:"primaryKey"`
	Text      string `gorm:"type:text"`
	HTML      string `gorm:"column:html;type:text"`
}

// Recipient is one decoded recipient of a message.
type Recipient struct {
	ID          uint   `gorm:"primaryKey"`
	MessageID   uint   `gorm:"not null;index"`
	Kind        string `gorm:"size:16;not null"`
	DisplayName string `gorm:"size:255"`
	Address     string `gorm:"size:255;not null"`
}

// FolderMessage is one appearance of a Message inside a Folder.
type FolderMessage struct {
	ID           uint      `gorm:"primaryKey"`
	FolderID     uint      `gorm:"not null;uniqueIndex:idx_folder_messages_folder_uid"`
	MessageID    uint      `gorm:"not null;index"`
	UID          uint32    `gorm:"column:uid;not null;uniqueIndex:idx_folder_messages_folder_uid"`
	FlagsString  string    `gorm:"size:255"`
	IsRead       bool      `gorm:"default:false"`
	IsFlagged    bool      `gorm:"default:false"`
	IsAnswered   bool      `gorm:"default:false"`
	IsDeleted    bool      `gorm:"default:false"`
	IsDraft      bool      `gorm:"default:false"`
	InternalDate time.Time `gorm:"index"`
	CreatedAt    time.Time
	Message      Message `gorm:"foreignKey:MessageID"`
}

// SenderWhitelistRule whitelists senders by address or domain semantics.
type SenderWhitelistRule struct {
	ID          uint   `gorm:"primaryKey"`
	RuleKind    string `gorm:"size:32;not null"`
	RuleValue   string `gorm:"size:255;not null"`
	Description string `gorm:"size:255"`
	Active      bool   `gorm:"default:true"`
	CreatedAt   time.Time
}

// URLWhitelistRule whitelists extracted URLs by hostname semantics.
type URLWhitelistRule struct {
	ID          uint   `gorm:"primaryKey"`
	RuleKind    string `gorm:"size:32;not null"`
	RuleValue   string `gorm:"size:255;not null"`
	Description string `gorm:"size:255"`
	Active      bool   `gorm:"default:true"`
	CreatedAt   time.Time
}

// SystemSettings is a singleton row of runtime-tunable switches.
type SystemSettings struct {
	ID                     uint `gorm:"primaryKey"`
	EnableLongURLDetection bool `gorm:"default:true"`
	UpdatedAt              time.Time
}
