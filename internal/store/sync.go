package store

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/HierarchThurs/Argus/internal/imapsession"
	"github.com/HierarchThurs/Argus/internal/mailparse"
	"github.com/HierarchThurs/Argus/pkg/base"
)

// MessagePayload is one fetched message ready for persistence. RFCMessageID
// is already resolved, including the synthesized fallback for messages
// without a Message-ID header.
type MessagePayload struct {
	UID          uint32
	Flags        []string
	InternalDate time.Time
	Size         uint32
	RFCMessageID string
	Parsed       *mailparse.ParsedMessage
}

// GetOrCreateFolder upserts the folder row by (account, name) and refreshes
// delimiter and attributes.
func (s *Store) GetOrCreateFolder(ctx context.Context, accountID uint, name, delimiter, attributes string) (*Folder, error) {
	var folder Folder
	err := s.db.WithContext(ctx).
		Where(Folder{AccountID: accountID, Name: name}).
		Attrs(Folder{Delimiter: delimiter, Attributes: attributes}).
		FirstOrCreate(&folder).Error
	if err != nil {
		return nil, errors.Wrapf(err, "upsert folder %q", name)
	}

	if folder.Delimiter != delimiter || folder.Attributes != attributes {
		updates := map[string]interface{}{"delimiter": delimiter, "attributes": attributes}
		if err := s.db.WithContext(ctx).Model(&folder).Updates(updates).Error; err != nil {
			return nil, errors.Wrapf(err, "refresh folder %q", name)
		}
		folder.Delimiter = delimiter
		folder.Attributes = attributes
	}
	return &folder, nil
}

// FoldersByAccount lists an account's folders by name.
func (s *Store) FoldersByAccount(ctx context.Context, accountID uint) ([]Folder, error) {
	var folders []Folder
	err := s.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("name").
		Find(&folders).Error
	if err != nil {
		return nil, errors.Wrap(err, "list folders")
	}
	return folders, nil
}

// ResetFolderGeneration handles a UIDVALIDITY change: purges the folder's
// messages, resets the cursor to 0 and stores the new generation. Messages of
// the account left without any folder appearance are garbage-collected along
// with their bodies and recipients.
func (s *Store) ResetFolderGeneration(ctx context.Context, accountID, folderID uint, newValidity uint32) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("folder_id = ?", folderID).Delete(&FolderMessage{}).Error; err != nil {
			return err
		}

		var orphanIDs []uint
		err := tx.Model(&Message{}).
			Where("account_id = ? AND NOT EXISTS (SELECT 1 FROM folder_messages WHERE folder_messages.message_id = messages.id)", accountID).
			Pluck("id", &orphanIDs).Error
		if err != nil {
			return err
		}
		if len(orphanIDs) > 0 {
			if err := tx.Where("message_id IN ?", orphanIDs).Delete(&Recipient{}).Error; err != nil {
				return err
			}
			if err := tx.Where("message_id IN ?", orphanIDs).Delete(&Body{}).Error; err != nil {
				return err
			}
			if err := tx.Where("id IN ?", orphanIDs).Delete(&Message{}).Error; err != nil {
				return err
			}
		}

		updates := map[string]interface{}{"uid_validity": newValidity, "last_uid_cursor": 0}
		return tx.Model(&Folder{}).Where("id = ?", folderID).Updates(updates).Error
	})
}

// SetFolderValidity stores the first observed UIDVALIDITY.
func (s *Store) SetFolderValidity(ctx context.Context, folderID uint, validity uint32) error {
	return s.db.WithContext(ctx).
		Model(&Folder{}).
		Where("id = ?", folderID).
		Update("uid_validity", validity).Error
}

// AdvanceFolderCursor persists the greatest UID handled so far. The cursor
// only moves forward.
func (s *Store) AdvanceFolderCursor(ctx context.Context, folderID uint, uid uint32) error {
	return s.db.WithContext(ctx).
		Model(&Folder{}).
		Where("id = ? AND last_uid_cursor < ?", folderID, uid).
		Update("last_uid_cursor", uid).Error
}

// TouchFolderSynced stamps a completed folder pass.
func (s *Store) TouchFolderSynced(ctx context.Context, folderID uint) error {
	now := time.Now()
	return s.db.WithContext(ctx).
		Model(&Folder{}).
		Where("id = ?", folderID).
		Update("last_sync_at", &now).Error
}

// PersistBatch writes one fetch chunk in a single transaction and returns how
// many folder appearances were new plus the message ids behind them.
//
// Per payload: an existing (folder, uid) pair only has its flags refreshed; a
// new pair reuses the Message with the same (account, rfc message id) when
// one exists, otherwise the Message is created together with its Body and
// Recipients. Freshly created messages start at NORMAL/0.0/PENDING via the
// column defaults.
//
// A UNIQUE violation (two writers racing past the lookup) retries the batch
// once; idempotence makes the retry safe.
func (s *Store) PersistBatch(ctx context.Context, accountID, folderID uint, payloads []MessagePayload) (int, []uint, error) {
	var insertedMessageIDs []uint

	run := func() error {
		insertedMessageIDs = insertedMessageIDs[:0]
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			for _, payload := range payloads {
				newID, err := s.persistOne(tx, accountID, folderID, payload)
				if err != nil {
					return err
				}
				if newID != 0 {
					insertedMessageIDs = append(insertedMessageIDs, newID)
				}
			}
			return nil
		})
	}

	err := run()
	if isUniqueViolation(err) {
		err = run()
	}
	if err != nil {
		return 0, nil, errors.Wrap(err, "persist batch")
	}
	return len(insertedMessageIDs), insertedMessageIDs, nil
}

// persistOne returns the message id when a new FolderMessage was inserted,
// zero when the payload only refreshed flags.
func (s *Store) persistOne(tx *gorm.DB, accountID, folderID uint, payload MessagePayload) (uint, error) {
	flags := imapsession.ParseFlags(payload.Flags)

	var existing FolderMessage
	err := tx.Where("folder_id = ? AND uid = ?", folderID, payload.UID).First(&existing).Error
	if err == nil {
		updates := map[string]interface{}{
			"flags_string": imapsession.NormalizeFlags(payload.Flags),
			"is_read":      flags.Seen,
			"is_flagged":   flags.Flagged,
			"is_answered":  flags.Answered,
			"is_deleted":   flags.Deleted,
			"is_draft":     flags.Draft,
		}
		return 0, tx.Model(&existing).Updates(updates).Error
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, err
	}

	message, err := s.getOrCreateMessage(tx, accountID, payload)
	if err != nil {
		return 0, err
	}

	folderMessage := FolderMessage{
		FolderID:     folderID,
		MessageID:    message.ID,
		UID:          payload.UID,
		FlagsString:  imapsession.NormalizeFlags(payload.Flags),
		IsRead:       flags.Seen,
		IsFlagged:    flags.Flagged,
		IsAnswered:   flags.Answered,
		IsDeleted:    flags.Deleted,
		IsDraft:      flags.Draft,
		InternalDate: payload.InternalDate,
	}
	if err := tx.Create(&folderMessage).Error; err != nil {
		return 0, err
	}
	return message.ID, nil
}

func (s *Store) getOrCreateMessage(tx *gorm.DB, accountID uint, payload MessagePayload) (*Message, error) {
	var message Message
	err := tx.Where("account_id = ? AND rfc_message_id = ?", accountID, payload.RFCMessageID).
		First(&message).Error
	if err == nil {
		return &message, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	parsed := payload.Parsed
	receivedAt := payload.InternalDate
	if !parsed.Date.IsZero() {
		receivedAt = parsed.Date
	}

	message = Message{
		AccountID:      accountID,
		RFCMessageID:   payload.RFCMessageID,
		Subject:        parsed.Subject,
		SenderName:     parsed.Sender.Name,
		SenderAddress:  parsed.Sender.Address,
		Snippet:        parsed.Snippet,
		ReceivedAt:     &receivedAt,
		Size:           payload.Size,
		PhishingLevel:  base.LevelNormal,
		PhishingScore:  0,
		PhishingStatus: base.StatusPending,
	}
	if err := tx.Create(&message).Error; err != nil {
		return nil, err
	}

	// Body and recipients only accompany the first appearance of a message.
	body := Body{MessageID: message.ID, Text: parsed.Text, HTML: parsed.HTML}
	if err := tx.Create(&body).Error; err != nil {
		return nil, err
	}
	for _, r := range parsed.Recipients {
		recipient := Recipient{
			MessageID:   message.ID,
			Kind:        r.Kind,
			DisplayName: r.Name,
			Address:     r.Address,
		}
		if err := tx.Create(&recipient).Error; err != nil {
			return nil, err
		}
	}
	return &message, nil
}
