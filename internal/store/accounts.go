package store

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

var ErrNotFound = errors.New("record not found")

// CreateAccount registers a mailbox. The password must already be encrypted.
func (s *Store) CreateAccount(ctx context.Context, account *Account) error {
	if err := s.db.WithContext(ctx).Create(account).Error; err != nil {
		return errors.Wrap(err, "create account")
	}
	return nil
}

// AccountByID loads one account.
func (s *Store) AccountByID(ctx context.Context, id uint) (*Account, error) {
	var account Account
	err := s.db.WithContext(ctx).First(&account, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.Wrapf(ErrNotFound, "account %d", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "load account")
	}
	return &account, nil
}

// AccountsByUser lists a user's accounts, newest first.
func (s *Store) AccountsByUser(ctx context.Context, userID uint) ([]Account, error) {
	var accounts []Account
	err := s.db.WithContext(ctx).
		Where("owner_user_id = ?", userID).
		Order("id DESC").
		Find(&accounts).Error
	if err != nil {
		return nil, errors.Wrap(err, "list accounts")
	}
	return accounts, nil
}

// DeleteAccount removes an account and everything it owns: folders, folder
// messages, messages, bodies and recipients.
func (s *Store) DeleteAccount(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var folderIDs []uint
		if err := tx.Model(&Folder{}).Where("account_id = ?", id).Pluck("id", &folderIDs).Error; err != nil {
			return err
		}
		if len(folderIDs) > 0 {
			if err := tx.Where("folder_id IN ?", folderIDs).Delete(&FolderMessage{}).Error; err != nil {
				return err
			}
		}

		var messageIDs []uint
		if err := tx.Model(&Message{}).Where("account_id = ?", id).Pluck("id", &messageIDs).Error; err != nil {
			return err
		}
		if len(messageIDs) > 0 {
			if err := tx.Where("message_id IN ?", messageIDs).Delete(&Recipient{}).Error; err != nil {
				return err
			}
			if err := tx.Where("message_id IN ?", messageIDs).Delete(&Body{}).Error; err != nil {
				return err
			}
			if err := tx.Where("account_id = ?", id).Delete(&Message{}).Error; err != nil {
				return err
			}
		}

		if err := tx.Where("account_id = ?", id).Delete(&Folder{}).Error; err != nil {
			return err
		}
		return tx.Delete(&Account{}, id).Error
	})
}

// TouchAccountSynced stamps a successful sync.
func (s *Store) TouchAccountSynced(ctx context.Context, id uint) error {
	now := time.Now()
	return s.db.WithContext(ctx).
		Model(&Account{}).
		Where("id = ?", id).
		Update("last_sync_at", &now).Error
}
