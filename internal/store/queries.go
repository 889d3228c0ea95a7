package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/HierarchThurs/Argus/pkg/base"
)

// ErrBadCursor reports a malformed pagination cursor.
var ErrBadCursor = errors.New("malformed cursor")

// EncodeCursor renders the pagination cursor for a row: the internal date in
// unix milliseconds and the row id, joined by an underscore.
func EncodeCursor(internalDate time.Time, id uint) string {
	return fmt.Sprintf("%d_%d", internalDate.UnixMilli(), id)
}

func decodeCursor(cursor string) (time.Time, uint, error) {
	parts := strings.SplitN(cursor, "_", 2)
	if len(parts) != 2 {
		return time.Time{}, 0, errors.Wrapf(ErrBadCursor, "%q", cursor)
	}
	millis, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return time.Time{}, 0, errors.Wrapf(ErrBadCursor, "%q", cursor)
	}
	id, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return time.Time{}, 0, errors.Wrapf(ErrBadCursor, "%q", cursor)
	}
	return time.UnixMilli(millis), uint(id), nil
}

// ListByFolders pages folder messages (with their Message preloaded) across
// the given folders, ordered (internal_date DESC, id DESC). A non-empty
// next cursor is returned iff more rows exist past the page.
//
// The cursor comparison is strict on the combined (internal_date, id) key so
// rows sharing a timestamp are never served twice, and rows inserted at the
// head after the cursor was issued never interleave into a later page.
func (s *Store) ListByFolders(ctx context.Context, folderIDs []uint, cursor string, limit int) ([]FolderMessage, string, error) {
	if limit <= 0 {
		limit = 50
	}
	if len(folderIDs) == 0 {
		return nil, "", nil
	}

	q := s.db.WithContext(ctx).
		Model(&FolderMessage{}).
		Preload("Message").
		Where("folder_id IN ?", folderIDs).
		Order("internal_date DESC, id DESC").
		Limit(limit + 1)

	if cursor != "" {
		ts, id, err := decodeCursor(cursor)
		if err != nil {
			return nil, "", err
		}
		q = q.Where("internal_date < ? OR (internal_date = ? AND id < ?)", ts, ts, id)
	}

	var rows []FolderMessage
	if err := q.Find(&rows).Error; err != nil {
		return nil, "", errors.Wrap(err, "list folder messages")
	}

	next := ""
	if len(rows) > limit {
		rows = rows[:limit]
		last := rows[limit-1]
		next = EncodeCursor(last.InternalDate, last.ID)
	}
	return rows, next, nil
}

// UpdateClassification writes the detection outcome for a message atomically.
func (s *Store) UpdateClassification(ctx context.Context, messageID uint, level string, score float64, reason, status string) error {
	updates := map[string]interface{}{
		"phishing_level":  level,
		"phishing_score":  score,
		"phishing_reason": reason,
		"phishing_status": status,
	}
	err := s.db.WithContext(ctx).
		Model(&Message{}).
		Where("id = ?", messageID).
		Updates(updates).Error
	if err != nil {
		return errors.Wrapf(err, "update classification %d", messageID)
	}
	return nil
}

// MarkRead flags one folder appearance as read. Idempotent.
func (s *Store) MarkRead(ctx context.Context, folderMessageID uint) error {
	err := s.db.WithContext(ctx).
		Model(&FolderMessage{}).
		Where("id = ?", folderMessageID).
		Update("is_read", true).Error
	if err != nil {
		return errors.Wrapf(err, "mark read %d", folderMessageID)
	}
	return nil
}

// AllTrackedMessageIDs returns the distinct message ids that appear in any
// folder, for operator-triggered global re-detection.
func (s *Store) AllTrackedMessageIDs(ctx context.Context) ([]uint, error) {
	var ids []uint
	err := s.db.WithContext(ctx).
		Model(&FolderMessage{}).
		Distinct("message_id").
		Pluck("message_id", &ids).Error
	if err != nil {
		return nil, errors.Wrap(err, "tracked message ids")
	}
	return ids, nil
}

// ResetDetectionStatus drives messages back to PENDING ahead of re-detection.
func (s *Store) ResetDetectionStatus(ctx context.Context, messageIDs []uint) error {
	if len(messageIDs) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).
		Model(&Message{}).
		Where("id IN ?", messageIDs).
		Update("phishing_status", base.StatusPending).Error
	if err != nil {
		return errors.Wrap(err, "reset detection status")
	}
	return nil
}

// FolderMessageOwner resolves the user owning a folder appearance, for
// request-level authorization.
func (s *Store) FolderMessageOwner(ctx context.Context, folderMessageID uint) (uint, error) {
	var ownerID uint
	err := s.db.WithContext(ctx).
		Model(&FolderMessage{}).
		Select("accounts.owner_user_id").
		Joins("JOIN folders ON folders.id = folder_messages.folder_id").
		Joins("JOIN accounts ON accounts.id = folders.account_id").
		Where("folder_messages.id = ?", folderMessageID).
		Scan(&ownerID).Error
	if err != nil {
		return 0, errors.Wrapf(err, "folder message owner %d", folderMessageID)
	}
	if ownerID == 0 {
		return 0, errors.Wrapf(ErrNotFound, "folder message %d", folderMessageID)
	}
	return ownerID, nil
}

// FolderIDsByUser lists every folder id across the user's accounts.
func (s *Store) FolderIDsByUser(ctx context.Context, userID uint) ([]uint, error) {
	var ids []uint
	err := s.db.WithContext(ctx).
		Model(&Folder{}).
		Joins("JOIN accounts ON accounts.id = folders.account_id").
		Where("accounts.owner_user_id = ?", userID).
		Pluck("folders.id", &ids).Error
	if err != nil {
		return nil, errors.Wrap(err, "folder ids by user")
	}
	return ids, nil
}

// DetectionTarget is everything the pipeline needs for one message.
type DetectionTarget struct {
	Message     Message
	Body        Body
	OwnerUserID uint
}

// MessageForDetection loads a message with its body and the owning user id.
func (s *Store) MessageForDetection(ctx context.Context, messageID uint) (*DetectionTarget, error) {
	var target DetectionTarget

	err := s.db.WithContext(ctx).First(&target.Message, messageID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.Wrapf(ErrNotFound, "message %d", messageID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "load message")
	}

	// Body may legitimately be absent for header-only messages.
	err = s.db.WithContext(ctx).Where("message_id = ?", messageID).First(&target.Body).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.Wrap(err, "load body")
	}

	var account Account
	if err := s.db.WithContext(ctx).First(&account, target.Message.AccountID).Error; err != nil {
		return nil, errors.Wrap(err, "load account")
	}
	target.OwnerUserID = account.OwnerUserID
	return &target, nil
}

// MessageDetail loads a message with body and recipients for the detail view.
func (s *Store) MessageDetail(ctx context.Context, messageID uint) (*Message, *Body, []Recipient, error) {
	var message Message
	err := s.db.WithContext(ctx).First(&message, messageID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, nil, errors.Wrapf(ErrNotFound, "message %d", messageID)
	}
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "load message")
	}

	var body Body
	err = s.db.WithContext(ctx).Where("message_id = ?", messageID).First(&body).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, nil, errors.Wrap(err, "load body")
	}

	var recipients []Recipient
	if err := s.db.WithContext(ctx).Where("message_id = ?", messageID).Find(&recipients).Error; err != nil {
		return nil, nil, nil, errors.Wrap(err, "load recipients")
	}
	return &message, &body, recipients, nil
}
