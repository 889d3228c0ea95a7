package store_test

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HierarchThurs/Argus/internal/mailparse"
	"github.com/HierarchThurs/Argus/internal/store"
	"github.com/HierarchThurs/Argus/pkg/base"
	"github.com/HierarchThurs/Argus/pkg/mock"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "argus.db"), mock.SetupLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestAccount(t *testing.T, s *store.Store) *store.Account {
	t.Helper()
	account := &store.Account{
		OwnerUserID:  1,
		Address:      "user@qq.com",
		ProviderKind: "QQ",
		IMAPHost:     "imap.qq.com",
		IMAPPort:     993,
		AuthUser:     "user@qq.com",
	}
	require.NoError(t, s.CreateAccount(context.Background(), account))
	return account
}

func newTestFolder(t *testing.T, s *store.Store, accountID uint, name string) *store.Folder {
	t.Helper()
	folder, err := s.GetOrCreateFolder(context.Background(), accountID, name, "/", "")
	require.NoError(t, err)
	return folder
}

func payload(uid uint32, messageID string, flags []string, internal time.Time) store.MessagePayload {
	return store.MessagePayload{
		UID:          uid,
		Flags:        flags,
		InternalDate: internal,
		Size:         1024,
		RFCMessageID: messageID,
		Parsed: &mailparse.ParsedMessage{
			MessageID: messageID,
			Subject:   "subject " + messageID,
			Sender:    mailparse.Address{Name: "Sender", Address: "sender@example.com"},
			Recipients: []mailparse.Recipient{
				{Kind: base.RecipientTo, Name: "Rcpt", Address: "rcpt@example.com"},
			},
			Text:    "text body",
			HTML:    "<p>html body</p>",
			Snippet: "text body",
		},
	}
}

func TestOpenSeedsSettings(t *testing.T) {
	s := newTestStore(t)

	settings, err := s.GetSettings(context.Background())
	require.NoError(t, err)
	assert.True(t, settings.EnableLongURLDetection)
}

func TestPersistBatchIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	account := newTestAccount(t, s)
	folder := newTestFolder(t, s, account.ID, "INBOX")

	now := time.Now().Truncate(time.Second)
	payloads := []store.MessagePayload{
		payload(45, "<m45@x>", []string{`\Seen`}, now),
		payload(46, "<m46@x>", nil, now.Add(time.Minute)),
		payload(47, "<m47@x>", nil, now.Add(2*time.Minute)),
	}

	count, ids, err := s.PersistBatch(ctx, account.ID, folder.ID, payloads)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.Len(t, ids, 3)

	// Second identical call changes nothing and reports zero inserts.
	count, ids, err = s.PersistBatch(ctx, account.ID, folder.ID, payloads)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	assert.Empty(t, ids)

	rows, _, err := s.ListByFolders(ctx, []uint{folder.ID}, "", 10)
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestPersistBatchRefreshesFlags(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	account := newTestAccount(t, s)
	folder := newTestFolder(t, s, account.ID, "INBOX")

	now := time.Now()
	_, _, err := s.PersistBatch(ctx, account.ID, folder.ID,
		[]store.MessagePayload{payload(45, "<m45@x>", nil, now)})
	require.NoError(t, err)

	count, _, err := s.PersistBatch(ctx, account.ID, folder.ID,
		[]store.MessagePayload{payload(45, "<m45@x>", []string{`\Seen`, `\Flagged`}, now)})
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	rows, _, err := s.ListByFolders(ctx, []uint{folder.ID}, "", 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].IsRead)
	assert.True(t, rows[0].IsFlagged)
	assert.Equal(t, `\FLAGGED \SEEN`, rows[0].FlagsString)
}

func TestPersistBatchSharedMessageAcrossFolders(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	account := newTestAccount(t, s)
	inbox := newTestFolder(t, s, account.ID, "INBOX")
	archive := newTestFolder(t, s, account.ID, "Archive")

	now := time.Now()
	_, inboxIDs, err := s.PersistBatch(ctx, account.ID, inbox.ID,
		[]store.MessagePayload{payload(5, "<same@x>", nil, now)})
	require.NoError(t, err)

	count, archiveIDs, err := s.PersistBatch(ctx, account.ID, archive.ID,
		[]store.MessagePayload{payload(9, "<same@x>", nil, now)})
	require.NoError(t, err)

	// New appearance, same logical message.
	assert.Equal(t, 1, count)
	require.Len(t, inboxIDs, 1)
	require.Len(t, archiveIDs, 1)
	assert.Equal(t, inboxIDs[0], archiveIDs[0])
}

func TestResetFolderGeneration(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	account := newTestAccount(t, s)
	folder := newTestFolder(t, s, account.ID, "INBOX")
	require.NoError(t, s.SetFolderValidity(ctx, folder.ID, 100))

	now := time.Now()
	_, _, err := s.PersistBatch(ctx, account.ID, folder.ID, []store.MessagePayload{
		payload(40, "<m40@x>", nil, now),
	})
	require.NoError(t, err)
	require.NoError(t, s.AdvanceFolderCursor(ctx, folder.ID, 40))

	require.NoError(t, s.ResetFolderGeneration(ctx, account.ID, folder.ID, 200))

	folders, err := s.FoldersByAccount(ctx, account.ID)
	require.NoError(t, err)
	require.Len(t, folders, 1)
	assert.Equal(t, uint32(0), folders[0].LastUIDCursor)
	require.NotNil(t, folders[0].UIDValidity)
	assert.Equal(t, uint32(200), *folders[0].UIDValidity)

	rows, _, err := s.ListByFolders(ctx, []uint{folder.ID}, "", 10)
	require.NoError(t, err)
	assert.Empty(t, rows)

	// The orphaned message was garbage-collected with the purge.
	ids, err := s.AllTrackedMessageIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestAdvanceFolderCursorMonotone(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	account := newTestAccount(t, s)
	folder := newTestFolder(t, s, account.ID, "INBOX")

	require.NoError(t, s.AdvanceFolderCursor(ctx, folder.ID, 47))
	require.NoError(t, s.AdvanceFolderCursor(ctx, folder.ID, 12)) // must not move back

	folders, err := s.FoldersByAccount(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, uint32(47), folders[0].LastUIDCursor)
}

func TestListByFoldersPagination(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	account := newTestAccount(t, s)
	folder := newTestFolder(t, s, account.ID, "INBOX")

	start := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	var payloads []store.MessagePayload
	for i := 0; i < 7; i++ {
		// Two pairs share the same internal date to stress tie-breaking.
		ts := start.Add(time.Duration(i/2) * time.Hour)
		payloads = append(payloads, payload(uint32(i+1), fmt.Sprintf("<m%d@x>", i+1), nil, ts))
	}
	_, _, err := s.PersistBatch(ctx, account.ID, folder.ID, payloads)
	require.NoError(t, err)

	seen := map[uint]bool{}
	cursor := ""
	pages := 0
	for {
		rows, next, err := s.ListByFolders(ctx, []uint{folder.ID}, cursor, 3)
		require.NoError(t, err)
		for _, row := range rows {
			require.False(t, seen[row.ID], "row %d served twice", row.ID)
			seen[row.ID] = true
		}
		// Ordering within the page is (internal_date DESC, id DESC).
		for i := 1; i < len(rows); i++ {
			prev, cur := rows[i-1], rows[i]
			ordered := prev.InternalDate.After(cur.InternalDate) ||
				(prev.InternalDate.Equal(cur.InternalDate) && prev.ID > cur.ID)
			assert.True(t, ordered)
		}
		pages++
		if next == "" {
			break
		}
		cursor = next
	}

	assert.Len(t, seen, 7)
	assert.Equal(t, 3, pages)
}

func TestListByFoldersBadCursor(t *testing.T) {
	s := newTestStore(t)
	account := newTestAccount(t, s)
	folder := newTestFolder(t, s, account.ID, "INBOX")

	_, _, err := s.ListByFolders(context.Background(), []uint{folder.ID}, "not-a-cursor", 10)
	assert.ErrorIs(t, err, store.ErrBadCursor)
}

func TestUpdateClassification(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	account := newTestAccount(t, s)
	folder := newTestFolder(t, s, account.ID, "INBOX")

	_, ids, err := s.PersistBatch(ctx, account.ID, folder.ID,
		[]store.MessagePayload{payload(1, "<m1@x>", nil, time.Now())})
	require.NoError(t, err)
	require.Len(t, ids, 1)

	err = s.UpdateClassification(ctx, ids[0], base.LevelHighRisk, 0.93, "long url detected", base.StatusCompleted)
	require.NoError(t, err)

	target, err := s.MessageForDetection(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, base.LevelHighRisk, target.Message.PhishingLevel)
	assert.InDelta(t, 0.93, target.Message.PhishingScore, 1e-9)
	assert.Equal(t, base.StatusCompleted, target.Message.PhishingStatus)
	assert.Equal(t, uint(1), target.OwnerUserID)
	assert.Equal(t, "text body", target.Body.Text)
}

func TestMarkReadIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	account := newTestAccount(t, s)
	folder := newTestFolder(t, s, account.ID, "INBOX")

	_, _, err := s.PersistBatch(ctx, account.ID, folder.ID,
		[]store.MessagePayload{payload(1, "<m1@x>", nil, time.Now())})
	require.NoError(t, err)

	rows, _, err := s.ListByFolders(ctx, []uint{folder.ID}, "", 1)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	require.NoError(t, s.MarkRead(ctx, rows[0].ID))
	require.NoError(t, s.MarkRead(ctx, rows[0].ID))

	rows, _, err = s.ListByFolders(ctx, []uint{folder.ID}, "", 1)
	require.NoError(t, err)
	assert.True(t, rows[0].IsRead)
}

func TestResetDetectionStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	account := newTestAccount(t, s)
	folder := newTestFolder(t, s, account.ID, "INBOX")

	_, ids, err := s.PersistBatch(ctx, account.ID, folder.ID,
		[]store.MessagePayload{payload(1, "<m1@x>", nil, time.Now())})
	require.NoError(t, err)

	require.NoError(t, s.UpdateClassification(ctx, ids[0], base.LevelNormal, 0, "", base.StatusCompleted))
	require.NoError(t, s.ResetDetectionStatus(ctx, ids))

	target, err := s.MessageForDetection(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, base.StatusPending, target.Message.PhishingStatus)
}

func TestDeleteAccountCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	account := newTestAccount(t, s)
	folder := newTestFolder(t, s, account.ID, "INBOX")

	_, _, err := s.PersistBatch(ctx, account.ID, folder.ID,
		[]store.MessagePayload{payload(1, "<m1@x>", nil, time.Now())})
	require.NoError(t, err)

	require.NoError(t, s.DeleteAccount(ctx, account.ID))

	_, err = s.AccountByID(ctx, account.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	folders, err := s.FoldersByAccount(ctx, account.ID)
	require.NoError(t, err)
	assert.Empty(t, folders)

	ids, err := s.AllTrackedMessageIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestWhitelistRules(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateSenderRule(ctx, &store.SenderWhitelistRule{
		RuleKind: base.RuleDomainSuffix, RuleValue: "tsinghua.edu.cn", Active: true,
	}))
	require.NoError(t, s.CreateSenderRule(ctx, &store.SenderWhitelistRule{
		RuleKind: base.RuleEmail, RuleValue: "x@y.com", Active: false,
	}))
	require.NoError(t, s.CreateURLRule(ctx, &store.URLWhitelistRule{
		RuleKind: base.RuleDomain, RuleValue: "example.com", Active: true,
	}))

	senders, err := s.ActiveSenderRules(ctx)
	require.NoError(t, err)
	assert.Len(t, senders, 1)

	all, err := s.ListSenderRules(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	urls, err := s.ActiveURLRules(ctx)
	require.NoError(t, err)
	require.Len(t, urls, 1)

	require.NoError(t, s.DeleteURLRule(ctx, urls[0].ID))
	urls, err = s.ActiveURLRules(ctx)
	require.NoError(t, err)
	assert.Empty(t, urls)
}

func TestSettingsServiceCachesAndInvalidates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	svc := store.NewSettingsService(s)

	settings, err := svc.Get(ctx)
	require.NoError(t, err)
	assert.True(t, settings.EnableLongURLDetection)

	updated, err := svc.Update(ctx, false)
	require.NoError(t, err)
	assert.False(t, updated.EnableLongURLDetection)

	// The write replaced the cache; a read observes it immediately.
	settings, err = svc.Get(ctx)
	require.NoError(t, err)
	assert.False(t, settings.EnableLongURLDetection)
}
