// Package syncer drives one account's incremental IMAP pass: folder
// discovery, UIDVALIDITY bookkeeping, chunked fetches and persistence.
package syncer

import (
	"context"
	"log/slog"
	"strings"

	"github.com/pkg/errors"

	"github.com/HierarchThurs/Argus/internal/imapsession"
	"github.com/HierarchThurs/Argus/internal/mailparse"
	"github.com/HierarchThurs/Argus/internal/provider"
	"github.com/HierarchThurs/Argus/internal/store"
	"github.com/HierarchThurs/Argus/internal/vault"
)

const (
	// DefaultChunkSize bounds one UID FETCH round trip.
	DefaultChunkSize = 20
	// DefaultLookback is how many UIDs below UIDNEXT the first pass of a
	// folder reaches back.
	DefaultLookback = 50
)

// Session is the connected-IMAP surface the syncer drives; satisfied by
// *imapsession.Session.
type Session interface {
	Connect(host string, port int, username, password string) error
	ListFolders() ([]imapsession.FolderInfo, error)
	Status(name string) (*imapsession.FolderStatus, error)
	Select(name string) error
	SearchSince(startUID uint32) ([]uint32, error)
	FetchByUID(uids []uint32) ([]imapsession.Fetched, error)
	Logout()
}

// SessionFactory builds a session for a provider profile.
type SessionFactory func(p provider.Provider) (Session, error)

// Summary is the caller-facing outcome of one account pass.
type Summary struct {
	Success        bool   `json:"success"`
	Message        string `json:"message"`
	SyncedCount    int    `json:"synced_count"`
	FoldersScanned int    `json:"folders_scanned"`
}

// Syncer runs account passes against the store.
type Syncer struct {
	store    *store.Store
	vault    *vault.Vault
	logger   *slog.Logger
	sessions SessionFactory
	chunk    int
	lookback uint32

	// onNewMessages receives the ids of freshly inserted messages, one call
	// per folder that produced any.
	onNewMessages func(ctx context.Context, messageIDs []uint)
}

type Option func(*Syncer) error

func WithLogger(logger *slog.Logger) Option {
	return func(s *Syncer) error {
		s.logger = logger
		return nil
	}
}

func WithSessionFactory(factory SessionFactory) Option {
	return func(s *Syncer) error {
		s.sessions = factory
		return nil
	}
}

func WithOnNewMessages(fn func(ctx context.Context, messageIDs []uint)) Option {
	return func(s *Syncer) error {
		s.onNewMessages = fn
		return nil
	}
}

func New(st *store.Store, v *vault.Vault, opts ...Option) (*Syncer, error) {
	if st == nil {
		return nil, errors.New("store is required")
	}
	if v == nil {
		return nil, errors.New("vault is required")
	}

	s := &Syncer{
		store:    st,
		vault:    v,
		chunk:    DefaultChunkSize,
		lookback: DefaultLookback,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if s.logger == nil {
		return nil, errors.New("logger is required")
	}
	if s.sessions == nil {
		logger := s.logger
		s.sessions = func(p provider.Provider) (Session, error) {
			return imapsession.New(p, imapsession.WithLogger(logger))
		}
	}
	return s, nil
}

// SyncAccount runs one full pass over the account's folders. Authentication
// failure is an unsuccessful summary, not an error; an undecryptable stored
// password is an error because retrying cannot help.
func (s *Syncer) SyncAccount(ctx context.Context, accountID uint) (*Summary, error) {
	account, err := s.store.AccountByID(ctx, accountID)
	if err != nil {
		return nil, err
	}

	password, err := s.vault.Decrypt(account.EncryptedPassword)
	if err != nil {
		return nil, errors.Wrapf(err, "account %d", accountID)
	}

	prof, err := provider.ForKind(provider.Kind(account.ProviderKind))
	if err != nil {
		return nil, errors.Wrapf(err, "account %d", accountID)
	}
	host, port := s.endpoint(account, prof)
	if host == "" {
		return nil, errors.Errorf("account %d has no imap endpoint", accountID)
	}

	session, err := s.sessions(prof)
	if err != nil {
		return nil, err
	}

	username := account.AuthUser
	if username == "" {
		username = account.Address
	}
	if err := session.Connect(host, port, username, password); err != nil {
		if errors.Is(err, imapsession.ErrAuthFailed) {
			s.logger.WarnContext(ctx, "authentication rejected",
				slog.Uint64("account_id", uint64(accountID)))
			return &Summary{Success: false, Message: "authentication failed"}, nil
		}
		return nil, err
	}
	defer session.Logout()

	folders, err := session.ListFolders()
	if err != nil {
		return nil, err
	}

	summary := &Summary{Success: true, Message: "sync completed"}
	for _, info := range folders {
		if !info.Selectable() {
			s.logger.DebugContext(ctx, "skipping non-selectable folder",
				slog.String("folder", info.Name))
			continue
		}

		// A broken folder must not sink the rest of the account.
		synced, inserted, err := s.syncFolder(ctx, session, account, info)
		if err != nil {
			s.logger.ErrorContext(ctx, "folder sync failed",
				slog.Uint64("account_id", uint64(accountID)),
				slog.String("folder", info.Name), slog.Any("error", err))
			continue
		}
		summary.FoldersScanned++
		summary.SyncedCount += synced

		if len(inserted) > 0 && s.onNewMessages != nil {
			s.onNewMessages(ctx, inserted)
		}
	}

	if err := s.store.TouchAccountSynced(ctx, accountID); err != nil {
		s.logger.WarnContext(ctx, "sync timestamp not stored", slog.Any("error", err))
	}
	s.logger.InfoContext(ctx, "account sync completed",
		slog.Uint64("account_id", uint64(accountID)),
		slog.Int("synced", summary.SyncedCount),
		slog.Int("folders", summary.FoldersScanned))
	return summary, nil
}

// TestConnection dials and authenticates with the stored credentials,
// nothing more. Used by the account connectivity check.
func (s *Syncer) TestConnection(ctx context.Context, accountID uint) error {
	account, err := s.store.AccountByID(ctx, accountID)
	if err != nil {
		return err
	}
	password, err := s.vault.Decrypt(account.EncryptedPassword)
	if err != nil {
		return errors.Wrapf(err, "account %d", accountID)
	}
	prof, err := provider.ForKind(provider.Kind(account.ProviderKind))
	if err != nil {
		return errors.Wrapf(err, "account %d", accountID)
	}
	host, port := s.endpoint(account, prof)
	if host == "" {
		return errors.Errorf("account %d has no imap endpoint", accountID)
	}

	session, err := s.sessions(prof)
	if err != nil {
		return err
	}
	username := account.AuthUser
	if username == "" {
		username = account.Address
	}
	if err := session.Connect(host, port, username, password); err != nil {
		return err
	}
	session.Logout()
	return nil
}

// endpoint prefers account-level overrides, then the provider profile.
func (s *Syncer) endpoint(account *store.Account, prof provider.Provider) (string, int) {
	if account.IMAPHost != "" {
		return account.IMAPHost, account.IMAPPort
	}
	if prof.Endpoints != nil {
		return prof.Endpoints.IMAPHost, prof.Endpoints.IMAPPort
	}
	return "", 0
}

func (s *Syncer) syncFolder(ctx context.Context, session Session, account *store.Account, info imapsession.FolderInfo) (int, []uint, error) {
	status, err := session.Status(info.Name)
	if err != nil {
		return 0, nil, err
	}

	folder, err := s.store.GetOrCreateFolder(ctx, account.ID, info.Name,
		info.Delimiter, strings.Join(info.Attributes, " "))
	if err != nil {
		return 0, nil, err
	}

	if status.UIDValidity != nil {
		switch {
		case folder.UIDValidity == nil:
			if err := s.store.SetFolderValidity(ctx, folder.ID, *status.UIDValidity); err != nil {
				return 0, nil, err
			}
		case *folder.UIDValidity != *status.UIDValidity:
			// UIDs of the old generation mean nothing now; start over.
			s.logger.WarnContext(ctx, "uidvalidity changed, resyncing folder",
				slog.String("folder", info.Name),
				slog.Uint64("old", uint64(*folder.UIDValidity)),
				slog.Uint64("new", uint64(*status.UIDValidity)))
			if err := s.store.ResetFolderGeneration(ctx, account.ID, folder.ID, *status.UIDValidity); err != nil {
				return 0, nil, err
			}
			folder.LastUIDCursor = 0
		}
	}

	if err := session.Select(info.Name); err != nil {
		return 0, nil, err
	}

	uids, err := session.SearchSince(s.startUID(folder, status))
	if err != nil {
		return 0, nil, err
	}
	if len(uids) == 0 {
		return 0, nil, s.store.TouchFolderSynced(ctx, folder.ID)
	}

	var (
		total    int
		inserted []uint
	)
	for start := 0; start < len(uids); start += s.chunk {
		end := start + s.chunk
		if end > len(uids) {
			end = len(uids)
		}
		chunk := uids[start:end]

		count, ids, err := s.syncChunk(ctx, session, account.ID, folder, info.Name, chunk)
		if err != nil {
			return total, inserted, err
		}
		total += count
		inserted = append(inserted, ids...)

		// The cursor advances past the whole chunk, parse failures included,
		// so a poison message cannot wedge the folder.
		if err := s.store.AdvanceFolderCursor(ctx, folder.ID, chunk[len(chunk)-1]); err != nil {
			return total, inserted, err
		}
	}

	return total, inserted, s.store.TouchFolderSynced(ctx, folder.ID)
}

// startUID picks where the UID search begins: right after the cursor, or a
// bounded lookback below UIDNEXT on the folder's first pass.
func (s *Syncer) startUID(folder *store.Folder, status *imapsession.FolderStatus) uint32 {
	if folder.LastUIDCursor > 0 {
		return folder.LastUIDCursor + 1
	}
	if status.UIDNext != nil && *status.UIDNext > s.lookback {
		return *status.UIDNext - s.lookback
	}
	return 1
}

func (s *Syncer) syncChunk(ctx context.Context, session Session, accountID uint, folder *store.Folder, folderName string, uids []uint32) (int, []uint, error) {
	fetched, err := session.FetchByUID(uids)
	if err != nil {
		return 0, nil, err
	}

	payloads := make([]store.MessagePayload, 0, len(fetched))
	for _, msg := range fetched {
		parsed, err := mailparse.Parse(msg.Raw)
		if err != nil {
			s.logger.WarnContext(ctx, "unparseable message skipped",
				slog.String("folder", folderName),
				slog.Uint64("uid", uint64(msg.UID)), slog.Any("error", err))
			continue
		}

		rfcID := parsed.MessageID
		if rfcID == "" {
			rfcID = mailparse.FallbackMessageID(folderName, msg.UID)
		}

		payloads = append(payloads, store.MessagePayload{
			UID:          msg.UID,
			Flags:        msg.Flags,
			InternalDate: msg.InternalDate,
			Size:         msg.Size,
			RFCMessageID: rfcID,
			Parsed:       parsed,
		})
	}
	if len(payloads) == 0 {
		return 0, nil, nil
	}

	return s.store.PersistBatch(ctx, accountID, folder.ID, payloads)
}
