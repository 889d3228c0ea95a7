// Package imapsession wraps a single authenticated IMAP/SSL connection with
// the operations the sync engine needs: LIST, STATUS, SELECT, UID SEARCH,
// UID FETCH and LOGOUT, including the raw-protocol variants some providers
// require.
package imapsession

import (
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sort"
	"time"

	"github.com/emersion/go-imap"
	imapclient "github.com/emersion/go-imap/client"
	"github.com/emersion/go-imap/responses"
	"github.com/pkg/errors"

	"github.com/HierarchThurs/Argus/internal/provider"
	"github.com/HierarchThurs/Argus/pkg/base"
)

var (
	ErrNotConnected = errors.New("imap session not connected")
	ErrAuthFailed   = errors.New("imap authentication failed")
)

// FolderInfo is one LIST entry.
type FolderInfo struct {
	Name       string
	Delimiter  string
	Attributes []string
}

// Selectable reports whether the folder can be SELECTed.
func (f FolderInfo) Selectable() bool {
	for _, attr := range f.Attributes {
		if attr == imap.NoSelectAttr {
			return false
		}
	}
	return true
}

// FolderStatus carries the STATUS fields the sync engine consults. Servers
// may omit fields; absent values stay nil.
type FolderStatus struct {
	UIDValidity  *uint32
	UIDNext      *uint32
	MessageCount *uint32
}

// Fetched is one message retrieved by UID FETCH.
type Fetched struct {
	UID          uint32
	Flags        []string
	InternalDate time.Time
	Size         uint32
	Raw          []byte
}

type Session struct {
	client   base.Client
	provider provider.Provider
	logger   *slog.Logger
	dialTLS  func(address string, tlsConfig *tls.Config, timeout time.Duration) (base.Client, error)
}

type Option func(*Session) error

// New builds a session for the given provider profile. A logger is required;
// a client is dialed on Connect unless one is injected.
func New(p provider.Provider, opts ...Option) (*Session, error) {
	s := Session{provider: p}
	for _, opt := range opts {
		if err := opt(&s); err != nil {
			return nil, err
		}
	}

	if s.logger == nil {
		return nil, errors.New("requires slogger")
	}

	if s.dialTLS == nil {
		s.dialTLS = func(address string, tlsConfig *tls.Config, timeout time.Duration) (base.Client, error) {
			dialer := &net.Dialer{Timeout: timeout}
			c, err := imapclient.DialWithDialerTLS(dialer, address, tlsConfig)
			if err != nil {
				return nil, err
			}
			return c, nil
		}
	}

	return &s, nil
}

func WithClient(c base.Client) Option {
	return func(s *Session) error {
		s.client = c
		return nil
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) error {
		s.logger = logger
		return nil
	}
}

func WithDialTLS(d func(address string, tlsConfig *tls.Config, timeout time.Duration) (base.Client, error)) Option {
	return func(s *Session) error {
		s.dialTLS = d
		return nil
	}
}

// Connect dials the endpoint (unless a client was injected), logs in and runs
// the provider post-login hook.
func (s *Session) Connect(host string, port int, username, password string) error {
	if s.client == nil {
		c, err := s.dialTLS(fmt.Sprintf("%s:%d", host, port), nil, s.provider.Timeout)
		if err != nil {
			return errors.Wrapf(ErrNotConnected, "dial %s:%d: %v", host, port, err)
		}
		s.client = c
	}

	if err := s.client.Login(username, password); err != nil {
		return errors.Wrapf(ErrAuthFailed, "login %s: %v", username, err)
	}

	if s.provider.RequiresID {
		if err := s.sendID(); err != nil {
			// SELECT will answer "Unsafe Login" if the server truly insisted.
			s.logger.Warn("post-login ID command failed", slog.Any("error", err))
		}
	}

	return nil
}

// sendID issues the client identification as a raw command so the argument
// list reaches the wire exactly as the provider requires.
func (s *Session) sendID() error {
	cmd := &imap.Command{
		Name:      "ID",
		Arguments: []interface{}{imap.RawString(s.provider.IDArguments())},
	}

	status, err := s.client.Execute(cmd, nil)
	if err != nil {
		return errors.Wrap(err, "execute ID")
	}
	return status.Err()
}

// ListFolders returns all LIST entries in server order. Callers skip
// non-selectable folders themselves.
func (s *Session) ListFolders() ([]FolderInfo, error) {
	if s.client == nil {
		return nil, ErrNotConnected
	}

	mailboxes := make(chan *imap.MailboxInfo, 10)
	done := make(chan error, 1)
	go func() {
		done <- s.client.List("", "*", mailboxes)
	}()

	var folders []FolderInfo
	for m := range mailboxes {
		folders = append(folders, FolderInfo{
			Name:       m.Name,
			Delimiter:  m.Delimiter,
			Attributes: m.Attributes,
		})
	}

	if err := <-done; err != nil {
		return nil, errors.Wrap(err, "list folders")
	}
	return folders, nil
}

// Status fetches UIDVALIDITY, UIDNEXT and MESSAGES for a folder.
func (s *Session) Status(name string) (*FolderStatus, error) {
	if s.client == nil {
		return nil, ErrNotConnected
	}

	items := []imap.StatusItem{imap.StatusUidValidity, imap.StatusUidNext, imap.StatusMessages}
	mbox, err := s.client.Status(name, items)
	if err != nil {
		return nil, errors.Wrapf(err, "status %q", name)
	}

	st := &FolderStatus{}
	for item := range mbox.Items {
		switch item {
		case imap.StatusUidValidity:
			v := mbox.UidValidity
			st.UIDValidity = &v
		case imap.StatusUidNext:
			v := mbox.UidNext
			st.UIDNext = &v
		case imap.StatusMessages:
			v := mbox.Messages
			st.MessageCount = &v
		}
	}
	return st, nil
}

// Select puts the connection into SELECTED state for the folder (read-only,
// flag changes never propagate back to the server).
func (s *Session) Select(name string) error {
	if s.client == nil {
		return ErrNotConnected
	}
	if _, err := s.client.Select(name, true); err != nil {
		return errors.Wrapf(err, "select %q", name)
	}
	return nil
}

// SearchSince returns the sorted UIDs ≥ startUID that currently exist in the
// selected folder, using the provider's search dialect.
func (s *Session) SearchSince(startUID uint32) ([]uint32, error) {
	if s.client == nil {
		return nil, ErrNotConnected
	}
	if startUID < 1 {
		startUID = 1
	}

	var (
		uids []uint32
		err  error
	)
	switch s.provider.Dialect {
	case provider.RawUIDSearch:
		uids, err = s.rawUIDSearch(startUID)
	default:
		uids, err = s.searchThenResolveUIDs(startUID)
	}
	if err != nil {
		return nil, err
	}

	// When startUID is past the mailbox's highest UID, the "*" in N:* floors
	// to the last message and servers answer with its UID anyway. Drop
	// anything below the requested start so callers never re-see old mail.
	kept := uids[:0]
	for _, uid := range uids {
		if uid >= startUID {
			kept = append(kept, uid)
		}
	}

	sort.Slice(kept, func(i, j int) bool { return kept[i] < kept[j] })
	return kept, nil
}

// rawUIDSearch sends UID SEARCH N:* without a CHARSET token. The untagged
// SEARCH response then carries UIDs directly.
func (s *Session) rawUIDSearch(startUID uint32) ([]uint32, error) {
	cmd := &imap.Command{
		Name:      "UID SEARCH",
		Arguments: []interface{}{imap.RawString(fmt.Sprintf("%d:*", startUID))},
	}
	res := new(responses.Search)

	status, err := s.client.Execute(cmd, res)
	if err != nil {
		return nil, errors.Wrap(err, "uid search")
	}
	if err := status.Err(); err != nil {
		return nil, errors.Wrap(err, "uid search")
	}
	return res.Ids, nil
}

// searchThenResolveUIDs sends SEARCH UID N:*, which yields sequence numbers,
// then resolves them to UIDs with FETCH (UID).
func (s *Session) searchThenResolveUIDs(startUID uint32) ([]uint32, error) {
	window := new(imap.SeqSet)
	window.AddRange(startUID, 0)
	criteria := imap.NewSearchCriteria()
	criteria.Uid = window

	seqNums, err := s.client.Search(criteria)
	if err != nil {
		return nil, errors.Wrap(err, "search")
	}
	if len(seqNums) == 0 {
		return nil, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(seqNums...)

	ch := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- s.client.Fetch(seqset, []imap.FetchItem{imap.FetchUid}, ch)
	}()

	var uids []uint32
	for msg := range ch {
		if msg.Uid > 0 {
			uids = append(uids, msg.Uid)
		}
	}
	if err := <-done; err != nil {
		return nil, errors.Wrap(err, "resolve uids")
	}
	return uids, nil
}

// FetchByUID retrieves flags, internal date, size and the full raw body for
// each UID. Messages the server omits or that fail to download are skipped;
// the successfully fetched remainder is returned alongside any stream error.
func (s *Session) FetchByUID(uids []uint32) ([]Fetched, error) {
	if s.client == nil {
		return nil, ErrNotConnected
	}
	if len(uids) == 0 {
		return nil, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)

	// BODY.PEEK[] keeps the server from setting \Seen on fetch.
	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{
		imap.FetchUid,
		imap.FetchFlags,
		imap.FetchInternalDate,
		imap.FetchRFC822Size,
		section.FetchItem(),
	}

	ch := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- s.client.UidFetch(seqset, items, ch)
	}()

	var fetched []Fetched
	for msg := range ch {
		body := msg.GetBody(section)
		if body == nil {
			s.logger.Warn("fetch returned no body", slog.Uint64("uid", uint64(msg.Uid)))
			continue
		}
		raw, err := io.ReadAll(body)
		if err != nil {
			s.logger.Warn("reading body failed",
				slog.Uint64("uid", uint64(msg.Uid)), slog.Any("error", err))
			continue
		}
		fetched = append(fetched, Fetched{
			UID:          msg.Uid,
			Flags:        msg.Flags,
			InternalDate: msg.InternalDate,
			Size:         msg.Size,
			Raw:          raw,
		})
	}

	if err := <-done; err != nil {
		return fetched, errors.Wrap(err, "uid fetch")
	}
	return fetched, nil
}

// Logout closes the connection. Safe to call repeatedly or when the session
// never connected.
func (s *Session) Logout() {
	if s.client == nil {
		return
	}
	if err := s.client.Logout(); err != nil {
		s.logger.Debug("logout failed", slog.Any("error", err))
	}
	s.client = nil
}
