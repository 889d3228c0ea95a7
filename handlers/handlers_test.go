package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HierarchThurs/Argus/handlers"
	"github.com/HierarchThurs/Argus/internal/detect"
	"github.com/HierarchThurs/Argus/internal/events"
	"github.com/HierarchThurs/Argus/internal/imapsession"
	"github.com/HierarchThurs/Argus/internal/jobs"
	"github.com/HierarchThurs/Argus/internal/mailparse"
	"github.com/HierarchThurs/Argus/internal/provider"
	"github.com/HierarchThurs/Argus/internal/store"
	"github.com/HierarchThurs/Argus/internal/syncer"
	"github.com/HierarchThurs/Argus/internal/vault"
	"github.com/HierarchThurs/Argus/internal/whitelist"
	"github.com/HierarchThurs/Argus/pkg/base"
	"github.com/HierarchThurs/Argus/pkg/mock"
)

type idleSession struct{}

func (idleSession) Connect(string, int, string, string) error { return nil }
func (idleSession) ListFolders() ([]imapsession.FolderInfo, error) {
	return []imapsession.FolderInfo{{Name: "INBOX", Delimiter: "/"}}, nil
}
func (idleSession) Status(string) (*imapsession.FolderStatus, error) {
	one := uint32(1)
	return &imapsession.FolderStatus{UIDValidity: &one, UIDNext: &one}, nil
}
func (idleSession) Select(string) error                               { return nil }
func (idleSession) SearchSince(uint32) ([]uint32, error)              { return nil, nil }
func (idleSession) FetchByUID([]uint32) ([]imapsession.Fetched, error) { return nil, nil }
func (idleSession) Logout()                                           {}

type env struct {
	app   *fiber.App
	store *store.Store
	vault *vault.Vault
}

func newEnv(t *testing.T) *env {
	t.Helper()
	logger := mock.SetupLogger(t)

	st, err := store.Open(filepath.Join(t.TempDir(), "argus.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	v, err := vault.New("test-secret")
	require.NoError(t, err)

	matcher := whitelist.NewMatcher(st, logger)
	require.NoError(t, matcher.Refresh(context.Background()))
	settings := store.NewSettingsService(st)
	bus := events.NewBus(logger)

	ml := &normalDetector{}
	pipeline, err := detect.NewPipeline(st, settings, matcher, "", logger,
		detect.WithEvents(bus), detect.WithMLDetector(ml))
	require.NoError(t, err)

	sync, err := syncer.New(st, v,
		syncer.WithLogger(logger),
		syncer.WithSessionFactory(func(provider.Provider) (syncer.Session, error) {
			return idleSession{}, nil
		}))
	require.NoError(t, err)

	runner := jobs.NewRunner(logger)
	t.Cleanup(func() { _ = runner.Shutdown(context.Background()) })

	srv, err := handlers.New(handlers.Deps{
		Store:    st,
		Vault:    v,
		Matcher:  matcher,
		Settings: settings,
		Pipeline: pipeline,
		Syncer:   sync,
		Runner:   runner,
		Bus:      bus,
		Logger:   logger,
	})
	require.NoError(t, err)

	app := fiber.New()
	srv.Register(app)
	return &env{app: app, store: st, vault: v}
}

type normalDetector struct{}

func (normalDetector) Name() string { return "ml" }
func (normalDetector) Detect(context.Context, detect.Input) detect.Result {
	return detect.Result{Level: base.LevelNormal}
}

func (e *env) request(t *testing.T, method, target string, userID uint, body interface{}) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	if userID != 0 {
		req.Header.Set(handlers.UserHeader, fmt.Sprintf("%d", userID))
	}
	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decode(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func (e *env) seedEmail(t *testing.T, userID uint, subject string, when time.Time) (accountID, folderID, rowID, messageID uint) {
	t.Helper()
	ctx := context.Background()

	account := &store.Account{
		OwnerUserID: userID, Address: fmt.Sprintf("u%d@example.com", userID),
		ProviderKind: string(provider.KindCustom), IMAPHost: "imap.example.com", IMAPPort: 993,
	}
	require.NoError(t, e.store.CreateAccount(ctx, account))
	folder, err := e.store.GetOrCreateFolder(ctx, account.ID, "INBOX", "/", "")
	require.NoError(t, err)

	rfcID := fmt.Sprintf("<%s@x>", subject)
	_, ids, err := e.store.PersistBatch(ctx, account.ID, folder.ID, []store.MessagePayload{{
		UID: 1, InternalDate: when, RFCMessageID: rfcID,
		Parsed: &mailparse.ParsedMessage{
			MessageID: rfcID, Subject: subject,
			Sender: mailparse.Address{Address: "sender@example.org"},
			Text:   "body text",
		},
	}})
	require.NoError(t, err)
	require.Len(t, ids, 1)

	rows, _, err := e.store.ListByFolders(ctx, []uint{folder.ID}, "", 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	return account.ID, folder.ID, rows[0].ID, ids[0]
}

func TestAuthRequired(t *testing.T) {
	e := newEnv(t)

	for _, target := range []string{"/api/accounts", "/api/emails", "/api/settings"} {
		resp := e.request(t, http.MethodGet, target, 0, nil)
		assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode, target)
	}
}

func TestCreateAccountSealsPassword(t *testing.T) {
	e := newEnv(t)

	resp := e.request(t, http.MethodPost, "/api/accounts", 7, map[string]interface{}{
		"address":  "someone@qq.com",
		"password": "hunter2",
	})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	var created struct {
		ID           uint   `json:"id"`
		ProviderKind string `json:"provider_kind"`
		IMAPHost     string `json:"imap_host"`
	}
	decode(t, resp, &created)
	assert.Equal(t, "QQ", created.ProviderKind)
	assert.Equal(t, "imap.qq.com", created.IMAPHost)

	account, err := e.store.AccountByID(context.Background(), created.ID)
	require.NoError(t, err)
	assert.NotEqual(t, "hunter2", account.EncryptedPassword)

	opened, err := e.vault.Decrypt(account.EncryptedPassword)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", opened)
}

func TestCreateAccountCustomNeedsHost(t *testing.T) {
	e := newEnv(t)

	resp := e.request(t, http.MethodPost, "/api/accounts", 7, map[string]interface{}{
		"address":  "someone@unknown-provider.test",
		"password": "hunter2",
	})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestAccountsAreScopedToUser(t *testing.T) {
	e := newEnv(t)
	mineID, _, _, _ := e.seedEmail(t, 7, "mine", time.Now())
	e.seedEmail(t, 8, "theirs", time.Now())

	var listing struct {
		Accounts []struct {
			ID uint `json:"id"`
		} `json:"accounts"`
	}
	resp := e.request(t, http.MethodGet, "/api/accounts", 7, nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	decode(t, resp, &listing)
	require.Len(t, listing.Accounts, 1)
	assert.Equal(t, mineID, listing.Accounts[0].ID)

	// Deleting someone else's account reads as absent.
	resp = e.request(t, http.MethodDelete, fmt.Sprintf("/api/accounts/%d", mineID), 8, nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestSyncAccountSchedules(t *testing.T) {
	e := newEnv(t)
	accountID, _, _, _ := e.seedEmail(t, 7, "m", time.Now())

	resp := e.request(t, http.MethodPost, fmt.Sprintf("/api/accounts/%d/sync", accountID), 7, nil)
	assert.Equal(t, fiber.StatusAccepted, resp.StatusCode)
}

func TestTestAccountConnection(t *testing.T) {
	e := newEnv(t)
	accountID, _, _, _ := e.seedEmail(t, 7, "m", time.Now())

	var verdict struct {
		Success bool `json:"success"`
	}
	resp := e.request(t, http.MethodPost, fmt.Sprintf("/api/accounts/%d/test", accountID), 7, nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	decode(t, resp, &verdict)
	assert.True(t, verdict.Success)
}

func TestListEmails(t *testing.T) {
	e := newEnv(t)
	_, folderID, _, _ := e.seedEmail(t, 7, "hello", time.Now())

	var listing struct {
		Emails []struct {
			Subject        string `json:"subject"`
			PhishingLevel  string `json:"phishing_level"`
			PhishingStatus string `json:"phishing_status"`
		} `json:"emails"`
		NextCursor string `json:"next_cursor"`
	}

	resp := e.request(t, http.MethodGet, "/api/emails", 7, nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	decode(t, resp, &listing)
	require.Len(t, listing.Emails, 1)
	assert.Equal(t, "hello", listing.Emails[0].Subject)
	assert.Equal(t, base.LevelNormal, listing.Emails[0].PhishingLevel)
	assert.Equal(t, base.StatusPending, listing.Emails[0].PhishingStatus)
	assert.Empty(t, listing.NextCursor)

	resp = e.request(t, http.MethodGet, fmt.Sprintf("/api/emails?folder_id=%d", folderID), 7, nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	// Another user sees nothing.
	var empty struct {
		Emails []json.RawMessage `json:"emails"`
	}
	resp = e.request(t, http.MethodGet, "/api/emails", 8, nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	decode(t, resp, &empty)
	assert.Empty(t, empty.Emails)
}

func TestListEmailsBadCursor(t *testing.T) {
	e := newEnv(t)
	e.seedEmail(t, 7, "hello", time.Now())

	resp := e.request(t, http.MethodGet, "/api/emails?cursor=garbage", 7, nil)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestEmailDetailOwnership(t *testing.T) {
	e := newEnv(t)
	_, _, _, messageID := e.seedEmail(t, 7, "hello", time.Now())

	resp := e.request(t, http.MethodGet, fmt.Sprintf("/api/emails/%d", messageID), 7, nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var detail struct {
		Subject string `json:"subject"`
		Text    string `json:"text"`
	}
	decode(t, resp, &detail)
	assert.Equal(t, "hello", detail.Subject)
	assert.Equal(t, "body text", detail.Text)

	resp = e.request(t, http.MethodGet, fmt.Sprintf("/api/emails/%d", messageID), 8, nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestMarkRead(t *testing.T) {
	e := newEnv(t)
	_, folderID, rowID, _ := e.seedEmail(t, 7, "hello", time.Now())

	resp := e.request(t, http.MethodPost, fmt.Sprintf("/api/emails/rows/%d/read", rowID), 8, nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	resp = e.request(t, http.MethodPost, fmt.Sprintf("/api/emails/rows/%d/read", rowID), 7, nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	rows, _, err := e.store.ListByFolders(context.Background(), []uint{folderID}, "", 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].IsRead)
}

func TestWhitelistRoundTrip(t *testing.T) {
	e := newEnv(t)

	resp := e.request(t, http.MethodPost, "/api/whitelist/senders", 7, map[string]string{
		"rule_kind":  base.RuleDomainSuffix,
		"rule_value": "corp.example",
	})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	var created struct {
		ID uint `json:"id"`
	}
	decode(t, resp, &created)

	var listing struct {
		Rules []struct {
			RuleValue string `json:"rule_value"`
		} `json:"rules"`
	}
	resp = e.request(t, http.MethodGet, "/api/whitelist/senders", 7, nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	decode(t, resp, &listing)
	require.Len(t, listing.Rules, 1)
	assert.Equal(t, "corp.example", listing.Rules[0].RuleValue)

	resp = e.request(t, http.MethodDelete, fmt.Sprintf("/api/whitelist/senders/%d", created.ID), 7, nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp = e.request(t, http.MethodGet, "/api/whitelist/senders", 7, nil)
	listing.Rules = nil
	decode(t, resp, &listing)
	assert.Empty(t, listing.Rules)
}

func TestWhitelistRejectsBadKind(t *testing.T) {
	e := newEnv(t)

	resp := e.request(t, http.MethodPost, "/api/whitelist/senders", 7, map[string]string{
		"rule_kind":  "REGEX",
		"rule_value": ".*",
	})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	// EMAIL rules make no sense for URLs.
	resp = e.request(t, http.MethodPost, "/api/whitelist/urls", 7, map[string]string{
		"rule_kind":  base.RuleEmail,
		"rule_value": "a@b.test",
	})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestSettingsRoundTrip(t *testing.T) {
	e := newEnv(t)

	var view struct {
		EnableLongURLDetection bool `json:"enable_long_url_detection"`
	}
	resp := e.request(t, http.MethodGet, "/api/settings", 7, nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	decode(t, resp, &view)
	assert.True(t, view.EnableLongURLDetection)

	resp = e.request(t, http.MethodPut, "/api/settings", 7, map[string]bool{
		"enable_long_url_detection": false,
	})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	decode(t, resp, &view)
	assert.False(t, view.EnableLongURLDetection)
}

func TestRedetectSchedules(t *testing.T) {
	e := newEnv(t)
	e.seedEmail(t, 7, "hello", time.Now())

	var accepted struct {
		Status string `json:"status"`
		Total  int    `json:"total"`
	}
	resp := e.request(t, http.MethodPost, "/api/admin/redetect", 7, nil)
	require.Equal(t, fiber.StatusAccepted, resp.StatusCode)
	decode(t, resp, &accepted)
	assert.Equal(t, "scheduled", accepted.Status)
	assert.Equal(t, 1, accepted.Total)
}

func TestNotFoundRoute(t *testing.T) {
	e := newEnv(t)
	resp := e.request(t, http.MethodGet, "/api/nothing-here", 7, nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}
