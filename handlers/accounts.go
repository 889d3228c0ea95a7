package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/pkg/errors"

	"github.com/HierarchThurs/Argus/internal/imapsession"
	"github.com/HierarchThurs/Argus/internal/provider"
	"github.com/HierarchThurs/Argus/internal/store"
)

type createAccountRequest struct {
	Address      string `json:"address"`
	Password     string `json:"password"`
	ProviderKind string `json:"provider_kind"`
	IMAPHost     string `json:"imap_host"`
	IMAPPort     int    `json:"imap_port"`
	SMTPHost     string `json:"smtp_host"`
	SMTPPort     int    `json:"smtp_port"`
	UseSSL       *bool  `json:"use_ssl"`
	AuthUser     string `json:"auth_user"`
}

type accountResponse struct {
	ID           uint       `json:"id"`
	Address      string     `json:"address"`
	ProviderKind string     `json:"provider_kind"`
	IMAPHost     string     `json:"imap_host,omitempty"`
	IMAPPort     int        `json:"imap_port,omitempty"`
	Active       bool       `json:"active"`
	LastSyncAt   *time.Time `json:"last_sync_at,omitempty"`
}

func accountView(a store.Account) accountResponse {
	return accountResponse{
		ID:           a.ID,
		Address:      a.Address,
		ProviderKind: a.ProviderKind,
		IMAPHost:     a.IMAPHost,
		IMAPPort:     a.IMAPPort,
		Active:       a.Active,
		LastSyncAt:   a.LastSyncAt,
	}
}

// CreateAccount registers a mailbox. The password is sealed before it
// touches the database; the provider profile fills endpoints the request
// leaves out.
func (s *Server) CreateAccount(c *fiber.Ctx) error {
	userID, err := s.principal(c)
	if err != nil {
		return unauthorized(c)
	}

	var req createAccountRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "malformed body")
	}
	if req.Address == "" || req.Password == "" {
		return jsonError(c, fiber.StatusBadRequest, "address and password are required")
	}

	prof := provider.ForAddress(req.Address)
	if req.ProviderKind != "" {
		prof, err = provider.ForKind(provider.Kind(req.ProviderKind))
		if err != nil {
			return jsonError(c, fiber.StatusBadRequest, "unknown provider kind")
		}
	}

	account := store.Account{
		OwnerUserID:  userID,
		Address:      req.Address,
		ProviderKind: string(prof.Kind),
		IMAPHost:     req.IMAPHost,
		IMAPPort:     req.IMAPPort,
		SMTPHost:     req.SMTPHost,
		SMTPPort:     req.SMTPPort,
		UseSSL:       true,
		AuthUser:     req.AuthUser,
		Active:       true,
	}
	if req.UseSSL != nil {
		account.UseSSL = *req.UseSSL
	}
	if account.IMAPHost == "" && prof.Endpoints != nil {
		account.IMAPHost = prof.Endpoints.IMAPHost
		account.IMAPPort = prof.Endpoints.IMAPPort
		account.SMTPHost = prof.Endpoints.SMTPHost
		account.SMTPPort = prof.Endpoints.SMTPPort
	}
	if account.IMAPHost == "" {
		return jsonError(c, fiber.StatusBadRequest, "imap_host is required for custom providers")
	}

	sealed, err := s.vault.Encrypt(req.Password)
	if err != nil {
		s.logger.Error("credential sealing failed", "error", err)
		return jsonError(c, fiber.StatusInternalServerError, "account not created")
	}
	account.EncryptedPassword = sealed

	if err := s.store.CreateAccount(c.Context(), &account); err != nil {
		s.logger.Error("account not created", "error", err)
		return jsonError(c, fiber.StatusInternalServerError, "account not created")
	}
	return c.Status(fiber.StatusCreated).JSON(accountView(account))
}

// ListAccounts returns the caller's accounts.
func (s *Server) ListAccounts(c *fiber.Ctx) error {
	userID, err := s.principal(c)
	if err != nil {
		return unauthorized(c)
	}

	accounts, err := s.store.AccountsByUser(c.Context(), userID)
	if err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "accounts unavailable")
	}

	views := make([]accountResponse, 0, len(accounts))
	for _, a := range accounts {
		views = append(views, accountView(a))
	}
	return c.JSON(fiber.Map{"accounts": views})
}

// DeleteAccount removes an account with everything synced under it.
func (s *Server) DeleteAccount(c *fiber.Ctx) error {
	account, errResp := s.ownedAccount(c)
	if account == nil {
		return errResp
	}

	if err := s.store.DeleteAccount(c.Context(), account.ID); err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "account not deleted")
	}
	return c.JSON(fiber.Map{"status": "deleted"})
}

// TestAccount dials and authenticates with the stored credentials.
func (s *Server) TestAccount(c *fiber.Ctx) error {
	account, errResp := s.ownedAccount(c)
	if account == nil {
		return errResp
	}

	if err := s.syncer.TestConnection(c.Context(), account.ID); err != nil {
		if errors.Is(err, imapsession.ErrAuthFailed) {
			return c.JSON(fiber.Map{"success": false, "message": "authentication failed"})
		}
		return c.JSON(fiber.Map{"success": false, "message": "connection failed"})
	}
	return c.JSON(fiber.Map{"success": true, "message": "connection ok"})
}

// SyncAccount queues a background sync pass for the account.
func (s *Server) SyncAccount(c *fiber.Ctx) error {
	account, errResp := s.ownedAccount(c)
	if account == nil {
		return errResp
	}

	accountID := account.ID
	job := fmt.Sprintf("sync-account-%d", accountID)
	err := s.runner.Schedule(job, func(ctx context.Context) {
		if _, err := s.syncer.SyncAccount(ctx, accountID); err != nil {
			s.logger.Error("scheduled sync failed", "account_id", accountID, "error", err)
		}
	})
	if err != nil {
		return jsonError(c, fiber.StatusServiceUnavailable, "sync not scheduled")
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "scheduled"})
}

// ListFolders returns the synced folders of an account.
func (s *Server) ListFolders(c *fiber.Ctx) error {
	account, errResp := s.ownedAccount(c)
	if account == nil {
		return errResp
	}

	folders, err := s.store.FoldersByAccount(c.Context(), account.ID)
	if err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "folders unavailable")
	}

	type folderResponse struct {
		ID         uint       `json:"id"`
		Name       string     `json:"name"`
		Delimiter  string     `json:"delimiter,omitempty"`
		LastSyncAt *time.Time `json:"last_sync_at,omitempty"`
	}
	views := make([]folderResponse, 0, len(folders))
	for _, f := range folders {
		views = append(views, folderResponse{
			ID: f.ID, Name: f.Name, Delimiter: f.Delimiter, LastSyncAt: f.LastSyncAt,
		})
	}
	return c.JSON(fiber.Map{"folders": views})
}

// ownedAccount resolves the :id account and checks it belongs to the caller.
// On failure the first return is nil and the second is the written response.
func (s *Server) ownedAccount(c *fiber.Ctx) (*store.Account, error) {
	userID, err := s.principal(c)
	if err != nil {
		return nil, unauthorized(c)
	}
	id, err := idParam(c)
	if err != nil {
		return nil, jsonError(c, fiber.StatusBadRequest, "bad account id")
	}

	account, err := s.store.AccountByID(c.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, jsonError(c, fiber.StatusNotFound, "account not found")
	}
	if err != nil {
		return nil, jsonError(c, fiber.StatusInternalServerError, "account unavailable")
	}
	if account.OwnerUserID != userID {
		// Leaking existence across users is worse than a lie.
		return nil, jsonError(c, fiber.StatusNotFound, "account not found")
	}
	return account, nil
}
