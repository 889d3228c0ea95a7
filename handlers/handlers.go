// Package handlers exposes the HTTP API: account management, the email read
// model, whitelist and settings administration and the event stream.
package handlers

import (
	"log/slog"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/pkg/errors"

	"github.com/HierarchThurs/Argus/internal/detect"
	"github.com/HierarchThurs/Argus/internal/events"
	"github.com/HierarchThurs/Argus/internal/jobs"
	"github.com/HierarchThurs/Argus/internal/store"
	"github.com/HierarchThurs/Argus/internal/syncer"
	"github.com/HierarchThurs/Argus/internal/vault"
	"github.com/HierarchThurs/Argus/internal/whitelist"
)

// UserHeader carries the authenticated user id, injected by the fronting
// gateway. Requests without it are rejected.
const UserHeader = "X-User-ID"

// Server carries the handler dependencies.
type Server struct {
	store    *store.Store
	vault    *vault.Vault
	matcher  *whitelist.Matcher
	settings *store.SettingsService
	pipeline *detect.Pipeline
	syncer   *syncer.Syncer
	runner   *jobs.Runner
	bus      *events.Bus
	logger   *slog.Logger
}

// Deps lists everything the server needs; all fields are required.
type Deps struct {
	Store    *store.Store
	Vault    *vault.Vault
	Matcher  *whitelist.Matcher
	Settings *store.SettingsService
	Pipeline *detect.Pipeline
	Syncer   *syncer.Syncer
	Runner   *jobs.Runner
	Bus      *events.Bus
	Logger   *slog.Logger
}

func New(deps Deps) (*Server, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("store is required")
	case deps.Vault == nil:
		return nil, errors.New("vault is required")
	case deps.Matcher == nil:
		return nil, errors.New("matcher is required")
	case deps.Settings == nil:
		return nil, errors.New("settings service is required")
	case deps.Pipeline == nil:
		return nil, errors.New("pipeline is required")
	case deps.Syncer == nil:
		return nil, errors.New("syncer is required")
	case deps.Runner == nil:
		return nil, errors.New("runner is required")
	case deps.Bus == nil:
		return nil, errors.New("event bus is required")
	case deps.Logger == nil:
		return nil, errors.New("logger is required")
	}
	return &Server{
		store:    deps.Store,
		vault:    deps.Vault,
		matcher:  deps.Matcher,
		settings: deps.Settings,
		pipeline: deps.Pipeline,
		syncer:   deps.Syncer,
		runner:   deps.Runner,
		bus:      deps.Bus,
		logger:   deps.Logger,
	}, nil
}

// Register mounts every route on the app.
func (s *Server) Register(app *fiber.App) {
	app.Get("/", s.Home)

	api := app.Group("/api")

	api.Post("/accounts", s.CreateAccount)
	api.Get("/accounts", s.ListAccounts)
	api.Delete("/accounts/:id", s.DeleteAccount)
	api.Post("/accounts/:id/test", s.TestAccount)
	api.Post("/accounts/:id/sync", s.SyncAccount)
	api.Get("/accounts/:id/folders", s.ListFolders)

	api.Get("/emails", s.ListEmails)
	api.Get("/emails/:id", s.EmailDetail)
	api.Post("/emails/rows/:id/read", s.MarkRead)

	api.Get("/events/stream", s.Stream)

	api.Get("/whitelist/senders", s.ListSenderRules)
	api.Post("/whitelist/senders", s.CreateSenderRule)
	api.Delete("/whitelist/senders/:id", s.DeleteSenderRule)
	api.Get("/whitelist/urls", s.ListURLRules)
	api.Post("/whitelist/urls", s.CreateURLRule)
	api.Delete("/whitelist/urls/:id", s.DeleteURLRule)
	api.Post("/whitelist/refresh", s.RefreshWhitelist)

	api.Get("/settings", s.GetSettings)
	api.Put("/settings", s.UpdateSettings)

	api.Post("/admin/redetect", s.Redetect)

	app.Use(s.NotFound)
}

// Home renders the status view.
func (s *Server) Home(c *fiber.Ctx) error {
	return c.Render("index", fiber.Map{
		"Title": "Argus",
	})
}

// NotFound answers anything unrouted.
func (s *Server) NotFound(c *fiber.Ctx) error {
	return jsonError(c, fiber.StatusNotFound, "not found")
}

// principal reads the authenticated user id from the request.
func (s *Server) principal(c *fiber.Ctx) (uint, error) {
	raw := c.Get(UserHeader)
	if raw == "" {
		return 0, errors.New("missing user header")
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, errors.Errorf("bad user header %q", raw)
	}
	return uint(id), nil
}

func idParam(c *fiber.Ctx) (uint, error) {
	id, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil || id == 0 {
		return 0, errors.Errorf("bad id %q", c.Params("id"))
	}
	return uint(id), nil
}

func jsonError(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{"error": message})
}

func unauthorized(c *fiber.Ctx) error {
	return jsonError(c, fiber.StatusUnauthorized, "missing or invalid "+UserHeader)
}
