package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/otelfiber/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/template/html/v2"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
	"go.opentelemetry.io/contrib/bridges/otelslog"

	"github.com/HierarchThurs/Argus/handlers"
	"github.com/HierarchThurs/Argus/internal/config"
	"github.com/HierarchThurs/Argus/internal/detect"
	"github.com/HierarchThurs/Argus/internal/events"
	"github.com/HierarchThurs/Argus/internal/jobs"
	"github.com/HierarchThurs/Argus/internal/store"
	"github.com/HierarchThurs/Argus/internal/syncer"
	"github.com/HierarchThurs/Argus/internal/vault"
	"github.com/HierarchThurs/Argus/internal/whitelist"
	"github.com/HierarchThurs/Argus/pkg/utils"
)

func main() {
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		log.Printf("skipping .env: %v", err)
	}

	app := &cli.App{
		Name:  "argusd",
		Usage: "aggregates external mailboxes and screens them for phishing",
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the HTTP API and background workers",
				Action: serve,
			},
			{
				Name:  "sync",
				Usage: "run one sync pass for a single account and exit",
				Flags: []cli.Flag{
					&cli.UintFlag{Name: "account-id", Required: true},
				},
				Action: syncOnce,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// services is the wired application core shared by both commands.
type services struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *store.Store
	vault    *vault.Vault
	matcher  *whitelist.Matcher
	settings *store.SettingsService
	bus      *events.Bus
	pipeline *detect.Pipeline
	runner   *jobs.Runner
	syncer   *syncer.Syncer

	otelShutdown func(context.Context) error
}

func buildServices(ctx context.Context) (*services, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	s := &services{cfg: cfg}
	if cfg.OTLPEndpoint != "" {
		shutdown, err := utils.SetupOTelSDK(ctx, cfg.OTLPEndpoint)
		if err != nil {
			return nil, err
		}
		s.otelShutdown = shutdown
		s.logger = slog.New(otelslog.NewHandler(utils.ServiceName))
	} else {
		s.logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))
	}

	s.store, err = store.Open(cfg.DatabaseDSN, s.logger)
	if err != nil {
		return nil, err
	}
	s.vault, err = vault.New(cfg.MasterSecret)
	if err != nil {
		return nil, err
	}

	s.matcher = whitelist.NewMatcher(s.store, s.logger)
	if err := s.matcher.Refresh(ctx); err != nil {
		return nil, err
	}
	s.settings = store.NewSettingsService(s.store)
	s.bus = events.NewBus(s.logger)

	s.pipeline, err = detect.NewPipeline(s.store, s.settings, s.matcher,
		cfg.MLModelPath, s.logger, detect.WithEvents(s.bus))
	if err != nil {
		return nil, err
	}

	s.runner = jobs.NewRunner(s.logger)

	s.syncer, err = syncer.New(s.store, s.vault,
		syncer.WithLogger(s.logger),
		syncer.WithOnNewMessages(func(ctx context.Context, ids []uint) {
			err := s.runner.Schedule("detect-batch", func(ctx context.Context) {
				s.pipeline.RunBatch(ctx, ids)
			})
			if err != nil {
				s.logger.WarnContext(ctx, "detection batch not scheduled, rows stay pending",
					slog.Int("count", len(ids)), slog.Any("error", err))
			}
		}))
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *services) close(ctx context.Context) {
	if err := s.runner.Shutdown(ctx); err != nil {
		s.logger.Warn("runner shutdown", slog.Any("error", err))
	}
	if err := s.store.Close(); err != nil {
		s.logger.Warn("store close", slog.Any("error", err))
	}
	if s.otelShutdown != nil {
		if err := s.otelShutdown(ctx); err != nil {
			s.logger.Warn("otel shutdown", slog.Any("error", err))
		}
	}
}

func serve(c *cli.Context) error {
	ctx := c.Context

	s, err := buildServices(ctx)
	if err != nil {
		return utils.WrapError(err)
	}

	srv, err := handlers.New(handlers.Deps{
		Store:    s.store,
		Vault:    s.vault,
		Matcher:  s.matcher,
		Settings: s.settings,
		Pipeline: s.pipeline,
		Syncer:   s.syncer,
		Runner:   s.runner,
		Bus:      s.bus,
		Logger:   s.logger,
	})
	if err != nil {
		return err
	}

	engine := html.New(s.cfg.ViewsDir, ".html")
	app := fiber.New(fiber.Config{Views: engine})
	app.Use(otelfiber.Middleware())
	srv.Register(app)

	errs := make(chan error, 1)
	go func() {
		errs <- app.Listen(s.cfg.ListenAddr)
	}()
	s.logger.Info("listening", slog.String("addr", s.cfg.ListenAddr))

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errs:
		return err
	case sig := <-stop:
		s.logger.Info("shutting down", slog.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		s.logger.Warn("server shutdown", slog.Any("error", err))
	}
	s.close(shutdownCtx)
	return nil
}

func syncOnce(c *cli.Context) error {
	ctx := c.Context

	s, err := buildServices(ctx)
	if err != nil {
		return utils.WrapError(err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		s.close(shutdownCtx)
	}()

	summary, err := s.syncer.SyncAccount(ctx, uint(c.Uint("account-id")))
	if err != nil {
		return err
	}

	// Detection batches queued during the pass still have to run before
	// shutdown drops the queue.
	flushCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := s.runner.Flush(flushCtx); err != nil {
		s.logger.Warn("detection jobs left pending", slog.Any("error", err))
	}

	encoded, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(encoded))
	return nil
}
