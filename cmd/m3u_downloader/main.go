package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/go-chi/chi/v5"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/FaulknerMassimo/m3u-downloader/internal/cleanup"
	"github.com/FaulknerMassimo/m3u-downloader/internal/config"
	"github.com/FaulknerMassimo/m3u-downloader/internal/downloader"
	"github.com/FaulknerMassimo/m3u-downloader/internal/http/rest"
	"github.com/FaulknerMassimo/m3u-downloader/internal/library"
	"github.com/FaulknerMassimo/m3u-downloader/internal/logctx"
	"github.com/FaulknerMassimo/m3u-downloader/internal/m3u"
	"github.com/FaulknerMassimo/m3u-downloader/internal/notifier"
	"github.com/FaulknerMassimo/m3u-downloader/internal/search"
	"github.com/FaulknerMassimo/m3u-downloader/internal/storage"
	"github.com/FaulknerMassimo/m3u-downloader/internal/storage/sqlite"
	"github.com/FaulknerMassimo/m3u-downloader/internal/telemetry"
	"github.com/FaulknerMassimo/m3u-downloader/internal/watchlist"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	var out io.Writer = os.Stdout
	if cfg.LogFile != "" {
		out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    50, // megabytes
			MaxBackups: 5,
			MaxAge:     28, // days
			Compress:   true,
		})
	}

	logger := slog.New(logctx.NewTraceHandler(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: cfg.SlogLevel()})))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("m3u downloader starting...", "log_level", cfg.LogLevel, "db_driver", cfg.DBDriver)

	if err := run(logctx.WithLogger(ctx, logger), cfg); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: cfg.Telemetry.ServiceVersion,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		ExportInterval: cfg.Telemetry.ExportInterval,
	})
	if err != nil {
		return fmt.Errorf("failed to start telemetry: %w", err)
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown telemetry", "err", err)
		}
	}()

	// =========================================================================
	// Start Database
	database, err := sqlite.InitDB(ctx, cfg.DBDriver, cfg.DBPath, sqlite.Defaults{
		DownloadPath:         cfg.DownloadDir,
		WebUIPort:            portOf(cfg.Web.BindAddress),
		WatchlistRefreshRate: cfg.WatchlistRefreshMinutes(),
	})
	if err != nil {
		logger.Error("DB error", "err", err)

		return err
	}
	defer database.Close()

	downloads := sqlite.NewInstrumentedDownloadRepository(database, tel)
	catalog := sqlite.NewCatalogRepository(database)
	watch := sqlite.NewWatchlistRepository(database)
	settings := sqlite.NewSettingsRepository(database)

	if cfg.SeedFile != "" {
		if err := applySeed(ctx, catalog, cfg.SeedFile); err != nil {
			return fmt.Errorf("failed to apply seed file: %w", err)
		}
	}

	if cfg.ReconcileOnStartup {
		if _, err := cleanup.ReconcileOrphans(ctx, downloads); err != nil {
			logger.Error("failed to reconcile interrupted downloads", "err", err)
		}
	}

	// =========================================================================
	// Start Services
	parser := m3u.NewParser(
		m3u.WithHTTPClient(&http.Client{
			Timeout:   cfg.PlaylistTimeout,
			Transport: telemetry.NewTransport(http.DefaultTransport),
		}),
		m3u.WithUserAgent(cfg.UserAgent),
		m3u.WithTelemetry(tel),
	)

	engine := downloader.NewEngine(downloads, downloader.NewRegistry(), downloader.Config{
		UserAgent:        cfg.UserAgent,
		ResponseTimeout:  cfg.DownloadResponseTimeout,
		ProgressInterval: cfg.ProgressInterval,
	}, tel)

	resolver := library.NewResolver(settings, catalog, cfg.DownloadDir)
	searcher := search.NewService(catalog, parser, cfg.SearchConcurrency)

	// =========================================================================
	// Start Notification
	setupNotification(ctx, engine, cfg)

	// =========================================================================
	// Start Watchlist Poller
	poller := watchlist.NewPoller(catalog, watch, settings, parser, engine, resolver, cfg.WatchlistRefresh, tel)

	go poller.Run(ctx)

	// =========================================================================
	// Start API Service

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	serverErrors := make(chan error, 1)

	api := rest.NewAPIHandler(rest.Deps{
		Engine:    engine,
		Search:    searcher,
		Resolver:  resolver,
		Downloads: downloads,
		Catalog:   catalog,
		Watchlist: watch,
		Settings:  settings,
	})

	server := setupServer(ctx, api, tel, cfg)

	go func() {
		logger.Info("Initializing API support", "host", cfg.Web.BindAddress)
		serverErrors <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("start shutdown")

		// Give outstanding requests and transfers a deadline for completion.
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to gracefully shutdown the server", "err", err)

			if err = server.Close(); err != nil {
				return fmt.Errorf("could not stop server gracefully: %w", err)
			}
		}

		if err := engine.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to stop downloads", "err", err)
		}

		return ctx.Err()
	}
}

// setupNotification relays terminal download events to Discord when a webhook is configured,
// and only logs them otherwise.
func setupNotification(ctx context.Context, engine *downloader.Engine, cfg *config.Config) {
	logger := logctx.LoggerFromContext(ctx)

	if cfg.DiscordWebhookURL != "" {
		go notifier.Relay(ctx, engine.Events(), notifier.NewDiscordNotifier(cfg.DiscordWebhookURL))

		return
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-engine.Events():
				logger.Info("download finished", "download_id", ev.DownloadID, "title", ev.Title,
					"status", ev.Status, "err", ev.Err)
			}
		}
	}()
}

// setupServer prepares the handlers and services to create the http rest server.
func setupServer(ctx context.Context, api *rest.APIHandler, tel *telemetry.Telemetry, cfg *config.Config) *http.Server {
	r := chi.NewRouter()
	r.Use(telemetry.RequestID)
	r.Use(telemetry.HTTPLogging)
	r.Use(telemetry.NewHTTPMiddleware(tel).Middleware)

	r.Mount("/api", api.Routes())
	r.Handle("/metrics", tel.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      telemetry.NewHandler(r, "m3u-downloader"),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}

// applySeed creates the categories and playlists of the seed file that do not exist yet.
func applySeed(ctx context.Context, catalog storage.CatalogRepository, path string) error {
	logger := logctx.LoggerFromContext(ctx)

	seed, err := config.LoadSeed(path)
	if err != nil {
		return err
	}

	for _, sc := range seed.Categories {
		cat, err := catalog.GetCategoryByName(ctx, sc.Name)
		if errors.Is(err, storage.ErrNotFound) {
			cat = storage.Category{Name: sc.Name, DownloadPath: sc.DownloadPath, UseSeriesFolders: sc.UseSeriesFolders}
			cat.ID, err = catalog.CreateCategory(ctx, cat)
		}

		if err != nil {
			return fmt.Errorf("category %q: %w", sc.Name, err)
		}

		existing, err := catalog.ListLinksByCategory(ctx, cat.ID)
		if err != nil {
			return fmt.Errorf("playlists of %q: %w", sc.Name, err)
		}

		known := make(map[string]bool, len(existing))
		for _, l := range existing {
			known[l.URL] = true
		}

		for _, p := range sc.Playlists {
			if known[p.URL] {
				continue
			}

			if _, err := catalog.CreateLink(ctx, storage.M3ULink{CategoryID: cat.ID, URL: p.URL, Name: p.Name}); err != nil {
				return fmt.Errorf("playlist %q: %w", p.URL, err)
			}

			logger.Info("seeded playlist", "category", sc.Name, "url", p.URL)
		}
	}

	return nil
}

// portOf extracts the port of a bind address, 0 when it has none.
func portOf(addr string) int {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return 0
	}

	n, _ := strconv.Atoi(port)

	return n
}
