package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sethvargo/go-limiter/memorystore"
	"golang.org/x/sync/errgroup"

	"github.com/ericfisherdev/vpnsync/internal/adapter/driven/alert"
	"github.com/ericfisherdev/vpnsync/internal/adapter/driven/keychain"
	sqliteadapter "github.com/ericfisherdev/vpnsync/internal/adapter/driven/sqlite"
	"github.com/ericfisherdev/vpnsync/internal/adapter/driven/vpnapi"
	httphandler "github.com/ericfisherdev/vpnsync/internal/adapter/driving/http"
	"github.com/ericfisherdev/vpnsync/internal/application"
	"github.com/ericfisherdev/vpnsync/internal/config"
)

// RunCmd starts the refresh engine.
type RunCmd struct{}

// Run wires adapters and services and blocks until SIGINT or SIGTERM.
func (c *RunCmd) Run(cli *CLI) error {
	// 1. Load configuration (fail fast on invalid env vars or config file).
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.LogLevel, cli.Debug)
	slog.SetDefault(logger)
	logger.Info("config loaded",
		"api_url", cfg.APIBaseURL,
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"paid_catalog_every", cfg.PaidCatalogEvery,
	)

	// 2. Setup signal-based context (SIGINT, SIGTERM).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Open secure storage: system keyring, else the encrypted file vault.
	storage, err := keychain.Open(keychain.Options{
		Service:  cfg.KeyringService,
		VaultDir: cfg.StorageDir,
		VaultKey: cfg.SecretKey,
	}, logger)
	if err != nil {
		return err
	}

	// 4. Open catalog database (dual reader/writer with WAL mode) and migrate.
	db, err := sqliteadapter.NewDB(ctx, cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			logger.Error("error closing database", "error", closeErr)
		}
	}()
	version, err := sqliteadapter.RunMigrations(db.Writer)
	if err != nil {
		return err
	}
	logger.Info("database ready", "path", cfg.DBPath, "schema_version", version)

	// 5. Wire the credential store and API client.
	clock := clockwork.NewRealClock()
	events := application.NewEvents(logger)
	creds := application.NewCredentialStore(storage, events, logger)
	api := vpnapi.NewClient(vpnapi.Config{
		BaseURL:     cfg.APIBaseURL,
		AppVersion:  cfg.AppVersion,
		Timeout:     cfg.RequestTimeout,
		ReauthLimit: cfg.ReauthLimit,
	}, creds, logger)
	catalog := sqliteadapter.NewCatalogRepo(db)
	alerts := alert.NewFeed(alert.DefaultCapacity, clock, logger)

	// 6. Refresh engine.
	refresher := application.NewSessionRefresher(api, creds, catalog, alerts, clock,
		application.RefresherConfig{PaidCatalogEvery: cfg.PaidCatalogEvery}, logger)
	scheduler := application.NewRefreshScheduler(refresher, creds, cfg.Intervals, clock, logger)
	notifier := application.NewPlanChangeNotifier(events, refresher, alerts, logger)
	session := application.NewSession(ctx, creds, events, refresher, scheduler, logger)
	session.OnLogout(api.ResetCache)
	certRefresher := application.NewCertificateRefresher(api, storage, session, clock,
		application.CertificateRefresherConfig{
			CheckInterval: cfg.CertCheckInterval,
			RefreshLead:   cfg.CertRefreshLead,
			DeviceName:    cfg.DeviceName,
		}, logger)

	// 7. Local control API.
	limits, err := memorystore.New(&memorystore.Config{
		Tokens:   uint64(cfg.ManualRefreshPerMinute),
		Interval: time.Minute,
	})
	if err != nil {
		return fmt.Errorf("create refresh limiter: %w", err)
	}
	defer limits.Close(context.Background()) //nolint:errcheck // Close only stops the sweeper.

	apiHandler := httphandler.NewHandler(refresher, session, certRefresher, alerts, limits, logger)
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           httphandler.NewServeMux(apiHandler, logger),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      cfg.RequestTimeout + 30*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// 8. Supervise background loops. The first failure cancels the rest.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		notifier.Run(gctx)
		return nil
	})
	g.Go(func() error {
		session.WatchInvalidation(gctx)
		return nil
	})
	g.Go(func() error {
		certRefresher.Run(gctx)
		return nil
	})
	g.Go(func() error {
		logger.Info("http server starting", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		// Graceful shutdown with 10s timeout for in-flight manual refreshes.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		scheduler.Stop()
		scheduler.Wait()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown error", "error", err)
		}
		return nil
	})

	// 9. Pick up a session persisted by a previous run.
	session.Resume(ctx)
	logger.Info("vpnsync started", "listen_addr", cfg.ListenAddr, "logged_in", session.LoggedIn())

	err = g.Wait()
	logger.Info("shutdown complete")
	return err
}
