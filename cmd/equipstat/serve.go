package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/equipstat/internal/auth"
	"github.com/JonMunkholm/equipstat/internal/config"
	"github.com/JonMunkholm/equipstat/internal/core"
	"github.com/JonMunkholm/equipstat/internal/exitcode"
	"github.com/JonMunkholm/equipstat/internal/filestore"
	"github.com/JonMunkholm/equipstat/internal/metrics"
	"github.com/JonMunkholm/equipstat/internal/store"
	"github.com/JonMunkholm/equipstat/internal/web"
)

func newServeCommand(opts *globalOptions) *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg, migrate)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", true, "Apply pending migrations before serving")
	return cmd
}

func runServe(ctx context.Context, cfg *config.Config, migrate bool) error {
	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"db_max_conns", cfg.Database.MaxConns,
		"upload_max_concurrent", cfg.Upload.MaxConcurrent,
		"upload_max_file_size", cfg.Upload.MaxFileSize,
		"rate_limit_enabled", cfg.Rate.Enabled,
	)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	if migrate {
		n, err := store.Migrate(ctx, pool)
		if err != nil {
			slog.Error("migration failed", "error", err)
			return exitWith(exitcode.MigrationError, err)
		}
		slog.Info("migrations applied", "count", n)
	}

	files, err := filestore.New(cfg.Upload.StorageDir)
	if err != nil {
		return exitWith(exitcode.ConfigError, err)
	}

	m := metrics.New()
	limiter := core.NewUploadLimiter(cfg.Upload.MaxConcurrent, cfg.Upload.MaxWaitTime)
	service := core.NewService(db, files, limiter, m, core.Options{
		SizeLimit:     cfg.Upload.MaxFileSize,
		RetainPerUser: cfg.Upload.RetainPerUser,
		UploadTimeout: cfg.Upload.Timeout,
	})
	authenticator := auth.New(db, auth.Options{
		Secret:            []byte(cfg.Security.JWTSecret),
		TTL:               cfg.Security.TokenTTL,
		AllowRegistration: cfg.Security.AllowRegistration,
	})

	// Background jobs outlive the signal context until the server drains.
	jobCtx, cancelJobs := context.WithCancel(context.Background())
	defer cancelJobs()

	if cfg.Upload.SweepInterval > 0 {
		go service.StartSweeper(jobCtx, cfg.Upload.SweepInterval)
	}

	server := web.NewServer(jobCtx, cfg, web.Deps{
		Service: service,
		Auth:    authenticator,
		Metrics: m,
		Ping:    db.Ping,
		Limiter: limiter,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case err := <-errCh:
		if err != nil {
			return exitWith(exitcode.RuntimeError, fmt.Errorf("http server: %w", err))
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}

	if st := limiter.Status(); st.Active > 0 {
		slog.Info("waiting for uploads to complete", "active", st.Active)
		if err := limiter.WaitForDrain(shutdownCtx); err != nil {
			slog.Warn("uploads did not complete in time", "error", err)
		} else {
			slog.Info("all uploads completed")
		}
	}

	cancelJobs()
	slog.Info("server stopped")
	return nil
}
