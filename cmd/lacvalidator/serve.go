package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/lacvalidator/internal/core"
	"github.com/JonMunkholm/lacvalidator/internal/storage"
	"github.com/JonMunkholm/lacvalidator/internal/web"
)

func newServeCmd() *cobra.Command {
	var preload bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(preload)
		},
	}
	cmd.Flags().BoolVar(&preload, "preload", false, "load the rule engine before accepting requests")
	return cmd
}

func runServe(preload bool) error {
	cfg, err := loadConfig(os.Stdout)
	if err != nil {
		return err
	}

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"bridge_mode", cfg.Bridge.Mode,
		"export_backend", cfg.Export.Backend,
		"release", cfg.Runtime.RuleEngineRelease,
	)

	client, closeBridge, err := newClient(cfg)
	if err != nil {
		return err
	}
	defer closeBridge()

	store, err := storage.New(cfg.Export)
	if err != nil {
		return err
	}

	if preload {
		err := client.LoadRuntime(context.Background(), func(text string) {
			slog.Info("runtime progress", "text", text)
		})
		if err != nil {
			return err
		}
	}

	limiter := core.NewRunLimiter(core.DefaultMaxConcurrentRuns, cfg.Upload.MaxWaitTime)
	server := web.NewServer(cfg, client, store, limiter)

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if status := limiter.Status(); status.Active > 0 {
			slog.Info("waiting for validation to complete", "active", status.Active)
			if err := limiter.WaitForDrain(shutdownCtx); err != nil {
				slog.Warn("validation did not complete in time", "error", err)
			}
		}

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	slog.Info("server stopped")
	return nil
}
