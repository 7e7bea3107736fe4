package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/lacvalidator/internal/bridge"
)

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:    "worker",
		Short:  "Serve bridge calls on stdin/stdout",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// stdout carries the bridge protocol; logs go to stderr.
			cfg, err := loadConfig(os.Stderr)
			if err != nil {
				return err
			}

			worker, host, err := newWorker(cfg)
			if err != nil {
				return err
			}
			defer host.Close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			slog.Info("worker started", "pid", os.Getpid())
			return worker.Serve(ctx, bridge.NewStreamConn(os.Stdin, os.Stdout, nil))
		},
	}
}
