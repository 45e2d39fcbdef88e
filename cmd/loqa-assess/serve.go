package main

import (
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/loqalabs/loqa-assess/internal/config"
	"github.com/loqalabs/loqa-assess/internal/runtime"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the assessment runtime",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			level := cfg.Telemetry.LogLevel
			if flag, _ := cmd.Flags().GetString("log-level"); flag != "" {
				level = flag
			}
			logger := newLogger(level)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := runtime.New(cfg, logger).Start(ctx); err != nil {
				logger.Error("runtime exited with error", slog.String("error", err.Error()))
				return err
			}
			logger.Info("shutdown complete")
			return nil
		},
	}
	cmd.Flags().String("config", "", "Path to configuration file (defaults and LOQA_* env vars apply when empty)")
	return cmd
}

