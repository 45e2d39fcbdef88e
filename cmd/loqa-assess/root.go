package main

import (
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "loqa-assess",
		Short:        "Pronunciation assessment runtime",
		Long:         "loqa-assess builds pronunciation-assessment requests, decodes scored results and serves them over NATS and HTTP.",
		SilenceUsage: true,
	}
	root.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error); overrides telemetry.log_level")

	root.AddCommand(newServeCmd())
	root.AddCommand(newConfigCmd())
	root.AddCommand(newDecodeCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
