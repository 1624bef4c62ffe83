package commands

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/chanterlabs/chanter/internal/runtime"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the synthesis service",
	Long: `Run the synthesis pipeline as a long-lived service.

Jobs arrive over NATS and notifications are published back on the bus;
health and readiness are served over HTTP and metrics over Prometheus.
The process runs until SIGINT or SIGTERM, then shuts down cleanly,
aborting any in-flight job.

Examples:
  chanter serve
  chanter serve --config /etc/chanter/chanter.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: parseLevel(cfg.Telemetry.LogLevel),
		}))

		rt := runtime.New(cfg, logger)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := rt.Start(ctx); err != nil {
			return err
		}
		logger.Info("shutdown complete")
		return nil
	},
}

// parseLevel maps the configured log level onto slog's levels, defaulting
// to info.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
