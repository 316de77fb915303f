package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/app"
	"github.com/vladislavdragonenkov/checkout/internal/version"
)

// setupLogger настраивает формат и уровень логирования по LOG_FORMAT и LOG_LEVEL.
func setupLogger(lookup func(string) (string, bool)) error {
	format, _ := lookup("LOG_FORMAT")
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "text":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	default:
		return fmt.Errorf("unsupported LOG_FORMAT %q (use text|json)", format)
	}

	level := log.InfoLevel
	if raw, ok := lookup("LOG_LEVEL"); ok && strings.TrimSpace(raw) != "" {
		parsed, err := log.ParseLevel(strings.TrimSpace(raw))
		if err != nil {
			return fmt.Errorf("invalid LOG_LEVEL: %w", err)
		}
		level = parsed
	}
	log.SetLevel(level)
	return nil
}

func main() {
	cfg, err := app.LoadConfig(".env")
	if err != nil {
		log.WithError(err).Fatal("failed to load config")
	}
	if err := setupLogger(os.LookupEnv); err != nil {
		log.WithError(err).Fatal("failed to configure logger")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(log.Fields{
		"http_addr":    cfg.HTTPAddr,
		"metrics_addr": cfg.MetricsAddr,
		"storage":      cfg.StorageDriver,
		"gateway":      cfg.Gateway,
		"version":      version.Get().Version,
	}).Info("starting checkout service")

	if err := app.Run(ctx, cfg); err != nil {
		log.WithError(err).Fatal("checkout service exited with error")
	}
	log.Info("checkout service stopped")
}
