package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/MKtraining-fr/OUIOUIMANUS8/internal/app"
	"github.com/MKtraining-fr/OUIOUIMANUS8/internal/config"
	pkgconfig "github.com/MKtraining-fr/OUIOUIMANUS8/pkg/config"
	"github.com/MKtraining-fr/OUIOUIMANUS8/pkg/logger"
)

func main() {
	// A local .env fills in variables the environment does not set.
	if err := pkgconfig.LoadDotEnv(); err != nil {
		slog.Error("failed to read .env", slog.String("error", err.Error()))
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	log := logger.New("promotions-service", cfg.LogLevel)
	log.Info("starting promotions service",
		slog.String("environment", cfg.Environment),
		slog.Int("http_port", cfg.HTTPPort),
		slog.String("storage", cfg.StorageDriver),
		slog.String("timezone", cfg.Timezone),
	)

	application, err := app.NewApp(cfg, log)
	if err != nil {
		log.Error("failed to initialize application", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Run blocks until shutdown.
	if err := application.Run(ctx); err != nil {
		log.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}

	log.Info("promotions service stopped")
}
