// Command legacy-import copies promotions exported in the legacy JSON shape
// into the promotions database.
//
//	legacy-import -file promotions.json [-dry-run]
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MKtraining-fr/OUIOUIMANUS8/internal/config"
	"github.com/MKtraining-fr/OUIOUIMANUS8/internal/domain"
	"github.com/MKtraining-fr/OUIOUIMANUS8/internal/repository/postgres"
	"github.com/MKtraining-fr/OUIOUIMANUS8/internal/service"
	"github.com/MKtraining-fr/OUIOUIMANUS8/migrations"
	pkgconfig "github.com/MKtraining-fr/OUIOUIMANUS8/pkg/config"
	"github.com/MKtraining-fr/OUIOUIMANUS8/pkg/database"
	"github.com/MKtraining-fr/OUIOUIMANUS8/pkg/logger"
)

func main() {
	file := flag.String("file", "", "path to the legacy promotions JSON array")
	dryRun := flag.Bool("dry-run", false, "convert and validate without writing")
	flag.Parse()

	if *file == "" {
		flag.Usage()
		os.Exit(2)
	}

	if err := pkgconfig.LoadDotEnv(); err != nil {
		slog.Error("failed to read .env", slog.String("error", err.Error()))
		os.Exit(1)
	}
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	log := logger.New("promotions-legacy-import", cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, *file, *dryRun, log); err != nil {
		log.Error("legacy import failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, file string, dryRun bool, log *slog.Logger) error {
	raw, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("read %s: %w", file, err)
	}
	var legacy []domain.LegacyPromotion
	if err := json.Unmarshal(raw, &legacy); err != nil {
		return fmt.Errorf("decode %s: %w", file, err)
	}

	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	pool, err := database.NewPostgresPool(connectCtx, &database.PostgresConfig{
		Host:            cfg.PostgresHost,
		Port:            cfg.PostgresPort,
		User:            cfg.PostgresUser,
		Password:        cfg.PostgresPass,
		DBName:          cfg.PostgresDB,
		SSLMode:         cfg.PostgresSSL,
		MaxConns:        4,
		MinConns:        1,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 5 * time.Minute,
	}, log)
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	defer pool.Close()

	if err := database.RunMigrations(connectCtx, pool, migrations.FS, log); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	importer := service.NewLegacyImporter(postgres.NewPromotionRepository(pool), log)
	report, err := importer.Import(ctx, legacy, dryRun)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
