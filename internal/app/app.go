package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/MKtraining-fr/OUIOUIMANUS8/internal/config"
	"github.com/MKtraining-fr/OUIOUIMANUS8/internal/engine"
	"github.com/MKtraining-fr/OUIOUIMANUS8/internal/event"
	handler "github.com/MKtraining-fr/OUIOUIMANUS8/internal/handler/http"
	"github.com/MKtraining-fr/OUIOUIMANUS8/internal/repository"
	"github.com/MKtraining-fr/OUIOUIMANUS8/internal/repository/breaker"
	"github.com/MKtraining-fr/OUIOUIMANUS8/internal/repository/cache"
	"github.com/MKtraining-fr/OUIOUIMANUS8/internal/repository/memory"
	"github.com/MKtraining-fr/OUIOUIMANUS8/internal/repository/postgres"
	"github.com/MKtraining-fr/OUIOUIMANUS8/internal/service"
	"github.com/MKtraining-fr/OUIOUIMANUS8/migrations"
	"github.com/MKtraining-fr/OUIOUIMANUS8/pkg/database"
	"github.com/MKtraining-fr/OUIOUIMANUS8/pkg/health"
	pkgkafka "github.com/MKtraining-fr/OUIOUIMANUS8/pkg/kafka"
	"github.com/MKtraining-fr/OUIOUIMANUS8/pkg/tracing"
)

const serviceName = "promotions-service"

// App wires together all dependencies and runs the promotions service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	pool           *pgxpool.Pool
	rdb            *redis.Client
	producer       *pkgkafka.Producer
	consumer       *pkgkafka.Consumer
	shutdownTracer func(context.Context) error
	httpServer     *http.Server
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a := &App{cfg: cfg, logger: logger}

	shutdownTracer, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName:  serviceName,
		Environment:  cfg.Environment,
		OTLPEndpoint: cfg.OTELEndpoint,
		SampleRate:   cfg.OTELSampleRate,
		Enabled:      cfg.OTELEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}
	a.shutdownTracer = shutdownTracer

	healthHandler := health.NewHandler()

	// Promotion store: postgres or in-memory, behind a circuit breaker.
	var store repository.PromotionRepository
	switch cfg.StorageDriver {
	case config.StorageMemory:
		store = memory.NewPromotionRepository()
		logger.Warn("using in-memory promotion store, data is lost on restart")
	default:
		pool, err := a.connectPostgres(ctx)
		if err != nil {
			a.closeAll()
			return nil, err
		}
		a.pool = pool
		healthHandler.RegisterCritical("postgres", func(ctx context.Context) error {
			return pool.Ping(ctx)
		})
		store = postgres.NewPromotionRepository(pool)
	}

	var repo repository.PromotionRepository = breaker.NewPromotionRepository(store, storeBreakerConfig(cfg), logger)

	// Redis caches the active promotions. The service runs without it.
	if cfg.RedisAddr != "" {
		rdb, err := database.NewRedisClient(ctx, database.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPass,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			logger.Warn("redis unavailable, active promotions are not cached",
				slog.String("addr", cfg.RedisAddr),
				slog.String("error", err.Error()),
			)
		} else {
			a.rdb = rdb
			logger.Info("connected to Redis",
				slog.String("addr", cfg.RedisAddr),
				slog.Int("db", cfg.RedisDB),
			)
			healthHandler.RegisterNonCritical("redis", func(ctx context.Context) error {
				return rdb.Ping(ctx).Err()
			})
			repo = cache.NewPromotionRepository(repo, rdb, cfg.CacheTTL(), logger)
		}
	}

	// Kafka producer. Without brokers events are dropped.
	var publisher event.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		a.producer = pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)
		publisher = a.producer
		logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))
		producer := a.producer
		healthHandler.RegisterNonCritical("kafka", func(ctx context.Context) error {
			return producer.Ping(ctx)
		})
	} else {
		logger.Warn("no kafka brokers configured, promotion events are not published")
	}

	// Build the dependency graph.
	clock := engine.SystemClock{Location: cfg.Location()}
	eventProducer := event.NewProducer(publisher, logger)
	evaluationService := service.NewEvaluationService(repo, clock, logger)
	promotionService := service.NewPromotionService(repo, eventProducer, clock, logger)
	usageService := service.NewUsageService(repo, eventProducer, clock, logger)

	if cfg.OrderEventsEnabled {
		var store pkgkafka.IdempotencyStore = pkgkafka.NewMemoryIdempotencyStore(cfg.IdempotencyTTL())
		if a.rdb != nil {
			store = pkgkafka.NewRedisIdempotencyStore(a.rdb, "promotions:processed-events:", cfg.IdempotencyTTL())
		}
		a.consumer = event.NewOrderConsumer(
			cfg.KafkaBrokers,
			cfg.OrderEventsGroupID,
			event.NewConsumerHandler(usageService, logger),
			store,
			logger,
		)
		logger.Info("order events consumer initialized",
			slog.String("topic", event.TopicOrderConfirmed),
			slog.String("group", cfg.OrderEventsGroupID),
		)
	}

	// HTTP router.
	router := handler.NewRouter(handler.RouterConfig{
		Evaluations:    evaluationService,
		Promotions:     promotionService,
		Usages:         usageService,
		Health:         healthHandler,
		Clock:          clock,
		Logger:         logger,
		DeliveryFee:    cfg.StandardDeliveryFee,
		ActiveMaxAge:   cfg.ActiveMaxAgeSeconds,
		CORSOrigins:    cfg.CORSAllowedOrigins,
		RequestTimeout: time.Duration(cfg.RequestTimeoutSeconds) * time.Second,
	})

	a.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return a, nil
}

// storeBreakerConfig starts from the breaker defaults and overrides the
// settings given a positive value.
func storeBreakerConfig(cfg *config.Config) breaker.Config {
	bc := breaker.DefaultConfig("promotion-store")
	if cfg.BreakerMaxRequests > 0 {
		bc.MaxRequests = cfg.BreakerMaxRequests
	}
	if cfg.BreakerIntervalSeconds > 0 {
		bc.Interval = time.Duration(cfg.BreakerIntervalSeconds) * time.Second
	}
	if cfg.BreakerTimeoutSeconds > 0 {
		bc.Timeout = time.Duration(cfg.BreakerTimeoutSeconds) * time.Second
	}
	if cfg.BreakerFailureRatio > 0 {
		bc.FailureRatio = cfg.BreakerFailureRatio
	}
	if cfg.BreakerMinRequests > 0 {
		bc.MinRequests = cfg.BreakerMinRequests
	}
	return bc
}

func (a *App) connectPostgres(ctx context.Context) (*pgxpool.Pool, error) {
	cfg := a.cfg
	pgCfg := database.PostgresConfig{
		Host:            cfg.PostgresHost,
		Port:            cfg.PostgresPort,
		User:            cfg.PostgresUser,
		Password:        cfg.PostgresPass,
		DBName:          cfg.PostgresDB,
		SSLMode:         cfg.PostgresSSL,
		MaxConns:        cfg.DBMaxConns,
		MinConns:        cfg.DBMinConns,
		MaxConnLifetime: time.Duration(cfg.DBMaxConnLifetimeMins) * time.Minute,
		MaxConnIdleTime: time.Duration(cfg.DBMaxConnIdleTimeMins) * time.Minute,
	}

	pool, err := database.NewPostgresPool(ctx, &pgCfg, a.logger)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	a.logger.Info("connected to PostgreSQL",
		slog.String("host", cfg.PostgresHost),
		slog.Int("port", cfg.PostgresPort),
		slog.String("database", cfg.PostgresDB),
	)

	database.SetSlowQueryLogging(cfg.SlowQueryThreshold(), a.logger)
	if err := database.RegisterPoolMetrics(prometheus.DefaultRegisterer, pool, serviceName); err != nil {
		a.logger.Warn("pool metrics not registered", slog.String("error", err.Error()))
	}

	if cfg.AutoMigrate {
		if err := database.RunMigrations(ctx, pool, migrations.FS, a.logger); err != nil {
			pool.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}
	return pool, nil
}

// Handler returns the HTTP handler serving the API.
func (a *App) Handler() http.Handler {
	return a.httpServer.Handler
}

// Run starts the HTTP server and the order events consumer, and blocks until
// the context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 2)

	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	consumerCtx, stopConsumer := context.WithCancel(ctx)
	defer stopConsumer()

	var wg sync.WaitGroup
	if a.consumer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.consumer.Start(consumerCtx); err != nil && consumerCtx.Err() == nil {
				errCh <- fmt.Errorf("order events consumer: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case runErr = <-errCh:
	}

	stopConsumer()
	wg.Wait()

	if err := a.Shutdown(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// Shutdown gracefully stops all components.
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	// Graceful HTTP server shutdown with a 10-second deadline.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
	}

	a.closeAll()

	if err := a.shutdownTracer(shutdownCtx); err != nil {
		a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
	}

	a.logger.Info("application shutdown complete")
	return nil
}

func (a *App) closeAll() {
	if a.consumer != nil {
		if err := a.consumer.Close(); err != nil {
			a.logger.Error("kafka consumer close error", slog.String("error", err.Error()))
		}
	}
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
		}
	}
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.logger.Error("redis close error", slog.String("error", err.Error()))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
