package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/boddenberg/milhas-bfa-go/internal/config"
	"github.com/boddenberg/milhas-bfa-go/internal/engine"
	"github.com/boddenberg/milhas-bfa-go/internal/handler"
	"github.com/boddenberg/milhas-bfa-go/internal/infra/cache"
	"github.com/boddenberg/milhas-bfa-go/internal/infra/memory"
	"github.com/boddenberg/milhas-bfa-go/internal/infra/observability"
	"github.com/boddenberg/milhas-bfa-go/internal/infra/postgres"
	"github.com/boddenberg/milhas-bfa-go/internal/infra/resilience"
	"github.com/boddenberg/milhas-bfa-go/internal/infra/supabase"
	"github.com/boddenberg/milhas-bfa-go/internal/port"
	"github.com/boddenberg/milhas-bfa-go/internal/service"

	"go.uber.org/zap"
)

func main() {
	// --- Load .env file (for local development) ---
	_ = config.LoadDotEnv(".env")

	// --- Config ---
	cfg := config.Load()

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.String("store_backend", cfg.StoreBackend),
		zap.Duration("http_timeout", cfg.HTTPTimeout),
		zap.Duration("cache_ttl", cfg.CacheTTL),
		zap.Bool("redis_cache", cfg.RedisAddr != ""),
		zap.Int("max_retries", cfg.MaxRetries),
		zap.Duration("initial_backoff", cfg.InitialBackoff),
		zap.Bool("dev_auth", cfg.DevAuth),
	)

	// --- Tracing ---
	shutdown, err := observability.InitTracer(cfg.OTLPEndpoint, "milhas-bfa")
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdown(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelStart()

	// --- Store ---
	var store port.LedgerStore
	switch cfg.StoreBackend {
	case config.BackendSupabase:
		logger.Info("using Supabase as ledger store", zap.String("supabase_url", cfg.SupabaseURL))
		store = supabase.NewClient(
			&http.Client{Timeout: cfg.HTTPTimeout},
			cfg.SupabaseURL,
			cfg.SupabaseAnonKey,
			cfg.SupabaseServiceKey,
			resilience.NewCircuitBreaker("supabase", logger),
			resilience.Config{
				MaxRetries:     cfg.MaxRetries,
				InitialBackoff: cfg.InitialBackoff,
				MaxConcurrency: cfg.MaxConcurrency,
			},
			metrics,
			logger,
		)
	case config.BackendPostgres:
		pg, err := postgres.Open(startCtx, cfg.DatabaseURL, metrics, logger)
		if err != nil {
			logger.Fatal("failed to connect to postgres", zap.Error(err))
		}
		defer pg.Close()
		if err := pg.Migrate(startCtx); err != nil {
			logger.Fatal("failed to apply schema", zap.Error(err))
		}
		logger.Info("using Postgres as ledger store")
		store = pg
	default:
		logger.Warn("using in-memory ledger store, data is lost on restart")
		store = memory.NewStore()
	}

	// --- Cache ---
	var snapshots port.Cache[service.LedgerSnapshot]
	if cfg.RedisAddr != "" {
		opts := cache.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			Prefix:   "milhas:",
			TTL:      cfg.CacheTTL,
		}
		rdb, err := cache.NewRedisClient(startCtx, opts)
		if err != nil {
			logger.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer rdb.Close()
		snapshots = cache.NewRedis[service.LedgerSnapshot](rdb, opts, logger)
	} else {
		local := cache.New[service.LedgerSnapshot](cfg.CacheTTL)
		defer local.Close()
		snapshots = local
	}

	// --- Services ---
	milesSvc := service.NewMilesService(store, snapshots, metrics, logger, service.Options{
		Thresholds: engine.Thresholds{
			CPMExcellentBelow: cfg.CPMExcellentBelow,
			CPMHighAbove:      cfg.CPMHighAbove,
			CPVExcellentAbove: cfg.CPVExcellentAbove,
			CPVWeakBelow:      cfg.CPVWeakBelow,
		},
		TaxAlertThreshold: cfg.TaxAlertThreshold,
	})

	auth := handler.AuthConfig{DevAuth: cfg.DevAuth}
	if cfg.JWTSecret != "" {
		auth.Tokens = service.NewTokenValidator(cfg.JWTSecret)
	}
	if cfg.DevAuth {
		logger.Warn("DEV_AUTH enabled: X-Owner-ID header is trusted")
	}

	// --- Router ---
	router := handler.NewRouter(milesSvc, auth, metrics, logger)

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- Graceful shutdown ---
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("server forced shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}
