package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/jpgallegoar/SimulationDashboard/internal/adapter/metrics"
	"github.com/jpgallegoar/SimulationDashboard/internal/adapter/postgres"
	"github.com/jpgallegoar/SimulationDashboard/internal/adapter/redis"
	"github.com/jpgallegoar/SimulationDashboard/internal/adapter/sqlite"
	"github.com/jpgallegoar/SimulationDashboard/internal/app"
	"github.com/jpgallegoar/SimulationDashboard/internal/domain"
	"github.com/jpgallegoar/SimulationDashboard/internal/platform/config"
	"github.com/jpgallegoar/SimulationDashboard/internal/platform/correlation"
	"github.com/jpgallegoar/SimulationDashboard/internal/platform/logging"
	"github.com/jpgallegoar/SimulationDashboard/internal/platform/retry"
)

const connectTimeout = 10 * time.Second

func main() {
	once := flag.Bool("once", false, "Advance every running simulation a single step and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logging.InitLogger("simdash-populate", cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *once); err != nil {
		slog.Error("Populate failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Populate stopped")
}

func run(ctx context.Context, cfg *config.Config, once bool) error {
	clock := clockwork.NewRealClock()
	reg := metrics.NewRegistry()

	pool, err := connectDB(ctx, cfg, metrics.NewDBMetrics(reg))
	if err != nil {
		return err
	}
	defer pool.Close()

	var progress domain.ProgressWriter = postgres.NewProgressRepo(pool)
	if cfg.ProgressStore == config.ProgressStoreSQLite {
		store, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()
		progress = store
	}

	var invalidator app.CacheInvalidator
	if cfg.RedisURL != "" {
		cacheMetrics := metrics.NewCacheMetrics(reg)
		connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		client, err := redis.NewClient(connectCtx, cfg.RedisURL,
			redis.NewMetricsHook(clock, cacheMetrics),
			redis.NewCircuitBreakerHook(redis.DefaultBreakerSettings, cacheMetrics),
		)
		cancel()
		if err != nil {
			return err
		}
		defer func() { _ = client.Close() }()
		invalidator = redis.NewProgressCache(client, progress, cfg.ProgressCacheTTL, clock, cacheMetrics)
	}

	synth := app.NewSynthesizer(postgres.NewSimulationRepo(pool), progress, invalidator, clock, cfg.SynthInterval)

	if once {
		stepCtx := correlation.WithID(ctx, correlation.NewID())
		n, err := synth.Step(stepCtx)
		if err != nil {
			return err
		}
		slog.InfoContext(stepCtx, "Advanced running simulations", "count", n)
		return nil
	}

	return synth.Run(ctx)
}

func connectDB(ctx context.Context, cfg *config.Config, m *metrics.DBMetrics) (*pgxpool.Pool, error) {
	policy := retry.Policy{
		MaxAttempts:    5,
		InitialBackoff: time.Second,
		MaxBackoff:     10 * time.Second,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			slog.Warn("Database not reachable, retrying", "attempt", attempt, "backoff", backoff, "error", err)
		},
	}

	pool, err := retry.Do(ctx, policy, retry.Always, func() (*pgxpool.Pool, error) {
		connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		defer cancel()
		return postgres.Connect(connectCtx, cfg.DatabaseURL, m)
	})
	if err != nil {
		return nil, err
	}

	if err := postgres.RunMigrationsWithLock(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}
