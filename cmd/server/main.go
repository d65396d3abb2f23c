package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/jpgallegoar/SimulationDashboard/internal/adapter/httpserver"
	"github.com/jpgallegoar/SimulationDashboard/internal/adapter/metrics"
	"github.com/jpgallegoar/SimulationDashboard/internal/adapter/postgres"
	"github.com/jpgallegoar/SimulationDashboard/internal/adapter/redis"
	"github.com/jpgallegoar/SimulationDashboard/internal/adapter/sqlite"
	"github.com/jpgallegoar/SimulationDashboard/internal/adapter/websocket"
	"github.com/jpgallegoar/SimulationDashboard/internal/app"
	"github.com/jpgallegoar/SimulationDashboard/internal/domain"
	"github.com/jpgallegoar/SimulationDashboard/internal/live"
	"github.com/jpgallegoar/SimulationDashboard/internal/platform/config"
	"github.com/jpgallegoar/SimulationDashboard/internal/platform/logging"
	"github.com/jpgallegoar/SimulationDashboard/internal/platform/retry"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

const (
	connectTimeout     = 10 * time.Second
	shutdownTimeout    = 10 * time.Second
	cacheEvictInterval = time.Minute
)

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupDB(ctx context.Context, cfg *config.Config, m *metrics.DBMetrics) *pgxpool.Pool {
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
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}

	migrateCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	if err := postgres.RunMigrationsWithLock(migrateCtx, pool); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}

	return pool
}

func setupRedis(ctx context.Context, cfg *config.Config, clock clockwork.Clock, m *metrics.CacheMetrics) *goredis.Client {
	breaker := redis.NewCircuitBreakerHook(redis.DefaultBreakerSettings, m)

	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	client, err := redis.NewClient(connectCtx, cfg.RedisURL, redis.NewMetricsHook(clock, m), breaker)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	return client
}

// setupProgressWriter picks the backing store for convergence data.
func setupProgressWriter(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) (domain.ProgressWriter, func(context.Context) error, func()) {
	if cfg.ProgressStore == config.ProgressStoreSQLite {
		store, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			slog.Error("Failed to open SQLite progress store", "path", cfg.SQLitePath, "error", err)
			os.Exit(1)
		}
		slog.Info("Using SQLite progress store", "path", cfg.SQLitePath)
		return store, store.Ping, func() { _ = store.Close() }
	}
	return postgres.NewProgressRepo(pool), pool.Ping, func() {}
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger("simdash-server", cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := metrics.NewRegistry()
	dbMetrics := metrics.NewDBMetrics(reg)
	cacheMetrics := metrics.NewCacheMetrics(reg)
	liveMetrics := metrics.NewLiveMetrics(reg)
	wsMetrics := metrics.NewWebSocketMetrics(reg)
	httpMetrics := metrics.NewHTTPMetrics(reg)

	pool := setupDB(ctx, cfg, dbMetrics)
	defer pool.Close()

	progress, progressPing, closeProgress := setupProgressWriter(ctx, cfg, pool)
	defer closeProgress()

	healthChecks := []httpserver.HealthCheck{
		{Name: "postgres", Check: pool.Ping},
	}
	if cfg.ProgressStore == config.ProgressStoreSQLite {
		healthChecks = append(healthChecks, httpserver.HealthCheck{Name: "sqlite", Check: progressPing})
	}

	g, gctx := errgroup.WithContext(ctx)

	var store domain.ProgressStore = progress
	if cfg.RedisURL != "" {
		redisClient := setupRedis(ctx, cfg, clock, cacheMetrics)
		defer func() { _ = redisClient.Close() }()

		cache := redis.NewProgressCache(redisClient, progress, cfg.ProgressCacheTTL, clock, cacheMetrics)
		stopEviction := cache.StartEvictionTimer(cacheEvictInterval)
		defer stopEviction()

		subscriber := redis.NewInvalidationSubscriber(redisClient, cache)
		g.Go(func() error {
			subscriber.Start(gctx)
			return nil
		})

		store = cache
		healthChecks = append(healthChecks, httpserver.HealthCheck{
			Name:  "redis",
			Check: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		})
	}

	hub := websocket.NewHub(clock, wsMetrics)
	supervisor := live.NewSupervisor(live.Config{
		Interval:      cfg.PollInterval,
		QueryTimeout:  cfg.PollQueryTimeout,
		MaxBackoff:    cfg.PollMaxBackoff,
		RetryInterval: cfg.PollerRetryInterval,
		MaxPollers:    cfg.MaxPollers,
	}, store, hub, clock, liveMetrics)
	registry := live.NewRegistry(supervisor, liveMetrics)

	wsHandler := websocket.NewHandler(hub, registry, websocket.HandlerConfig{
		CheckOrigin:    websocket.NewCheckOrigin(cfg.Origins(), cfg.AppEnv == "development"),
		MaxConnections: cfg.MaxWebSocketConnections,
	}, clock, wsMetrics)

	appSvc := app.NewService(postgres.NewSimulationRepo(pool), postgres.NewMachineRepo(pool), progress)

	srv := httpserver.NewServer(cfg, httpserver.Deps{
		App:              appSvc,
		Live:             registry,
		WebSocketHandler: wsHandler,
		Registry:         reg,
		HTTPMetrics:      httpMetrics,
		HealthChecks:     healthChecks,
		Clock:            clock,
	})

	g.Go(func() error { return registry.Run(gctx) })
	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutdown signal received, cleaning up...")
		shutdown(srv, hub, supervisor)
		return nil
	})

	if err := g.Wait(); err != nil {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}
	slog.Info("Server stopped")
}

// shutdown stops accepting requests, then closes every websocket connection
// so readers leave their topics, then stops the remaining pollers.
func shutdown(srv *httpserver.Server, hub *websocket.Hub, supervisor *live.Supervisor) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("Server shutdown error", "error", err)
	}

	hub.Stop()

	if err := supervisor.Shutdown(ctx); err != nil {
		slog.Error("Supervisor shutdown error", "error", err)
	}
}
