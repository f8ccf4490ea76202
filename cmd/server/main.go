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
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/bhardin04/livedemo/internal/adapter/httpserver"
	"github.com/bhardin04/livedemo/internal/adapter/logsink"
	"github.com/bhardin04/livedemo/internal/adapter/metrics"
	"github.com/bhardin04/livedemo/internal/adapter/postgres"
	"github.com/bhardin04/livedemo/internal/adapter/redis"
	"github.com/bhardin04/livedemo/internal/app"
	"github.com/bhardin04/livedemo/internal/domain"
	"github.com/bhardin04/livedemo/internal/platform/config"
	"github.com/bhardin04/livedemo/internal/platform/logging"
	"github.com/bhardin04/livedemo/internal/platform/retry"
	"github.com/bhardin04/livedemo/internal/ratelimit"
)

const purgeInterval = time.Hour

type appMetrics struct {
	registry    *prometheus.Registry
	http        *metrics.HTTPMetrics
	sessions    *metrics.SessionMetrics
	connections *metrics.ConnectionMetrics
	simulation  *metrics.SimulationMetrics
	rateLimit   *metrics.RateLimitMetrics
	telemetry   *metrics.TelemetryMetrics
	redis       *metrics.RedisMetrics
	db          *metrics.DBMetrics
}

func setupMetrics() appMetrics {
	reg := metrics.NewRegistry()
	return appMetrics{
		registry:    reg,
		http:        metrics.NewHTTPMetrics(reg),
		sessions:    metrics.NewSessionMetrics(reg),
		connections: metrics.NewConnectionMetrics(reg),
		simulation:  metrics.NewSimulationMetrics(reg),
		rateLimit:   metrics.NewRateLimitMetrics(reg),
		telemetry:   metrics.NewTelemetryMetrics(reg),
		redis:       metrics.NewRedisMetrics(reg),
		db:          metrics.NewDBMetrics(reg),
	}
}

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupDB(cfg *config.Config, m appMetrics) *pgxpool.Pool {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	policy := retry.Policy{
		MaxAttempts:    5,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			slog.Warn("Database not reachable, retrying", "attempt", attempt, "backoff", backoff, "error", err)
		},
	}
	pool, err := retry.Do(ctx, policy, retry.Always, func(ctx context.Context) (*pgxpool.Pool, error) {
		return postgres.Connect(ctx, cfg.DatabaseURL, postgres.NewMetricsTracer(m.db))
	})
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}

	if err := postgres.RunMigrationsWithLock(ctx, pool); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}

	return pool
}

func setupRedis(ctx context.Context, cfg *config.Config, m appMetrics) *goredis.Client {
	client, err := redis.NewClient(ctx, cfg.RedisURL, redis.NewMetricsHook(m.redis))
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	return client
}

// setupRateLimitStore returns the admission store. The in-memory store is
// always created: it is the only store for the memory backend and the
// fallback behind the breaker for redis.
func setupRateLimitStore(memStore *ratelimit.MemoryStore, rdb *goredis.Client, m appMetrics) ratelimit.Store {
	if rdb == nil {
		return memStore
	}
	return ratelimit.NewFallbackStore(redis.NewRateLimitStore(rdb), memStore, ratelimit.DefaultBreakerSettings(), m.rateLimit)
}

func runRetentionPurge(ctx context.Context, store *postgres.TelemetryStore, clock clockwork.Clock, retention time.Duration) {
	ticker := clock.NewTicker(purgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			purged, err := store.PurgeBefore(ctx, clock.Now().Add(-retention))
			if err != nil {
				slog.Error("Telemetry purge failed", "error", err)
				continue
			}
			if purged > 0 {
				slog.Info("Purged old telemetry", "rows", purged, "retention", retention)
			}
		}
	}
}

func runGracefulShutdown(srv *httpserver.Server, svc *app.Service, cancel context.CancelFunc) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelShutdown()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		svc.Shutdown()
		cancel()

		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port, "rate_limit_backend", cfg.RateLimitBackend)

	m := setupMetrics()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var healthChecks []httpserver.HealthCheck

	var rdb *goredis.Client
	if cfg.RateLimitBackend == config.BackendRedis {
		rdb = setupRedis(ctx, cfg, m)
		defer func() { _ = rdb.Close() }()
		healthChecks = append(healthChecks, httpserver.HealthCheck{
			Name:  "redis",
			Check: func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		})
	}

	memStore := ratelimit.NewMemoryStore(clock)
	limiter, err := ratelimit.New(cfg.RateLimitQuotas(), setupRateLimitStore(memStore, rdb, m), m.rateLimit)
	if err != nil {
		slog.Error("Failed to create rate limiter", "error", err)
		os.Exit(1)
	}

	var telemetryStore domain.TelemetryStore = logsink.NewTelemetryStore(nil)
	var pgStore *postgres.TelemetryStore
	if cfg.DatabaseURL != "" {
		pool := setupDB(cfg, m)
		defer pool.Close()
		pgStore = postgres.NewTelemetryStore(pool)
		telemetryStore = pgStore
		healthChecks = append(healthChecks, httpserver.HealthCheck{Name: "database", Check: pgStore.Ping})
	} else {
		slog.Info("DATABASE_URL not set, telemetry is logged only")
	}

	svc := app.NewService(app.Config{
		Session:                      cfg.SessionConfig(),
		Connections:                  cfg.ConnectionLimits(),
		Simulation:                   cfg.SimulationConfig(),
		Broadcast:                    cfg.BroadcastConfig(),
		HeartbeatInterval:            cfg.HeartbeatInterval,
		CloseSessionOnLastDisconnect: cfg.CloseSessionOnLastDisconnect,
		TouchOnInbound:               cfg.TouchOnInbound,
	}, limiter, telemetryStore, logsink.NewContactSink(nil), clock, app.Observers{
		Sessions:    m.sessions,
		Connections: m.connections,
		Simulation:  m.simulation,
		Broadcast:   m.simulation,
	})

	srv := httpserver.NewServer(cfg, svc, httpserver.Options{
		Limiter:        limiter,
		MetricsHandler: metrics.Handler(m.registry),
		HTTPMetrics:    m.http.Middleware(),
		Telemetry:      m.telemetry,
		HealthChecks:   healthChecks,
		Clock:          clock,
	})

	done := runGracefulShutdown(srv, svc, cancel)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		svc.Run(gctx)
		return nil
	})
	g.Go(func() error {
		memStore.Run(gctx, ratelimit.DefaultCleanupInterval)
		return nil
	})
	if pgStore != nil && cfg.TelemetryRetention > 0 {
		g.Go(func() error {
			runRetentionPurge(gctx, pgStore, clock, cfg.TelemetryRetention)
			return nil
		})
	}
	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		slog.Error("Server error", "error", err)
		svc.Shutdown()
		os.Exit(1)
	}

	<-done
	slog.Info("Server stopped")
}
