package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"

	"github.com/bhardin04/livedemo/internal/broadcast"
	"github.com/bhardin04/livedemo/internal/connection"
	"github.com/bhardin04/livedemo/internal/ratelimit"
	"github.com/bhardin04/livedemo/internal/session"
	"github.com/bhardin04/livedemo/internal/simulation"
)

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

type Config struct {
	AppEnv      string `env:"APP_ENV" default:"development"`
	Port        string `env:"PORT" default:"8080"`
	AppURL      string `env:"APP_URL" default:"http://localhost:8080"`
	DatabaseURL string `env:"DATABASE_URL"`
	RedisURL    string `env:"REDIS_URL"`
	LogLevel    string `env:"LOG_LEVEL" default:"info"`
	LogFormat   string `env:"LOG_FORMAT" default:"text"`

	MaxSessions                  int           `env:"MAX_SESSIONS" default:"100"`
	SessionTTLSeconds            int           `env:"SESSION_TTL_SECONDS" default:"3600"`
	SessionSweepInterval         time.Duration `env:"SESSION_SWEEP_INTERVAL" default:"60s"`
	CloseSessionOnLastDisconnect bool          `env:"CLOSE_SESSION_ON_LAST_DISCONNECT" default:"false"`
	TouchOnInbound               bool          `env:"TOUCH_ON_INBOUND" default:"true"`
	TouchOnBroadcast             bool          `env:"TOUCH_ON_BROADCAST" default:"true"`

	MaxConnections           int           `env:"MAX_CONNECTIONS" default:"200"`
	MaxConnectionsPerSession int           `env:"MAX_CONNECTIONS_PER_SESSION" default:"5"`
	HeartbeatInterval        time.Duration `env:"HEARTBEAT_INTERVAL" default:"30s"`
	SendTimeout              time.Duration `env:"SEND_TIMEOUT" default:"2s"`

	MaxTotalRecords int `env:"MAX_TOTAL_RECORDS" default:"1000"`

	RateLimitBackend             string `env:"RATE_LIMIT_BACKEND" default:"memory"`
	RateLimitContactPerMinute    int    `env:"RATE_LIMIT_CONTACT_PER_MINUTE" default:"1"`
	RateLimitContactPerHour      int    `env:"RATE_LIMIT_CONTACT_PER_HOUR" default:"3"`
	RateLimitAnalyticsPerMinute  int    `env:"RATE_LIMIT_ANALYTICS_PER_MINUTE" default:"30"`
	RateLimitErrorReportPerMin   int    `env:"RATE_LIMIT_ERROR_REPORT_PER_MINUTE" default:"10"`
	RateLimitSessionCreatePerMin int    `env:"RATE_LIMIT_SESSION_CREATE_PER_MINUTE" default:"10"`
	RateLimitDemoDataPerMinute   int    `env:"RATE_LIMIT_DEMO_DATA_PER_MINUTE" default:"20"`
	RateLimitConnectionPerMinute int    `env:"RATE_LIMIT_CONNECTION_OPEN_PER_MINUTE" default:"30"`

	// Zero keeps telemetry rows forever.
	TelemetryRetention time.Duration `env:"TELEMETRY_RETENTION" default:"0s"`
}

// SessionTTL is the configured inactivity TTL.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLSeconds) * time.Second
}

func (c *Config) SessionConfig() session.Config {
	return session.Config{
		MaxSessions:   c.MaxSessions,
		TTL:           c.SessionTTL(),
		SweepInterval: c.SessionSweepInterval,
	}
}

func (c *Config) ConnectionLimits() connection.Limits {
	return connection.Limits{
		MaxConnections: c.MaxConnections,
		MaxPerSession:  c.MaxConnectionsPerSession,
	}
}

func (c *Config) SimulationConfig() simulation.Config {
	sc := simulation.DefaultConfig()
	sc.MaxTotalRecords = c.MaxTotalRecords
	return sc
}

func (c *Config) BroadcastConfig() broadcast.Config {
	bc := broadcast.DefaultConfig()
	bc.SendTimeout = c.SendTimeout
	bc.TouchOnBroadcast = c.TouchOnBroadcast
	return bc
}

// RateLimitQuotas builds the per-class quota table from the env overrides.
func (c *Config) RateLimitQuotas() ratelimit.Quotas {
	return ratelimit.Quotas{
		ratelimit.ClassContactForm: {
			ratelimit.PerMinute(c.RateLimitContactPerMinute),
			ratelimit.PerHour(c.RateLimitContactPerHour),
		},
		ratelimit.ClassAnalytics:      {ratelimit.PerMinute(c.RateLimitAnalyticsPerMinute)},
		ratelimit.ClassErrorReport:    {ratelimit.PerMinute(c.RateLimitErrorReportPerMin)},
		ratelimit.ClassSessionCreate:  {ratelimit.PerMinute(c.RateLimitSessionCreatePerMin)},
		ratelimit.ClassDemoDataFetch:  {ratelimit.PerMinute(c.RateLimitDemoDataPerMinute)},
		ratelimit.ClassConnectionOpen: {ratelimit.PerMinute(c.RateLimitConnectionPerMinute)},
	}
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	positive := []struct {
		name  string
		value int
	}{
		{"MAX_SESSIONS", cfg.MaxSessions},
		{"SESSION_TTL_SECONDS", cfg.SessionTTLSeconds},
		{"MAX_CONNECTIONS", cfg.MaxConnections},
		{"MAX_CONNECTIONS_PER_SESSION", cfg.MaxConnectionsPerSession},
		{"MAX_TOTAL_RECORDS", cfg.MaxTotalRecords},
		{"RATE_LIMIT_CONTACT_PER_MINUTE", cfg.RateLimitContactPerMinute},
		{"RATE_LIMIT_CONTACT_PER_HOUR", cfg.RateLimitContactPerHour},
		{"RATE_LIMIT_ANALYTICS_PER_MINUTE", cfg.RateLimitAnalyticsPerMinute},
		{"RATE_LIMIT_ERROR_REPORT_PER_MINUTE", cfg.RateLimitErrorReportPerMin},
		{"RATE_LIMIT_SESSION_CREATE_PER_MINUTE", cfg.RateLimitSessionCreatePerMin},
		{"RATE_LIMIT_DEMO_DATA_PER_MINUTE", cfg.RateLimitDemoDataPerMinute},
		{"RATE_LIMIT_CONNECTION_OPEN_PER_MINUTE", cfg.RateLimitConnectionPerMinute},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return fmt.Errorf("%s must be positive, got %d", p.name, p.value)
		}
	}

	intervals := []struct {
		name  string
		value time.Duration
	}{
		{"SESSION_SWEEP_INTERVAL", cfg.SessionSweepInterval},
		{"HEARTBEAT_INTERVAL", cfg.HeartbeatInterval},
		{"SEND_TIMEOUT", cfg.SendTimeout},
	}
	for _, i := range intervals {
		if i.value <= 0 {
			return fmt.Errorf("%s must be positive, got %s", i.name, i.value)
		}
	}

	if cfg.TelemetryRetention < 0 {
		return fmt.Errorf("TELEMETRY_RETENTION must not be negative, got %s", cfg.TelemetryRetention)
	}

	if cfg.MaxConnectionsPerSession > cfg.MaxConnections {
		return fmt.Errorf("MAX_CONNECTIONS_PER_SESSION (%d) must not exceed MAX_CONNECTIONS (%d)",
			cfg.MaxConnectionsPerSession, cfg.MaxConnections)
	}

	switch cfg.RateLimitBackend {
	case BackendMemory:
	case BackendRedis:
		if cfg.RedisURL == "" {
			return errors.New("REDIS_URL is required when RATE_LIMIT_BACKEND=redis")
		}
	default:
		return fmt.Errorf("RATE_LIMIT_BACKEND must be %q or %q, got %q", BackendMemory, BackendRedis, cfg.RateLimitBackend)
	}

	if _, err := url.Parse(cfg.AppURL); err != nil {
		return fmt.Errorf("APP_URL must be a valid URL: %w", err)
	}

	return nil
}
