// Package bootstrap turns the loaded configuration into wired infrastructure
// shared by the barker and sniffer commands.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/RyanStanLin/IntSchool.Sharp/config"
	"github.com/RyanStanLin/IntSchool.Sharp/internal/infrastructure/external/intschool"
	"github.com/RyanStanLin/IntSchool.Sharp/internal/infrastructure/metrics"
	"github.com/RyanStanLin/IntSchool.Sharp/internal/infrastructure/persistence/postgres"
	"github.com/RyanStanLin/IntSchool.Sharp/internal/infrastructure/persistence/redis"
	apihttp "github.com/RyanStanLin/IntSchool.Sharp/internal/interface/http"
	"github.com/RyanStanLin/IntSchool.Sharp/internal/interface/http/handlers"
	"github.com/RyanStanLin/IntSchool.Sharp/pkg/circuitbreaker"
	"github.com/RyanStanLin/IntSchool.Sharp/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// LOGGING
// ══════════════════════════════════════════════════════════════════════════════

// NewLogger builds the process logger from the observability settings.
func NewLogger(cfg *config.Config) (*logger.Logger, error) {
	log, err := logger.New(logger.Options{
		Level:       logger.ParseLevel(cfg.Observability.LogLevel),
		Format:      cfg.Observability.LogFormat,
		Development: cfg.IsDevelopment(),
	})
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	return log.With(
		logger.String("app", cfg.App.Name),
		logger.String("version", cfg.App.Version),
	), nil
}

// SignalContext is cancelled on SIGINT or SIGTERM.
func SignalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// ══════════════════════════════════════════════════════════════════════════════
// SCHOOL API
// ══════════════════════════════════════════════════════════════════════════════

// SchoolClientConfig maps the school settings onto the client configuration.
func SchoolClientConfig(cfg config.SchoolConfig) intschool.Config {
	out := intschool.DefaultConfig(cfg.XToken)
	if cfg.BaseURL != "" {
		out.BaseURL = cfg.BaseURL
	}
	if cfg.SchoolID != "" {
		out.SchoolID = cfg.SchoolID
	}
	if cfg.Timeout > 0 {
		out.Timeout = cfg.Timeout
	}
	if cfg.MaxAttempts > 0 {
		out.MaxAttempts = uint(cfg.MaxAttempts)
	}
	if cfg.RetryDelay > 0 {
		out.RetryDelay = cfg.RetryDelay
	}
	if cfg.MaxDelay > 0 {
		out.MaxDelay = cfg.MaxDelay
	}
	return out
}

// NewSchoolClient creates the school API client. Breaker transitions are
// reported to m when it is not nil.
func NewSchoolClient(cfg config.SchoolConfig, log *logger.Logger, m *metrics.Metrics) (*intschool.Client, error) {
	var breakerOpts []circuitbreaker.Option
	if cfg.BreakerThreshold > 0 {
		breakerOpts = append(breakerOpts, circuitbreaker.WithFailureThreshold(cfg.BreakerThreshold))
	}
	if cfg.BreakerTimeout > 0 {
		breakerOpts = append(breakerOpts, circuitbreaker.WithTimeout(cfg.BreakerTimeout))
	}

	opts := []intschool.Option{
		intschool.WithLogger(log),
		intschool.WithBreakerOptions(breakerOpts...),
	}
	if m != nil {
		opts = append(opts, intschool.WithBreakerHook(m.BreakerStateHook()))
	}

	client, err := intschool.NewClient(SchoolClientConfig(cfg), opts...)
	if err != nil {
		return nil, fmt.Errorf("create school client: %w", err)
	}
	return client, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// POSTGRES
// ══════════════════════════════════════════════════════════════════════════════

// PostgresConfig maps the database settings onto the pool configuration.
func PostgresConfig(cfg config.DatabaseConfig) postgres.Config {
	out := postgres.DefaultConfig()
	if cfg.Host != "" {
		out.Host = cfg.Host
	}
	if cfg.Port > 0 {
		out.Port = cfg.Port
	}
	if cfg.Name != "" {
		out.Database = cfg.Name
	}
	if cfg.User != "" {
		out.User = cfg.User
	}
	out.Password = cfg.Password
	if cfg.MaintenanceDatabase != "" {
		out.MaintenanceDatabase = cfg.MaintenanceDatabase
	}
	if cfg.SSLMode != "" {
		out.SSLMode = cfg.SSLMode
	}
	if cfg.MaxConns > 0 {
		out.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns >= 0 {
		out.MinConns = int32(cfg.MinConns)
	}
	if cfg.MaxConnLifetime > 0 {
		out.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.ConnectTimeout > 0 {
		out.ConnectTimeout = cfg.ConnectTimeout
	}
	return out
}

// OpenPostgres connects to the database. A configured URL wins over the
// individual fields; otherwise the database is created first when
// EnsureDatabase is set.
func OpenPostgres(ctx context.Context, cfg config.DatabaseConfig, log *logger.Logger) (*postgres.Connection, error) {
	if cfg.URL != "" {
		conn, err := postgres.NewConnectionFromURL(ctx, cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		return conn, nil
	}

	pgCfg := PostgresConfig(cfg)
	if cfg.EnsureDatabase {
		if err := postgres.EnsureDatabase(ctx, pgCfg, log); err != nil {
			return nil, fmt.Errorf("ensure database: %w", err)
		}
	}
	conn, err := postgres.NewConnection(ctx, pgCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	return conn, nil
}

// PostgresCheck fails when the database is unreachable or every pooled
// connection is acquired.
func PostgresCheck(conn *postgres.Connection) handlers.CheckFunc {
	return func(ctx context.Context) error {
		h := conn.Health(ctx)
		if !h.Healthy {
			return errors.New(h.Error)
		}
		if h.MaxConns > 0 && h.AcquiredConns >= h.MaxConns {
			return fmt.Errorf("connection pool exhausted (%d/%d acquired)", h.AcquiredConns, h.MaxConns)
		}
		return nil
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// REDIS
// ══════════════════════════════════════════════════════════════════════════════

// RedisConfig maps the redis settings onto the client configuration.
func RedisConfig(cfg config.RedisConfig) redis.Config {
	out := redis.DefaultConfig()
	if cfg.Host != "" {
		out.Host = cfg.Host
	}
	if cfg.Port > 0 {
		out.Port = cfg.Port
	}
	out.Password = cfg.Password
	out.DB = cfg.DB
	if cfg.PoolSize > 0 {
		out.PoolSize = cfg.PoolSize
	}
	return out
}

// OpenRedis connects to Redis and verifies the connection.
func OpenRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Cache, error) {
	cache, err := redis.NewCache(ctx, RedisConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return cache, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HTTP
// ══════════════════════════════════════════════════════════════════════════════

// HTTPServerConfig maps the http settings onto the server configuration.
func HTTPServerConfig(cfg *config.Config) apihttp.Config {
	out := apihttp.DefaultConfig()
	if cfg.HTTP.Host != "" {
		out.Host = cfg.HTTP.Host
	}
	if cfg.HTTP.Port > 0 {
		out.Port = cfg.HTTP.Port
	}
	if cfg.HTTP.ReadTimeout > 0 {
		out.ReadTimeout = cfg.HTTP.ReadTimeout
	}
	if cfg.HTTP.WriteTimeout > 0 {
		out.WriteTimeout = cfg.HTTP.WriteTimeout
	}
	out.RateLimitPerMinute = cfg.HTTP.RateLimitPerMinute
	out.APIKeys = cfg.HTTP.APIKeys
	out.EnableMetrics = cfg.Observability.MetricsEnabled
	out.Debug = cfg.App.Debug
	return out
}
