// Package postgres implements the PostgreSQL student store used by the
// sniffer. Fuzzy name search relies on the pg_trgm extension.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/RyanStanLin/IntSchool.Sharp/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrConnectionClosed indicates the connection pool is closed.
	ErrConnectionClosed = errors.New("postgres: connection pool is closed")

	// ErrMigrationFailed indicates a migration failure.
	ErrMigrationFailed = errors.New("postgres: migration failed")

	// ErrTransactionFailed indicates a transaction failure.
	ErrTransactionFailed = errors.New("postgres: transaction failed")

	// ErrInvalidDatabaseName is returned for names outside [a-zA-Z0-9_].
	ErrInvalidDatabaseName = errors.New("postgres: database name may only contain letters, digits and underscores")
)

var safeDatabaseName = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config holds PostgreSQL connection configuration.
type Config struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string

	// MaintenanceDatabase is used to create Database when it does not exist.
	MaintenanceDatabase string

	// SSLMode is the SSL mode (disable, require, verify-ca, verify-full).
	SSLMode string

	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
	ConnectTimeout    time.Duration
}

// DefaultConfig returns a local development configuration.
func DefaultConfig() Config {
	return Config{
		Host:                "localhost",
		Port:                5432,
		Database:            "intcopilot",
		User:                "postgres",
		MaintenanceDatabase: "postgres",
		SSLMode:             "disable",
		MaxConns:            10,
		MinConns:            1,
		MaxConnLifetime:     time.Hour,
		MaxConnIdleTime:     30 * time.Minute,
		HealthCheckPeriod:   time.Minute,
		ConnectTimeout:      10 * time.Second,
	}
}

// DSN returns the keyword/value connection string for database.
func (c Config) DSN() string {
	return c.dsnFor(c.Database)
}

// MaintenanceDSN returns the connection string of the maintenance database.
func (c Config) MaintenanceDSN() string {
	db := c.MaintenanceDatabase
	if db == "" {
		db = "postgres"
	}
	return c.dsnFor(db)
}

func (c Config) dsnFor(database string) string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s connect_timeout=%d",
		c.Host,
		c.Port,
		database,
		c.User,
		c.Password,
		c.SSLMode,
		int(c.ConnectTimeout.Seconds()),
	)
}

// PoolConfig returns pgxpool configuration.
func (c Config) PoolConfig() (*pgxpool.Config, error) {
	config, err := pgxpool.ParseConfig(c.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	if c.MaxConns > 0 {
		config.MaxConns = c.MaxConns
	}
	config.MinConns = c.MinConns
	config.MaxConnLifetime = c.MaxConnLifetime
	config.MaxConnIdleTime = c.MaxConnIdleTime
	config.HealthCheckPeriod = c.HealthCheckPeriod

	return config, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// DATABASE BOOTSTRAP
// ══════════════════════════════════════════════════════════════════════════════

// EnsureDatabase creates cfg.Database through the maintenance database when it
// is missing. The name is validated because CREATE DATABASE takes no parameters.
func EnsureDatabase(ctx context.Context, cfg Config, log *logger.Logger) error {
	if !safeDatabaseName.MatchString(cfg.Database) {
		return fmt.Errorf("%w: %q", ErrInvalidDatabaseName, cfg.Database)
	}
	if log == nil {
		log = logger.NewNop()
	}

	conn, err := pgx.Connect(ctx, cfg.MaintenanceDSN())
	if err != nil {
		return fmt.Errorf("postgres: connect to maintenance database: %w", err)
	}
	defer conn.Close(ctx)

	var exists bool
	err = conn.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM pg_database WHERE datname = $1)", cfg.Database).Scan(&exists)
	if err != nil {
		return fmt.Errorf("postgres: check database: %w", err)
	}
	if exists {
		log.Debug("database already exists", logger.String("database", cfg.Database))
		return nil
	}

	if _, err := conn.Exec(ctx, "CREATE DATABASE "+pgx.Identifier{cfg.Database}.Sanitize()); err != nil {
		return fmt.Errorf("postgres: create database: %w", err)
	}
	log.Info("database created", logger.String("database", cfg.Database))
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// CONNECTION POOL
// ══════════════════════════════════════════════════════════════════════════════

// Connection wraps a pgx pool and refuses work once closed.
type Connection struct {
	pool   *pgxpool.Pool
	closed bool
	mu     sync.RWMutex
}

// NewConnection creates a connection pool and verifies it with a ping.
func NewConnection(ctx context.Context, cfg Config) (*Connection, error) {
	poolConfig, err := cfg.PoolConfig()
	if err != nil {
		return nil, err
	}
	return connect(ctx, poolConfig)
}

// NewConnectionFromURL creates a connection from a postgres:// URL.
func NewConnectionFromURL(ctx context.Context, databaseURL string) (*Connection, error) {
	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to parse database URL: %w", err)
	}
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute
	return connect(ctx, poolConfig)
}

func connect(ctx context.Context, poolConfig *pgxpool.Config) (*Connection, error) {
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: failed to ping database: %w", err)
	}
	return &Connection{pool: pool}, nil
}

// Close closes the connection pool. It is safe to call more than once.
func (c *Connection) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	c.pool.Close()
}

// Ping checks if the database connection is alive.
func (c *Connection) Ping(ctx context.Context) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return ErrConnectionClosed
	}
	return c.pool.Ping(ctx)
}

// HealthStatus contains database health information.
type HealthStatus struct {
	Healthy       bool          `json:"healthy"`
	Error         string        `json:"error,omitempty"`
	PingLatency   time.Duration `json:"pingLatency"`
	TotalConns    int32         `json:"totalConns"`
	IdleConns     int32         `json:"idleConns"`
	AcquiredConns int32         `json:"acquiredConns"`
	MaxConns      int32         `json:"maxConns"`
}

// Health pings the database and reports pool statistics.
func (c *Connection) Health(ctx context.Context) HealthStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return HealthStatus{Error: ErrConnectionClosed.Error()}
	}

	start := time.Now()
	if err := c.pool.Ping(ctx); err != nil {
		return HealthStatus{Error: err.Error()}
	}

	stats := c.pool.Stat()
	return HealthStatus{
		Healthy:       true,
		PingLatency:   time.Since(start),
		TotalConns:    stats.TotalConns(),
		IdleConns:     stats.IdleConns(),
		AcquiredConns: stats.AcquiredConns(),
		MaxConns:      stats.MaxConns(),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// QUERY HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// Querier is implemented by *pgxpool.Pool, pgx.Tx and *Connection.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// DB is a Querier that can also run a function inside a transaction.
type DB interface {
	Querier
	WithTx(ctx context.Context, fn func(Querier) error) error
}

var _ DB = (*Connection)(nil)

// Exec executes a query that doesn't return rows.
func (c *Connection) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return pgconn.CommandTag{}, ErrConnectionClosed
	}
	return c.pool.Exec(ctx, sql, args...)
}

// Query executes a query that returns rows.
func (c *Connection) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, ErrConnectionClosed
	}
	return c.pool.Query(ctx, sql, args...)
}

// QueryRow executes a query that returns a single row.
func (c *Connection) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.pool.QueryRow(ctx, sql, args...)
}

// WithTx runs fn in a read-committed transaction. The transaction is
// committed if fn returns nil and rolled back otherwise.
func (c *Connection) WithTx(ctx context.Context, fn func(Querier) error) error {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return ErrConnectionClosed
	}
	tx, err := c.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	c.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransactionFailed, err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("tx error: %v, rollback error: %w", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit error: %w", err)
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ERROR HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// IsUniqueViolation checks if the error is a unique constraint violation.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// IsUndefinedFunction reports a missing function, typically similarity()
// when pg_trgm is not installed.
func IsUndefinedFunction(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "42883"
	}
	return false
}

// IsNoRows checks if the error is a "no rows" error.
func IsNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
