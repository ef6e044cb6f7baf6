package postgres

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/RyanStanLin/IntSchool.Sharp/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// EMBEDDED MIGRATIONS
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
CREATE EXTENSION IF NOT EXISTS pg_trgm;

CREATE TABLE IF NOT EXISTS students (
    student_id BIGINT PRIMARY KEY,
    student_name TEXT NOT NULL,
    CONSTRAINT valid_student_id CHECK (student_id > 0)
);

CREATE INDEX IF NOT EXISTS idx_students_name_trgm ON students USING gin (student_name gin_trgm_ops);
`

const migration001Down = `
DROP INDEX IF EXISTS idx_students_name_trgm;
DROP TABLE IF EXISTS students;
`

const migration002Up = `
ALTER TABLE students
    ADD COLUMN IF NOT EXISTS created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    ADD COLUMN IF NOT EXISTS updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW();
`

const migration002Down = `
ALTER TABLE students
    DROP COLUMN IF EXISTS updated_at,
    DROP COLUMN IF EXISTS created_at;
`

// Migration represents a database migration.
type Migration struct {
	Version   int       `json:"version"`
	Name      string    `json:"name"`
	UpSQL     string    `json:"-"`
	DownSQL   string    `json:"-"`
	AppliedAt time.Time `json:"appliedAt,omitempty"`
	IsApplied bool      `json:"isApplied"`
}

// GetMigrations returns all embedded migrations in version order.
func GetMigrations() []Migration {
	return []Migration{
		{Version: 1, Name: "create_students_trgm", UpSQL: migration001Up, DownSQL: migration001Down},
		{Version: 2, Name: "students_timestamps", UpSQL: migration002Up, DownSQL: migration002Down},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATOR
// ══════════════════════════════════════════════════════════════════════════════

const migrationsTable = "schema_migrations"

// Migrator applies embedded migrations and records them in schema_migrations.
type Migrator struct {
	db         DB
	migrations []Migration
	logger     *logger.Logger
}

// NewMigrator creates a migrator with the embedded migrations.
func NewMigrator(db DB, log *logger.Logger) *Migrator {
	return NewMigratorWithMigrations(db, GetMigrations(), log)
}

// NewMigratorWithMigrations creates a migrator with custom migrations.
func NewMigratorWithMigrations(db DB, migrations []Migration, log *logger.Logger) *Migrator {
	if log == nil {
		log = logger.NewNop()
	}
	sorted := make([]Migration, len(migrations))
	copy(sorted, migrations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Version < sorted[j].Version })
	return &Migrator{db: db, migrations: sorted, logger: log.With(logger.Component("migrator"))}
}

// EnsureMigrationTable creates the migration tracking table if it doesn't exist.
func (m *Migrator) EnsureMigrationTable(ctx context.Context) error {
	_, err := m.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS `+migrationsTable+` (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	return nil
}

// GetAppliedMigrations returns applied versions with their timestamps.
func (m *Migrator) GetAppliedMigrations(ctx context.Context) (map[int]time.Time, error) {
	rows, err := m.db.Query(ctx, "SELECT version, applied_at FROM "+migrationsTable+" ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]time.Time)
	for rows.Next() {
		var (
			version   int
			appliedAt time.Time
		)
		if err := rows.Scan(&version, &appliedAt); err != nil {
			return nil, fmt.Errorf("failed to scan migration row: %w", err)
		}
		applied[version] = appliedAt
	}
	return applied, rows.Err()
}

// Migrate applies all pending migrations, each in its own transaction.
// It returns the number of migrations applied.
func (m *Migrator) Migrate(ctx context.Context) (int, error) {
	if err := m.EnsureMigrationTable(ctx); err != nil {
		return 0, err
	}
	applied, err := m.GetAppliedMigrations(ctx)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, mig := range m.migrations {
		if _, ok := applied[mig.Version]; ok {
			continue
		}
		if mig.UpSQL == "" {
			return count, fmt.Errorf("%w: missing up SQL for migration %d", ErrMigrationFailed, mig.Version)
		}

		err := m.db.WithTx(ctx, func(tx Querier) error {
			if _, err := tx.Exec(ctx, mig.UpSQL); err != nil {
				return fmt.Errorf("failed to execute migration %d: %w", mig.Version, err)
			}
			_, err := tx.Exec(ctx, "INSERT INTO "+migrationsTable+" (version, name) VALUES ($1, $2)", mig.Version, mig.Name)
			return err
		})
		if err != nil {
			return count, fmt.Errorf("%w: version %d: %v", ErrMigrationFailed, mig.Version, err)
		}
		count++
		m.logger.Info("migration applied",
			logger.Int("version", mig.Version),
			logger.String("name", mig.Name),
		)
	}
	return count, nil
}

// Rollback reverts the last applied migration. It is a no-op when nothing
// has been applied.
func (m *Migrator) Rollback(ctx context.Context) error {
	if err := m.EnsureMigrationTable(ctx); err != nil {
		return err
	}
	applied, err := m.GetAppliedMigrations(ctx)
	if err != nil {
		return err
	}

	last := 0
	for v := range applied {
		if v > last {
			last = v
		}
	}
	if last == 0 {
		return nil
	}

	var target *Migration
	for i := range m.migrations {
		if m.migrations[i].Version == last {
			target = &m.migrations[i]
			break
		}
	}
	if target == nil || target.DownSQL == "" {
		return fmt.Errorf("%w: missing down SQL for migration %d", ErrMigrationFailed, last)
	}

	err = m.db.WithTx(ctx, func(tx Querier) error {
		if _, err := tx.Exec(ctx, target.DownSQL); err != nil {
			return fmt.Errorf("failed to rollback migration %d: %w", last, err)
		}
		_, err := tx.Exec(ctx, "DELETE FROM "+migrationsTable+" WHERE version = $1", last)
		return err
	})
	if err == nil {
		m.logger.Info("migration rolled back", logger.Int("version", last), logger.String("name", target.Name))
	}
	return err
}

// Status reports every known migration and whether it is applied.
func (m *Migrator) Status(ctx context.Context) ([]Migration, error) {
	if err := m.EnsureMigrationTable(ctx); err != nil {
		return nil, err
	}
	applied, err := m.GetAppliedMigrations(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]Migration, len(m.migrations))
	copy(result, m.migrations)
	for i := range result {
		if at, ok := applied[result[i].Version]; ok {
			result[i].IsApplied = true
			result[i].AppliedAt = at
		}
	}
	return result, nil
}
