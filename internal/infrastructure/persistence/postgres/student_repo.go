package postgres

import (
	"context"
	"fmt"
	"strconv"

	"github.com/RyanStanLin/IntSchool.Sharp/internal/domain/shared"
	"github.com/RyanStanLin/IntSchool.Sharp/internal/domain/student"
	"github.com/RyanStanLin/IntSchool.Sharp/pkg/circuitbreaker"
	"github.com/RyanStanLin/IntSchool.Sharp/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// STUDENT REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// StudentRepository implements student.Store for PostgreSQL.
type StudentRepository struct {
	db      DB
	breaker *circuitbreaker.CircuitBreaker
	logger  *logger.Logger

	breakerHook func(name string, from, to circuitbreaker.State)
}

var _ student.Store = (*StudentRepository)(nil)

// RepositoryOption customizes the repository.
type RepositoryOption func(*StudentRepository)

// WithRepositoryLogger sets the logger.
func WithRepositoryLogger(l *logger.Logger) RepositoryOption {
	return func(r *StudentRepository) { r.logger = l }
}

// WithRepositoryBreaker guards every query with cb.
func WithRepositoryBreaker(cb *circuitbreaker.CircuitBreaker) RepositoryOption {
	return func(r *StudentRepository) { r.breaker = cb }
}

// WithRepositoryBreakerHook is called after the repository logs a breaker
// transition of the default breaker.
func WithRepositoryBreakerHook(fn func(name string, from, to circuitbreaker.State)) RepositoryOption {
	return func(r *StudentRepository) { r.breakerHook = fn }
}

// NewStudentRepository creates a new StudentRepository. Without a breaker
// option the DatabaseBreaker preset is used.
func NewStudentRepository(db DB, opts ...RepositoryOption) *StudentRepository {
	r := &StudentRepository{db: db}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = logger.NewNop()
	}
	r.logger = r.logger.With(logger.Component("student_repository"))
	if r.breaker == nil {
		r.breaker = circuitbreaker.DatabaseBreaker(func(name string, from, to circuitbreaker.State) {
			r.logger.Warn("circuit breaker state changed",
				logger.String("breaker", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()),
			)
			if r.breakerHook != nil {
				r.breakerHook(name, from, to)
			}
		}, circuitbreaker.WithIsFailure(isInfrastructureFailure))
	}
	return r
}

// Breaker exposes the circuit breaker for health reporting.
func (r *StudentRepository) Breaker() *circuitbreaker.CircuitBreaker {
	return r.breaker
}

// isInfrastructureFailure keeps domain outcomes from opening the circuit.
func isInfrastructureFailure(err error) bool {
	return !shared.IsNotFound(err) && !shared.IsAlreadyExists(err) && !shared.IsValidation(err)
}

// ─────────────────────────────────────────────────────────────────────────────
// CRUD Operations
// ─────────────────────────────────────────────────────────────────────────────

// GetByID returns a student by ID.
func (r *StudentRepository) GetByID(ctx context.Context, id int64) (*student.Student, error) {
	return circuitbreaker.Call(ctx, r.breaker, func(ctx context.Context) (*student.Student, error) {
		var s student.Student
		err := r.db.QueryRow(ctx,
			"SELECT student_id, student_name FROM students WHERE student_id = $1", id,
		).Scan(&s.StudentID, &s.StudentName)
		if err != nil {
			if IsNoRows(err) {
				return nil, shared.ErrStudentNotFound
			}
			return nil, fmt.Errorf("failed to get student %d: %w", id, err)
		}
		return &s, nil
	})
}

// Add inserts a student.
func (r *StudentRepository) Add(ctx context.Context, s *student.Student) error {
	if err := s.Validate(); err != nil {
		return err
	}
	return r.breaker.Execute(ctx, func(ctx context.Context) error {
		_, err := r.db.Exec(ctx,
			"INSERT INTO students (student_id, student_name) VALUES ($1, $2)",
			s.StudentID, s.StudentName,
		)
		if err != nil {
			if IsUniqueViolation(err) {
				return shared.ErrStudentAlreadyExists
			}
			return fmt.Errorf("failed to add student %d: %w", s.StudentID, err)
		}
		r.logger.Debug("student added", logger.Int64("student_id", s.StudentID))
		return nil
	})
}

// Update renames a student.
func (r *StudentRepository) Update(ctx context.Context, s *student.Student) error {
	if err := s.Validate(); err != nil {
		return err
	}
	return r.breaker.Execute(ctx, func(ctx context.Context) error {
		tag, err := r.db.Exec(ctx,
			"UPDATE students SET student_name = $1, updated_at = NOW() WHERE student_id = $2",
			s.StudentName, s.StudentID,
		)
		if err != nil {
			return fmt.Errorf("failed to update student %d: %w", s.StudentID, err)
		}
		if tag.RowsAffected() == 0 {
			r.logger.Warn("update of unknown student", logger.Int64("student_id", s.StudentID))
			return shared.ErrStudentNotFound
		}
		return nil
	})
}

// Delete removes a student.
func (r *StudentRepository) Delete(ctx context.Context, id int64) error {
	return r.breaker.Execute(ctx, func(ctx context.Context) error {
		tag, err := r.db.Exec(ctx, "DELETE FROM students WHERE student_id = $1", id)
		if err != nil {
			return fmt.Errorf("failed to delete student %d: %w", id, err)
		}
		if tag.RowsAffected() == 0 {
			r.logger.Warn("delete of unknown student", logger.Int64("student_id", id))
			return shared.ErrStudentNotFound
		}
		return nil
	})
}

// ─────────────────────────────────────────────────────────────────────────────
// Fuzzy Search
// ─────────────────────────────────────────────────────────────────────────────

const fuzzySearchQuery = `
	SELECT student_id, student_name, similarity(student_name, $1) AS score
	FROM students
	WHERE student_name % $1
	ORDER BY score DESC, student_name
	LIMIT $2
`

// FuzzySearchByName returns students whose name is trigram-similar to name,
// best match first. The threshold is applied with set_config(..., true) so it
// only lives for the surrounding transaction.
func (r *StudentRepository) FuzzySearchByName(ctx context.Context, name string, threshold float64) ([]student.FuzzySearchResult, error) {
	if threshold < 0 || threshold > 1 {
		return nil, shared.ErrInvalidThreshold
	}

	return circuitbreaker.Call(ctx, r.breaker, func(ctx context.Context) ([]student.FuzzySearchResult, error) {
		var results []student.FuzzySearchResult
		err := r.db.WithTx(ctx, func(tx Querier) error {
			if _, err := tx.Exec(ctx,
				"SELECT set_config('pg_trgm.similarity_threshold', $1, true)",
				strconv.FormatFloat(threshold, 'f', -1, 64),
			); err != nil {
				return fmt.Errorf("set similarity threshold: %w", err)
			}

			rows, err := tx.Query(ctx, fuzzySearchQuery, name, student.FuzzySearchLimit)
			if err != nil {
				return err
			}
			defer rows.Close()

			for rows.Next() {
				var res student.FuzzySearchResult
				var score float32
				if err := rows.Scan(&res.Student.StudentID, &res.Student.StudentName, &score); err != nil {
					return fmt.Errorf("scan search row: %w", err)
				}
				res.Similarity = float64(score)
				results = append(results, res)
			}
			return rows.Err()
		})
		if err != nil {
			if IsUndefinedFunction(err) {
				return nil, shared.WrapError("student", "FuzzySearch", shared.ErrNotSupported, "pg_trgm extension is not installed; run migrations", err)
			}
			return nil, fmt.Errorf("fuzzy search %q: %w", name, err)
		}

		r.logger.Debug("fuzzy search finished",
			logger.String("name", name),
			logger.Float64("threshold", threshold),
			logger.Int("results", len(results)),
		)
		return results, nil
	})
}
