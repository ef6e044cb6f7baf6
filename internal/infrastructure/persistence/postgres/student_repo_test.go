package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RyanStanLin/IntSchool.Sharp/internal/domain/shared"
	"github.com/RyanStanLin/IntSchool.Sharp/internal/domain/student"
	"github.com/RyanStanLin/IntSchool.Sharp/pkg/circuitbreaker"
)

// ─────────────────────────────────────────────────────────────────────────────
// fakes
// ─────────────────────────────────────────────────────────────────────────────

type execCall struct {
	sql  string
	args []any
}

type fakeDB struct {
	execs    []execCall
	execTag  string
	execErr  error
	row      fakeRow
	rows     [][]any
	queryErr error
	txCount  int
}

func (f *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execs = append(f.execs, execCall{sql: sql, args: args})
	if f.execErr != nil {
		return pgconn.CommandTag{}, f.execErr
	}
	return pgconn.NewCommandTag(f.execTag), nil
}

func (f *fakeDB) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	f.execs = append(f.execs, execCall{sql: sql, args: args})
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return &fakeRows{data: f.rows, idx: -1}, nil
}

func (f *fakeDB) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	f.execs = append(f.execs, execCall{sql: sql, args: args})
	return f.row
}

func (f *fakeDB) WithTx(_ context.Context, fn func(Querier) error) error {
	f.txCount++
	return fn(f)
}

type fakeRow struct {
	values []any
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	return assign(dest, r.values)
}

type fakeRows struct {
	data [][]any
	idx  int
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.NewCommandTag("SELECT") }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) Next() bool                                   { r.idx++; return r.idx < len(r.data) }
func (r *fakeRows) Scan(dest ...any) error                       { return assign(dest, r.data[r.idx]) }
func (r *fakeRows) Values() ([]any, error)                       { return r.data[r.idx], nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

func assign(dest, values []any) error {
	if len(dest) != len(values) {
		return fmt.Errorf("scan: %d destinations for %d values", len(dest), len(values))
	}
	for i, v := range values {
		switch d := dest[i].(type) {
		case *int64:
			*d = v.(int64)
		case *string:
			*d = v.(string)
		case *float32:
			*d = v.(float32)
		default:
			return fmt.Errorf("scan: unsupported destination %T", dest[i])
		}
	}
	return nil
}

func newRepo(db *fakeDB) *StudentRepository {
	return NewStudentRepository(db, WithRepositoryBreaker(circuitbreaker.New("test", circuitbreaker.WithFailureThreshold(100))))
}

// ─────────────────────────────────────────────────────────────────────────────
// tests
// ─────────────────────────────────────────────────────────────────────────────

func TestGetByID(t *testing.T) {
	db := &fakeDB{row: fakeRow{values: []any{int64(7), "Alice"}}}
	s, err := newRepo(db).GetByID(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, student.Student{StudentID: 7, StudentName: "Alice"}, *s)
	assert.Equal(t, []any{int64(7)}, db.execs[0].args)
}

func TestGetByID_NotFound(t *testing.T) {
	db := &fakeDB{row: fakeRow{err: pgx.ErrNoRows}}
	_, err := newRepo(db).GetByID(context.Background(), 7)
	assert.True(t, shared.IsNotFound(err))
}

func TestAdd_UniqueViolationIsAlreadyExists(t *testing.T) {
	db := &fakeDB{execErr: &pgconn.PgError{Code: "23505"}}
	err := newRepo(db).Add(context.Background(), &student.Student{StudentID: 7, StudentName: "Alice"})
	assert.True(t, shared.IsAlreadyExists(err))
}

func TestAdd_ValidatesBeforeQuery(t *testing.T) {
	db := &fakeDB{}
	err := newRepo(db).Add(context.Background(), &student.Student{StudentID: 0, StudentName: "x"})
	assert.True(t, shared.IsValidation(err))
	assert.Empty(t, db.execs)
}

func TestUpdateAndDelete_NoRowsIsNotFound(t *testing.T) {
	db := &fakeDB{execTag: "UPDATE 0"}
	repo := newRepo(db)
	err := repo.Update(context.Background(), &student.Student{StudentID: 7, StudentName: "Bob"})
	assert.True(t, shared.IsNotFound(err))

	db.execTag = "DELETE 0"
	assert.True(t, shared.IsNotFound(repo.Delete(context.Background(), 7)))

	db.execTag = "DELETE 1"
	assert.NoError(t, repo.Delete(context.Background(), 7))
}

func TestFuzzySearchByName(t *testing.T) {
	db := &fakeDB{rows: [][]any{
		{int64(1), "Alice Wang", float32(0.8)},
		{int64(2), "Alicia Wong", float32(0.4)},
	}}

	results, err := newRepo(db).FuzzySearchByName(context.Background(), "Alice", 0.3)
	require.NoError(t, err)

	require.Len(t, results, 2)
	assert.Equal(t, "Alice Wang", results[0].Student.StudentName)
	assert.InDelta(t, 0.8, results[0].Similarity, 1e-6)
	assert.Equal(t, 1, db.txCount)

	require.Len(t, db.execs, 2)
	assert.Contains(t, db.execs[0].sql, "pg_trgm.similarity_threshold")
	assert.Equal(t, []any{"0.3"}, db.execs[0].args)
	assert.Contains(t, db.execs[1].sql, "LIMIT $2")
	assert.Equal(t, []any{"Alice", student.FuzzySearchLimit}, db.execs[1].args)
}

func TestFuzzySearchByName_ThresholdRange(t *testing.T) {
	repo := newRepo(&fakeDB{})
	for _, th := range []float64{-0.1, 1.1} {
		_, err := repo.FuzzySearchByName(context.Background(), "x", th)
		assert.True(t, errors.Is(err, shared.ErrValueOutOfRange), "threshold %v", th)
	}
	for _, th := range []float64{0, 1} {
		_, err := repo.FuzzySearchByName(context.Background(), "x", th)
		assert.NoError(t, err, "threshold %v", th)
	}
}

func TestFuzzySearchByName_MissingExtension(t *testing.T) {
	db := &fakeDB{queryErr: &pgconn.PgError{Code: "42883", Message: "function similarity(text, unknown) does not exist"}}
	_, err := newRepo(db).FuzzySearchByName(context.Background(), "x", 0.3)
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrNotSupported))
	assert.True(t, strings.Contains(err.Error(), "pg_trgm"))
}

func TestMigrator_AppliesPendingInOrder(t *testing.T) {
	db := &fakeDB{}
	applied, err := NewMigrator(db, nil).Migrate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, len(GetMigrations()), applied)

	var inserted []any
	for _, e := range db.execs {
		if strings.HasPrefix(e.sql, "INSERT INTO schema_migrations") {
			inserted = append(inserted, e.args[0])
		}
	}
	assert.Equal(t, []any{1, 2}, inserted)
	assert.Contains(t, GetMigrations()[0].UpSQL, "CREATE EXTENSION IF NOT EXISTS pg_trgm")
	assert.Contains(t, GetMigrations()[0].UpSQL, "gin_trgm_ops")
}

func TestEnsureDatabase_RejectsUnsafeName(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Database = `students"; DROP TABLE x; --`
	err := EnsureDatabase(context.Background(), cfg, nil)
	assert.True(t, errors.Is(err, ErrInvalidDatabaseName))
}
