package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RyanStanLin/IntSchool.Sharp/config"
	"github.com/RyanStanLin/IntSchool.Sharp/internal/application/crawler"
	"github.com/RyanStanLin/IntSchool.Sharp/internal/domain/attendance"
	"github.com/RyanStanLin/IntSchool.Sharp/internal/domain/school"
	"github.com/RyanStanLin/IntSchool.Sharp/internal/domain/student"
	"github.com/RyanStanLin/IntSchool.Sharp/internal/infrastructure/persistence/postgres"
	"github.com/RyanStanLin/IntSchool.Sharp/pkg/logger"
)

type stubSchool struct {
	classmates map[string][]school.Classmate
	block      chan struct{}
}

func (s *stubSchool) GetCurrentSchoolYear(context.Context) school.Result[school.SchoolYear] {
	return school.Success(school.SchoolYear{ID: "2024"})
}

func (s *stubSchool) GetAttendance(context.Context, string, string, attendance.TimeWindow) school.Result[attendance.Report] {
	return school.Success(attendance.Report{})
}

func (s *stubSchool) GetStudentCurriculum(ctx context.Context, id, _ string, _ attendance.TimeWindow) school.Result[school.Curriculum] {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return school.Transport[school.Curriculum](&school.TransportError{Path: "/curriculum", Err: ctx.Err()})
		}
	}
	return school.Success(school.Curriculum{Sessions: []school.ClassSession{
		{CourseName: "Math", Students: s.classmates[id]},
	}})
}

type noWait struct{}

func (noWait) Wait(ctx context.Context) error { return ctx.Err() }

func newStubCrawler(t *testing.T, client school.Client) *crawler.StudentCrawler {
	t.Helper()
	cfg, err := crawlerConfig(config.SnifferConfig{
		InitialStudentID:   "100",
		InitialStudentName: "Seed",
		Window:             "this_week",
		RateLimitPerSecond: 1,
		MaxRetries:         0,
	}, nil)
	require.NoError(t, err)

	c, err := crawler.New(client, cfg, crawler.WithLimiter(noWait{}))
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestCrawlerConfig(t *testing.T) {
	now := time.Date(2024, 9, 2, 10, 0, 0, 0, time.UTC)
	cfg, err := crawlerConfig(config.SnifferConfig{
		InitialStudentID:   "1",
		InitialStudentName: "A",
		Window:             "next-week",
		RateLimitPerSecond: 5,
		MaxRetries:         2,
		RetryDelay:         time.Second,
	}, func() time.Time { return now })
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.RateLimitPerSecond)
	assert.Equal(t, 2, cfg.MaxRetries)
	assert.Equal(t, 30*time.Second, cfg.AcquireTimeout)
	w := cfg.Window()
	assert.True(t, w.Start.After(now))

	_, err = crawlerConfig(config.SnifferConfig{Window: "custom"}, nil)
	assert.Error(t, err)
}

func TestCrawl_CompletesWhenQueueDrains(t *testing.T) {
	client := &stubSchool{classmates: map[string][]school.Classmate{
		"100": {{StudentID: "101", Name: "Bob"}},
	}}
	c := newStubCrawler(t, client)

	final, err := crawl(context.Background(), c, logger.NewNop())
	require.NoError(t, err)
	assert.Equal(t, crawler.StatusCompleted, final.Status)
	assert.Equal(t, 2, final.DiscoveredCount())
}

func TestCrawl_SignalStopsAsCompleted(t *testing.T) {
	client := &stubSchool{block: make(chan struct{})}
	c := newStubCrawler(t, client)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	final, err := crawl(ctx, c, logger.NewNop())
	require.NoError(t, err)
	assert.Equal(t, crawler.StatusCompleted, final.Status)
	assert.Equal(t, 1, final.DiscoveredCount())
}

func TestRenderResults(t *testing.T) {
	var buf bytes.Buffer
	renderResults(&buf, "ali", nil)
	assert.Equal(t, "No students found for \"ali\"\n", buf.String())

	buf.Reset()
	renderResults(&buf, "ali", []student.FuzzySearchResult{
		{Student: student.Student{StudentID: 7, StudentName: "Alice"}, Similarity: 0.8333},
	})
	out := buf.String()
	assert.Contains(t, out, "Alice")
	assert.Contains(t, out, "0.83")
	assert.Contains(t, out, "Query: ali")
}

func TestRenderMigrations(t *testing.T) {
	migrations := postgres.GetMigrations()
	migrations[0].IsApplied = true
	migrations[0].AppliedAt = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	var buf bytes.Buffer
	renderMigrations(&buf, migrations)

	out := buf.String()
	assert.Contains(t, out, "create_students_trgm")
	assert.Contains(t, out, "2024-01-02 03:04:05")
	assert.Contains(t, out, "students_timestamps")
}
