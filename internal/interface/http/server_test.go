package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RyanStanLin/IntSchool.Sharp/internal/application/crawler"
	"github.com/RyanStanLin/IntSchool.Sharp/internal/application/poller"
	"github.com/RyanStanLin/IntSchool.Sharp/internal/domain/attendance"
	"github.com/RyanStanLin/IntSchool.Sharp/internal/domain/shared"
	"github.com/RyanStanLin/IntSchool.Sharp/internal/domain/student"
	"github.com/RyanStanLin/IntSchool.Sharp/internal/interface/http/handlers"
	"github.com/RyanStanLin/IntSchool.Sharp/pkg/circuitbreaker"
)

// ─────────────────────────────────────────────────────────────────────────────
// Fakes
// ─────────────────────────────────────────────────────────────────────────────

type fakeProfiles struct {
	profiles []*poller.Profile
}

func (f *fakeProfiles) Profiles() []*poller.Profile { return f.profiles }
func (f *fakeProfiles) Interval() time.Duration    { return 5 * time.Minute }
func (f *fakeProfiles) IsRunning() bool            { return true }

type fakeCrawl struct {
	mu    sync.Mutex
	state crawler.CrawlState
	err   error
}

func (f *fakeCrawl) Current() crawler.CrawlState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeCrawl) transition(from, to crawler.Status, op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if f.state.Status != from {
		return shared.NewDomainError("crawler", op, shared.ErrInvalidOperation,
			fmt.Sprintf("cannot %s crawler in state %s", op, f.state.Status))
	}
	f.state.Status = to
	return nil
}

func (f *fakeCrawl) Pause() error  { return f.transition(crawler.StatusRunning, crawler.StatusPaused, "pause") }
func (f *fakeCrawl) Resume() error { return f.transition(crawler.StatusPaused, crawler.StatusRunning, "resume") }

func (f *fakeCrawl) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state.Status.IsActive() {
		f.state.Status = crawler.StatusCompleted
	}
}

func newCrawl(status crawler.Status) *fakeCrawl {
	return &fakeCrawl{state: crawler.CrawlState{
		Status: status,
		Discovered: map[string]student.DiscoveredStudent{
			"20": {StudentID: "20", StudentName: "B"},
			"3":  {StudentID: "3", StudentName: "A"},
		},
		PendingCount: 7,
		Timestamp:    time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC),
	}}
}

func newTestServer(t *testing.T, cfg Config, deps Dependencies) *Server {
	t.Helper()
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.NewRegistry()
	}
	return NewServer(cfg, deps)
}

func do(t *testing.T, s *Server, method, path string, header map[string]string) (*httptest.ResponseRecorder, JSONResponse) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var body JSONResponse
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		_ = json.Unmarshal(rec.Body.Bytes(), &body)
	}
	return rec, body
}

// ─────────────────────────────────────────────────────────────────────────────
// Tests
// ─────────────────────────────────────────────────────────────────────────────

func TestHealthz(t *testing.T) {
	health := handlers.NewHealthChecker("test")
	health.AddCheck("postgres", func(context.Context) error { return nil })
	s := newTestServer(t, DefaultConfig(), Dependencies{Health: health})

	rec, _ := do(t, s, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(handlers.RequestIDHeader))

	var status handlers.HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.True(t, status.Healthy)
	assert.True(t, status.Checks["postgres"].Healthy)
}

func TestHealthz_UnhealthyWhenBreakerOpen(t *testing.T) {
	cb := circuitbreaker.New("school-api", circuitbreaker.WithFailureThreshold(1))
	_ = cb.Execute(context.Background(), func(context.Context) error { return errors.New("boom") })
	require.True(t, cb.IsOpen())

	health := handlers.NewHealthChecker("test")
	health.AddBreaker(cb)
	s := newTestServer(t, DefaultConfig(), Dependencies{Health: health})

	rec, _ := do(t, s, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "breaker:school-api")
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "intcopilot_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	s := newTestServer(t, DefaultConfig(), Dependencies{Gatherer: reg})
	rec, _ := do(t, s, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "intcopilot_test_total 1")
}

func TestListProfiles(t *testing.T) {
	window := attendance.TimeWindow{
		Start: time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 3, 4, 23, 59, 59, 0, time.UTC),
	}
	p, err := poller.NewProfile(poller.ProfileParams{
		Description:  "kid",
		StudentID:    "42",
		SchoolYearID: "12",
		Window:       func() attendance.TimeWindow { return window },
	})
	require.NoError(t, err)
	p.OnChanged(poller.Subscription{Action: func(context.Context, attendance.CourseSession, attendance.CourseSession) {}})

	s := newTestServer(t, DefaultConfig(), Dependencies{Profiles: &fakeProfiles{profiles: []*poller.Profile{p}}})
	rec, _ := do(t, s, http.MethodGet, "/api/v1/profiles", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Success bool         `json:"success"`
		Data    ProfilesView `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.True(t, body.Data.Running)
	assert.Equal(t, "5m0s", body.Data.Interval)
	require.Len(t, body.Data.Profiles, 1)
	got := body.Data.Profiles[0]
	assert.Equal(t, p.ID.String(), got.ID)
	assert.Equal(t, "42_12", got.CacheKey)
	assert.Equal(t, 1, got.Subscriptions)
	assert.True(t, window.Start.Equal(got.WindowStart))
}

func TestRoutesAbsentWithoutDependencies(t *testing.T) {
	s := newTestServer(t, DefaultConfig(), Dependencies{})

	rec, body := do(t, s, http.MethodGet, "/api/v1/profiles", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	require.NotNil(t, body.Error)
	assert.Equal(t, "not_found", body.Error.Code)

	rec, _ = do(t, s, http.MethodGet, "/api/v1/crawl", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetCrawl(t *testing.T) {
	s := newTestServer(t, DefaultConfig(), Dependencies{Crawl: newCrawl(crawler.StatusRunning)})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/crawl?students=true", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data CrawlView `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "running", body.Data.Status)
	assert.Equal(t, 2, body.Data.Discovered)
	assert.Equal(t, 7, body.Data.Pending)
	require.Len(t, body.Data.Students, 2)
	assert.Equal(t, "3", body.Data.Students[0].StudentID, "students sorted by numeric id")
}

func TestCrawlControl_Transitions(t *testing.T) {
	crawl := newCrawl(crawler.StatusRunning)
	s := newTestServer(t, DefaultConfig(), Dependencies{Crawl: crawl})

	rec, _ := do(t, s, http.MethodPost, "/api/v1/crawl/resume", nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "resume while running")

	rec, _ = do(t, s, http.MethodPost, "/api/v1/crawl/pause", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, crawler.StatusPaused, crawl.Current().Status)

	rec, body := do(t, s, http.MethodPost, "/api/v1/crawl/pause", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	require.NotNil(t, body.Error)
	assert.Equal(t, "invalid_state", body.Error.Code)

	rec, _ = do(t, s, http.MethodPost, "/api/v1/crawl/resume", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = do(t, s, http.MethodPost, "/api/v1/crawl/stop", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, crawler.StatusCompleted, crawl.Current().Status)

	rec, _ = do(t, s, http.MethodPost, "/api/v1/crawl/stop", nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "stop after completion")
}

func TestCrawlControl_UnexpectedError(t *testing.T) {
	crawl := newCrawl(crawler.StatusRunning)
	crawl.err = errors.New("boom")
	s := newTestServer(t, DefaultConfig(), Dependencies{Crawl: crawl})

	rec, _ := do(t, s, http.MethodPost, "/api/v1/crawl/pause", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestCrawlControl_APIKey(t *testing.T) {
	cfg := DefaultConfig()
	cfg.APIKeys = []string{"secret"}
	s := newTestServer(t, cfg, Dependencies{Crawl: newCrawl(crawler.StatusRunning)})

	rec, _ := do(t, s, http.MethodGet, "/api/v1/crawl", nil)
	assert.Equal(t, http.StatusOK, rec.Code, "reads are not guarded")

	rec, _ = do(t, s, http.MethodPost, "/api/v1/crawl/pause", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = do(t, s, http.MethodPost, "/api/v1/crawl/pause", map[string]string{"X-API-Key": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = do(t, s, http.MethodPost, "/api/v1/crawl/pause", map[string]string{"Authorization": "Bearer secret"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimitPerMinute = 2
	s := newTestServer(t, cfg, Dependencies{})

	for i := 0; i < 2; i++ {
		rec, _ := do(t, s, http.MethodGet, "/livez", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	}
	rec, _ := do(t, s, http.MethodGet, "/livez", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}

func TestRequestIDPropagated(t *testing.T) {
	s := newTestServer(t, DefaultConfig(), Dependencies{})
	rec, _ := do(t, s, http.MethodGet, "/livez", map[string]string{handlers.RequestIDHeader: "abc"})
	assert.Equal(t, "abc", rec.Header().Get(handlers.RequestIDHeader))
}
