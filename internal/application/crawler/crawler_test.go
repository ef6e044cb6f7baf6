package crawler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RyanStanLin/IntSchool.Sharp/internal/domain/attendance"
	"github.com/RyanStanLin/IntSchool.Sharp/internal/domain/school"
	"github.com/RyanStanLin/IntSchool.Sharp/internal/domain/shared"
	"github.com/RyanStanLin/IntSchool.Sharp/internal/domain/student"
)

// ─────────────────────────────────────────────────────────────────────────────
// Fakes
// ─────────────────────────────────────────────────────────────────────────────

type fakeSchool struct {
	mu         sync.Mutex
	year       school.Result[school.SchoolYear]
	classmates map[string][]school.Classmate
	failures   map[string]int // remaining failures per student
	calls      map[string]int
	gate       chan struct{} // when set, every curriculum call waits on it
	entered    int
}

func newFakeSchool() *fakeSchool {
	return &fakeSchool{
		year:       school.Success(school.SchoolYear{ID: "2024"}),
		classmates: make(map[string][]school.Classmate),
		failures:   make(map[string]int),
		calls:      make(map[string]int),
	}
}

func (f *fakeSchool) GetCurrentSchoolYear(context.Context) school.Result[school.SchoolYear] {
	return f.year
}

func (f *fakeSchool) GetAttendance(context.Context, string, string, attendance.TimeWindow) school.Result[attendance.Report] {
	return school.Success(attendance.Report{})
}

func (f *fakeSchool) GetStudentCurriculum(ctx context.Context, studentID, _ string, _ attendance.TimeWindow) school.Result[school.Curriculum] {
	f.mu.Lock()
	f.entered++
	f.mu.Unlock()

	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return school.Transport[school.Curriculum](&school.TransportError{Path: "/curriculum", Err: ctx.Err()})
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[studentID]++
	if f.failures[studentID] > 0 {
		f.failures[studentID]--
		return school.Remote[school.Curriculum](&school.RemoteError{StatusCode: 500, Message: "boom"})
	}
	return school.Success(school.Curriculum{Sessions: []school.ClassSession{
		{CourseName: "Math", Students: f.classmates[studentID]},
	}})
}

func (f *fakeSchool) inFlight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.entered
}

func (f *fakeSchool) callsFor(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

type unlimited struct{}

func (unlimited) Wait(ctx context.Context) error { return ctx.Err() }

type denyingLimiter struct{}

func (denyingLimiter) Wait(context.Context) error { return errors.New("no permits") }

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.InitialStudentID = "100"
	cfg.InitialStudentName = "Seed"
	cfg.RetryDelay = 0
	cfg.PausePollInterval = 5 * time.Millisecond
	return cfg
}

func newTestCrawler(t *testing.T, client school.Client, cfg Config, opts ...Option) *StudentCrawler {
	t.Helper()
	c, err := New(client, cfg, append([]Option{WithLimiter(unlimited{})}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

// seedManually puts the crawler into Running with the seed queued, without
// launching the loop, so tests can drive single processing steps.
func seedManually(c *StudentCrawler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	done := make(chan struct{})
	close(done)
	c.cancel, c.done = func() {}, done
	c.status = StatusRunning
	c.seedLocked("2024")
}

func ids(m map[string]student.DiscoveredStudent) []string {
	out := make([]string, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	return out
}

// ─────────────────────────────────────────────────────────────────────────────
// Tests
// ─────────────────────────────────────────────────────────────────────────────

func TestConfig_Validate(t *testing.T) {
	cfg := testConfig()
	require.NoError(t, cfg.Validate())

	cfg.RateLimitPerSecond = 0
	cfg.MaxRetries = 11
	cfg.InitialStudentID = ""
	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, shared.IsValidation(err))
	assert.Contains(t, err.Error(), "rate limit")
	assert.Contains(t, err.Error(), "max retries")
	assert.Contains(t, err.Error(), "initial student id")
}

// Scenario: one processing step on the seed discovers its classmates.
func TestProcess_SeedDiscoversClassmates(t *testing.T) {
	client := newFakeSchool()
	client.classmates["100"] = []school.Classmate{{StudentID: "200", Name: "A"}, {StudentID: "300", Name: "B"}}
	c := newTestCrawler(t, client, testConfig())
	seedManually(c)

	item, ok := c.dequeue()
	require.True(t, ok)
	c.process(context.Background(), item)

	state := c.Current()
	assert.ElementsMatch(t, []string{"100", "200", "300"}, ids(state.Discovered))
	assert.Equal(t, 2, state.PendingCount)
	assert.Equal(t, "2024", state.Discovered["200"].SchoolYearID)
}

func TestProcess_FirstWriterWins(t *testing.T) {
	client := newFakeSchool()
	client.classmates["100"] = []school.Classmate{
		{StudentID: "200", Name: "First"},
		{StudentID: "200", Name: "Second"},
		{StudentID: "100", Name: "Renamed seed"},
	}
	c := newTestCrawler(t, client, testConfig())
	seedManually(c)

	item, _ := c.dequeue()
	c.process(context.Background(), item)

	state := c.Current()
	assert.Equal(t, "First", state.Discovered["200"].StudentName)
	assert.Equal(t, "Seed", state.Discovered["100"].StudentName)
	assert.Equal(t, 1, state.PendingCount)
}

func TestProcess_RetryGoesToBackOfQueue(t *testing.T) {
	client := newFakeSchool()
	client.failures["100"] = 1
	cfg := testConfig()
	cfg.MaxRetries = 2
	c := newTestCrawler(t, client, cfg)
	seedManually(c)
	c.requeue(WorkItem{Student: student.DiscoveredStudent{StudentID: "999", SchoolYearID: "2024"}})

	item, _ := c.dequeue()
	c.process(context.Background(), item)

	c.mu.Lock()
	queued := append([]WorkItem(nil), c.queue.items...)
	c.mu.Unlock()
	require.Len(t, queued, 2)
	assert.Equal(t, "999", queued[0].Student.StudentID)
	assert.Equal(t, "100", queued[1].Student.StudentID)
	assert.Equal(t, 1, queued[1].RetryCount)
}

func TestProcess_DropAfterMaxRetries(t *testing.T) {
	client := newFakeSchool()
	client.failures["100"] = 10
	cfg := testConfig()
	cfg.MaxRetries = 2
	c := newTestCrawler(t, client, cfg)
	seedManually(c)

	for {
		item, ok := c.dequeue()
		if !ok {
			break
		}
		c.process(context.Background(), item)
	}

	assert.Equal(t, 3, client.callsFor("100"), "one attempt plus two retries")
	assert.Contains(t, c.Current().Discovered, "100", "dropped students stay discovered")
}

func TestProcess_LimiterFailureRequeuesUnchanged(t *testing.T) {
	client := newFakeSchool()
	c := newTestCrawler(t, client, testConfig(), WithLimiter(denyingLimiter{}))
	seedManually(c)

	item, _ := c.dequeue()
	c.process(context.Background(), item)

	c.mu.Lock()
	defer c.mu.Unlock()
	require.Equal(t, 1, c.queue.len())
	assert.Equal(t, 0, c.queue.items[0].RetryCount)
	assert.Equal(t, 0, client.callsFor("100"))
}

func TestStart_RunsToCompletion(t *testing.T) {
	client := newFakeSchool()
	client.classmates["100"] = []school.Classmate{{StudentID: "200", Name: "A"}, {StudentID: "300", Name: "B"}}
	client.classmates["200"] = []school.Classmate{{StudentID: "100", Name: "Seed"}, {StudentID: "400", Name: "C"}}
	c := newTestCrawler(t, client, testConfig())

	require.NoError(t, c.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	final, err := c.Wait(ctx)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, final.Status)
	assert.ElementsMatch(t, []string{"100", "200", "300", "400"}, ids(final.Discovered))
	assert.Equal(t, 0, final.PendingCount)
	for _, id := range []string{"100", "200", "300", "400"} {
		assert.Equal(t, 1, client.callsFor(id), "each student fetched once: %s", id)
	}
}

func TestStart_OnlyOnce(t *testing.T) {
	c := newTestCrawler(t, newFakeSchool(), testConfig())

	require.NoError(t, c.Start(context.Background()))
	err := c.Start(context.Background())
	assert.True(t, errors.Is(err, shared.ErrInvalidOperation))
}

func TestStart_SchoolYearFailureFails(t *testing.T) {
	client := newFakeSchool()
	client.year = school.Transport[school.SchoolYear](&school.TransportError{Path: "/year", Err: errors.New("dial tcp")})
	c := newTestCrawler(t, client, testConfig())

	err := c.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrSchoolYearLookup))

	state := c.Current()
	assert.Equal(t, StatusFailed, state.Status)
	assert.Error(t, state.LastError)
}

func TestPauseResumeKeepsQueue(t *testing.T) {
	client := newFakeSchool()
	client.gate = make(chan struct{})
	client.classmates["100"] = []school.Classmate{{StudentID: "200", Name: "A"}}
	c := newTestCrawler(t, client, testConfig())

	require.NoError(t, c.Start(context.Background()))
	require.Eventually(t, func() bool { return client.inFlight() == 1 }, time.Second, time.Millisecond)
	require.NoError(t, c.Pause())
	assert.Error(t, c.Pause(), "pause is only valid while running")

	// release the in-flight seed request; the loop then parks on pause
	close(client.gate)
	require.Eventually(t, func() bool { return c.Current().DiscoveredCount() == 2 }, time.Second, 5*time.Millisecond)

	time.Sleep(30 * time.Millisecond)
	paused := c.Current()
	assert.Equal(t, StatusPaused, paused.Status)
	assert.Equal(t, 1, paused.PendingCount, "queue survives pause")
	assert.Equal(t, 0, client.callsFor("200"))

	require.NoError(t, c.Resume())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	final, err := c.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, final.Status)
	assert.Equal(t, 1, client.callsFor("200"))
}

func TestStop_CompletesAndWaits(t *testing.T) {
	client := newFakeSchool()
	client.gate = make(chan struct{})
	c := newTestCrawler(t, client, testConfig())

	require.NoError(t, c.Start(context.Background()))
	c.Stop()
	c.Stop()

	assert.Equal(t, StatusCompleted, c.Current().Status)
	assert.Error(t, c.Resume())
}

func TestStates_DiscoveredOnlyGrows(t *testing.T) {
	client := newFakeSchool()
	client.classmates["100"] = []school.Classmate{{StudentID: "200"}, {StudentID: "300"}}
	client.classmates["300"] = []school.Classmate{{StudentID: "400"}}
	client.failures["200"] = 1
	c := newTestCrawler(t, client, testConfig())

	states, cancel := c.States()
	defer cancel()

	require.NoError(t, c.Start(context.Background()))

	prev := -1
	timeout := time.After(2 * time.Second)
	for {
		select {
		case s := <-states:
			assert.GreaterOrEqual(t, s.DiscoveredCount(), prev)
			prev = s.DiscoveredCount()
			if s.Status.IsTerminal() {
				assert.Equal(t, 4, prev)
				return
			}
		case <-timeout:
			t.Fatal("crawl did not finish")
		}
	}
}

func TestStates_ReplayLast(t *testing.T) {
	c := newTestCrawler(t, newFakeSchool(), testConfig())

	states, cancel := c.States()
	defer cancel()
	first := <-states
	assert.Equal(t, StatusNotStarted, first.Status)
}

func TestCrawlState_StudentsSortedNumerically(t *testing.T) {
	s := CrawlState{Discovered: map[string]student.DiscoveredStudent{
		"30":  {StudentID: "30"},
		"4":   {StudentID: "4"},
		"x":   {StudentID: "x"},
		"100": {StudentID: "100"},
	}}
	var got []string
	for _, d := range s.Students() {
		got = append(got, d.StudentID)
	}
	assert.Equal(t, []string{"4", "30", "100", "x"}, got)
}
