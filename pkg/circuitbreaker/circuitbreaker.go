// Package circuitbreaker guards the outbound dependencies: the school API,
// the Bark push server and the student database.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/RyanStanLin/IntSchool.Sharp/pkg/timeutil"
)

// State is the breaker position.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name in JSON health reports.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

var (
	// ErrCircuitOpen rejects calls while the breaker is open.
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrTooManyRequests rejects calls above the half-open probe budget.
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

// StateHook observes transitions. It runs under the breaker lock and must not
// call back into the breaker.
type StateHook func(name string, from, to State)

type settings struct {
	failureThreshold int           // consecutive failures that open a closed breaker
	successThreshold int           // consecutive half-open successes that close it
	openFor          time.Duration // how long an open breaker rejects calls
	probes           int           // concurrent calls admitted while half-open
	onStateChange    StateHook
	isFailure        func(error) bool
	clock            timeutil.Clock
}

// Option tunes a breaker. Non-positive numeric values are ignored.
type Option func(*settings)

func WithFailureThreshold(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.failureThreshold = n
		}
	}
}

func WithSuccessThreshold(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.successThreshold = n
		}
	}
}

// WithTimeout sets how long the breaker stays open before probing.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.openFor = d
		}
	}
}

func WithMaxHalfOpenRequests(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.probes = n
		}
	}
}

func WithOnStateChange(fn func(name string, from, to State)) Option {
	return func(s *settings) { s.onStateChange = fn }
}

// WithIsFailure decides which errors count against the breaker. Errors it
// rejects are recorded as successes.
func WithIsFailure(fn func(error) bool) Option {
	return func(s *settings) { s.isFailure = fn }
}

// WithClock replaces time.Now, for tests.
func WithClock(clock timeutil.Clock) Option {
	return func(s *settings) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// Counts are cumulative except for the consecutive counters, which reset on
// every transition.
type Counts struct {
	Requests             int `json:"requests"`
	TotalSuccesses       int `json:"totalSuccesses"`
	TotalFailures        int `json:"totalFailures"`
	ConsecutiveSuccesses int `json:"consecutiveSuccesses"`
	ConsecutiveFailures  int `json:"consecutiveFailures"`
}

// CircuitBreaker is safe for concurrent use.
type CircuitBreaker struct {
	name string
	cfg  settings

	mu       sync.Mutex
	state    State
	counts   Counts
	openedAt time.Time
	inFlight int // half-open probes admitted
}

// New creates a closed breaker: 5 failures open it for 30s, then one probe
// at a time until 2 successes close it.
func New(name string, opts ...Option) *CircuitBreaker {
	cfg := settings{
		failureThreshold: 5,
		successThreshold: 2,
		openFor:          30 * time.Second,
		probes:           1,
		clock:            time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &CircuitBreaker{name: name, cfg: cfg}
}

// Execute runs fn when the breaker admits it and records the outcome. An
// error caused by the caller's own cancellation is returned but not recorded.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.admit(); err != nil {
		return err
	}

	err := fn(ctx)
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		cb.release()
		return err
	}
	cb.record(err)
	return err
}

// Call is Execute for functions that return a value.
func Call[T any](ctx context.Context, cb *CircuitBreaker, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := cb.Execute(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err == nil {
			out = v
		}
		return err
	})
	return out, err
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.cfg.clock().Sub(cb.openedAt) < cb.cfg.openFor {
			return ErrCircuitOpen
		}
		cb.transition(StateHalfOpen)
		fallthrough
	case StateHalfOpen:
		if cb.inFlight >= cb.cfg.probes {
			return ErrTooManyRequests
		}
		cb.inFlight++
	}
	return nil
}

func (cb *CircuitBreaker) release() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateHalfOpen && cb.inFlight > 0 {
		cb.inFlight--
	}
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateHalfOpen && cb.inFlight > 0 {
		cb.inFlight--
	}
	cb.counts.Requests++

	failed := err != nil
	if failed && cb.cfg.isFailure != nil {
		failed = cb.cfg.isFailure(err)
	}

	if !failed {
		cb.counts.TotalSuccesses++
		cb.counts.ConsecutiveSuccesses++
		cb.counts.ConsecutiveFailures = 0
		if cb.state == StateHalfOpen && cb.counts.ConsecutiveSuccesses >= cb.cfg.successThreshold {
			cb.transition(StateClosed)
		}
		return
	}

	cb.counts.TotalFailures++
	cb.counts.ConsecutiveFailures++
	cb.counts.ConsecutiveSuccesses = 0
	switch {
	case cb.state == StateHalfOpen,
		cb.state == StateClosed && cb.counts.ConsecutiveFailures >= cb.cfg.failureThreshold:
		cb.transition(StateOpen)
	}
}

// transition must be called with mu held.
func (cb *CircuitBreaker) transition(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	cb.counts.ConsecutiveSuccesses = 0
	cb.counts.ConsecutiveFailures = 0
	cb.inFlight = 0
	if to == StateOpen {
		cb.openedAt = cb.cfg.clock()
	}
	if cb.cfg.onStateChange != nil {
		cb.cfg.onStateChange(cb.name, from, to)
	}
}

// Name returns the breaker name used in logs, metrics and health reports.
func (cb *CircuitBreaker) Name() string { return cb.name }

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) IsOpen() bool   { return cb.State() == StateOpen }
func (cb *CircuitBreaker) IsClosed() bool { return cb.State() == StateClosed }

// Snapshot is a point-in-time view for health endpoints.
type Snapshot struct {
	Name     string    `json:"name"`
	State    string    `json:"state"`
	Counts   Counts    `json:"counts"`
	OpenedAt time.Time `json:"openedAt,omitzero"`
}

func (cb *CircuitBreaker) Snapshot() Snapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	s := Snapshot{Name: cb.name, State: cb.state.String(), Counts: cb.counts}
	if cb.state != StateClosed {
		s.OpenedAt = cb.openedAt
	}
	return s
}

// ─────────────────────────────────────────────────────────────────────────────
// Presets
// ─────────────────────────────────────────────────────────────────────────────

// Presets apply their defaults first so opts can override any of them.
func preset(name string, onStateChange StateHook, defaults []Option, opts []Option) *CircuitBreaker {
	all := append(defaults, WithOnStateChange(onStateChange))
	return New(name, append(all, opts...)...)
}

// SchoolAPIBreaker guards the school information API. It stays open for a
// full minute.
func SchoolAPIBreaker(onStateChange func(name string, from, to State), opts ...Option) *CircuitBreaker {
	return preset("school-api", onStateChange, []Option{
		WithFailureThreshold(3),
		WithSuccessThreshold(2),
		WithTimeout(time.Minute),
	}, opts)
}

// BarkBreaker guards the Bark push server.
func BarkBreaker(onStateChange func(name string, from, to State), opts ...Option) *CircuitBreaker {
	return preset("bark", onStateChange, []Option{
		WithFailureThreshold(5),
		WithSuccessThreshold(1),
		WithMaxHalfOpenRequests(2),
	}, opts)
}

// DatabaseBreaker guards the student store.
func DatabaseBreaker(onStateChange func(name string, from, to State), opts ...Option) *CircuitBreaker {
	return preset("database", onStateChange, []Option{
		WithFailureThreshold(3),
		WithSuccessThreshold(1),
		WithTimeout(10 * time.Second),
	}, opts)
}
