package handlers

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/RyanStanLin/IntSchool.Sharp/pkg/circuitbreaker"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH CHECK TYPES
// ══════════════════════════════════════════════════════════════════════════════

// CheckFunc performs a single health check. A non-nil error marks the check
// unhealthy.
type CheckFunc func(ctx context.Context) error

// HealthStatus is the aggregated result returned by /healthz.
type HealthStatus struct {
	Healthy   bool                      `json:"healthy"`
	Message   string                    `json:"message,omitempty"`
	Checks    map[string]CheckResult    `json:"checks,omitempty"`
	Breakers  []circuitbreaker.Snapshot `json:"breakers,omitempty"`
	Uptime    string                    `json:"uptime,omitempty"`
	Timestamp time.Time                 `json:"timestamp"`
	Version   string                    `json:"version,omitempty"`
}

// CheckResult is the outcome of one named check.
type CheckResult struct {
	Healthy  bool   `json:"healthy"`
	Message  string `json:"message,omitempty"`
	Duration string `json:"duration,omitempty"`
}

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH CHECKER
// ══════════════════════════════════════════════════════════════════════════════

// HealthChecker runs named checks concurrently and reports circuit breaker
// states alongside them.
type HealthChecker struct {
	mu        sync.RWMutex
	checks    map[string]CheckFunc
	breakers  []*circuitbreaker.CircuitBreaker
	startTime time.Time
	version   string
	timeout   time.Duration
}

// NewHealthChecker creates an empty checker.
func NewHealthChecker(version string) *HealthChecker {
	return &HealthChecker{
		checks:    make(map[string]CheckFunc),
		startTime: time.Now(),
		version:   version,
		timeout:   5 * time.Second,
	}
}

// SetTimeout sets the per-check timeout.
func (h *HealthChecker) SetTimeout(timeout time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.timeout = timeout
}

// AddCheck registers a named check, replacing any previous one with that name.
func (h *HealthChecker) AddCheck(name string, check CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

// AddBreaker reports cb's state in every status. An open breaker makes the
// service unhealthy.
func (h *HealthChecker) AddBreaker(cb *circuitbreaker.CircuitBreaker) {
	if cb == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.breakers = append(h.breakers, cb)
}

// Check runs every registered check and returns the aggregate.
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	h.mu.RLock()
	checks := make(map[string]CheckFunc, len(h.checks))
	for name, check := range h.checks {
		checks[name] = check
	}
	breakers := append([]*circuitbreaker.CircuitBreaker(nil), h.breakers...)
	timeout := h.timeout
	h.mu.RUnlock()

	status := HealthStatus{
		Healthy:   true,
		Checks:    make(map[string]CheckResult, len(checks)),
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
		Timestamp: time.Now().UTC(),
		Version:   h.version,
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for name, check := range checks {
		wg.Add(1)
		go func(name string, check CheckFunc) {
			defer wg.Done()
			result := runCheck(ctx, check, timeout)
			mu.Lock()
			status.Checks[name] = result
			mu.Unlock()
		}(name, check)
	}
	wg.Wait()

	var failed []string
	for name, r := range status.Checks {
		if !r.Healthy {
			failed = append(failed, name)
		}
	}

	for _, cb := range breakers {
		snap := cb.Snapshot()
		status.Breakers = append(status.Breakers, snap)
		if cb.IsOpen() {
			failed = append(failed, "breaker:"+snap.Name)
		}
	}

	if len(failed) == 0 {
		status.Message = "all checks passed"
		return status
	}
	sort.Strings(failed)
	status.Healthy = false
	status.Message = "failing: " + strings.Join(failed, ", ")
	return status
}

func runCheck(ctx context.Context, check CheckFunc, timeout time.Duration) (result CheckResult) {
	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		result.Duration = time.Since(start).Round(time.Millisecond).String()
		if r := recover(); r != nil {
			result.Healthy = false
			result.Message = fmt.Sprintf("check panicked: %v", r)
		}
	}()

	if err := check(checkCtx); err != nil {
		return CheckResult{Message: err.Error()}
	}
	return CheckResult{Healthy: true, Message: "OK"}
}

// ══════════════════════════════════════════════════════════════════════════════
// PREDEFINED CHECKS
// ══════════════════════════════════════════════════════════════════════════════

// Pinger is anything that can be pinged: the postgres connection, the redis
// cache.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck wraps a Pinger.
func PingCheck(p Pinger) CheckFunc {
	return func(ctx context.Context) error {
		return p.Ping(ctx)
	}
}
