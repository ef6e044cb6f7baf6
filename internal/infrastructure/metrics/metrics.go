// Package metrics exposes Prometheus metrics for the barker and the sniffer.
// A single Metrics value satisfies the recorder interfaces of the poller,
// the crawler and the Bark client.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/RyanStanLin/IntSchool.Sharp/internal/application/crawler"
	"github.com/RyanStanLin/IntSchool.Sharp/internal/application/poller"
	"github.com/RyanStanLin/IntSchool.Sharp/internal/infrastructure/external/bark"
	"github.com/RyanStanLin/IntSchool.Sharp/pkg/circuitbreaker"
)

// Namespace prefixes every metric.
const Namespace = "intcopilot"

// Metrics holds all collectors.
type Metrics struct {
	// Poller
	PollTicks         prometheus.Counter
	PollTickDuration  prometheus.Histogram
	FetchFailures     *prometheus.CounterVec
	Changes           prometheus.Counter
	SubscriptionsRun  prometheus.Counter
	NotificationsSent *prometheus.CounterVec
	NotificationsFail *prometheus.CounterVec

	// Crawler
	CrawlDiscovered prometheus.Gauge
	CrawlPending    prometheus.Gauge
	CrawlStatus     *prometheus.GaugeVec
	CrawlRetries    prometheus.Counter
	CrawlDrops      prometheus.Counter

	// Circuit breakers
	BreakerState *prometheus.GaugeVec
}

var (
	_ poller.Recorder  = (*Metrics)(nil)
	_ crawler.Recorder = (*Metrics)(nil)
	_ bark.Recorder    = (*Metrics)(nil)
)

// New creates and registers all collectors on reg (the default registerer
// when nil).
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	m := &Metrics{}
	m.initPollerMetrics(factory)
	m.initCrawlerMetrics(factory)

	m.BreakerState = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: Namespace,
		Subsystem: "circuit_breaker",
		Name:      "state",
		Help:      "Circuit breaker state (0 closed, 1 open, 2 half-open)",
	}, []string{"name"})

	return m
}

func (m *Metrics) initPollerMetrics(factory promauto.Factory) {
	m.PollTicks = factory.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "poller",
		Name:      "ticks_total",
		Help:      "Polling ticks completed",
	})
	m.PollTickDuration = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: Namespace,
		Subsystem: "poller",
		Name:      "tick_duration_seconds",
		Help:      "Duration of a polling tick across all profiles",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
	})
	m.FetchFailures = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "poller",
		Name:      "fetch_failures_total",
		Help:      "Attendance fetches that did not succeed, by result kind",
	}, []string{"kind"})
	m.Changes = factory.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "poller",
		Name:      "changes_detected_total",
		Help:      "Attendance changes detected",
	})
	m.SubscriptionsRun = factory.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "poller",
		Name:      "subscription_actions_total",
		Help:      "Subscription actions that completed",
	})
	m.NotificationsSent = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "notifications",
		Name:      "sent_total",
		Help:      "Push notifications delivered, by level",
	}, []string{"level"})
	m.NotificationsFail = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "notifications",
		Name:      "failed_total",
		Help:      "Push notifications that failed, by level",
	}, []string{"level"})
}

func (m *Metrics) initCrawlerMetrics(factory promauto.Factory) {
	m.CrawlDiscovered = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Subsystem: "crawler",
		Name:      "discovered_students",
		Help:      "Students discovered by the current crawl",
	})
	m.CrawlPending = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Subsystem: "crawler",
		Name:      "pending_students",
		Help:      "Students waiting in the crawl frontier",
	})
	m.CrawlStatus = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: Namespace,
		Subsystem: "crawler",
		Name:      "status",
		Help:      "1 for the crawler's current status, 0 otherwise",
	}, []string{"status"})
	m.CrawlRetries = factory.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "crawler",
		Name:      "retries_total",
		Help:      "Curriculum fetches re-queued for retry",
	})
	m.CrawlDrops = factory.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "crawler",
		Name:      "drops_total",
		Help:      "Students dropped after exhausting retries",
	})
}

// ─────────────────────────────────────────────────────────────────────────────
// poller.Recorder
// ─────────────────────────────────────────────────────────────────────────────

// ObserveTick implements poller.Recorder.
func (m *Metrics) ObserveTick(d time.Duration) {
	m.PollTicks.Inc()
	m.PollTickDuration.Observe(d.Seconds())
}

// FetchFailed implements poller.Recorder.
func (m *Metrics) FetchFailed(kind string) { m.FetchFailures.WithLabelValues(kind).Inc() }

// ChangesDetected implements poller.Recorder.
func (m *Metrics) ChangesDetected(n int) { m.Changes.Add(float64(n)) }

// ActionsFired implements poller.Recorder.
func (m *Metrics) ActionsFired(n int) { m.SubscriptionsRun.Add(float64(n)) }

// ─────────────────────────────────────────────────────────────────────────────
// bark.Recorder
// ─────────────────────────────────────────────────────────────────────────────

// NotificationSent implements bark.Recorder.
func (m *Metrics) NotificationSent(level string) { m.NotificationsSent.WithLabelValues(level).Inc() }

// NotificationFailed implements bark.Recorder.
func (m *Metrics) NotificationFailed(level string) { m.NotificationsFail.WithLabelValues(level).Inc() }

// ─────────────────────────────────────────────────────────────────────────────
// crawler.Recorder
// ─────────────────────────────────────────────────────────────────────────────

var crawlStatuses = []crawler.Status{
	crawler.StatusNotStarted,
	crawler.StatusRunning,
	crawler.StatusPaused,
	crawler.StatusCompleted,
	crawler.StatusFailed,
}

// StateChanged implements crawler.Recorder.
func (m *Metrics) StateChanged(state crawler.CrawlState) {
	m.CrawlDiscovered.Set(float64(state.DiscoveredCount()))
	m.CrawlPending.Set(float64(state.PendingCount))
	for _, s := range crawlStatuses {
		v := 0.0
		if s == state.Status {
			v = 1
		}
		m.CrawlStatus.WithLabelValues(s.String()).Set(v)
	}
}

// Retried implements crawler.Recorder.
func (m *Metrics) Retried() { m.CrawlRetries.Inc() }

// Dropped implements crawler.Recorder.
func (m *Metrics) Dropped() { m.CrawlDrops.Inc() }

// ─────────────────────────────────────────────────────────────────────────────
// circuit breakers
// ─────────────────────────────────────────────────────────────────────────────

// ObserveBreaker records a breaker's state.
func (m *Metrics) ObserveBreaker(name string, state circuitbreaker.State) {
	m.BreakerState.WithLabelValues(name).Set(float64(state))
}

// BreakerStateHook returns an OnStateChange callback that records transitions.
func (m *Metrics) BreakerStateHook() func(name string, from, to circuitbreaker.State) {
	return func(name string, _, to circuitbreaker.State) {
		m.ObserveBreaker(name, to)
	}
}
