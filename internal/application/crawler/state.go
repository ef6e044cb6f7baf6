package crawler

import (
	"maps"
	"sort"
	"strconv"
	"time"

	"github.com/RyanStanLin/IntSchool.Sharp/internal/domain/student"
)

// Status — состояние краулера.
type Status int

const (
	StatusNotStarted Status = iota
	StatusRunning
	StatusPaused
	StatusCompleted
	StatusFailed
)

// String возвращает имя состояния.
func (s Status) String() string {
	switch s {
	case StatusNotStarted:
		return "not_started"
	case StatusRunning:
		return "running"
	case StatusPaused:
		return "paused"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// IsTerminal сообщает, что из состояния нет выхода.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// IsActive — Running или Paused.
func (s Status) IsActive() bool {
	return s == StatusRunning || s == StatusPaused
}

// MarshalText кодирует состояние строкой (для JSON API).
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// CrawlState — неизменяемый снимок прогресса краулера.
// Discovered от снимка к снимку только растёт; PendingCount равен длине
// очереди на момент публикации.
type CrawlState struct {
	Status       Status                               `json:"status"`
	Discovered   map[string]student.DiscoveredStudent `json:"discovered"`
	PendingCount int                                  `json:"pendingCount"`
	LastError    error                                `json:"-"`
	Timestamp    time.Time                            `json:"timestamp"`
}

// DiscoveredCount возвращает число найденных студентов.
func (s CrawlState) DiscoveredCount() int {
	return len(s.Discovered)
}

// Students возвращает найденных студентов, отсортированных по числовому ID.
// Нечисловые ID идут в конце в лексикографическом порядке.
func (s CrawlState) Students() []student.DiscoveredStudent {
	out := make([]student.DiscoveredStudent, 0, len(s.Discovered))
	for _, d := range s.Discovered {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		a, errA := strconv.ParseInt(out[i].StudentID, 10, 64)
		b, errB := strconv.ParseInt(out[j].StudentID, 10, 64)
		switch {
		case errA == nil && errB == nil:
			return a < b
		case errA == nil:
			return true
		case errB == nil:
			return false
		default:
			return out[i].StudentID < out[j].StudentID
		}
	})
	return out
}

func newState(status Status, discovered map[string]student.DiscoveredStudent, pending int, lastErr error, at time.Time) CrawlState {
	return CrawlState{
		Status:       status,
		Discovered:   maps.Clone(discovered),
		PendingCount: pending,
		LastError:    lastErr,
		Timestamp:    at,
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Frontier
// ─────────────────────────────────────────────────────────────────────────────

// WorkItem — студент в очереди обхода и число уже сделанных повторов.
type WorkItem struct {
	Student    student.DiscoveredStudent
	RetryCount int
}

// frontier — FIFO-очередь обхода. Синхронизируется мьютексом краулера.
type frontier struct {
	items []WorkItem
}

func (f *frontier) push(item WorkItem) {
	f.items = append(f.items, item)
}

func (f *frontier) pop() (WorkItem, bool) {
	if len(f.items) == 0 {
		return WorkItem{}, false
	}
	item := f.items[0]
	f.items[0] = WorkItem{}
	f.items = f.items[1:]
	return item, true
}

func (f *frontier) len() int {
	return len(f.items)
}
