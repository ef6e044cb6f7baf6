package attendance

import (
	"fmt"
	"strings"
	"time"

	"github.com/RyanStanLin/IntSchool.Sharp/internal/domain/shared"
	"github.com/RyanStanLin/IntSchool.Sharp/pkg/timeutil"
)

// TimeWindow is a closed [Start, End] interval. Start is always before End.
type TimeWindow struct {
	Start time.Time
	End   time.Time
}

// NewTimeWindow validates start < end.
func NewTimeWindow(start, end time.Time) (TimeWindow, error) {
	if !start.Before(end) {
		return TimeWindow{}, shared.NewDomainError("attendance", "NewTimeWindow", shared.ErrValueOutOfRange,
			fmt.Sprintf("window start %s is not before end %s", start.Format(time.RFC3339), end.Format(time.RFC3339)))
	}
	return TimeWindow{Start: start, End: end}, nil
}

// Contains reports whether t lies within the window.
func (w TimeWindow) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// String renders the window for logs.
func (w TimeWindow) String() string {
	return w.Start.Format(timeutil.DateTimeFormat) + " .. " + w.End.Format(timeutil.DateTimeFormat)
}

// WindowFunc produces a window on demand. Presets recompute from the clock on
// every call; nothing is cached.
type WindowFunc func() TimeWindow

// ─────────────────────────────────────────────────────────────────────────────
// Watch presets (attendance barker)
// ─────────────────────────────────────────────────────────────────────────────

// Preset names a watch window.
type Preset string

const (
	PresetToday    Preset = "today"
	PresetThisWeek Preset = "thisweek"
)

// ParsePreset accepts "today" and "thisweek" in any case, with optional
// separators ("This_Week", "this-week").
func ParsePreset(name string) (Preset, error) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	normalized = strings.NewReplacer("_", "", "-", "", " ", "").Replace(normalized)
	switch Preset(normalized) {
	case PresetToday, PresetThisWeek:
		return Preset(normalized), nil
	default:
		return "", shared.WrapError("attendance", "ParsePreset", shared.ErrInvalidFormat,
			fmt.Sprintf("unknown time window %q", name), shared.ErrUnknownTimeRange)
	}
}

// Window returns a WindowFunc for p driven by clock.
func (p Preset) Window(clock timeutil.Clock) WindowFunc {
	if clock == nil {
		clock = timeutil.SystemClock
	}
	switch p {
	case PresetThisWeek:
		return func() TimeWindow {
			start := timeutil.StartOfWeek(clock())
			return TimeWindow{Start: start, End: timeutil.EndOfWeek(start)}
		}
	default:
		return func() TimeWindow {
			now := clock()
			return TimeWindow{Start: timeutil.StartOfDay(now), End: timeutil.EndOfDay(now)}
		}
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Crawl presets (student sniffer)
// ─────────────────────────────────────────────────────────────────────────────

// CrawlPreset names the curriculum window the sniffer scans.
type CrawlPreset string

const (
	CrawlToday    CrawlPreset = "today"
	CrawlThisWeek CrawlPreset = "thisweek"
	CrawlNextWeek CrawlPreset = "nextweek"
	CrawlCustom   CrawlPreset = "custom"
)

// ParseCrawlPreset is ParsePreset for sniffer windows. Custom windows are
// rejected.
func ParseCrawlPreset(name string) (CrawlPreset, error) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	normalized = strings.NewReplacer("_", "", "-", "", " ", "").Replace(normalized)
	switch CrawlPreset(normalized) {
	case CrawlToday, CrawlThisWeek, CrawlNextWeek:
		return CrawlPreset(normalized), nil
	case CrawlCustom:
		return "", shared.NewDomainError("attendance", "ParseCrawlPreset", shared.ErrNotSupported,
			"custom crawl windows are not supported")
	default:
		return "", shared.WrapError("attendance", "ParseCrawlPreset", shared.ErrInvalidFormat,
			fmt.Sprintf("unknown time window %q", name), shared.ErrUnknownTimeRange)
	}
}

// Window returns a WindowFunc for p driven by clock. Windows are half-open
// day multiples starting at today's midnight.
func (p CrawlPreset) Window(clock timeutil.Clock) WindowFunc {
	if clock == nil {
		clock = timeutil.SystemClock
	}
	var fromDays, toDays int
	switch p {
	case CrawlThisWeek:
		fromDays, toDays = 0, 7
	case CrawlNextWeek:
		fromDays, toDays = 7, 14
	default:
		fromDays, toDays = 0, 1
	}
	return func() TimeWindow {
		today := timeutil.StartOfDay(clock())
		return TimeWindow{Start: today.AddDate(0, 0, fromDays), End: today.AddDate(0, 0, toDays)}
	}
}
