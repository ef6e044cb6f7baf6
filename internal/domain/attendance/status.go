package attendance

import (
	"strings"
)

// Status is an attendance mark. The declaration order mirrors the school's
// option list; severity comparisons must use Priority, not the raw value.
type Status int

const (
	NoRecord Status = iota
	WeekendHoliday
	InTime
	Late
	Illness
	Personal
	Absent
)

// AllStatuses lists every status in declaration order.
var AllStatuses = []Status{NoRecord, WeekendHoliday, InTime, Late, Illness, Personal, Absent}

// Priority returns the severity rank used by "increased/decreased" filters.
func (s Status) Priority() int {
	switch s {
	case NoRecord:
		return -1
	case Late:
		return 1
	case Absent:
		return 2
	default:
		return 0
	}
}

// String returns the human-readable label.
func (s Status) String() string {
	switch s {
	case NoRecord:
		return "No Record"
	case WeekendHoliday:
		return "Weekend Holiday"
	case InTime:
		return "In Time"
	case Late:
		return "Late"
	case Illness:
		return "Illness"
	case Personal:
		return "Personal Leave"
	case Absent:
		return "Absent"
	default:
		return "Unknown"
	}
}

// Raw returns the wire value the school API uses for s.
func (s Status) Raw() string {
	switch s {
	case WeekendHoliday:
		return "weekendHoliday"
	case InTime:
		return "intime"
	case Late:
		return "late"
	case Illness:
		return "illness"
	case Personal:
		return "personal"
	case Absent:
		return "absent"
	default:
		return "noRecords"
	}
}

// MoreSevereThan reports whether s outranks other.
func (s Status) MoreSevereThan(other Status) bool {
	return s.Priority() > other.Priority()
}

// AtLeast reports whether s is at least as severe as threshold.
func (s Status) AtLeast(threshold Status) bool {
	return s.Priority() >= threshold.Priority()
}

// ParseStatus decodes a raw API string case-insensitively.
// Unknown or blank values decode to NoRecord.
func ParseStatus(raw string) Status {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "weekendholiday":
		return WeekendHoliday
	case "intime":
		return InTime
	case "late":
		return Late
	case "illness":
		return Illness
	case "personal":
		return Personal
	case "absent":
		return Absent
	default:
		return NoRecord
	}
}

// MarshalText implements encoding.TextMarshaler so statuses round-trip through
// JSON caches in their wire form.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.Raw()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(text []byte) error {
	*s = ParseStatus(string(text))
	return nil
}
