package attendance

import (
	"time"

	"github.com/RyanStanLin/IntSchool.Sharp/pkg/timeutil"
)

// MorningSessionName is the course name of the pseudo-session synthesized when
// the morning roll call changes.
const MorningSessionName = "Morning Attendance"

// CourseSession is one scheduled class on a given day.
type CourseSession struct {
	Status     Status    `json:"status"`
	CourseName string    `json:"courseName"`
	Room       string    `json:"room"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
}

// SameSlot reports whether s and other describe the same timetable slot.
func (s CourseSession) SameSlot(other CourseSession) bool {
	return s.CourseName == other.CourseName && s.Start.Equal(other.Start)
}

// IsZero reports whether s is the placeholder used for newly appeared sessions.
func (s CourseSession) IsZero() bool {
	return s.CourseName == "" && s.Start.IsZero() && s.Status == NoRecord
}

// MorningSession builds the pseudo-session for a morning roll call on date.
func MorningSession(date time.Time, status Status) CourseSession {
	start := timeutil.StartOfDay(date)
	return CourseSession{
		Status:     status,
		CourseName: MorningSessionName,
		Start:      start,
		End:        start.Add(time.Hour),
	}
}

// Snapshot is the attendance state of one calendar day.
type Snapshot struct {
	Date          time.Time       `json:"date"`
	MorningStatus Status          `json:"morningStatus"`
	Sessions      []CourseSession `json:"sessions"`
}

// FindSlot returns the session occupying the same slot as probe.
func (d Snapshot) FindSlot(probe CourseSession) (CourseSession, bool) {
	for _, s := range d.Sessions {
		if s.SameSlot(probe) {
			return s, true
		}
	}
	return CourseSession{}, false
}

// Report is everything the school API returned for one profile and window.
type Report struct {
	Days []Snapshot `json:"days"`
}

// Day returns the snapshot whose calendar date matches date.
func (r Report) Day(date time.Time) (Snapshot, bool) {
	for _, d := range r.Days {
		if timeutil.IsSameDay(d.Date, date) {
			return d, true
		}
	}
	return Snapshot{}, false
}

// Change is a single (previous, current) pair detected between two reports.
type Change struct {
	Previous CourseSession
	Current  CourseSession
}

// Diff compares two reports day by day and returns every changed slot in the
// order the current report lists them. Days without a previous counterpart are
// skipped; sessions without a previous counterpart are paired with a zero
// session.
func Diff(previous, current Report) []Change {
	var changes []Change
	for _, day := range current.Days {
		prevDay, ok := previous.Day(day.Date)
		if !ok {
			continue
		}

		if prevDay.MorningStatus != day.MorningStatus {
			changes = append(changes, Change{
				Previous: MorningSession(prevDay.Date, prevDay.MorningStatus),
				Current:  MorningSession(day.Date, day.MorningStatus),
			})
		}

		for _, session := range day.Sessions {
			prevSession, found := prevDay.FindSlot(session)
			if found && prevSession.Status == session.Status {
				continue
			}
			changes = append(changes, Change{Previous: prevSession, Current: session})
		}
	}
	return changes
}
