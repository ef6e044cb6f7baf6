package intschool

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// WIRE TYPES
// ══════════════════════════════════════════════════════════════════════════════

// flexID accepts identifiers encoded either as JSON numbers or strings.
type flexID string

// UnmarshalJSON implements json.Unmarshaler.
func (id *flexID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a number or string: %w", err)
	}
	*id = flexID(n.String())
	return nil
}

// ErrorDTO is the body the API sends with non-2xx responses.
type ErrorDTO struct {
	Timestamp json.RawMessage `json:"timestamp"`
	Status    int             `json:"status"`
	Error     string          `json:"error"`
	Message   string          `json:"message"`
	Path      string          `json:"path"`
}

// Time parses the timestamp, which the API sends either as epoch millis or
// as an RFC 3339 string.
func (e ErrorDTO) Time() time.Time {
	raw := bytes.TrimSpace(e.Timestamp)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return time.Time{}
	}
	if raw[0] == '"' {
		var s string
		if json.Unmarshal(raw, &s) != nil {
			return time.Time{}
		}
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.000-0700", "2006-01-02 15:04:05"} {
			if t, err := time.Parse(layout, s); err == nil {
				return t
			}
		}
		return time.Time{}
	}
	ms, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// Text returns the most specific human-readable message.
func (e ErrorDTO) Text() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Error
}

// SchoolYearDTO is the response of /api/semester/currentSchoolYear.
type SchoolYearDTO struct {
	SchoolYearID flexID `json:"schoolYearId"`
	Name         string `json:"name"`
	StartTime    int64  `json:"startTime"`
	EndTime      int64  `json:"endTime"`
}

// AttendanceDTO is the response of /api/attendance/statistic/student/{schoolYearId}.
type AttendanceDTO struct {
	DailyStatistics []DailyStatisticDTO `json:"dailyStatistics"`
}

// DailyStatisticDTO is one day of the attendance statistic.
// Attendances is keyed by class period description.
type DailyStatisticDTO struct {
	Date         int64                          `json:"date"`
	AM           string                         `json:"am"`
	ClassPeriods []ClassPeriodDTO               `json:"classPeriods"`
	Attendances  map[string]PeriodAttendanceDTO `json:"attendances"`
}

// ClassPeriodDTO is a timetable period.
type ClassPeriodDTO struct {
	Description string `json:"description"`
	Start       int64  `json:"start"`
	End         int64  `json:"end"`
}

// PeriodAttendanceDTO is the attendance mark for one period.
type PeriodAttendanceDTO struct {
	Status     string `json:"status"`
	CourseName string `json:"courseName"`
	ClassRoom  string `json:"classRoom"`
}

// CurriculumDTO is the response of /api/curriculum/student/{schoolYearId}.
// ClassArranges maps date -> period -> arrangement.
type CurriculumDTO struct {
	ClassArranges map[string]map[string]ClassArrangeDTO `json:"classArranges"`
}

// ClassArrangeDTO wraps the course the period is arranged for.
type ClassArrangeDTO struct {
	CourseID *CourseDTO `json:"courseId"`
}

// CourseDTO carries the enrolled students of a course.
type CourseDTO struct {
	CourseName string       `json:"courseName"`
	Students   []StudentDTO `json:"students"`
}

// StudentDTO is a classmate entry.
type StudentDTO struct {
	StudentID flexID `json:"studentId"`
	Name      string `json:"name"`
}
