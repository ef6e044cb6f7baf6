// Package timeutil provides timezone utilities for the school's local time (UTC+8).
// The school API speaks Unix milliseconds and reasons about calendar days in
// China Standard Time, so every "today" and "this week" computation happens here.
package timeutil

import (
	"time"
)

// SchoolTZ is China Standard Time (UTC+8, no DST).
var SchoolTZ = time.FixedZone("Asia/Shanghai", 8*60*60)

// Clock returns the current time. Tests replace it through WithClock.
type Clock func() time.Time

// SystemClock is the wall clock.
func SystemClock() time.Time { return time.Now() }

// Now returns the current time in the school timezone.
func Now() time.Time {
	return time.Now().In(SchoolTZ)
}

// ToSchool converts a time to the school timezone.
func ToSchool(t time.Time) time.Time {
	return t.In(SchoolTZ)
}

// Date creates a time in the school timezone with the given date.
func Date(year, month, day int) time.Time {
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, SchoolTZ)
}

// DateTime creates a time in the school timezone with the given date and time.
func DateTime(year, month, day, hour, min, sec int) time.Time {
	return time.Date(year, time.Month(month), day, hour, min, sec, 0, SchoolTZ)
}

// StartOfDay returns the start of the day (00:00:00) in the school timezone.
func StartOfDay(t time.Time) time.Time {
	s := ToSchool(t)
	return time.Date(s.Year(), s.Month(), s.Day(), 0, 0, 0, 0, SchoolTZ)
}

// EndOfDay returns the last whole second of the day (23:59:59).
func EndOfDay(t time.Time) time.Time {
	return StartOfDay(t).AddDate(0, 0, 1).Add(-time.Second)
}

// StartOfWeek returns Monday 00:00:00 of the week containing t.
func StartOfWeek(t time.Time) time.Time {
	s := ToSchool(t)
	weekday := int(s.Weekday())
	if weekday == 0 {
		weekday = 7 // Sunday
	}
	return StartOfDay(s.AddDate(0, 0, -(weekday - 1)))
}

// EndOfWeek returns the last whole second of Sunday of the week containing t.
func EndOfWeek(t time.Time) time.Time {
	return StartOfWeek(t).AddDate(0, 0, 7).Add(-time.Second)
}

// IsSameDay checks if two times fall on the same calendar day in the school timezone.
func IsSameDay(t1, t2 time.Time) bool {
	a, b := ToSchool(t1), ToSchool(t2)
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}

// IsWeekend checks if the given time is on a weekend.
func IsWeekend(t time.Time) bool {
	wd := ToSchool(t).Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// FromUnixMilli converts API milliseconds into a school-local time.
func FromUnixMilli(ms int64) time.Time {
	return time.UnixMilli(ms).In(SchoolTZ)
}

// ToUnixMilli converts a time into API milliseconds.
func ToUnixMilli(t time.Time) int64 {
	return t.UnixMilli()
}

// Common date/time formats.
const (
	DateFormat     = "2006-01-02"
	TimeFormat     = "15:04"
	DateTimeFormat = "2006-01-02 15:04"
)

// FormatDateStr formats a time as YYYY-MM-DD in the school timezone.
func FormatDateStr(t time.Time) string {
	return ToSchool(t).Format(DateFormat)
}

// FormatTimeStr formats a time as HH:MM in the school timezone.
func FormatTimeStr(t time.Time) string {
	return ToSchool(t).Format(TimeFormat)
}
