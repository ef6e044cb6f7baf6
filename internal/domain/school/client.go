package school

import (
	"context"
	"time"

	"github.com/RyanStanLin/IntSchool.Sharp/internal/domain/attendance"
)

// SchoolYear identifies the academic year the API scopes data to.
type SchoolYear struct {
	ID    string
	Name  string
	Start time.Time
	End   time.Time
}

// Classmate is one student enrolled in a class session.
type Classmate struct {
	StudentID string
	Name      string
}

// ClassSession is one timetable cell of a curriculum.
type ClassSession struct {
	Date       string
	Period     string
	CourseName string
	Students   []Classmate
}

// Curriculum is a student's timetable for a window.
type Curriculum struct {
	Sessions []ClassSession
}

// Classmates flattens every enrolled student in timetable order, duplicates included.
func (c Curriculum) Classmates() []Classmate {
	var out []Classmate
	for _, s := range c.Sessions {
		out = append(out, s.Students...)
	}
	return out
}

// Client is the school information API.
type Client interface {
	GetCurrentSchoolYear(ctx context.Context) Result[SchoolYear]
	GetAttendance(ctx context.Context, studentID, schoolYearID string, window attendance.TimeWindow) Result[attendance.Report]
	GetStudentCurriculum(ctx context.Context, studentID, schoolYearID string, window attendance.TimeWindow) Result[Curriculum]
}
