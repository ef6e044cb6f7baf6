package intschool

import (
	"errors"
	"sort"
	"strconv"
	"strings"

	"github.com/RyanStanLin/IntSchool.Sharp/internal/domain/attendance"
	"github.com/RyanStanLin/IntSchool.Sharp/internal/domain/school"
	"github.com/RyanStanLin/IntSchool.Sharp/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAPPER - DTO to domain transformations
// ══════════════════════════════════════════════════════════════════════════════

// ErrMissingSchoolYear is returned when the school year response has no id.
var ErrMissingSchoolYear = errors.New("school year id is missing")

// Mapper converts API DTOs into domain values. It keeps the API's quirks
// (epoch millis, period-keyed maps) out of the domain packages.
type Mapper struct{}

// NewMapper creates a new Mapper instance.
func NewMapper() *Mapper {
	return &Mapper{}
}

// SchoolYearFromDTO converts the current school year response.
func (m *Mapper) SchoolYearFromDTO(dto SchoolYearDTO) (school.SchoolYear, error) {
	id := strings.TrimSpace(string(dto.SchoolYearID))
	if id == "" {
		return school.SchoolYear{}, ErrMissingSchoolYear
	}
	year := school.SchoolYear{ID: id, Name: dto.Name}
	if dto.StartTime > 0 {
		year.Start = timeutil.FromUnixMilli(dto.StartTime)
	}
	if dto.EndTime > 0 {
		year.End = timeutil.FromUnixMilli(dto.EndTime)
	}
	return year, nil
}

// ReportFromDTO converts an attendance statistic into a report.
// Sessions follow the order of the day's class periods; a period is joined
// to its attendance mark by description, and periods without a mark are
// not sessions.
func (m *Mapper) ReportFromDTO(dto AttendanceDTO) attendance.Report {
	report := attendance.Report{Days: make([]attendance.Snapshot, 0, len(dto.DailyStatistics))}

	for _, day := range dto.DailyStatistics {
		snapshot := attendance.Snapshot{
			Date:          timeutil.FromUnixMilli(day.Date),
			MorningStatus: attendance.ParseStatus(day.AM),
		}
		for _, period := range day.ClassPeriods {
			mark, ok := day.Attendances[period.Description]
			if !ok {
				continue
			}
			snapshot.Sessions = append(snapshot.Sessions, attendance.CourseSession{
				Status:     attendance.ParseStatus(mark.Status),
				CourseName: mark.CourseName,
				Room:       mark.ClassRoom,
				Start:      timeutil.FromUnixMilli(period.Start),
				End:        timeutil.FromUnixMilli(period.End),
			})
		}
		report.Days = append(report.Days, snapshot)
	}
	return report
}

// CurriculumFromDTO flattens classArranges into timetable cells ordered by
// date and then period.
func (m *Mapper) CurriculumFromDTO(dto CurriculumDTO) school.Curriculum {
	var out school.Curriculum

	for _, date := range sortedKeys(dto.ClassArranges) {
		periods := dto.ClassArranges[date]
		for _, period := range sortedKeys(periods) {
			arrange := periods[period]
			if arrange.CourseID == nil {
				continue
			}
			session := school.ClassSession{
				Date:       date,
				Period:     period,
				CourseName: arrange.CourseID.CourseName,
			}
			for _, s := range arrange.CourseID.Students {
				session.Students = append(session.Students, school.Classmate{
					StudentID: strings.TrimSpace(string(s.StudentID)),
					Name:      s.Name,
				})
			}
			out.Sessions = append(out.Sessions, session)
		}
	}
	return out
}

// sortedKeys orders numeric keys numerically and the rest lexically.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, errA := strconv.Atoi(keys[i])
		b, errB := strconv.Atoi(keys[j])
		if errA == nil && errB == nil {
			return a < b
		}
		return keys[i] < keys[j]
	})
	return keys
}
