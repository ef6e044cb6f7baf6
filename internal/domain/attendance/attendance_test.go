package attendance

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RyanStanLin/IntSchool.Sharp/internal/domain/shared"
	"github.com/RyanStanLin/IntSchool.Sharp/pkg/timeutil"
)

func TestStatus_PriorityOrdering(t *testing.T) {
	assert.Equal(t, -1, NoRecord.Priority())
	for _, s := range []Status{WeekendHoliday, InTime, Illness, Personal} {
		assert.Equal(t, 0, s.Priority(), s.String())
	}
	assert.Equal(t, 1, Late.Priority())
	assert.Equal(t, 2, Absent.Priority())

	assert.True(t, Absent.MoreSevereThan(Late))
	assert.True(t, Late.MoreSevereThan(InTime))
	assert.True(t, InTime.MoreSevereThan(NoRecord))
	// Declaration order is not severity order.
	assert.False(t, Personal.MoreSevereThan(Late))
	assert.True(t, Late.AtLeast(Late))
	assert.False(t, Illness.AtLeast(Late))
}

func TestParseStatus(t *testing.T) {
	assert.Equal(t, WeekendHoliday, ParseStatus("weekendHoliday"))
	assert.Equal(t, InTime, ParseStatus("INTIME"))
	assert.Equal(t, Late, ParseStatus(" late "))
	assert.Equal(t, Personal, ParseStatus("personal"))
	assert.Equal(t, NoRecord, ParseStatus("noRecords"))
	assert.Equal(t, NoRecord, ParseStatus(""))
	assert.Equal(t, NoRecord, ParseStatus("sleeping"))

	for _, s := range AllStatuses {
		assert.Equal(t, s, ParseStatus(s.Raw()))
	}
}

func TestStatus_Labels(t *testing.T) {
	assert.Equal(t, "Personal Leave", Personal.String())
	assert.Equal(t, "In Time", InTime.String())
	assert.Equal(t, "Weekend Holiday", WeekendHoliday.String())
}

func TestCourseSession_SameSlot(t *testing.T) {
	nine := timeutil.DateTime(2024, 9, 2, 9, 0, 0)
	a := CourseSession{Status: InTime, CourseName: "Math", Room: "A101", Start: nine, End: nine.Add(time.Hour)}

	b := a
	b.Room = "B202"
	b.Status = Absent
	b.End = nine.Add(2 * time.Hour)
	assert.True(t, a.SameSlot(b), "room, status and end are not identity")

	c := a
	c.CourseName = "Physics"
	assert.False(t, a.SameSlot(c))

	d := a
	d.Start = nine.Add(time.Minute)
	assert.False(t, a.SameSlot(d))
}

func TestDiff_MorningAndSessions(t *testing.T) {
	day := timeutil.Date(2024, 9, 2)
	nine := day.Add(9 * time.Hour)
	ten := day.Add(10 * time.Hour)

	prev := Report{Days: []Snapshot{{
		Date:          day,
		MorningStatus: InTime,
		Sessions: []CourseSession{
			{Status: InTime, CourseName: "Math", Start: nine, End: ten},
		},
	}}}
	cur := Report{Days: []Snapshot{{
		Date:          day,
		MorningStatus: Late,
		Sessions: []CourseSession{
			{Status: InTime, CourseName: "Math", Room: "moved", Start: nine, End: ten},
			{Status: NoRecord, CourseName: "Art", Start: ten, End: ten.Add(time.Hour)},
		},
	}}}

	changes := Diff(prev, cur)
	require.Len(t, changes, 2)

	morning := changes[0]
	assert.Equal(t, MorningSessionName, morning.Current.CourseName)
	assert.Equal(t, InTime, morning.Previous.Status)
	assert.Equal(t, Late, morning.Current.Status)
	assert.Equal(t, day, morning.Current.Start)
	assert.Equal(t, day.Add(time.Hour), morning.Current.End)

	art := changes[1]
	assert.Equal(t, "Art", art.Current.CourseName)
	assert.True(t, art.Previous.IsZero())
}

func TestDiff_IdenticalAndUnmatchedDays(t *testing.T) {
	day := timeutil.Date(2024, 9, 2)
	report := Report{Days: []Snapshot{{Date: day, MorningStatus: InTime,
		Sessions: []CourseSession{{Status: Late, CourseName: "Math", Start: day.Add(9 * time.Hour)}}}}}

	assert.Empty(t, Diff(report, report))

	nextDay := Report{Days: []Snapshot{{Date: day.AddDate(0, 0, 1), MorningStatus: Absent,
		Sessions: []CourseSession{{Status: Absent, CourseName: "Math", Start: day.Add(33 * time.Hour)}}}}}
	assert.Empty(t, Diff(report, nextDay), "days without a previous counterpart are skipped")
}

func TestTimeWindow_Validation(t *testing.T) {
	now := timeutil.DateTime(2024, 9, 4, 10, 0, 0)
	_, err := NewTimeWindow(now, now)
	assert.True(t, errors.Is(err, shared.ErrValueOutOfRange))

	w, err := NewTimeWindow(now, now.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, w.Contains(now.Add(30*time.Minute)))
	assert.False(t, w.Contains(now.Add(2*time.Hour)))
}

func TestPreset_Windows(t *testing.T) {
	wednesday := timeutil.DateTime(2024, 9, 4, 10, 30, 0)
	clock := func() time.Time { return wednesday }

	today := PresetToday.Window(clock)()
	assert.Equal(t, timeutil.Date(2024, 9, 4), today.Start)
	assert.Equal(t, timeutil.DateTime(2024, 9, 4, 23, 59, 59), today.End)

	week := PresetThisWeek.Window(clock)()
	assert.Equal(t, timeutil.Date(2024, 9, 2), week.Start)
	assert.Equal(t, timeutil.DateTime(2024, 9, 8, 23, 59, 59), week.End)
}

func TestPreset_RecomputesOnEveryRead(t *testing.T) {
	now := timeutil.DateTime(2024, 9, 4, 23, 0, 0)
	window := PresetToday.Window(func() time.Time { return now })

	first := window()
	now = now.Add(2 * time.Hour)
	second := window()

	assert.Equal(t, first.Start.AddDate(0, 0, 1), second.Start)
}

func TestParsePreset(t *testing.T) {
	p, err := ParsePreset("ThisWeek")
	require.NoError(t, err)
	assert.Equal(t, PresetThisWeek, p)

	p, err = ParsePreset("TODAY")
	require.NoError(t, err)
	assert.Equal(t, PresetToday, p)

	_, err = ParsePreset("fortnight")
	assert.True(t, errors.Is(err, shared.ErrInvalidFormat))
}

func TestCrawlPreset_Windows(t *testing.T) {
	now := timeutil.DateTime(2024, 9, 4, 10, 30, 0)
	clock := func() time.Time { return now }
	today := timeutil.Date(2024, 9, 4)

	w := CrawlToday.Window(clock)()
	assert.Equal(t, today, w.Start)
	assert.Equal(t, today.AddDate(0, 0, 1), w.End)

	w = CrawlThisWeek.Window(clock)()
	assert.Equal(t, today, w.Start)
	assert.Equal(t, today.AddDate(0, 0, 7), w.End)

	w = CrawlNextWeek.Window(clock)()
	assert.Equal(t, today.AddDate(0, 0, 7), w.Start)
	assert.Equal(t, today.AddDate(0, 0, 14), w.End)

	_, err := ParseCrawlPreset("custom")
	assert.True(t, errors.Is(err, shared.ErrNotSupported))

	p, err := ParseCrawlPreset("next_week")
	require.NoError(t, err)
	assert.Equal(t, CrawlNextWeek, p)
}
