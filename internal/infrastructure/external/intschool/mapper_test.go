package intschool

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlexID_NumberOrString(t *testing.T) {
	var dto struct {
		A flexID `json:"a"`
		B flexID `json:"b"`
		C flexID `json:"c"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a": 123, "b": "456", "c": null}`), &dto))
	assert.Equal(t, flexID("123"), dto.A)
	assert.Equal(t, flexID("456"), dto.B)
	assert.Equal(t, flexID(""), dto.C)

	assert.Error(t, json.Unmarshal([]byte(`{"a": {}}`), &dto))
}

func TestErrorDTO_Time(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want time.Time
	}{
		{"millis", `1700000000000`, time.UnixMilli(1700000000000)},
		{"rfc3339", `"2024-03-04T08:00:00Z"`, time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC)},
		{"null", `null`, time.Time{}},
		{"garbage", `"yesterday"`, time.Time{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dto := ErrorDTO{Timestamp: json.RawMessage(tt.raw)}
			assert.True(t, tt.want.Equal(dto.Time()), "got %v", dto.Time())
		})
	}
}

func TestErrorDTO_TextFallsBackToError(t *testing.T) {
	assert.Equal(t, "token expired", ErrorDTO{Error: "Unauthorized", Message: "token expired"}.Text())
	assert.Equal(t, "Unauthorized", ErrorDTO{Error: "Unauthorized"}.Text())
}

func TestSortedKeys_NumericFirst(t *testing.T) {
	m := map[string]int{"10": 0, "2": 0, "1": 0}
	assert.Equal(t, []string{"1", "2", "10"}, sortedKeys(m))

	dates := map[string]int{"2024-03-05": 0, "2024-03-04": 0}
	assert.Equal(t, []string{"2024-03-04", "2024-03-05"}, sortedKeys(dates))
}

func TestReportFromDTO_KeepsPeriodOrder(t *testing.T) {
	dto := AttendanceDTO{DailyStatistics: []DailyStatisticDTO{{
		Date: 1700006400000,
		AM:   "absent",
		ClassPeriods: []ClassPeriodDTO{
			{Description: "P2", Start: 1700013000000},
			{Description: "P1", Start: 1700010000000},
		},
		Attendances: map[string]PeriodAttendanceDTO{
			"P1": {Status: "InTime", CourseName: "Math"},
			"P2": {Status: "Illness", CourseName: "Art"},
		},
	}}}

	report := NewMapper().ReportFromDTO(dto)
	require.Len(t, report.Days, 1)
	sessions := report.Days[0].Sessions
	require.Len(t, sessions, 2)
	assert.Equal(t, "Art", sessions[0].CourseName)
	assert.Equal(t, "Math", sessions[1].CourseName)
}
