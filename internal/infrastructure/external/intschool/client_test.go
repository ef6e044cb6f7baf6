package intschool

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RyanStanLin/IntSchool.Sharp/internal/domain/attendance"
	"github.com/RyanStanLin/IntSchool.Sharp/internal/domain/school"
	"github.com/RyanStanLin/IntSchool.Sharp/internal/domain/shared"
	"github.com/RyanStanLin/IntSchool.Sharp/pkg/circuitbreaker"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := DefaultConfig("token-123")
	cfg.BaseURL = srv.URL
	cfg.RetryDelay = time.Millisecond
	cfg.MaxDelay = 5 * time.Millisecond

	c, err := NewClient(cfg)
	require.NoError(t, err)
	return c
}

func testWindow() attendance.TimeWindow {
	return attendance.TimeWindow{
		Start: time.UnixMilli(1700000000000),
		End:   time.UnixMilli(1700600000000),
	}
}

func TestNewClient_RequiresToken(t *testing.T) {
	_, err := NewClient(DefaultConfig("  "))
	assert.True(t, errors.Is(err, shared.ErrInvalidArgument))
}

func TestGetCurrentSchoolYear_SendsHeaders(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, pathCurrentSchoolYear, r.URL.Path)
		assert.Equal(t, "token-123", r.Header.Get("X-Token"))
		assert.Equal(t, "8", r.Header.Get("x-schoolid"))
		_, _ = w.Write([]byte(`{"schoolYearId": 12, "name": "2024-2025"}`))
	})

	res := c.GetCurrentSchoolYear(context.Background())
	require.True(t, res.OK(), "%v", res.Err())
	assert.Equal(t, "12", res.Value().ID)
	assert.Equal(t, "2024-2025", res.Value().Name)
}

func TestGetAttendance_QueryAndMapping(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/attendance/statistic/student/12", r.URL.Path)
		assert.Equal(t, "42", r.URL.Query().Get("studentId"))
		assert.Equal(t, "1700000000000", r.URL.Query().Get("start"))
		assert.Equal(t, "1700600000000", r.URL.Query().Get("end"))
		_, _ = w.Write([]byte(`{"dailyStatistics":[{
			"date": 1700006400000,
			"am": "InTime",
			"classPeriods": [
				{"description": "P1", "start": 1700010000000, "end": 1700012700000},
				{"description": "P2", "start": 1700013000000, "end": 1700015700000}
			],
			"attendances": {"P1": {"status": "Late", "courseName": "Math", "classRoom": "A101"}}
		}]}`))
	})

	res := c.GetAttendance(context.Background(), "42", "12", testWindow())
	require.True(t, res.OK(), "%v", res.Err())

	days := res.Value().Days
	require.Len(t, days, 1)
	assert.Equal(t, attendance.InTime, days[0].MorningStatus)
	require.Len(t, days[0].Sessions, 1, "periods without a mark are skipped")
	assert.Equal(t, "Math", days[0].Sessions[0].CourseName)
	assert.Equal(t, attendance.Late, days[0].Sessions[0].Status)
	assert.Equal(t, "A101", days[0].Sessions[0].Room)
}

func TestGetStudentCurriculum_Mapping(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/curriculum/student/12", r.URL.Path)
		_, _ = w.Write([]byte(`{"classArranges": {
			"2024-03-04": {
				"2": {"courseId": {"courseName": "Physics", "students": [{"studentId": "7", "name": "B"}]}},
				"1": {"courseId": {"courseName": "Math", "students": [{"studentId": 5, "name": "A"}]}},
				"3": {"courseId": null}
			}
		}}`))
	})

	res := c.GetStudentCurriculum(context.Background(), "42", "12", testWindow())
	require.True(t, res.OK(), "%v", res.Err())

	sessions := res.Value().Sessions
	require.Len(t, sessions, 2)
	assert.Equal(t, "Math", sessions[0].CourseName)
	assert.Equal(t, "Physics", sessions[1].CourseName)
	assert.Equal(t, []school.Classmate{{StudentID: "5", Name: "A"}, {StudentID: "7", Name: "B"}}, res.Value().Classmates())
}

func TestRemoteError_IsNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"timestamp": 1700000000000, "status": 401, "error": "Unauthorized", "message": "token expired", "path": "/api/semester/currentSchoolYear"}`))
	})

	res := c.GetCurrentSchoolYear(context.Background())
	require.Equal(t, school.KindRemote, res.Kind())

	var remote *school.RemoteError
	require.True(t, errors.As(res.Err(), &remote))
	assert.Equal(t, 401, remote.StatusCode)
	assert.Equal(t, "token expired", remote.Message)
	assert.Equal(t, time.UnixMilli(1700000000000), remote.Timestamp)
	assert.True(t, errors.Is(res.Err(), shared.ErrUnauthorized))
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, circuitbreaker.StateClosed, c.Breaker().State(), "4xx does not trip the breaker")
}

func TestServerError_RetriedThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`<html>bad gateway</html>`))
			return
		}
		_, _ = w.Write([]byte(`{"schoolYearId": "12"}`))
	})

	res := c.GetCurrentSchoolYear(context.Background())
	require.True(t, res.OK(), "%v", res.Err())
	assert.Equal(t, int32(3), calls.Load())
}

func TestServerError_ExhaustsAttempts(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	res := c.GetCurrentSchoolYear(context.Background())
	require.Equal(t, school.KindRemote, res.Kind())
	assert.True(t, errors.Is(res.Err(), shared.ErrServiceUnavailable))
	assert.Equal(t, int32(3), calls.Load())
}

func TestUnparsableClientError_IsUnmappable(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`not json`))
	})

	res := c.GetCurrentSchoolYear(context.Background())
	assert.Equal(t, school.KindUnmappable, res.Kind())
}

func TestBadSuccessBody_IsUnmappable(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"dailyStatistics": "nope"}`))
	})

	res := c.GetAttendance(context.Background(), "42", "12", testWindow())
	require.Equal(t, school.KindUnmappable, res.Kind())

	var unmappable *school.UnmappableError
	require.True(t, errors.As(res.Err(), &unmappable))
	assert.Contains(t, unmappable.Body, "nope")
}

func TestMissingSchoolYearID_IsUnmappable(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"name": "no id"}`))
	})

	res := c.GetCurrentSchoolYear(context.Background())
	require.Equal(t, school.KindUnmappable, res.Kind())
	assert.True(t, errors.Is(res.Err(), ErrMissingSchoolYear))
}

func TestTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	cfg := DefaultConfig("token")
	cfg.BaseURL = url
	cfg.MaxAttempts = 1
	c, err := NewClient(cfg)
	require.NoError(t, err)

	res := c.GetCurrentSchoolYear(context.Background())
	assert.Equal(t, school.KindTransport, res.Kind())
	assert.True(t, shared.IsRetryable(res.Err()))
}

func TestOpenBreaker_ShortCircuits(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	t.Cleanup(srv.Close)

	cb := circuitbreaker.New("test", circuitbreaker.WithFailureThreshold(1))
	_ = cb.Execute(context.Background(), func(context.Context) error { return errors.New("boom") })
	require.True(t, cb.IsOpen())

	cfg := DefaultConfig("token")
	cfg.BaseURL = srv.URL
	c, err := NewClient(cfg, WithBreaker(cb))
	require.NoError(t, err)

	res := c.GetCurrentSchoolYear(context.Background())
	assert.Equal(t, school.KindTransport, res.Kind())
	assert.True(t, errors.Is(res.Err(), circuitbreaker.ErrCircuitOpen))
	assert.Zero(t, calls.Load())
}
