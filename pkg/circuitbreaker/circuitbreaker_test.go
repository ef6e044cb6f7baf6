package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func fail(context.Context) error    { return errBoom }
func succeed(context.Context) error { return nil }

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	var transitions []string
	cb := New("test",
		WithFailureThreshold(2),
		WithTimeout(time.Hour),
		WithOnStateChange(func(_ string, from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		}),
	)

	assert.ErrorIs(t, cb.Execute(context.Background(), fail), errBoom)
	assert.True(t, cb.IsClosed())
	assert.ErrorIs(t, cb.Execute(context.Background(), fail), errBoom)
	assert.True(t, cb.IsOpen())

	assert.ErrorIs(t, cb.Execute(context.Background(), succeed), ErrCircuitOpen)
	assert.Equal(t, []string{"closed->open"}, transitions)
}

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func TestBreaker_HalfOpenRecovers(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 9, 2, 8, 0, 0, 0, time.UTC)}
	cb := New("test", WithFailureThreshold(1), WithSuccessThreshold(1), WithTimeout(time.Minute), WithClock(clock.Now))

	_ = cb.Execute(context.Background(), fail)
	require.True(t, cb.IsOpen())
	assert.Equal(t, clock.now, cb.Snapshot().OpenedAt)

	clock.Advance(59 * time.Second)
	assert.ErrorIs(t, cb.Execute(context.Background(), succeed), ErrCircuitOpen)

	clock.Advance(time.Second)
	require.NoError(t, cb.Execute(context.Background(), succeed))
	assert.True(t, cb.IsClosed())
	assert.True(t, cb.Snapshot().OpenedAt.IsZero())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 9, 2, 8, 0, 0, 0, time.UTC)}
	cb := New("test", WithFailureThreshold(1), WithTimeout(time.Second), WithClock(clock.Now))

	_ = cb.Execute(context.Background(), fail)
	clock.Advance(time.Second)

	assert.ErrorIs(t, cb.Execute(context.Background(), fail), errBoom)
	assert.True(t, cb.IsOpen())
	assert.ErrorIs(t, cb.Execute(context.Background(), succeed), ErrCircuitOpen)
}

func TestBreaker_HalfOpenLimitsProbes(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 9, 2, 8, 0, 0, 0, time.UTC)}
	cb := New("test", WithFailureThreshold(1), WithTimeout(time.Second), WithClock(clock.Now))

	_ = cb.Execute(context.Background(), fail)
	clock.Advance(time.Second)

	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		return cb.Execute(ctx, succeed)
	})
	assert.ErrorIs(t, err, ErrTooManyRequests)
}

func TestBreaker_CallerCancellationIsNotRecorded(t *testing.T) {
	cb := New("test", WithFailureThreshold(1))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := cb.Execute(ctx, func(ctx context.Context) error { return ctx.Err() })
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, cb.IsClosed())
	assert.Zero(t, cb.Snapshot().Counts.Requests)
}

func TestBreaker_IsFailureFiltersErrors(t *testing.T) {
	clientErr := errors.New("bad request")
	cb := New("test",
		WithFailureThreshold(1),
		WithIsFailure(func(err error) bool { return !errors.Is(err, clientErr) }),
	)

	for i := 0; i < 5; i++ {
		_ = cb.Execute(context.Background(), func(context.Context) error { return clientErr })
	}
	assert.True(t, cb.IsClosed())
	assert.Equal(t, 5, cb.Snapshot().Counts.TotalSuccesses)
}

func TestCall_ReturnsValue(t *testing.T) {
	cb := SchoolAPIBreaker(nil)

	v, err := Call(context.Background(), cb, func(context.Context) (int, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	_, err = Call(context.Background(), cb, func(context.Context) (int, error) { return 0, errBoom })
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, "school-api", cb.Snapshot().Name)
	assert.Equal(t, "closed", cb.Snapshot().State)
}

func TestPresets(t *testing.T) {
	assert.Equal(t, "bark", BarkBreaker(nil).Name())
	assert.Equal(t, "database", DatabaseBreaker(nil).Name())
}

func TestPresets_OptionsOverrideDefaults(t *testing.T) {
	var opened []string
	cb := SchoolAPIBreaker(func(name string, _, to State) {
		opened = append(opened, name+":"+to.String())
	}, WithFailureThreshold(1))

	_ = cb.Execute(context.Background(), fail)
	assert.True(t, cb.IsOpen())
	assert.Equal(t, []string{"school-api:open"}, opened)

	text, err := cb.State().MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "open", string(text))
}
