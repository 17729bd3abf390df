package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func colombo(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Colombo")
	require.NoError(t, err)
	return loc
}

func TestNextRunUsesTimezone(t *testing.T) {
	loc := colombo(t)

	// 00:00 UTC = 05:30 в Коломбо, следующий запуск в 02:00 по местному времени будет на следующий день
	after := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	next, err := NextRun("0 2 * * *", after, loc)
	require.NoError(t, err)

	assert.Equal(t, time.Date(2026, 1, 2, 2, 0, 0, 0, loc), next)
	assert.Equal(t, time.Date(2026, 1, 1, 20, 30, 0, 0, time.UTC), next.UTC())

	next, err = NextRun("*/30 * * * *", time.Date(2026, 1, 1, 0, 10, 0, 0, time.UTC), loc)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 1, 1, 0, 30, 0, 0, time.UTC), next.UTC())

	_, err = NextRun("every now and then", after, loc)
	assert.Error(t, err)
}

func TestAddRejectsInvalidSpec(t *testing.T) {
	s := New(clockwork.NewFakeClock(), time.UTC, 0, nil)
	err := s.Add(Job{Name: "broken", Spec: "61 * * * *", Run: func(context.Context) {}})
	assert.Error(t, err)
}

func TestJobFiresOnSchedule(t *testing.T) {
	loc := colombo(t)
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 10, 20, 0, 0, loc))
	s := New(clock, loc, 0, nil)

	fired := make(chan time.Time, 4)
	require.NoError(t, s.Add(Job{
		Name: "ads:expire",
		Spec: "*/30 * * * *",
		Run:  func(context.Context) { fired <- clock.Now() },
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	wait, stop := context.WithTimeout(context.Background(), 2*time.Second)
	defer stop()

	require.NoError(t, clock.BlockUntilContext(wait, 1))
	clock.Advance(10 * time.Minute)

	select {
	case at := <-fired:
		assert.Equal(t, time.Date(2026, 3, 1, 10, 30, 0, 0, loc), at.In(loc))
	case <-wait.Done():
		t.Fatal("job did not fire")
	}

	require.NoError(t, clock.BlockUntilContext(wait, 1))
	clock.Advance(29 * time.Minute)
	select {
	case <-fired:
		t.Fatal("job fired early")
	default:
	}

	clock.Advance(time.Minute)
	select {
	case at := <-fired:
		assert.Equal(t, time.Date(2026, 3, 1, 11, 0, 0, 0, loc), at.In(loc))
	case <-wait.Done():
		t.Fatal("job did not fire second time")
	}

	cancel()
	require.NoError(t, <-done)
}

func TestStartupCatchUpRunsEveryJobOnce(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 10, 20, 0, 0, time.UTC))
	s := New(clock, time.UTC, 10*time.Second, nil)

	var warn, expire atomic.Int32
	require.NoError(t, s.Add(Job{Name: "warn", Spec: "0 */6 * * *", Run: func(context.Context) { warn.Add(1) }}))
	require.NoError(t, s.Add(Job{Name: "expire", Spec: "*/30 * * * *", Run: func(context.Context) { expire.Add(1) }}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	wait, stop := context.WithTimeout(context.Background(), 2*time.Second)
	defer stop()

	// два таймера заданий и таймер стартового запуска
	require.NoError(t, clock.BlockUntilContext(wait, 3))
	clock.Advance(10 * time.Second)

	require.Eventually(t, func() bool {
		return warn.Load() == 1 && expire.Load() == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, int32(1), warn.Load())
	assert.Equal(t, int32(1), expire.Load())
}

func TestPanickingJobDoesNotStopScheduler(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	s := New(clock, time.UTC, 0, nil)

	var calls atomic.Int32
	require.NoError(t, s.Add(Job{Name: "flaky", Spec: "@every 1m", Run: func(context.Context) {
		calls.Add(1)
		panic("boom")
	}}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	wait, stop := context.WithTimeout(context.Background(), 2*time.Second)
	defer stop()

	for range 2 {
		require.NoError(t, clock.BlockUntilContext(wait, 1))
		clock.Advance(time.Minute)
	}
	require.Eventually(t, func() bool { return calls.Load() >= 2 }, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
