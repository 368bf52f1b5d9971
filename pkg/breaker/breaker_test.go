package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bastionhq/bastion/pkg/types"
)

var errDependency = errors.New("dependency failed")

// fakeClock lets tests drive the cooldown without real waits
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func newTestBreaker(cfg Config) (*Breaker, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 1, 9, 10, 0, 0, 0, time.UTC)}
	b := New("test", cfg)
	b.now = clock.Now
	return b, clock
}

func failN(t *testing.T, b *Breaker, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		err := b.Execute(context.Background(), func(ctx context.Context) error {
			return errDependency
		})
		require.ErrorIs(t, err, errDependency)
	}
}

func TestBreaker_StartsClosed(t *testing.T) {
	b, _ := newTestBreaker(Config{FailureThreshold: 3, Cooldown: time.Minute, HalfOpenSuccesses: 2})

	assert.Equal(t, types.BreakerClosed, b.Status())

	snap := b.Snapshot()
	assert.Equal(t, 0, snap.ConsecutiveFailures)
	assert.True(t, snap.LastFailureAt.IsZero())
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	b, _ := newTestBreaker(Config{FailureThreshold: 3, Cooldown: time.Minute, HalfOpenSuccesses: 2})

	failN(t, b, 3)
	assert.Equal(t, types.BreakerOpen, b.Status())

	// The next call is rejected without invoking the dependency
	invoked := false
	err := b.Execute(context.Background(), func(ctx context.Context) error {
		invoked = true
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, invoked)
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b, _ := newTestBreaker(Config{FailureThreshold: 3, Cooldown: time.Minute, HalfOpenSuccesses: 2})

	failN(t, b, 2)
	err := b.Execute(context.Background(), func(ctx context.Context) error {
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 0, b.Snapshot().ConsecutiveFailures)

	// Two more failures stay under the threshold after the reset
	failN(t, b, 2)
	assert.Equal(t, types.BreakerClosed, b.Status())
}

func TestBreaker_CooldownAllowsProbes(t *testing.T) {
	b, clock := newTestBreaker(Config{FailureThreshold: 1, Cooldown: time.Minute, HalfOpenSuccesses: 2})

	failN(t, b, 1)
	assert.ErrorIs(t, b.Execute(context.Background(), func(ctx context.Context) error { return nil }), ErrCircuitOpen)

	clock.Advance(time.Minute)

	// First probe succeeds but one success is not enough to close
	err := b.Execute(context.Background(), func(ctx context.Context) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, types.BreakerHalfOpen, b.Snapshot().Status)
	assert.Equal(t, 1, b.Snapshot().HalfOpenSuccesses)

	// Second probe success closes the breaker and resets counters
	err = b.Execute(context.Background(), func(ctx context.Context) error { return nil })
	require.NoError(t, err)

	snap := b.Snapshot()
	assert.Equal(t, types.BreakerClosed, snap.Status)
	assert.Equal(t, 0, snap.ConsecutiveFailures)
	assert.Equal(t, 0, snap.HalfOpenSuccesses)
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b, clock := newTestBreaker(Config{FailureThreshold: 1, Cooldown: time.Minute, HalfOpenSuccesses: 2})

	failN(t, b, 1)
	clock.Advance(time.Minute)

	// Probe fails: straight back to open with a fresh cooldown
	err := b.Execute(context.Background(), func(ctx context.Context) error { return errDependency })
	require.ErrorIs(t, err, errDependency)
	assert.Equal(t, types.BreakerOpen, b.Snapshot().Status)

	// Cooldown restarted: still rejecting before it elapses again
	clock.Advance(30 * time.Second)
	assert.ErrorIs(t, b.Execute(context.Background(), func(ctx context.Context) error { return nil }), ErrCircuitOpen)

	clock.Advance(30 * time.Second)
	require.NoError(t, b.Execute(context.Background(), func(ctx context.Context) error { return nil }))
}

func TestBreaker_StatusAndSnapshotAgreeAfterCooldown(t *testing.T) {
	b, clock := newTestBreaker(Config{FailureThreshold: 1, Cooldown: time.Minute, HalfOpenSuccesses: 2})

	failN(t, b, 1)
	assert.Equal(t, types.BreakerOpen, b.Status())
	assert.Equal(t, types.BreakerOpen, b.Snapshot().Status)

	// Cooldown elapsed, no probe has run yet: both views report the
	// state the next call would see
	clock.Advance(time.Minute)
	assert.Equal(t, types.BreakerHalfOpen, b.Status())
	assert.Equal(t, types.BreakerHalfOpen, b.Snapshot().Status)
}

func TestBreaker_OnStateChangeNotifications(t *testing.T) {
	type change struct {
		from, to types.BreakerStatus
	}
	var changes []change

	clock := &fakeClock{now: time.Date(2026, 1, 9, 10, 0, 0, 0, time.UTC)}
	b := New("test", Config{
		FailureThreshold:  1,
		Cooldown:          time.Minute,
		HalfOpenSuccesses: 1,
		OnStateChange: func(name string, from, to types.BreakerStatus) {
			assert.Equal(t, "test", name)
			changes = append(changes, change{from, to})
		},
	})
	b.now = clock.Now

	failN(t, b, 1)
	clock.Advance(time.Minute)
	require.NoError(t, b.Execute(context.Background(), func(ctx context.Context) error { return nil }))

	assert.Equal(t, []change{
		{types.BreakerClosed, types.BreakerOpen},
		{types.BreakerOpen, types.BreakerHalfOpen},
		{types.BreakerHalfOpen, types.BreakerClosed},
	}, changes)
}

func TestBreaker_TimeoutCountsAsFailure(t *testing.T) {
	b, _ := newTestBreaker(Config{FailureThreshold: 1, Cooldown: time.Minute, HalfOpenSuccesses: 1, CallTimeout: 10 * time.Millisecond})

	err := b.Execute(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.Error(t, err)
	assert.Equal(t, types.BreakerOpen, b.Snapshot().Status)
}

func TestBreaker_ConcurrentCallers(t *testing.T) {
	b, _ := newTestBreaker(Config{FailureThreshold: 1000, Cooldown: time.Minute, HalfOpenSuccesses: 2})

	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for j := 0; j < 100; j++ {
				_ = b.Execute(context.Background(), func(ctx context.Context) error {
					if j%2 == 0 {
						return errDependency
					}
					return nil
				})
			}
		}()
	}
	for i := 0; i < 8; i++ {
		<-done
	}

	// No panic, state remains coherent
	assert.Equal(t, types.BreakerClosed, b.Status())
}
