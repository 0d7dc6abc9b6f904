package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GTDGit/conversion_api/internal/service"
	"github.com/GTDGit/conversion_api/internal/utils"
)

var epoch = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

// fakeClock advances instantly on Sleep and cancels the run once the
// horizon is reached.
type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	horizon time.Time
	cancel  context.CancelFunc
	sleeps  []time.Duration
}

func newFakeClock(horizon time.Duration, cancel context.CancelFunc) *fakeClock {
	return &fakeClock{now: epoch, horizon: epoch.Add(horizon), cancel: cancel}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	if c.now.Add(d).After(c.horizon) {
		c.cancel()
		return context.Canceled
	}
	c.now = c.now.Add(d)
	return nil
}

// advance simulates work taking d inside a run.
func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestRetryPolicy_StopsOnSuccess(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clock := newFakeClock(time.Hour, cancel)

	calls := 0
	attempts, err := RetryPolicy{MaxRetries: 3, Delay: 5 * time.Minute}.Run(ctx, clock, func(context.Context) error {
		calls++
		if calls < 2 {
			return errors.New("boom")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, []time.Duration{5 * time.Minute}, clock.sleeps)
}

func TestRetryPolicy_Exhausts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clock := newFakeClock(time.Hour, cancel)

	attempts, err := RetryPolicy{MaxRetries: 3, Delay: 5 * time.Minute}.Run(ctx, clock, func(context.Context) error {
		return errors.New("boom")
	})
	assert.EqualError(t, err, "boom")
	assert.Equal(t, 4, attempts)
	assert.Equal(t, epoch.Add(15*time.Minute), clock.Now())
}

func TestPeriodicTask_FiresOnPeriod(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clock := newFakeClock(49*time.Hour, cancel)

	var fired []time.Time
	task := &PeriodicTask{
		Name:   "test",
		Period: 12 * time.Hour,
		Clock:  clock,
		Run: func(context.Context) error {
			fired = append(fired, clock.Now())
			return nil
		},
	}
	task.Start(ctx)

	assert.Equal(t, []time.Time{
		epoch.Add(12 * time.Hour),
		epoch.Add(24 * time.Hour),
		epoch.Add(36 * time.Hour),
		epoch.Add(48 * time.Hour),
	}, fired)
}

func TestPeriodicTask_RunImmediately(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clock := newFakeClock(13*time.Hour, cancel)

	var fired []time.Time
	task := &PeriodicTask{
		Period:         12 * time.Hour,
		Clock:          clock,
		RunImmediately: true,
		Run: func(context.Context) error {
			fired = append(fired, clock.Now())
			return nil
		},
	}
	task.Start(ctx)

	assert.Equal(t, []time.Time{epoch, epoch.Add(12 * time.Hour)}, fired)
}

func TestPeriodicTask_SkipsMissedSlots(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clock := newFakeClock(61*time.Hour, cancel)

	var fired []time.Time
	task := &PeriodicTask{
		Period: 12 * time.Hour,
		Clock:  clock,
		Run: func(context.Context) error {
			fired = append(fired, clock.Now())
			if len(fired) == 1 {
				// a hung first cycle overruns two slots
				clock.advance(30 * time.Hour)
			}
			return nil
		},
	}
	task.Start(ctx)

	assert.Equal(t, []time.Time{
		epoch.Add(12 * time.Hour),
		epoch.Add(48 * time.Hour),
		epoch.Add(60 * time.Hour),
	}, fired)
}

type scriptedRefresher struct {
	clock *fakeClock
	fn    func(n int) error
	calls []time.Time
}

func (r *scriptedRefresher) Refresh(context.Context) (*service.RefreshResult, error) {
	r.calls = append(r.calls, r.clock.Now())
	if err := r.fn(len(r.calls)); err != nil {
		return nil, err
	}
	return &service.RefreshResult{ExpiresIn: 86400, RefreshedAt: r.clock.Now()}, nil
}

func TestTokenRefreshWorker_FailuresDoNotAccelerateNextCycle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clock := newFakeClock(25*time.Hour, cancel)

	ref := &scriptedRefresher{clock: clock, fn: func(n int) error {
		if n <= 4 {
			return errors.New("upstream 500")
		}
		return nil
	}}
	w := NewTokenRefreshWorker(ref, 12*time.Hour, RetryPolicy{MaxRetries: 3, Delay: 5 * time.Minute}, clock, false)
	w.Start(ctx)

	// first cycle: initial attempt plus three retries, then nothing until the next slot
	require.Len(t, ref.calls, 5)
	assert.Equal(t, []time.Time{
		epoch.Add(12 * time.Hour),
		epoch.Add(12*time.Hour + 5*time.Minute),
		epoch.Add(12*time.Hour + 10*time.Minute),
		epoch.Add(12*time.Hour + 15*time.Minute),
		epoch.Add(24 * time.Hour),
	}, ref.calls)
}

func TestTokenRefreshWorker_InProgressIsNotRetried(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clock := newFakeClock(13*time.Hour, cancel)

	ref := &scriptedRefresher{clock: clock, fn: func(int) error { return utils.ErrRefreshInProgress }}
	w := NewTokenRefreshWorker(ref, 12*time.Hour, RetryPolicy{MaxRetries: 3, Delay: 5 * time.Minute}, clock, false)
	w.Start(ctx)

	assert.Len(t, ref.calls, 1)
}

func TestRealClock_SleepHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, SystemClock.Sleep(ctx, time.Hour), context.Canceled)
	assert.NoError(t, SystemClock.Sleep(context.Background(), time.Millisecond))
}
