package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Clock abstracts time so schedules can be driven by a fake in tests.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done, in which case it returns ctx.Err().
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

// SystemClock is the wall clock.
var SystemClock Clock = realClock{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RetryPolicy bounds the attempts of one cycle: the first try plus up to
// MaxRetries more, Delay apart.
type RetryPolicy struct {
	MaxRetries int
	Delay      time.Duration
}

// Run calls fn until it succeeds or the policy is exhausted. It returns the
// number of attempts made and the last error.
func (p RetryPolicy) Run(ctx context.Context, clock Clock, fn func(context.Context) error) (int, error) {
	var err error
	attempts := 0
	for {
		attempts++
		if err = fn(ctx); err == nil {
			return attempts, nil
		}
		if attempts > p.MaxRetries {
			return attempts, err
		}
		if serr := clock.Sleep(ctx, p.Delay); serr != nil {
			return attempts, err
		}
	}
}

// PeriodicTask runs Run at Start+n*Period. Retries stay inside their cycle
// and never move the next one; slots that already passed are skipped.
type PeriodicTask struct {
	Name           string
	Period         time.Duration
	Policy         RetryPolicy
	Clock          Clock
	RunImmediately bool
	Run            func(context.Context) error
	// OnExhausted is called when a cycle ends without success.
	OnExhausted func(attempts int, err error)
}

// Start blocks until ctx is done.
func (t *PeriodicTask) Start(ctx context.Context) {
	clock := t.Clock
	if clock == nil {
		clock = SystemClock
	}
	start := clock.Now()

	if t.RunImmediately {
		t.cycle(ctx, clock)
	}

	n := int64(1)
	for {
		if k := int64(clock.Now().Sub(start)/t.Period) + 1; k > n {
			log.Warn().Str("task", t.Name).Int64("skipped", k-n).Msg("Skipping missed cycles")
			n = k
		}
		next := start.Add(time.Duration(n) * t.Period)
		if err := clock.Sleep(ctx, next.Sub(clock.Now())); err != nil {
			return
		}
		t.cycle(ctx, clock)
		n++
	}
}

func (t *PeriodicTask) cycle(ctx context.Context, clock Clock) {
	attempts, err := t.Policy.Run(ctx, clock, t.Run)
	if err == nil {
		return
	}
	if ctx.Err() != nil {
		return
	}
	if t.OnExhausted != nil {
		t.OnExhausted(attempts, err)
	}
}
