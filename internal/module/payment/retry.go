package payment

import (
	"context"
	"time"

	"github.com/givestack/payments/internal/module/payment/provider"
)

// RetryPolicy wraps processor calls with exponential backoff. Only
// transient classifications (network, timeout, 5xx) are retried; business
// declines are surfaced immediately since retrying cannot change the
// outcome. Callers must reuse the identical idempotency key across
// attempts so repeats are no-ops processor-side.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration

	// sleep is injectable for tests; nil means real sleeping.
	sleep func(ctx context.Context, d time.Duration) error
}

// DefaultRetryPolicy returns the documented defaults: 3 attempts, 1s
// initial delay doubling up to a 4s cap.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: time.Second,
		MaxDelay:     4 * time.Second,
	}
}

// WithSleeper returns a copy of the policy using the given sleep function.
func (p RetryPolicy) WithSleeper(sleep func(ctx context.Context, d time.Duration) error) RetryPolicy {
	p.sleep = sleep
	return p
}

// Do runs fn until it succeeds, returns a non-transient error, or the
// attempt budget is exhausted. The first attempt is immediate.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	delay := p.InitialDelay
	var err error
	for attempt := 1; ; attempt++ {
		err = fn(ctx)
		if err == nil || !provider.IsTransient(err) || attempt >= attempts {
			return err
		}
		if sleepErr := sleep(ctx, delay); sleepErr != nil {
			return err
		}
		delay *= 2
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
