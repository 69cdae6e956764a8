package payment

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/givestack/payments/internal/module/payment/provider"
)

func noSleep(ctx context.Context, d time.Duration) error { return nil }

func TestRetryPolicyFailTwiceThenSucceed(t *testing.T) {
	policy := DefaultRetryPolicy().WithSleeper(noSleep)
	transient := provider.NewError("mock", provider.KindTimeout, "deadline exceeded")

	calls := 0
	err := policy.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls <= 2 {
			return transient
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryPolicyNeverRetriesDeclines(t *testing.T) {
	policy := DefaultRetryPolicy().WithSleeper(noSleep)
	declined := provider.NewError("mock", provider.KindCardDeclined, "card declined")

	calls := 0
	err := policy.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return declined
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, provider.KindCardDeclined, provider.KindOf(err))
}

func TestRetryPolicyExhaustsBudget(t *testing.T) {
	policy := DefaultRetryPolicy().WithSleeper(noSleep)
	transient := provider.NewError("mock", provider.KindNetworkError, "connection reset")

	calls := 0
	err := policy.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return transient
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, provider.KindNetworkError, provider.KindOf(err))
}

func TestRetryPolicyBackoffDoublesUpToCap(t *testing.T) {
	var delays []time.Duration
	policy := DefaultRetryPolicy()
	policy.MaxAttempts = 5
	policy = policy.WithSleeper(func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	})

	transient := provider.NewError("mock", provider.KindTimeout, "timeout")
	_ = policy.Do(context.Background(), func(ctx context.Context) error { return transient })

	assert.Equal(t, []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 4 * time.Second,
	}, delays)
}

func TestRetryPolicyStopsWhenContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := DefaultRetryPolicy() // real sleeper; cancellation aborts the wait

	transient := provider.NewError("mock", provider.KindTimeout, "timeout")
	calls := 0
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	err := policy.Do(ctx, func(ctx context.Context) error {
		calls++
		return transient
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}
