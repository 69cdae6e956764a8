package payment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetOrComputeRunsOnce(t *testing.T) {
	store := NewMemoryIdempotencyStore()
	ctx := context.Background()
	fp := Fingerprint("5000", "usd")

	calls := 0
	compute := func(ctx context.Context) ([]byte, error) {
		calls++
		return []byte(`{"processor_ref":"pi_1"}`), nil
	}

	first, err := getOrCompute(ctx, store, "key-1", fp, time.Hour, compute)
	require.NoError(t, err)

	second, err := getOrCompute(ctx, store, "key-1", fp, time.Hour, compute)
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	assert.Equal(t, first, second, "repeated calls must return byte-identical results")
}

func TestGetOrComputeConcurrentSingleFlight(t *testing.T) {
	store := NewMemoryIdempotencyStore()
	ctx := context.Background()
	fp := Fingerprint("5000", "usd")

	var mu sync.Mutex
	calls := 0
	compute := func(ctx context.Context) ([]byte, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		time.Sleep(20 * time.Millisecond) // hold the claim so others must wait
		return []byte(`{"processor_ref":"pi_1"}`), nil
	}

	const n = 16
	results := make([][]byte, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = getOrCompute(ctx, store, "key-1", fp, time.Hour, compute)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, calls, "exactly one underlying call")
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0], results[i], "all callers must observe the same result")
	}
}

func TestGetOrComputeFingerprintConflict(t *testing.T) {
	store := NewMemoryIdempotencyStore()
	ctx := context.Background()

	_, err := getOrCompute(ctx, store, "key-1", Fingerprint("5000"), time.Hour, func(ctx context.Context) ([]byte, error) {
		return []byte("a"), nil
	})
	require.NoError(t, err)

	_, err = getOrCompute(ctx, store, "key-1", Fingerprint("9999"), time.Hour, func(ctx context.Context) ([]byte, error) {
		t.Fatal("must not invoke the operation on a conflicting key")
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrIdempotencyConflict)
}

func TestGetOrComputeAbortAllowsRetry(t *testing.T) {
	store := NewMemoryIdempotencyStore()
	ctx := context.Background()
	fp := Fingerprint("5000")
	boom := errors.New("processor unavailable")

	_, err := getOrCompute(ctx, store, "key-1", fp, time.Hour, func(ctx context.Context) ([]byte, error) {
		return nil, boom
	})
	require.ErrorIs(t, err, boom)

	// Failure released the claim; a retry computes again.
	result, err := getOrCompute(ctx, store, "key-1", fp, time.Hour, func(ctx context.Context) ([]byte, error) {
		return []byte("ok"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), result)
}

func TestMemoryIdempotencyStoreExpiry(t *testing.T) {
	store := NewMemoryIdempotencyStore()
	current := time.Now()
	store.now = func() time.Time { return current }
	ctx := context.Background()
	fp := Fingerprint("5000")

	_, acquired, err := store.Begin(ctx, "key-1", fp)
	require.NoError(t, err)
	require.True(t, acquired)
	require.NoError(t, store.Complete(ctx, "key-1", []byte("a"), 24*time.Hour))

	result, _, err := store.Begin(ctx, "key-1", fp)
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), result)

	// Past expiry the record is gone and the key claimable again.
	current = current.Add(25 * time.Hour)
	result, acquired, err = store.Begin(ctx, "key-1", fp)
	require.NoError(t, err)
	assert.Nil(t, result)
	assert.True(t, acquired)
}
