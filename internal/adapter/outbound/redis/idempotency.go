package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/givestack/payments/internal/module/payment"
)

const (
	idempotencyKeyPrefix = "payments:idem:"

	// claimTTL bounds how long an in-flight claim blocks other callers
	// before it is treated as abandoned.
	claimTTL = 2 * time.Minute

	waitPollInterval = 100 * time.Millisecond
)

type idemRecord struct {
	Fingerprint string `json:"fingerprint"`
	Completed   bool   `json:"completed"`
	Result      []byte `json:"result,omitempty"`
}

// idempotencyStoreAdapter implements payment.IdempotencyStore on Redis.
// Claims use SET NX so exactly one caller wins; waiters poll for the
// completed record.
type idempotencyStoreAdapter struct {
	client *redis.Client
}

// NewIdempotencyStoreAdapter creates a Redis-backed idempotency store.
func NewIdempotencyStoreAdapter(client *redis.Client) payment.IdempotencyStore {
	return &idempotencyStoreAdapter{client: client}
}

func (a *idempotencyStoreAdapter) Begin(ctx context.Context, key, fingerprint string) ([]byte, bool, error) {
	claim, err := json.Marshal(idemRecord{Fingerprint: fingerprint})
	if err != nil {
		return nil, false, fmt.Errorf("marshal idempotency claim: %w", err)
	}

	acquired, err := a.client.SetNX(ctx, idempotencyKeyPrefix+key, claim, claimTTL).Result()
	if err != nil {
		return nil, false, fmt.Errorf("claim idempotency key: %w", err)
	}
	if acquired {
		return nil, true, nil
	}

	existing, err := a.load(ctx, key)
	if err == redis.Nil {
		// The claim expired between SetNX and Get; treat as in flight.
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load idempotency record: %w", err)
	}
	if existing.Fingerprint != fingerprint {
		return nil, false, payment.ErrIdempotencyConflict
	}
	if existing.Completed {
		return existing.Result, false, nil
	}
	return nil, false, nil
}

func (a *idempotencyStoreAdapter) Complete(ctx context.Context, key string, result []byte, ttl time.Duration) error {
	existing, err := a.load(ctx, key)
	if err == redis.Nil {
		existing = idemRecord{}
	} else if err != nil {
		return fmt.Errorf("load idempotency record: %w", err)
	}

	existing.Completed = true
	existing.Result = result
	data, err := json.Marshal(existing)
	if err != nil {
		return fmt.Errorf("marshal idempotency record: %w", err)
	}
	return a.client.Set(ctx, idempotencyKeyPrefix+key, data, ttl).Err()
}

func (a *idempotencyStoreAdapter) Abort(ctx context.Context, key string) error {
	return a.client.Del(ctx, idempotencyKeyPrefix+key).Err()
}

func (a *idempotencyStoreAdapter) Wait(ctx context.Context, key string) ([]byte, error) {
	ticker := time.NewTicker(waitPollInterval)
	defer ticker.Stop()
	for {
		record, err := a.load(ctx, key)
		if err == redis.Nil {
			// The owner aborted; the caller should retry.
			return nil, payment.ErrIdempotencyInFlight
		}
		if err != nil {
			return nil, fmt.Errorf("poll idempotency record: %w", err)
		}
		if record.Completed {
			return record.Result, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (a *idempotencyStoreAdapter) load(ctx context.Context, key string) (idemRecord, error) {
	val, err := a.client.Get(ctx, idempotencyKeyPrefix+key).Result()
	if err != nil {
		return idemRecord{}, err
	}
	var record idemRecord
	if err := json.Unmarshal([]byte(val), &record); err != nil {
		return idemRecord{}, fmt.Errorf("unmarshal idempotency record: %w", err)
	}
	return record, nil
}

// Compile-time check
var _ payment.IdempotencyStore = (*idempotencyStoreAdapter)(nil)
