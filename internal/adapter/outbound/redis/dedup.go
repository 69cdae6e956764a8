package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/givestack/payments/internal/module/payment"
)

const (
	dedupKeyPrefix = "payments:webhook:"

	// dedupClaimTTL bounds an uncommitted claim so a crashed worker
	// cannot block a redelivery forever.
	dedupClaimTTL = 5 * time.Minute

	dedupInFlight  = "inflight"
	dedupCommitted = "committed"
)

// dedupIndexAdapter implements payment.DedupIndex on Redis. SET NX makes
// the claim atomic; committed markers carry the deduplication TTL.
type dedupIndexAdapter struct {
	client *redis.Client
	// committedTTL is how long a committed event keeps rejecting
	// redeliveries.
	committedTTL time.Duration
}

// NewDedupIndexAdapter creates a Redis-backed webhook dedup index.
func NewDedupIndexAdapter(client *redis.Client, committedTTL time.Duration) payment.DedupIndex {
	if committedTTL <= 0 {
		committedTTL = 72 * time.Hour
	}
	return &dedupIndexAdapter{client: client, committedTTL: committedTTL}
}

func dedupKey(processor, eventID string) string {
	return dedupKeyPrefix + processor + ":" + eventID
}

func (a *dedupIndexAdapter) Claim(ctx context.Context, processor, eventID string) (bool, error) {
	key := dedupKey(processor, eventID)
	acquired, err := a.client.SetNX(ctx, key, dedupInFlight, dedupClaimTTL).Result()
	if err != nil {
		return false, fmt.Errorf("claim webhook event: %w", err)
	}
	if acquired {
		return true, nil
	}

	state, err := a.client.Get(ctx, key).Result()
	if err == redis.Nil {
		// Expired between SetNX and Get; next delivery claims it.
		return false, payment.ErrEventInFlight
	}
	if err != nil {
		return false, fmt.Errorf("load webhook event state: %w", err)
	}
	if state == dedupCommitted {
		return false, nil
	}
	return false, payment.ErrEventInFlight
}

func (a *dedupIndexAdapter) Commit(ctx context.Context, processor, eventID string) error {
	return a.client.Set(ctx, dedupKey(processor, eventID), dedupCommitted, a.committedTTL).Err()
}

func (a *dedupIndexAdapter) Release(ctx context.Context, processor, eventID string) error {
	return a.client.Del(ctx, dedupKey(processor, eventID)).Err()
}

// Compile-time check
var _ payment.DedupIndex = (*dedupIndexAdapter)(nil)
