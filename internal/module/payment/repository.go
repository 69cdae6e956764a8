package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/givestack/payments/internal/module/payment/provider"
)

// GormDedupIndex is the Postgres-backed DedupIndex. The insert races on
// the (processor, event_id) unique index, so exactly one delivery wins.
type GormDedupIndex struct {
	db *gorm.DB
	// staleAfter is how long an uncommitted claim blocks redeliveries
	// before it is treated as abandoned by a crashed worker.
	staleAfter time.Duration
}

// NewGormDedupIndex creates a database-backed dedup index.
func NewGormDedupIndex(db *gorm.DB) *GormDedupIndex {
	return &GormDedupIndex{db: db, staleAfter: 5 * time.Minute}
}

func (d *GormDedupIndex) Claim(ctx context.Context, processor, eventID string) (bool, error) {
	record := WebhookEventRecord{Processor: processor, EventID: eventID}
	err := d.db.WithContext(ctx).Create(&record).Error
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, gorm.ErrDuplicatedKey) {
		return false, fmt.Errorf("claim webhook event: %w", err)
	}

	var existing WebhookEventRecord
	if err := d.db.WithContext(ctx).
		First(&existing, "processor = ? AND event_id = ?", processor, eventID).Error; err != nil {
		return false, fmt.Errorf("load webhook event: %w", err)
	}
	if existing.Committed {
		return false, nil
	}
	if time.Since(existing.CreatedAt) > d.staleAfter {
		// Abandoned claim from a crashed worker. The takeover compares
		// against the created_at we just read, so of several workers
		// racing for the same stale claim exactly one update matches.
		res := d.db.WithContext(ctx).
			Model(&WebhookEventRecord{}).
			Where("processor = ? AND event_id = ? AND committed = false AND created_at = ?",
				processor, eventID, existing.CreatedAt).
			Update("created_at", time.Now())
		if res.Error != nil {
			return false, fmt.Errorf("reclaim webhook event: %w", res.Error)
		}
		if res.RowsAffected == 1 {
			return true, nil
		}
		// Lost the race, or the winner committed in the meantime.
		return false, ErrEventInFlight
	}
	return false, ErrEventInFlight
}

func (d *GormDedupIndex) Commit(ctx context.Context, processor, eventID string) error {
	now := time.Now()
	err := d.db.WithContext(ctx).
		Model(&WebhookEventRecord{}).
		Where("processor = ? AND event_id = ?", processor, eventID).
		Updates(map[string]any{"committed": true, "committed_at": &now}).Error
	if err != nil {
		return fmt.Errorf("commit webhook event: %w", err)
	}
	return nil
}

func (d *GormDedupIndex) Release(ctx context.Context, processor, eventID string) error {
	err := d.db.WithContext(ctx).
		Where("processor = ? AND event_id = ? AND committed = false", processor, eventID).
		Delete(&WebhookEventRecord{}).Error
	if err != nil {
		return fmt.Errorf("release webhook event: %w", err)
	}
	return nil
}

// GormIdempotencyStore is the Postgres-backed IdempotencyStore. Claims
// race on the primary key; waiters poll for the completed result.
type GormIdempotencyStore struct {
	db           *gorm.DB
	pollInterval time.Duration
}

// NewGormIdempotencyStore creates a database-backed idempotency store.
func NewGormIdempotencyStore(db *gorm.DB) *GormIdempotencyStore {
	return &GormIdempotencyStore{db: db, pollInterval: 100 * time.Millisecond}
}

func (s *GormIdempotencyStore) Begin(ctx context.Context, key, fingerprint string) ([]byte, bool, error) {
	// Expired completed records are claimable again.
	if err := s.db.WithContext(ctx).
		Where("key = ? AND completed = true AND expires_at IS NOT NULL AND expires_at < ?", key, time.Now()).
		Delete(&IdempotencyRecord{}).Error; err != nil {
		return nil, false, fmt.Errorf("expire idempotency record: %w", err)
	}

	record := IdempotencyRecord{Key: key, Fingerprint: fingerprint}
	err := s.db.WithContext(ctx).Create(&record).Error
	if err == nil {
		return nil, true, nil
	}
	if !errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, false, fmt.Errorf("claim idempotency key: %w", err)
	}

	var existing IdempotencyRecord
	if err := s.db.WithContext(ctx).First(&existing, "key = ?", key).Error; err != nil {
		return nil, false, fmt.Errorf("load idempotency record: %w", err)
	}
	if existing.Fingerprint != fingerprint {
		return nil, false, ErrIdempotencyConflict
	}
	if existing.Completed {
		return existing.Result, false, nil
	}
	return nil, false, nil
}

func (s *GormIdempotencyStore) Complete(ctx context.Context, key string, result []byte, ttl time.Duration) error {
	updates := map[string]any{"result": result, "completed": true}
	if ttl > 0 {
		expires := time.Now().Add(ttl)
		updates["expires_at"] = &expires
	}
	err := s.db.WithContext(ctx).
		Model(&IdempotencyRecord{}).
		Where("key = ?", key).
		Updates(updates).Error
	if err != nil {
		return fmt.Errorf("complete idempotency record: %w", err)
	}
	return nil
}

func (s *GormIdempotencyStore) Abort(ctx context.Context, key string) error {
	err := s.db.WithContext(ctx).
		Where("key = ? AND completed = false", key).
		Delete(&IdempotencyRecord{}).Error
	if err != nil {
		return fmt.Errorf("abort idempotency record: %w", err)
	}
	return nil
}

func (s *GormIdempotencyStore) Wait(ctx context.Context, key string) ([]byte, error) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		var record IdempotencyRecord
		err := s.db.WithContext(ctx).First(&record, "key = ?", key).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// The owner aborted; the caller should retry.
			return nil, ErrIdempotencyInFlight
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

// GormAuditLog persists accepted webhook events for reconciliation.
type GormAuditLog struct {
	db *gorm.DB
}

// NewGormAuditLog creates a database-backed audit log.
func NewGormAuditLog(db *gorm.DB) *GormAuditLog {
	return &GormAuditLog{db: db}
}

func (a *GormAuditLog) RecordEvent(ctx context.Context, event *provider.WebhookEvent) error {
	record := AuditEntryRecord{
		Processor:    event.Processor,
		EventID:      event.ExternalEventID,
		EventType:    string(event.Type),
		ProcessorRef: event.ProcessorRef,
		MandateRef:   event.MandateRef,
		AmountMinor:  event.AmountMinor,
		Currency:     event.Currency,
		Payload:      string(event.RawPayload),
		OccurredAt:   event.OccurredAt,
	}
	if err := a.db.WithContext(ctx).Create(&record).Error; err != nil {
		return fmt.Errorf("record audit entry: %w", err)
	}
	return nil
}
