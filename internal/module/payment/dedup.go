package payment

import (
	"context"
	"sync"
)

// DedupIndex enforces uniqueness over (processor, external event id) so
// redelivered webhooks are processed at most once to completion. Claim is
// an atomic insert-if-absent; Commit happens only after the handler
// succeeds, so a failed delivery is safe to retry.
type DedupIndex interface {
	// Claim atomically marks the event in flight. Returns false when the
	// event was already committed, or ErrEventInFlight when another
	// delivery is processing it right now.
	Claim(ctx context.Context, processor, eventID string) (bool, error)

	// Commit records the event as fully handled.
	Commit(ctx context.Context, processor, eventID string) error

	// Release drops an uncommitted claim after a handler failure.
	Release(ctx context.Context, processor, eventID string) error
}

type dedupState int

const (
	dedupInFlight dedupState = iota
	dedupCommitted
)

// MemoryDedupIndex is a single-process DedupIndex.
type MemoryDedupIndex struct {
	mu     sync.Mutex
	events map[string]dedupState
}

// NewMemoryDedupIndex creates an in-memory dedup index.
func NewMemoryDedupIndex() *MemoryDedupIndex {
	return &MemoryDedupIndex{events: make(map[string]dedupState)}
}

func dedupKey(processor, eventID string) string {
	return processor + ":" + eventID
}

func (d *MemoryDedupIndex) Claim(ctx context.Context, processor, eventID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := dedupKey(processor, eventID)
	state, ok := d.events[key]
	if !ok {
		d.events[key] = dedupInFlight
		return true, nil
	}
	if state == dedupCommitted {
		return false, nil
	}
	return false, ErrEventInFlight
}

func (d *MemoryDedupIndex) Commit(ctx context.Context, processor, eventID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events[dedupKey(processor, eventID)] = dedupCommitted
	return nil
}

func (d *MemoryDedupIndex) Release(ctx context.Context, processor, eventID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := dedupKey(processor, eventID)
	if state, ok := d.events[key]; ok && state == dedupInFlight {
		delete(d.events, key)
	}
	return nil
}
