package payment

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// IdempotencyStore makes side-effecting operations safe under retry and
// duplicate submission. The contract, and the single most safety-critical
// invariant in this module: at most one external side-effecting call per
// key. Begin is an atomic check-and-claim, never a separate read then
// write.
type IdempotencyStore interface {
	// Begin atomically checks key and claims it when absent.
	// Returns the stored result when a completed one exists, or
	// acquired=true when this caller owns the claim and must call
	// Complete or Abort. Neither means another caller is in flight;
	// use Wait. A fingerprint mismatch on an existing key returns
	// ErrIdempotencyConflict: a reused key with different parameters is
	// a caller bug, never silently accepted.
	Begin(ctx context.Context, key, fingerprint string) (result []byte, acquired bool, err error)

	// Complete stores the result under key for ttl and releases waiters.
	Complete(ctx context.Context, key string, result []byte, ttl time.Duration) error

	// Abort releases the claim after a failed operation so a later
	// retry can attempt again.
	Abort(ctx context.Context, key string) error

	// Wait blocks until the in-flight operation for key completes and
	// returns its result. Returns ErrIdempotencyInFlight when the
	// operation was aborted and the caller should retry shortly.
	Wait(ctx context.Context, key string) ([]byte, error)
}

// Fingerprint hashes operation parameters so a reused key with different
// input is detectable.
func Fingerprint(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// getOrCompute runs compute at most once per key. Concurrent callers
// sharing a key block on the first caller's result; repeated calls return
// the stored bytes unchanged.
func getOrCompute(ctx context.Context, store IdempotencyStore, key, fingerprint string, ttl time.Duration, compute func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	result, acquired, err := store.Begin(ctx, key, fingerprint)
	if err != nil {
		return nil, err
	}
	if result != nil {
		return result, nil
	}
	if !acquired {
		return store.Wait(ctx, key)
	}

	out, err := compute(ctx)
	if err != nil {
		_ = store.Abort(ctx, key)
		return nil, err
	}
	if err := store.Complete(ctx, key, out, ttl); err != nil {
		return nil, err
	}
	return out, nil
}

// --- In-memory implementation ---

type memIdemEntry struct {
	fingerprint string
	result      []byte
	completed   bool
	expiresAt   time.Time
	done        chan struct{}
}

// MemoryIdempotencyStore is a single-process IdempotencyStore. Waiters
// block on a per-entry channel closed by Complete or Abort.
type MemoryIdempotencyStore struct {
	mu      sync.Mutex
	entries map[string]*memIdemEntry
	now     func() time.Time
}

// NewMemoryIdempotencyStore creates an in-memory store.
func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{
		entries: make(map[string]*memIdemEntry),
		now:     time.Now,
	}
}

func (s *MemoryIdempotencyStore) Begin(ctx context.Context, key, fingerprint string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if ok && entry.completed && !entry.expiresAt.IsZero() && s.now().After(entry.expiresAt) {
		delete(s.entries, key)
		ok = false
	}
	if ok {
		if entry.fingerprint != fingerprint {
			return nil, false, ErrIdempotencyConflict
		}
		if entry.completed {
			return entry.result, false, nil
		}
		return nil, false, nil
	}

	s.entries[key] = &memIdemEntry{
		fingerprint: fingerprint,
		done:        make(chan struct{}),
	}
	return nil, true, nil
}

func (s *MemoryIdempotencyStore) Complete(ctx context.Context, key string, result []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return nil
	}
	entry.result = result
	entry.completed = true
	if ttl > 0 {
		entry.expiresAt = s.now().Add(ttl)
	}
	close(entry.done)
	return nil
}

func (s *MemoryIdempotencyStore) Abort(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok || entry.completed {
		return nil
	}
	delete(s.entries, key)
	close(entry.done)
	return nil
}

func (s *MemoryIdempotencyStore) Wait(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	entry, ok := s.entries[key]
	s.mu.Unlock()
	if !ok {
		return nil, ErrIdempotencyInFlight
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-entry.done:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.entries[key]; ok && current.completed {
		return current.result, nil
	}
	// First caller aborted; tell this one to retry shortly.
	return nil, ErrIdempotencyInFlight
}
