package payment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/givestack/payments/internal/module/payment/provider"
)

type recordingHandler struct {
	mu     sync.Mutex
	events []*provider.WebhookEvent
	fail   error
}

func (h *recordingHandler) HandleEvent(ctx context.Context, event *provider.WebhookEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.fail != nil {
		err := h.fail
		h.fail = nil
		return err
	}
	h.events = append(h.events, event)
	return nil
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.events)
}

type recordingAudit struct {
	mu      sync.Mutex
	entries []*provider.WebhookEvent
}

func (a *recordingAudit) RecordEvent(ctx context.Context, event *provider.WebhookEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, event)
	return nil
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *provider.MockAdapter, *recordingHandler, *recordingAudit) {
	t.Helper()
	mock := provider.NewMockAdapter("whsec_test")
	registry := NewRegistry()
	registry.Register(mock)

	handler := &recordingHandler{}
	audit := &recordingAudit{}
	d := NewDispatcher(registry, NewMemoryDedupIndex(), handler, audit, NopMetrics(), zap.NewNop())
	return d, mock, handler, audit
}

func mockDelivery(t *testing.T, mock *provider.MockAdapter, eventID string) (http.Header, []byte) {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"event_id":      eventID,
		"type":          provider.EventPaymentSucceeded,
		"processor_ref": "mock_pi_1",
		"amount_minor":  5000,
		"currency":      "usd",
		"occurred_at":   time.Now().UTC(),
	})
	require.NoError(t, err)

	header := http.Header{}
	header.Set(mock.SignatureHeader(), mock.Sign(payload))
	return header, payload
}

func TestDispatcherProcessesEvent(t *testing.T) {
	d, mock, handler, audit := newTestDispatcher(t)
	ctx := context.Background()

	header, payload := mockDelivery(t, mock, "evt_1")
	require.NoError(t, d.Dispatch(ctx, "mock", header, payload))

	require.Equal(t, 1, handler.count())
	assert.Equal(t, "evt_1", handler.events[0].ExternalEventID)
	assert.Equal(t, provider.EventPaymentSucceeded, handler.events[0].Type)
	assert.Len(t, audit.entries, 1)
}

func TestDispatcherRejectsBadSignature(t *testing.T) {
	d, mock, handler, _ := newTestDispatcher(t)
	ctx := context.Background()

	_, payload := mockDelivery(t, mock, "evt_1")
	header := http.Header{}
	header.Set(mock.SignatureHeader(), "deadbeef")

	err := d.Dispatch(ctx, "mock", header, payload)
	assert.ErrorIs(t, err, ErrInvalidSignature)
	assert.Zero(t, handler.count(), "unverified payloads must never reach the handler")

	// Missing header entirely.
	err = d.Dispatch(ctx, "mock", http.Header{}, payload)
	assert.ErrorIs(t, err, ErrInvalidSignature)
	assert.Zero(t, handler.count())
}

func TestDispatcherDeduplicatesRedelivery(t *testing.T) {
	d, mock, handler, audit := newTestDispatcher(t)
	ctx := context.Background()

	header, payload := mockDelivery(t, mock, "evt_dup")
	require.NoError(t, d.Dispatch(ctx, "mock", header, payload))
	require.NoError(t, d.Dispatch(ctx, "mock", header, payload), "redelivery must succeed without effect")

	assert.Equal(t, 1, handler.count(), "handler runs once per event")
	assert.Len(t, audit.entries, 1)
}

func TestDispatcherHandlerFailureAllowsRedelivery(t *testing.T) {
	d, mock, handler, _ := newTestDispatcher(t)
	ctx := context.Background()

	handler.fail = errors.New("gift store unavailable")
	header, payload := mockDelivery(t, mock, "evt_retry")

	err := d.Dispatch(ctx, "mock", header, payload)
	require.Error(t, err)
	assert.Zero(t, handler.count())

	// Dedup was not committed, so the processor's redelivery processes.
	require.NoError(t, d.Dispatch(ctx, "mock", header, payload))
	assert.Equal(t, 1, handler.count())
}

func TestDispatcherUnknownProcessor(t *testing.T) {
	d, mock, _, _ := newTestDispatcher(t)
	ctx := context.Background()

	header, payload := mockDelivery(t, mock, "evt_1")
	err := d.Dispatch(ctx, "stripe", header, payload)
	assert.ErrorIs(t, err, ErrProcessorNotFound)
}

func TestDispatcherMalformedPayload(t *testing.T) {
	d, mock, handler, _ := newTestDispatcher(t)
	ctx := context.Background()

	payload := []byte("{not json")
	header := http.Header{}
	header.Set(mock.SignatureHeader(), mock.Sign(payload))

	err := d.Dispatch(ctx, "mock", header, payload)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidSignature)
	assert.Zero(t, handler.count())
}
