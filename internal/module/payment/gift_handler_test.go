package payment

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/givestack/payments/internal/module/payment/provider"
)

type fakeGiftStore struct {
	gifts   map[string]*GiftInfo          // processor:ref
	plans   map[string]*RecurringPlanInfo // processor:ref
	charges []string
}

func newFakeGiftStore() *fakeGiftStore {
	return &fakeGiftStore{
		gifts: make(map[string]*GiftInfo),
		plans: make(map[string]*RecurringPlanInfo),
	}
}

func (s *fakeGiftStore) GetGiftByProcessorRef(ctx context.Context, processor, ref string) (*GiftInfo, error) {
	g, ok := s.gifts[processor+":"+ref]
	if !ok {
		return nil, ErrGiftNotFound
	}
	copied := *g
	return &copied, nil
}

func (s *fakeGiftStore) UpdateGiftStatus(ctx context.Context, id uuid.UUID, status string) error {
	for _, g := range s.gifts {
		if g.ID == id {
			g.Status = status
		}
	}
	return nil
}

func (s *fakeGiftStore) GetRecurringPlanByMandateRef(ctx context.Context, processor, ref string) (*RecurringPlanInfo, error) {
	p, ok := s.plans[processor+":"+ref]
	if !ok {
		return nil, ErrGiftNotFound
	}
	copied := *p
	return &copied, nil
}

func (s *fakeGiftStore) UpdateRecurringPlanStatus(ctx context.Context, id uuid.UUID, status string, next time.Time) error {
	for _, p := range s.plans {
		if p.ID == id {
			p.Status = status
			if !next.IsZero() {
				p.NextChargeDate = next
			}
		}
	}
	return nil
}

func (s *fakeGiftStore) RecordRecurringCharge(ctx context.Context, planID uuid.UUID, processorRef string, amountMinor int64, currency string, occurredAt time.Time) error {
	s.charges = append(s.charges, processorRef)
	return nil
}

func TestGiftStateHandlerPaymentLifecycle(t *testing.T) {
	store := newFakeGiftStore()
	giftID := uuid.New()
	store.gifts["stripe:pi_1"] = &GiftInfo{ID: giftID, Status: GiftStatusPending, AmountMinor: 5000, Currency: "usd", ProcessorRef: "pi_1"}
	h := NewGiftStateHandler(store, zap.NewNop())
	ctx := context.Background()

	event := &provider.WebhookEvent{
		Processor:       "stripe",
		ExternalEventID: "evt_1",
		Type:            provider.EventPaymentSucceeded,
		ProcessorRef:    "pi_1",
	}
	require.NoError(t, h.HandleEvent(ctx, event))
	assert.Equal(t, GiftStatusSucceeded, store.gifts["stripe:pi_1"].Status)

	// Replaying the same event converges on the same state.
	require.NoError(t, h.HandleEvent(ctx, event))
	assert.Equal(t, GiftStatusSucceeded, store.gifts["stripe:pi_1"].Status)

	event.Type = provider.EventPaymentRefunded
	require.NoError(t, h.HandleEvent(ctx, event))
	assert.Equal(t, GiftStatusRefunded, store.gifts["stripe:pi_1"].Status)

	// A late success event must not resurrect a refunded gift.
	event.Type = provider.EventPaymentSucceeded
	require.NoError(t, h.HandleEvent(ctx, event))
	assert.Equal(t, GiftStatusRefunded, store.gifts["stripe:pi_1"].Status)
}

func TestGiftStateHandlerRecurringCharge(t *testing.T) {
	store := newFakeGiftStore()
	planID := uuid.New()
	store.plans["stripe:sub_1"] = &RecurringPlanInfo{ID: planID, Status: PlanStatusActive, MandateRef: "sub_1"}
	h := NewGiftStateHandler(store, zap.NewNop())
	ctx := context.Background()

	// Scheduled charge: no prior gift record, mandate ref present.
	require.NoError(t, h.HandleEvent(ctx, &provider.WebhookEvent{
		Processor:       "stripe",
		ExternalEventID: "evt_2",
		Type:            provider.EventPaymentSucceeded,
		ProcessorRef:    "pi_recurring_1",
		MandateRef:      "sub_1",
		AmountMinor:     2500,
		Currency:        "usd",
		OccurredAt:      time.Now(),
	}))
	assert.Equal(t, []string{"pi_recurring_1"}, store.charges)
}

func TestGiftStateHandlerMandateEvents(t *testing.T) {
	store := newFakeGiftStore()
	planID := uuid.New()
	store.plans["paypal:I-ABC"] = &RecurringPlanInfo{ID: planID, Status: PlanStatusActive, MandateRef: "I-ABC"}
	h := NewGiftStateHandler(store, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, h.HandleEvent(ctx, &provider.WebhookEvent{
		Processor:       "paypal",
		ExternalEventID: "evt_3",
		Type:            provider.EventMandateCancelled,
		MandateRef:      "I-ABC",
	}))
	assert.Equal(t, PlanStatusCancelled, store.plans["paypal:I-ABC"].Status)
}

func TestGiftStateHandlerUnknownReferencesAcknowledged(t *testing.T) {
	store := newFakeGiftStore()
	h := NewGiftStateHandler(store, zap.NewNop())
	ctx := context.Background()

	// Redelivery cannot resolve an unknown ref; acknowledge it.
	assert.NoError(t, h.HandleEvent(ctx, &provider.WebhookEvent{
		Processor:       "stripe",
		ExternalEventID: "evt_4",
		Type:            provider.EventPaymentFailed,
		ProcessorRef:    "pi_missing",
	}))
	assert.NoError(t, h.HandleEvent(ctx, &provider.WebhookEvent{
		Processor:       "stripe",
		ExternalEventID: "evt_5",
		Type:            provider.EventMandateFailed,
		MandateRef:      "sub_missing",
	}))
}
