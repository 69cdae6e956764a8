package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

const mockName = "mock"

// MockAdapter is an in-memory Adapter for tests and test-mode deployments.
// It counts every would-be network call and can be scripted to fail, which
// makes retry and idempotency behavior observable.
type MockAdapter struct {
	mu sync.Mutex

	secret   []byte
	fees     FeeSchedule
	failures []error

	intents  map[string]*PaymentIntentResult
	mandates map[string]*MandateResult
	seq      int

	intentCalls  int
	mandateCalls int
	updateCalls  int
	cancelCalls  int
	refundCalls  int
}

// NewMockAdapter creates a mock adapter with the stripe-style default fees.
func NewMockAdapter(webhookSecret string) *MockAdapter {
	return &MockAdapter{
		secret:   []byte(webhookSecret),
		fees:     DefaultStripeFees,
		intents:  make(map[string]*PaymentIntentResult),
		mandates: make(map[string]*MandateResult),
	}
}

// FailNext scripts errors returned by the next underlying calls, in order,
// before normal behavior resumes.
func (m *MockAdapter) FailNext(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, errs...)
}

// Calls returns the total number of underlying calls made.
func (m *MockAdapter) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.intentCalls + m.mandateCalls + m.updateCalls + m.cancelCalls + m.refundCalls
}

// IntentCalls returns the number of CreatePaymentIntent calls.
func (m *MockAdapter) IntentCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.intentCalls
}

// RefundCalls returns the number of RefundPayment calls.
func (m *MockAdapter) RefundCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refundCalls
}

func (m *MockAdapter) nextFailure() error {
	if len(m.failures) == 0 {
		return nil
	}
	err := m.failures[0]
	m.failures = m.failures[1:]
	return err
}

// Name returns the processor identifier.
func (m *MockAdapter) Name() string {
	return mockName
}

func (m *MockAdapter) CreatePaymentIntent(ctx context.Context, params PaymentIntentParams) (*PaymentIntentResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.intentCalls++
	if err := m.nextFailure(); err != nil {
		return nil, err
	}

	fees := m.fees.Calculate(params.AmountMinor, params.DonorCoversFee)
	m.seq++
	result := &PaymentIntentResult{
		ProcessorRef: fmt.Sprintf("mock_pi_%d", m.seq),
		Status:       IntentStatusSucceeded,
		AmountMinor:  fees.TotalChargeMinor,
		Currency:     params.Currency,
		FeeMinor:     fees.TotalFeeMinor,
		NetMinor:     fees.TotalChargeMinor - fees.TotalFeeMinor,
		Metadata:     params.Metadata,
	}
	m.intents[result.ProcessorRef] = result
	return result, nil
}

func (m *MockAdapter) CreateRecurringMandate(ctx context.Context, params MandateParams) (*MandateResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mandateCalls++
	if err := m.nextFailure(); err != nil {
		return nil, err
	}

	m.seq++
	result := &MandateResult{
		MandateRef:     fmt.Sprintf("mock_man_%d", m.seq),
		Status:         MandateStatusActive,
		AmountMinor:    params.AmountMinor,
		Currency:       params.Currency,
		Frequency:      params.Frequency,
		NextChargeDate: NextChargeDate(params.StartDate, params.Frequency),
	}
	m.mandates[result.MandateRef] = result
	return result, nil
}

func (m *MockAdapter) UpdateRecurringMandate(ctx context.Context, mandateRef string, params MandateUpdateParams) (*MandateResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateCalls++
	if err := m.nextFailure(); err != nil {
		return nil, err
	}

	mandate, ok := m.mandates[mandateRef]
	if !ok {
		return nil, NewError(mockName, KindUnknownProcessorError, "mandate not found")
	}
	if mandate.Status == MandateStatusCancelled {
		return nil, NewError(mockName, KindUnknownProcessorError, "mandate is cancelled")
	}
	if params.AmountMinor > 0 {
		mandate.AmountMinor = params.AmountMinor
	}
	if params.Paused {
		mandate.Status = MandateStatusPaused
	} else {
		mandate.Status = MandateStatusActive
	}
	copied := *mandate
	return &copied, nil
}

func (m *MockAdapter) CancelRecurringMandate(ctx context.Context, mandateRef string) (*MandateResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelCalls++
	if err := m.nextFailure(); err != nil {
		return nil, err
	}

	mandate, ok := m.mandates[mandateRef]
	if !ok {
		return nil, NewError(mockName, KindUnknownProcessorError, "mandate not found")
	}
	// Second cancel is a no-op success.
	mandate.Status = MandateStatusCancelled
	copied := *mandate
	return &copied, nil
}

func (m *MockAdapter) RefundPayment(ctx context.Context, params RefundParams) (*RefundResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refundCalls++
	if err := m.nextFailure(); err != nil {
		return nil, err
	}

	intent, ok := m.intents[params.ProcessorRef]
	if !ok {
		return nil, NewError(mockName, KindUnknownProcessorError, "payment not found")
	}
	amount := params.AmountMinor
	if amount == 0 {
		amount = intent.AmountMinor
	}
	if amount > intent.AmountMinor {
		return nil, NewError(mockName, KindRefundExceedsOriginal, "refund exceeds original charge")
	}
	currency := params.Currency
	if currency == "" {
		currency = intent.Currency
	}

	m.seq++
	return &RefundResult{
		RefundRef:    fmt.Sprintf("mock_re_%d", m.seq),
		ProcessorRef: params.ProcessorRef,
		AmountMinor:  amount,
		Currency:     currency,
		Status:       "succeeded",
	}, nil
}

// SignatureHeader returns the mock signature header.
func (m *MockAdapter) SignatureHeader() string {
	return "X-Mock-Signature"
}

// VerifyWebhookSignature checks a hex HMAC-SHA256 of the raw body.
func (m *MockAdapter) VerifyWebhookSignature(payload []byte, signature string) error {
	if !VerifyHMACSHA256Hex(payload, signature, m.secret) {
		return NewError(mockName, KindInvalidWebhookSignature, "webhook signature mismatch")
	}
	return nil
}

// Sign produces a valid signature for payload; test helper.
func (m *MockAdapter) Sign(payload []byte) string {
	return SignHMACSHA256Hex(payload, m.secret)
}

func (m *MockAdapter) ParseWebhookEvent(payload []byte) (*WebhookEvent, error) {
	var event struct {
		EventID      string    `json:"event_id"`
		Type         EventType `json:"type"`
		ProcessorRef string    `json:"processor_ref"`
		MandateRef   string    `json:"mandate_ref"`
		AmountMinor  int64     `json:"amount_minor"`
		Currency     string    `json:"currency"`
		OccurredAt   time.Time `json:"occurred_at"`
	}
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, WrapError(mockName, KindUnknownProcessorError, fmt.Errorf("parse webhook event: %w", err))
	}
	return &WebhookEvent{
		Processor:       mockName,
		ExternalEventID: event.EventID,
		Type:            event.Type,
		ProcessorRef:    event.ProcessorRef,
		MandateRef:      event.MandateRef,
		AmountMinor:     event.AmountMinor,
		Currency:        event.Currency,
		OccurredAt:      event.OccurredAt,
		RawPayload:      payload,
	}, nil
}

func (m *MockAdapter) CalculateFees(amountMinor int64, donorCoversFee bool) FeeCalculation {
	return m.fees.Calculate(amountMinor, donorCoversFee)
}
