package provider

import (
	"context"
	"time"
)

// Frequency represents a recurring charge interval.
type Frequency string

const (
	FrequencyMonthly   Frequency = "monthly"
	FrequencyQuarterly Frequency = "quarterly"
	FrequencyAnnually  Frequency = "annually"
)

// Valid reports whether the frequency is a known interval.
func (f Frequency) Valid() bool {
	switch f {
	case FrequencyMonthly, FrequencyQuarterly, FrequencyAnnually:
		return true
	}
	return false
}

// IntentStatus represents the status of a payment intent.
type IntentStatus string

const (
	IntentStatusPending        IntentStatus = "pending"
	IntentStatusRequiresAction IntentStatus = "requires_action"
	IntentStatusSucceeded      IntentStatus = "succeeded"
	IntentStatusFailed         IntentStatus = "failed"
)

// MandateStatus represents the status of a recurring mandate.
type MandateStatus string

const (
	MandateStatusActive    MandateStatus = "active"
	MandateStatusPaused    MandateStatus = "paused"
	MandateStatusCancelled MandateStatus = "cancelled"
	MandateStatusFailed    MandateStatus = "failed"
)

// PaymentIntentParams holds the input for creating a one-time charge.
// Amounts are integer minor units (cents); adapter logic never touches floats.
type PaymentIntentParams struct {
	AmountMinor    int64
	Currency       string
	DonorEmail     string
	DonorCoversFee bool
	Metadata       map[string]string
	IdempotencyKey string
}

// PaymentIntentResult is the normalized outcome of a charge creation.
// Immutable once returned; the caller persists it onto its Gift record.
type PaymentIntentResult struct {
	ProcessorRef string            `json:"processor_ref"`
	Status       IntentStatus      `json:"status"`
	AmountMinor  int64             `json:"amount_minor"` // includes donor-covered fee
	Currency     string            `json:"currency"`
	FeeMinor     int64             `json:"fee_minor,omitempty"`
	NetMinor     int64             `json:"net_minor,omitempty"`
	ClientSecret string            `json:"client_secret,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// MandateParams holds the input for establishing a recurring mandate.
type MandateParams struct {
	AmountMinor    int64
	Currency       string
	Frequency      Frequency
	DonorEmail     string
	StartDate      time.Time
	Metadata       map[string]string
	IdempotencyKey string
}

// MandateUpdateParams holds the mutable fields of a mandate.
// EffectiveImmediately is a caller-supplied policy flag: false defers the
// change to the next billing cycle where the processor supports it.
type MandateUpdateParams struct {
	AmountMinor          int64
	Paused               bool
	EffectiveImmediately bool
}

// MandateResult is the normalized outcome of a mandate operation.
type MandateResult struct {
	MandateRef     string        `json:"mandate_ref"`
	Status         MandateStatus `json:"status"`
	AmountMinor    int64         `json:"amount_minor"`
	Currency       string        `json:"currency"`
	Frequency      Frequency     `json:"frequency"`
	NextChargeDate time.Time     `json:"next_charge_date"`
}

// RefundParams holds the input for a full or partial refund.
// AmountMinor == 0 means a full refund. Currency is the original charge's
// currency; refunds are always denominated in it.
type RefundParams struct {
	ProcessorRef   string
	AmountMinor    int64
	Currency       string
	Reason         string
	IdempotencyKey string
}

// RefundResult is the normalized outcome of a refund.
type RefundResult struct {
	RefundRef    string `json:"refund_ref"`
	ProcessorRef string `json:"processor_ref"`
	AmountMinor  int64  `json:"amount_minor"`
	Currency     string `json:"currency"`
	Status       string `json:"status"`
}

// EventType enumerates the canonical webhook event types.
type EventType string

const (
	EventPaymentSucceeded EventType = "payment.succeeded"
	EventPaymentFailed    EventType = "payment.failed"
	EventPaymentPending   EventType = "payment.pending"
	EventPaymentRefunded  EventType = "payment.refunded"
	EventPaymentDisputed  EventType = "payment.disputed"
	EventMandateCreated   EventType = "mandate.created"
	EventMandateUpdated   EventType = "mandate.updated"
	EventMandateCancelled EventType = "mandate.cancelled"
	EventMandateFailed    EventType = "mandate.failed"
	EventPayoutPaid       EventType = "payout.paid"
)

// WebhookEvent is a processor notification normalized to canonical form.
// (Processor, ExternalEventID) is the deduplication key. RawPayload is kept
// for audit only and must never be written to logs.
type WebhookEvent struct {
	Processor       string
	ExternalEventID string
	Type            EventType
	ProcessorRef    string // gift reference (payment intent / capture id)
	MandateRef      string // recurring plan reference, if any
	AmountMinor     int64
	Currency        string
	OccurredAt      time.Time
	RawPayload      []byte
}

// Adapter is the uniform contract every processor integration satisfies.
// Implementations make network calls to the processor and hold no local
// state beyond credentials; all persistence belongs to the caller.
type Adapter interface {
	// Name returns the processor identifier used for registry lookup
	// and webhook routing.
	Name() string

	// CreatePaymentIntent creates a one-time charge. The idempotency key
	// must be passed through to the processor verbatim.
	CreatePaymentIntent(ctx context.Context, params PaymentIntentParams) (*PaymentIntentResult, error)

	// CreateRecurringMandate establishes a recurring charge authorization.
	CreateRecurringMandate(ctx context.Context, params MandateParams) (*MandateResult, error)

	// UpdateRecurringMandate mutates an existing mandate.
	UpdateRecurringMandate(ctx context.Context, mandateRef string, params MandateUpdateParams) (*MandateResult, error)

	// CancelRecurringMandate cancels a mandate. Cancelling an already
	// cancelled mandate is a no-op success.
	CancelRecurringMandate(ctx context.Context, mandateRef string) (*MandateResult, error)

	// RefundPayment refunds a charge fully or partially. Refunding more
	// than the original charge is rejected by the processor.
	RefundPayment(ctx context.Context, params RefundParams) (*RefundResult, error)

	// SignatureHeader returns the HTTP header carrying the webhook
	// signature for this processor.
	SignatureHeader() string

	// VerifyWebhookSignature checks payload authenticity against the
	// configured signing secret using a constant-time comparison.
	VerifyWebhookSignature(payload []byte, signature string) error

	// ParseWebhookEvent converts a verified raw payload into a canonical
	// event. Only called after VerifyWebhookSignature succeeds.
	ParseWebhookEvent(payload []byte) (*WebhookEvent, error)

	// CalculateFees computes this processor's transaction fee for the
	// given amount.
	CalculateFees(amountMinor int64, donorCoversFee bool) FeeCalculation
}

// NextChargeDate returns the charge date following from for the given
// frequency. Used by adapters that do not report a next billing date.
func NextChargeDate(from time.Time, freq Frequency) time.Time {
	switch freq {
	case FrequencyQuarterly:
		return from.AddDate(0, 3, 0)
	case FrequencyAnnually:
		return from.AddDate(1, 0, 0)
	default:
		return from.AddDate(0, 1, 0)
	}
}
