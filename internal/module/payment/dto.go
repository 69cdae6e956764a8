package payment

import (
	"time"

	"github.com/givestack/payments/internal/module/payment/provider"
)

// CreateIntentDTO is the request body for creating a one-time donation.
type CreateIntentDTO struct {
	Processor      string            `json:"processor" binding:"required"`
	AmountMinor    int64             `json:"amount_minor" binding:"required"`
	Currency       string            `json:"currency" binding:"required"`
	DonorEmail     string            `json:"donor_email"`
	DonorCoversFee bool              `json:"donor_covers_fee"`
	Metadata       map[string]string `json:"metadata"`
	IdempotencyKey string            `json:"idempotency_key" binding:"required"`
}

// CreateMandateDTO is the request body for creating a recurring donation.
type CreateMandateDTO struct {
	Processor      string             `json:"processor" binding:"required"`
	AmountMinor    int64              `json:"amount_minor" binding:"required"`
	Currency       string             `json:"currency" binding:"required"`
	Frequency      provider.Frequency `json:"frequency" binding:"required"`
	DonorEmail     string             `json:"donor_email"`
	StartDate      time.Time          `json:"start_date"`
	Metadata       map[string]string  `json:"metadata"`
	IdempotencyKey string             `json:"idempotency_key" binding:"required"`
}

// UpdateMandateDTO is the request body for updating a recurring donation.
type UpdateMandateDTO struct {
	AmountMinor          int64 `json:"amount_minor"`
	Paused               bool  `json:"paused"`
	EffectiveImmediately bool  `json:"effective_immediately"`
}

// RefundDTO is the request body for refunding a donation.
type RefundDTO struct {
	Processor           string `json:"processor" binding:"required"`
	ProcessorRef        string `json:"processor_ref" binding:"required"`
	AmountMinor         int64  `json:"amount_minor"`
	OriginalAmountMinor int64  `json:"original_amount_minor"`
	Currency            string `json:"currency"`
	Reason              string `json:"reason"`
	IdempotencyKey      string `json:"idempotency_key" binding:"required"`
}
