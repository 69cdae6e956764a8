package payment

import "errors"

// Module errors.
var (
	ErrProcessorNotFound   = errors.New("payment processor not found")
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrInvalidFrequency    = errors.New("unknown mandate frequency")
	ErrStartDateInPast     = errors.New("mandate start date is in the past")
	ErrMissingIdempotency  = errors.New("idempotency key is required")
	ErrIdempotencyConflict = errors.New("idempotency key reused with different parameters")
	ErrIdempotencyInFlight = errors.New("operation with this idempotency key is in flight")
	ErrRefundExceedsTotal  = errors.New("refund exceeds original charge")
	ErrInvalidSignature    = errors.New("invalid webhook signature")
	ErrEventInFlight       = errors.New("webhook event is being processed")
	ErrGiftNotFound        = errors.New("gift not found")
)
