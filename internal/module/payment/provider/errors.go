package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorKind classifies processor failures. The kind, not the concrete
// error type, decides retry eligibility and the user-facing message.
type ErrorKind string

const (
	KindNetworkError            ErrorKind = "network_error"
	KindTimeout                 ErrorKind = "timeout"
	KindAuthenticationFailed    ErrorKind = "authentication_failed"
	KindCardDeclined            ErrorKind = "card_declined"
	KindInsufficientFunds       ErrorKind = "insufficient_funds"
	KindExpiredCard             ErrorKind = "expired_card"
	KindInvalidCard             ErrorKind = "invalid_card"
	KindInvalidWebhookSignature ErrorKind = "invalid_webhook_signature"
	KindIdempotencyKeyConflict  ErrorKind = "idempotency_key_conflict"
	KindInvalidAmount           ErrorKind = "invalid_amount"
	KindRefundExceedsOriginal   ErrorKind = "refund_exceeds_original"
	KindUnknownProcessorError   ErrorKind = "unknown_processor_error"
)

// Transient reports whether an error of this kind may succeed on retry.
// Business declines are never transient: retrying cannot change the outcome.
func (k ErrorKind) Transient() bool {
	switch k {
	case KindNetworkError, KindTimeout:
		return true
	}
	return false
}

// Error is a classified processor failure. Message must stay user-safe:
// tokenized references only, never card data.
type Error struct {
	Processor string
	Kind      ErrorKind
	Message   string
	Err       error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Processor, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", e.Processor, e.Kind, e.Message)
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a classified processor error.
func NewError(processor string, kind ErrorKind, message string) *Error {
	return &Error{Processor: processor, Kind: kind, Message: message}
}

// WrapError classifies an underlying error.
func WrapError(processor string, kind ErrorKind, err error) *Error {
	return &Error{Processor: processor, Kind: kind, Err: err}
}

// KindOf extracts the classification from err, or
// KindUnknownProcessorError when err carries none.
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnknownProcessorError
}

// IsTransient reports whether err is eligible for retry.
func IsTransient(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind.Transient()
	}
	// Unclassified transport failures are treated as transient so a hung
	// connection does not become a definitive decline.
	return isTransportError(err)
}

// ClassifyTransport maps raw transport failures onto the taxonomy.
// Returns nil when err is nil.
func ClassifyTransport(processor string, err error) error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return WrapError(processor, KindTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return WrapError(processor, KindTimeout, err)
		}
		return WrapError(processor, KindNetworkError, err)
	}
	return WrapError(processor, KindUnknownProcessorError, err)
}

func isTransportError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
