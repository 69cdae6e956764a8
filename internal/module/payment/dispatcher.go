package payment

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/givestack/payments/internal/module/payment/provider"
)

// EventHandler consumes a verified, deduplicated webhook event. Handlers
// must be replay-safe: after a crash between handling and dedup commit the
// same event is delivered again.
type EventHandler interface {
	HandleEvent(ctx context.Context, event *provider.WebhookEvent) error
}

// EventHandlerFunc adapts a function to EventHandler.
type EventHandlerFunc func(ctx context.Context, event *provider.WebhookEvent) error

func (f EventHandlerFunc) HandleEvent(ctx context.Context, event *provider.WebhookEvent) error {
	return f(ctx, event)
}

// AuditLog records every accepted webhook event for reconciliation.
type AuditLog interface {
	RecordEvent(ctx context.Context, event *provider.WebhookEvent) error
}

// apiVerifier is an optional adapter capability: verification through the
// processor's verification API using the full delivery headers, instead of
// a locally computed signature.
type apiVerifier interface {
	CanVerifyAPI(header http.Header) bool
	VerifyWebhookAPI(ctx context.Context, header http.Header, payload []byte) error
}

// Dispatcher runs the inbound webhook pipeline: verify the signature,
// parse, claim the (processor, event id) pair, invoke the handler, and
// commit the claim only after the handler succeeds. A failed handler
// releases the claim so the processor's redelivery can try again.
type Dispatcher struct {
	registry *Registry
	dedup    DedupIndex
	handler  EventHandler
	audit    AuditLog
	metrics  *Metrics
	logger   *zap.Logger
}

// NewDispatcher creates a webhook dispatcher. audit may be nil.
func NewDispatcher(registry *Registry, dedup DedupIndex, handler EventHandler, audit AuditLog, metrics *Metrics, logger *zap.Logger) *Dispatcher {
	if metrics == nil {
		metrics = NopMetrics()
	}
	return &Dispatcher{
		registry: registry,
		dedup:    dedup,
		handler:  handler,
		audit:    audit,
		metrics:  metrics,
		logger:   logger,
	}
}

// Dispatch processes one raw webhook delivery. A redelivered event that was
// already handled returns nil without invoking the handler. The error is
// mapped by the transport layer: ErrInvalidSignature to 401,
// ErrProcessorNotFound to 404, ErrEventInFlight to 409.
func (d *Dispatcher) Dispatch(ctx context.Context, processor string, header http.Header, payload []byte) error {
	adapter, err := d.registry.Get(processor)
	if err != nil {
		return err
	}

	if err := d.verify(ctx, adapter, header, payload); err != nil {
		d.metrics.SignatureFailures.WithLabelValues(processor).Inc()
		// Security event. Never log payload contents.
		d.logger.Warn("webhook signature verification failed",
			zap.String("processor", processor),
		)
		return fmt.Errorf("%w: %s", ErrInvalidSignature, processor)
	}

	event, err := adapter.ParseWebhookEvent(payload)
	if err != nil {
		d.metrics.WebhookEvents.WithLabelValues(processor, "unknown", "parse_error").Inc()
		return fmt.Errorf("parse webhook event: %w", err)
	}

	claimed, err := d.dedup.Claim(ctx, processor, event.ExternalEventID)
	if err != nil {
		return err
	}
	if !claimed {
		d.metrics.WebhookEvents.WithLabelValues(processor, string(event.Type), "duplicate").Inc()
		d.logger.Debug("duplicate webhook delivery ignored",
			zap.String("processor", processor),
			zap.String("event_id", event.ExternalEventID),
		)
		return nil
	}

	if err := d.handler.HandleEvent(ctx, event); err != nil {
		// Release so the processor's retry of this delivery can succeed.
		if releaseErr := d.dedup.Release(ctx, processor, event.ExternalEventID); releaseErr != nil {
			d.logger.Error("failed to release webhook claim",
				zap.String("processor", processor),
				zap.String("event_id", event.ExternalEventID),
				zap.Error(releaseErr),
			)
		}
		d.metrics.WebhookEvents.WithLabelValues(processor, string(event.Type), "handler_error").Inc()
		return fmt.Errorf("handle webhook event: %w", err)
	}

	if err := d.dedup.Commit(ctx, processor, event.ExternalEventID); err != nil {
		// The side effect happened; surface the error so the redelivery
		// path (replay-safe handler) can converge.
		return fmt.Errorf("commit webhook event: %w", err)
	}

	if d.audit != nil {
		if err := d.audit.RecordEvent(ctx, event); err != nil {
			d.logger.Error("failed to record webhook audit entry",
				zap.String("processor", processor),
				zap.String("event_id", event.ExternalEventID),
				zap.Error(err),
			)
		}
	}

	d.metrics.WebhookEvents.WithLabelValues(processor, string(event.Type), "ok").Inc()
	d.logger.Info("webhook event processed",
		zap.String("processor", processor),
		zap.String("event_id", event.ExternalEventID),
		zap.String("type", string(event.Type)),
	)
	return nil
}

func (d *Dispatcher) verify(ctx context.Context, adapter provider.Adapter, header http.Header, payload []byte) error {
	if av, ok := adapter.(apiVerifier); ok && header != nil && av.CanVerifyAPI(header) {
		return av.VerifyWebhookAPI(ctx, header, payload)
	}
	var signature string
	if header != nil {
		signature = header.Get(adapter.SignatureHeader())
	}
	return adapter.VerifyWebhookSignature(payload, signature)
}
