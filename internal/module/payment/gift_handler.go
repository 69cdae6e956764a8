package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/givestack/payments/internal/module/payment/provider"
)

// GiftStateHandler maps canonical webhook events onto gift and recurring
// plan records. Every branch is replay-safe: the same event applied twice
// converges on the same state.
type GiftStateHandler struct {
	gifts  GiftStore
	logger *zap.Logger
}

// NewGiftStateHandler creates a gift state handler.
func NewGiftStateHandler(gifts GiftStore, logger *zap.Logger) *GiftStateHandler {
	return &GiftStateHandler{gifts: gifts, logger: logger}
}

// HandleEvent applies one webhook event. Events referencing records we do
// not hold are logged and acknowledged; redelivery cannot resolve them.
func (h *GiftStateHandler) HandleEvent(ctx context.Context, event *provider.WebhookEvent) error {
	switch event.Type {
	case provider.EventPaymentSucceeded:
		return h.applyGiftStatus(ctx, event, GiftStatusSucceeded)
	case provider.EventPaymentPending:
		return h.applyGiftStatus(ctx, event, GiftStatusProcessing)
	case provider.EventPaymentFailed:
		return h.applyGiftStatus(ctx, event, GiftStatusFailed)
	case provider.EventPaymentRefunded:
		return h.applyGiftStatus(ctx, event, GiftStatusRefunded)
	case provider.EventPaymentDisputed:
		return h.applyGiftStatus(ctx, event, GiftStatusDisputed)
	case provider.EventMandateCreated, provider.EventMandateUpdated:
		return h.applyPlanStatus(ctx, event, PlanStatusActive)
	case provider.EventMandateCancelled:
		return h.applyPlanStatus(ctx, event, PlanStatusCancelled)
	case provider.EventMandateFailed:
		return h.applyPlanStatus(ctx, event, PlanStatusFailed)
	case provider.EventPayoutPaid:
		h.logger.Info("payout notification received",
			zap.String("processor", event.Processor),
			zap.Int64("amount_minor", event.AmountMinor),
		)
		return nil
	default:
		h.logger.Warn("unhandled webhook event type",
			zap.String("processor", event.Processor),
			zap.String("type", string(event.Type)),
		)
		return nil
	}
}

func (h *GiftStateHandler) applyGiftStatus(ctx context.Context, event *provider.WebhookEvent, status string) error {
	gift, err := h.gifts.GetGiftByProcessorRef(ctx, event.Processor, event.ProcessorRef)
	if errors.Is(err, ErrGiftNotFound) {
		// A recurring plan's scheduled charge has no prior gift record.
		if event.MandateRef != "" && status == GiftStatusSucceeded {
			return h.recordRecurringCharge(ctx, event)
		}
		h.logger.Warn("webhook references unknown gift",
			zap.String("processor", event.Processor),
			zap.String("event_id", event.ExternalEventID),
		)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load gift: %w", err)
	}

	// Refunds and disputes are terminal; a late success event must not
	// resurrect the gift.
	if gift.IsFinal() && status == GiftStatusSucceeded {
		return nil
	}
	if gift.Status == status {
		return nil
	}
	if err := h.gifts.UpdateGiftStatus(ctx, gift.ID, status); err != nil {
		return fmt.Errorf("update gift status: %w", err)
	}
	h.logger.Info("gift status updated",
		zap.String("processor", event.Processor),
		zap.String("gift_id", gift.ID.String()),
		zap.String("status", status),
	)
	return nil
}

func (h *GiftStateHandler) recordRecurringCharge(ctx context.Context, event *provider.WebhookEvent) error {
	plan, err := h.gifts.GetRecurringPlanByMandateRef(ctx, event.Processor, event.MandateRef)
	if errors.Is(err, ErrGiftNotFound) {
		h.logger.Warn("webhook references unknown recurring plan",
			zap.String("processor", event.Processor),
			zap.String("event_id", event.ExternalEventID),
		)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load recurring plan: %w", err)
	}
	if err := h.gifts.RecordRecurringCharge(ctx, plan.ID, event.ProcessorRef, event.AmountMinor, event.Currency, event.OccurredAt); err != nil {
		return fmt.Errorf("record recurring charge: %w", err)
	}
	return nil
}

func (h *GiftStateHandler) applyPlanStatus(ctx context.Context, event *provider.WebhookEvent, status string) error {
	plan, err := h.gifts.GetRecurringPlanByMandateRef(ctx, event.Processor, event.MandateRef)
	if errors.Is(err, ErrGiftNotFound) {
		h.logger.Warn("webhook references unknown recurring plan",
			zap.String("processor", event.Processor),
			zap.String("event_id", event.ExternalEventID),
		)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load recurring plan: %w", err)
	}
	if plan.Status == status {
		return nil
	}
	// Next charge date comes from mandate operations, not notifications.
	if err := h.gifts.UpdateRecurringPlanStatus(ctx, plan.ID, status, time.Time{}); err != nil {
		return fmt.Errorf("update recurring plan status: %w", err)
	}
	h.logger.Info("recurring plan status updated",
		zap.String("processor", event.Processor),
		zap.String("plan_id", plan.ID.String()),
		zap.String("status", status),
	)
	return nil
}
