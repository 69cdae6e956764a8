package payment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Gift status constants - mirrors gift module constants.
const (
	GiftStatusPending    = "pending"
	GiftStatusProcessing = "processing"
	GiftStatusSucceeded  = "succeeded"
	GiftStatusFailed     = "failed"
	GiftStatusRefunded   = "refunded"
	GiftStatusDisputed   = "disputed"
)

// Recurring plan status constants.
const (
	PlanStatusActive    = "active"
	PlanStatusPaused    = "paused"
	PlanStatusCancelled = "cancelled"
	PlanStatusFailed    = "failed"
)

// GiftStore defines the interface for reading and updating gift records.
// Defined in the payment module (consumer) following the Dependency
// Inversion Principle; the gift module provides the implementation.
type GiftStore interface {
	// GetGiftByProcessorRef returns the gift holding the given processor
	// reference. Returns ErrGiftNotFound when no gift matches.
	GetGiftByProcessorRef(ctx context.Context, processor, processorRef string) (*GiftInfo, error)

	// UpdateGiftStatus updates a gift's status.
	UpdateGiftStatus(ctx context.Context, id uuid.UUID, status string) error

	// GetRecurringPlanByMandateRef returns the recurring plan holding the
	// given mandate reference. Returns ErrGiftNotFound when none matches.
	GetRecurringPlanByMandateRef(ctx context.Context, processor, mandateRef string) (*RecurringPlanInfo, error)

	// UpdateRecurringPlanStatus updates a plan's status and next charge
	// date. A zero nextChargeDate leaves the stored date unchanged.
	UpdateRecurringPlanStatus(ctx context.Context, id uuid.UUID, status string, nextChargeDate time.Time) error

	// RecordRecurringCharge records a gift produced by a recurring plan's
	// scheduled charge.
	RecordRecurringCharge(ctx context.Context, planID uuid.UUID, processorRef string, amountMinor int64, currency string, occurredAt time.Time) error
}

// GiftInfo is a slim view of gift data needed by the payment module.
type GiftInfo struct {
	ID           uuid.UUID
	Status       string
	AmountMinor  int64
	Currency     string
	ProcessorRef string
}

// IsFinal returns true when the gift has reached a terminal status.
func (g *GiftInfo) IsFinal() bool {
	switch g.Status {
	case GiftStatusRefunded, GiftStatusDisputed:
		return true
	}
	return false
}

// RecurringPlanInfo is a slim view of recurring plan data.
type RecurringPlanInfo struct {
	ID             uuid.UUID
	Status         string
	AmountMinor    int64
	Currency       string
	MandateRef     string
	NextChargeDate time.Time
}
