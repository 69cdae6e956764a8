package gift

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/givestack/payments/internal/module/payment"
)

// Repository provides gift data access and implements payment.GiftStore.
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new gift repository.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// CreateGift persists a new gift record.
func (r *Repository) CreateGift(ctx context.Context, g *Gift) error {
	if err := r.db.WithContext(ctx).Create(g).Error; err != nil {
		return fmt.Errorf("create gift: %w", err)
	}
	return nil
}

// CreateRecurringPlan persists a new recurring plan.
func (r *Repository) CreateRecurringPlan(ctx context.Context, p *RecurringPlan) error {
	if err := r.db.WithContext(ctx).Create(p).Error; err != nil {
		return fmt.Errorf("create recurring plan: %w", err)
	}
	return nil
}

// GetGiftByProcessorRef returns the gift holding the processor reference.
func (r *Repository) GetGiftByProcessorRef(ctx context.Context, processor, processorRef string) (*payment.GiftInfo, error) {
	var g Gift
	err := r.db.WithContext(ctx).
		First(&g, "processor = ? AND processor_ref = ?", processor, processorRef).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, payment.ErrGiftNotFound
		}
		return nil, fmt.Errorf("get gift by processor ref: %w", err)
	}
	return &payment.GiftInfo{
		ID:           g.ID,
		Status:       g.Status,
		AmountMinor:  g.AmountMinor,
		Currency:     g.Currency,
		ProcessorRef: g.ProcessorRef,
	}, nil
}

// UpdateGiftStatus updates a gift's status.
func (r *Repository) UpdateGiftStatus(ctx context.Context, id uuid.UUID, status string) error {
	err := r.db.WithContext(ctx).
		Model(&Gift{}).
		Where("id = ?", id).
		Update("status", status).Error
	if err != nil {
		return fmt.Errorf("update gift status: %w", err)
	}
	return nil
}

// GetRecurringPlanByMandateRef returns the plan holding the mandate
// reference.
func (r *Repository) GetRecurringPlanByMandateRef(ctx context.Context, processor, mandateRef string) (*payment.RecurringPlanInfo, error) {
	var p RecurringPlan
	err := r.db.WithContext(ctx).
		First(&p, "processor = ? AND mandate_ref = ?", processor, mandateRef).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, payment.ErrGiftNotFound
		}
		return nil, fmt.Errorf("get recurring plan by mandate ref: %w", err)
	}
	info := &payment.RecurringPlanInfo{
		ID:          p.ID,
		Status:      p.Status,
		AmountMinor: p.AmountMinor,
		Currency:    p.Currency,
		MandateRef:  p.MandateRef,
	}
	if p.NextChargeDate != nil {
		info.NextChargeDate = *p.NextChargeDate
	}
	return info, nil
}

// UpdateRecurringPlanStatus updates a plan's status and, when non-zero,
// its next charge date.
func (r *Repository) UpdateRecurringPlanStatus(ctx context.Context, id uuid.UUID, status string, nextChargeDate time.Time) error {
	updates := map[string]any{"status": status}
	if !nextChargeDate.IsZero() {
		updates["next_charge_date"] = &nextChargeDate
	}
	err := r.db.WithContext(ctx).
		Model(&RecurringPlan{}).
		Where("id = ?", id).
		Updates(updates).Error
	if err != nil {
		return fmt.Errorf("update recurring plan status: %w", err)
	}
	return nil
}

// RecordRecurringCharge persists a gift produced by a plan's scheduled
// charge.
func (r *Repository) RecordRecurringCharge(ctx context.Context, planID uuid.UUID, processorRef string, amountMinor int64, currency string, occurredAt time.Time) error {
	var plan RecurringPlan
	if err := r.db.WithContext(ctx).First(&plan, "id = ?", planID).Error; err != nil {
		return fmt.Errorf("load recurring plan: %w", err)
	}

	g := Gift{
		Processor:    plan.Processor,
		ProcessorRef: processorRef,
		PlanID:       &planID,
		AmountMinor:  amountMinor,
		Currency:     currency,
		Status:       payment.GiftStatusSucceeded,
		DonorEmail:   plan.DonorEmail,
		CreatedAt:    occurredAt,
	}
	if err := r.db.WithContext(ctx).Create(&g).Error; err != nil {
		return fmt.Errorf("record recurring charge: %w", err)
	}
	return nil
}

// Compile-time check
var _ payment.GiftStore = (*Repository)(nil)
