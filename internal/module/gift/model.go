package gift

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Gift represents a donation record.
type Gift struct {
	ID             uuid.UUID `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	Processor      string    `json:"processor" gorm:"not null;index:idx_gift_processor_ref"`
	ProcessorRef   string    `json:"-" gorm:"index:idx_gift_processor_ref"`
	PlanID         *uuid.UUID `json:"plan_id,omitempty" gorm:"type:uuid;index"`
	AmountMinor    int64     `json:"amount_minor"`
	FeeMinor       int64     `json:"fee_minor"`
	Currency       string    `json:"currency" gorm:"default:usd"`
	Status         string    `json:"status" gorm:"not null;default:pending"`
	DonorEmail     string    `json:"-"`
	DonorCoversFee bool      `json:"donor_covers_fee"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// TableName returns the database table name.
func (Gift) TableName() string {
	return "gifts"
}

// RecurringPlan represents a recurring donation mandate.
type RecurringPlan struct {
	ID             uuid.UUID `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	Processor      string    `json:"processor" gorm:"not null;index:idx_plan_mandate_ref"`
	MandateRef     string    `json:"-" gorm:"index:idx_plan_mandate_ref"`
	AmountMinor    int64     `json:"amount_minor"`
	Currency       string    `json:"currency" gorm:"default:usd"`
	Frequency      string    `json:"frequency"`
	Status         string    `json:"status" gorm:"not null;default:active"`
	DonorEmail     string    `json:"-"`
	NextChargeDate *time.Time `json:"next_charge_date,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// TableName returns the database table name.
func (RecurringPlan) TableName() string {
	return "recurring_plans"
}

// AutoMigrate creates or updates the gift module's tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&Gift{}, &RecurringPlan{})
}
