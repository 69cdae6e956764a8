package payment

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// WebhookEventRecord is a stored webhook delivery; the unique index over
// (processor, event_id) is what makes Claim atomic under concurrent
// deliveries.
type WebhookEventRecord struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	Processor   string    `gorm:"uniqueIndex:idx_processor_event;not null"`
	EventID     string    `gorm:"uniqueIndex:idx_processor_event;not null"`
	Committed   bool      `gorm:"default:false"`
	CommittedAt *time.Time
	CreatedAt   time.Time
}

// TableName returns the database table name.
func (WebhookEventRecord) TableName() string {
	return "payment_webhook_events"
}

// IdempotencyRecord stores one idempotency key claim and, once completed,
// its result bytes.
type IdempotencyRecord struct {
	Key         string `gorm:"primaryKey"`
	Fingerprint string `gorm:"not null"`
	Result      []byte `gorm:"type:bytea"`
	Completed   bool   `gorm:"default:false"`
	ExpiresAt   *time.Time `gorm:"index"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TableName returns the database table name.
func (IdempotencyRecord) TableName() string {
	return "payment_idempotency_keys"
}

// AuditEntryRecord is one accepted webhook event kept for reconciliation.
// Payload is the verified raw body; it is stored, never logged.
type AuditEntryRecord struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	Processor    string    `gorm:"not null;index"`
	EventID      string    `gorm:"not null"`
	EventType    string    `gorm:"not null"`
	ProcessorRef string    `gorm:"index"`
	MandateRef   string    `gorm:"index"`
	AmountMinor  int64
	Currency     string
	Payload      string `gorm:"type:jsonb"`
	OccurredAt   time.Time
	CreatedAt    time.Time
}

// TableName returns the database table name.
func (AuditEntryRecord) TableName() string {
	return "payment_audit_log"
}

// AutoMigrate creates or updates the payment module's tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&WebhookEventRecord{},
		&IdempotencyRecord{},
		&AuditEntryRecord{},
	)
}
