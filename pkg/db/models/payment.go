package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/dhirensoni-certistage/certistage-app-sub001/pkg/enums"
)

// Payment tracks one gateway order from creation through reconciliation.
// OrderID is the correlation key shared by the client callback, the webhook
// and the sweeper; exactly one of them finalizes the row.
type Payment struct {
	ID        uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	OrderID   string              `gorm:"column:order_id;not null;uniqueIndex:idx_payments_order_id"`
	PaymentID *string             `gorm:"column:payment_id"`
	UserID    uuid.UUID           `gorm:"column:user_id;type:uuid;not null;index"`
	Plan      enums.PlanTier      `gorm:"column:plan;type:plan_tier;not null"`
	Amount    int64               `gorm:"column:amount;not null"`
	Currency  string              `gorm:"column:currency;not null;default:'INR'"`
	Status    enums.PaymentStatus `gorm:"column:status;type:payment_status;not null;default:'pending'"`

	// Signature is the proof presented by whichever entry point finalized the
	// row. WebhookVerified stays false when only the client callback has been
	// seen for the order.
	Signature       *string                `gorm:"column:signature"`
	Source          *enums.ReconcileSource `gorm:"column:source;type:reconcile_source"`
	WebhookVerified bool                   `gorm:"column:webhook_verified;not null;default:false"`
	// PlanActivated flips after the user plan write for this order lands.
	// Re-observations repair the user mutation only while it is unset, so a
	// replayed capture for a superseded order cannot re-grant its plan.
	PlanActivated bool    `gorm:"column:plan_activated;not null;default:false"`
	FailureReason *string `gorm:"column:failure_reason"`

	// Invoice fields are computed once on the transition into success and
	// never recomputed afterwards.
	InvoiceNumber     *string    `gorm:"column:invoice_number;uniqueIndex:idx_payments_invoice_number"`
	InvoiceIssuedAt   *time.Time `gorm:"column:invoice_issued_at"`
	InvoiceBaseAmount *int64     `gorm:"column:invoice_base_amount"`
	InvoiceGatewayFee *int64     `gorm:"column:invoice_gateway_fee"`

	RefundID   *string    `gorm:"column:refund_id"`
	RefundedAt *time.Time `gorm:"column:refunded_at"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *Payment) BeforeCreate(_ *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
