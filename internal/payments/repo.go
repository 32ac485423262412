package payments

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/dhirensoni-certistage/certistage-app-sub001/pkg/db/models"
	"github.com/dhirensoni-certistage/certistage-app-sub001/pkg/enums"
)

// SuccessClaim carries the fields written when a payment transitions into
// success.
type SuccessClaim struct {
	PaymentID       string
	Signature       string
	Source          enums.ReconcileSource
	WebhookVerified bool
}

// InvoiceFields are computed once on the first success transition.
type InvoiceFields struct {
	Number     string
	IssuedAt   time.Time
	BaseAmount int64
	GatewayFee int64
}

// Repository handles payment persistence.
type Repository interface {
	Create(ctx context.Context, payment *models.Payment) error
	FindByOrderID(ctx context.Context, orderID string) (*models.Payment, error)
	FindByInvoiceNumber(ctx context.Context, invoiceNumber string) (*models.Payment, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Payment, error)
	ListPending(ctx context.Context, limit int) ([]models.Payment, error)
	ClaimSuccess(ctx context.Context, orderID string, claim SuccessClaim) (bool, error)
	MarkPlanActivated(ctx context.Context, orderID string) error
	MarkWebhookVerified(ctx context.Context, orderID string) error
	MarkFailed(ctx context.Context, orderID, reason string, source enums.ReconcileSource) (bool, error)
	MarkRefunded(ctx context.Context, orderID, refundID string) (bool, error)
	SetInvoice(ctx context.Context, orderID string, fields InvoiceFields) (bool, error)
	NextInvoiceSeq(ctx context.Context, year int) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a payment repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Create(ctx context.Context, payment *models.Payment) error {
	return r.db.WithContext(ctx).Create(payment).Error
}

func (r *repository) FindByOrderID(ctx context.Context, orderID string) (*models.Payment, error) {
	var row models.Payment
	if err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		First(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *repository) FindByInvoiceNumber(ctx context.Context, invoiceNumber string) (*models.Payment, error) {
	var row models.Payment
	if err := r.db.WithContext(ctx).
		Where("invoice_number = ?", invoiceNumber).
		First(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *repository) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Payment, error) {
	var rows []models.Payment
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) ListPending(ctx context.Context, limit int) ([]models.Payment, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []models.Payment
	if err := r.db.WithContext(ctx).
		Where("status = ?", enums.PaymentStatusPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// ClaimSuccess is the single race safeguard for concurrent reconciliation:
// a conditional update that flips the row to success only if it is not
// already success or refunded. Refunded is terminal; a redelivered capture
// for a refunded order must never resurrect it. Exactly one concurrent
// caller observes claimed=true and owns the side effects; everyone else
// sees an idempotent no-op.
func (r *repository) ClaimSuccess(ctx context.Context, orderID string, claim SuccessClaim) (bool, error) {
	updates := map[string]any{
		"status":     enums.PaymentStatusSuccess,
		"payment_id": claim.PaymentID,
		"source":     claim.Source,
		"updated_at": time.Now(),
	}
	if claim.Signature != "" {
		updates["signature"] = claim.Signature
	}
	if claim.WebhookVerified {
		updates["webhook_verified"] = true
	}

	res := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("order_id = ? AND status NOT IN ?", orderID, []enums.PaymentStatus{
			enums.PaymentStatusSuccess,
			enums.PaymentStatusRefunded,
		}).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// MarkPlanActivated records that the user write owed for this order has
// completed. While the flag is unset a re-observation may repair the user
// mutation; once set, replays of the order never touch the user again.
func (r *repository) MarkPlanActivated(ctx context.Context, orderID string) error {
	return r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("order_id = ? AND plan_activated = ?", orderID, false).
		Updates(map[string]any{
			"plan_activated": true,
			"updated_at":     time.Now(),
		}).Error
}

// MarkWebhookVerified corroborates an order the client callback already
// finalized.
func (r *repository) MarkWebhookVerified(ctx context.Context, orderID string) error {
	return r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("order_id = ? AND webhook_verified = ?", orderID, false).
		Updates(map[string]any{
			"webhook_verified": true,
			"updated_at":       time.Now(),
		}).Error
}

// MarkFailed records a failed charge. A row already in success is left
// untouched; a late failure report never downgrades a finalized payment.
func (r *repository) MarkFailed(ctx context.Context, orderID, reason string, source enums.ReconcileSource) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("order_id = ? AND status NOT IN ?", orderID, []enums.PaymentStatus{
			enums.PaymentStatusSuccess,
			enums.PaymentStatusRefunded,
		}).
		Updates(map[string]any{
			"status":         enums.PaymentStatusFailed,
			"failure_reason": reason,
			"source":         source,
			"updated_at":     time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// MarkRefunded moves a success payment into its terminal refunded state.
func (r *repository) MarkRefunded(ctx context.Context, orderID, refundID string) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("order_id = ? AND status = ?", orderID, enums.PaymentStatusSuccess).
		Updates(map[string]any{
			"status":      enums.PaymentStatusRefunded,
			"refund_id":   refundID,
			"refunded_at": time.Now(),
			"updated_at":  time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// SetInvoice writes the invoice fields only if none were issued yet, so the
// document stays byte-stable after first issuance.
func (r *repository) SetInvoice(ctx context.Context, orderID string, fields InvoiceFields) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("order_id = ? AND invoice_number IS NULL", orderID).
		Updates(map[string]any{
			"invoice_number":      fields.Number,
			"invoice_issued_at":   fields.IssuedAt,
			"invoice_base_amount": fields.BaseAmount,
			"invoice_gateway_fee": fields.GatewayFee,
			"updated_at":          time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// NextInvoiceSeq increments and returns the per-year invoice counter. The
// increment and the read-back are one statement, so two concurrent claims
// can never observe the same sequence value.
func (r *repository) NextInvoiceSeq(ctx context.Context, year int) (int64, error) {
	db := r.db.WithContext(ctx)
	increment := func() (int64, bool, error) {
		var seq int64
		res := db.Raw("UPDATE invoice_sequences SET last_seq = last_seq + 1 WHERE year = ? RETURNING last_seq", year).Scan(&seq)
		if res.Error != nil {
			return 0, false, res.Error
		}
		return seq, res.RowsAffected == 1, nil
	}

	seq, ok, err := increment()
	if err != nil || ok {
		return seq, err
	}

	// First invoice of the year. A lost insert race falls through to the
	// increment either way.
	_ = db.Exec("INSERT INTO invoice_sequences (year, last_seq) VALUES (?, 0)", year).Error
	seq, ok, err = increment()
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("invoice sequence row missing for year %d", year)
	}
	return seq, nil
}
