package payments

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/dhirensoni-certistage/certistage-app-sub001/pkg/db/models"
	"github.com/dhirensoni-certistage/certistage-app-sub001/pkg/enums"
)

func setupPaymentsTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:payments_test?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	payments := `
CREATE TABLE IF NOT EXISTS payments (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL UNIQUE,
  payment_id TEXT,
  user_id TEXT NOT NULL,
  plan TEXT NOT NULL,
  amount INTEGER NOT NULL,
  currency TEXT NOT NULL DEFAULT 'INR',
  status TEXT NOT NULL DEFAULT 'pending',
  signature TEXT,
  source TEXT,
  webhook_verified INTEGER NOT NULL DEFAULT 0,
  plan_activated INTEGER NOT NULL DEFAULT 0,
  failure_reason TEXT,
  invoice_number TEXT,
  invoice_issued_at DATETIME,
  invoice_base_amount INTEGER,
  invoice_gateway_fee INTEGER,
  refund_id TEXT,
  refunded_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`
	sequences := `
CREATE TABLE IF NOT EXISTS invoice_sequences (
  year INTEGER PRIMARY KEY,
  last_seq INTEGER NOT NULL DEFAULT 0
);`

	require.NoError(t, db.Exec(payments).Error)
	require.NoError(t, db.Exec(sequences).Error)

	t.Cleanup(func() {
		db.Exec("DELETE FROM payments")
		db.Exec("DELETE FROM invoice_sequences")
	})

	return db
}

func seedPendingPayment(t *testing.T, repo Repository, orderID string) *models.Payment {
	t.Helper()
	payment := &models.Payment{
		OrderID:  orderID,
		UserID:   uuid.New(),
		Plan:     enums.PlanTierPro,
		Amount:   299900,
		Currency: "INR",
		Status:   enums.PaymentStatusPending,
	}
	require.NoError(t, repo.Create(context.Background(), payment))
	return payment
}

func TestClaimSuccessOnlyOnce(t *testing.T) {
	repo := NewRepository(setupPaymentsTestDB(t))
	ctx := context.Background()
	seedPendingPayment(t, repo, "order_claim_1")

	claim := SuccessClaim{
		PaymentID:       "pay_1",
		Signature:       "sig_1",
		Source:          enums.SourceClientVerified,
		WebhookVerified: false,
	}

	claimed, err := repo.ClaimSuccess(ctx, "order_claim_1", claim)
	require.NoError(t, err)
	assert.True(t, claimed, "first claim should win")

	// A concurrent webhook observing the same capture claims nothing.
	again, err := repo.ClaimSuccess(ctx, "order_claim_1", SuccessClaim{
		PaymentID: "pay_1",
		Source:    enums.SourceWebhookVerified,
	})
	require.NoError(t, err)
	assert.False(t, again, "second claim must be a no-op")

	row, err := repo.FindByOrderID(ctx, "order_claim_1")
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusSuccess, row.Status)
	require.NotNil(t, row.Source)
	assert.Equal(t, enums.SourceClientVerified, *row.Source)
}

func TestClaimSuccessMissingOrder(t *testing.T) {
	repo := NewRepository(setupPaymentsTestDB(t))

	claimed, err := repo.ClaimSuccess(context.Background(), "order_missing", SuccessClaim{PaymentID: "pay_x"})
	require.NoError(t, err)
	assert.False(t, claimed)
}

func TestMarkFailedNeverDowngradesSuccess(t *testing.T) {
	repo := NewRepository(setupPaymentsTestDB(t))
	ctx := context.Background()
	seedPendingPayment(t, repo, "order_fail_1")

	claimed, err := repo.ClaimSuccess(ctx, "order_fail_1", SuccessClaim{PaymentID: "pay_1", Source: enums.SourceWebhookVerified, WebhookVerified: true})
	require.NoError(t, err)
	require.True(t, claimed)

	marked, err := repo.MarkFailed(ctx, "order_fail_1", "late failure report", enums.SourceGatewayPolled)
	require.NoError(t, err)
	assert.False(t, marked)

	row, err := repo.FindByOrderID(ctx, "order_fail_1")
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusSuccess, row.Status)
}

func TestMarkFailedPendingPayment(t *testing.T) {
	repo := NewRepository(setupPaymentsTestDB(t))
	ctx := context.Background()
	seedPendingPayment(t, repo, "order_fail_2")

	marked, err := repo.MarkFailed(ctx, "order_fail_2", "card declined", enums.SourceWebhookVerified)
	require.NoError(t, err)
	assert.True(t, marked)

	row, err := repo.FindByOrderID(ctx, "order_fail_2")
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusFailed, row.Status)
	require.NotNil(t, row.FailureReason)
	assert.Equal(t, "card declined", *row.FailureReason)
}

func TestMarkRefundedRequiresSuccess(t *testing.T) {
	repo := NewRepository(setupPaymentsTestDB(t))
	ctx := context.Background()
	seedPendingPayment(t, repo, "order_refund_1")

	marked, err := repo.MarkRefunded(ctx, "order_refund_1", "rfnd_1")
	require.NoError(t, err)
	assert.False(t, marked, "pending payment cannot be refunded")

	claimed, err := repo.ClaimSuccess(ctx, "order_refund_1", SuccessClaim{PaymentID: "pay_1", Source: enums.SourceWebhookVerified})
	require.NoError(t, err)
	require.True(t, claimed)

	marked, err = repo.MarkRefunded(ctx, "order_refund_1", "rfnd_1")
	require.NoError(t, err)
	assert.True(t, marked)

	row, err := repo.FindByOrderID(ctx, "order_refund_1")
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusRefunded, row.Status)
}

func TestClaimSuccessNeverResurrectsRefunded(t *testing.T) {
	repo := NewRepository(setupPaymentsTestDB(t))
	ctx := context.Background()
	seedPendingPayment(t, repo, "order_refund_2")

	claimed, err := repo.ClaimSuccess(ctx, "order_refund_2", SuccessClaim{PaymentID: "pay_1", Source: enums.SourceWebhookVerified})
	require.NoError(t, err)
	require.True(t, claimed)

	marked, err := repo.MarkRefunded(ctx, "order_refund_2", "rfnd_9")
	require.NoError(t, err)
	require.True(t, marked)

	// Redelivered capture for the refunded order.
	claimed, err = repo.ClaimSuccess(ctx, "order_refund_2", SuccessClaim{PaymentID: "pay_1", Source: enums.SourceWebhookVerified})
	require.NoError(t, err)
	assert.False(t, claimed, "refunded is terminal")

	row, err := repo.FindByOrderID(ctx, "order_refund_2")
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusRefunded, row.Status)
}

func TestMarkPlanActivatedIsSticky(t *testing.T) {
	repo := NewRepository(setupPaymentsTestDB(t))
	ctx := context.Background()
	seedPendingPayment(t, repo, "order_act_1")

	claimed, err := repo.ClaimSuccess(ctx, "order_act_1", SuccessClaim{PaymentID: "pay_1", Source: enums.SourceClientVerified})
	require.NoError(t, err)
	require.True(t, claimed)

	row, err := repo.FindByOrderID(ctx, "order_act_1")
	require.NoError(t, err)
	assert.False(t, row.PlanActivated, "claim alone does not record the user write")

	require.NoError(t, repo.MarkPlanActivated(ctx, "order_act_1"))
	require.NoError(t, repo.MarkPlanActivated(ctx, "order_act_1"))

	row, err = repo.FindByOrderID(ctx, "order_act_1")
	require.NoError(t, err)
	assert.True(t, row.PlanActivated)
}

func TestSetInvoiceIsWriteOnce(t *testing.T) {
	repo := NewRepository(setupPaymentsTestDB(t))
	ctx := context.Background()
	seedPendingPayment(t, repo, "order_inv_1")

	first := InvoiceFields{
		Number:     "CS-2025-000001",
		IssuedAt:   time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		BaseAmount: 293000,
		GatewayFee: 6900,
	}
	written, err := repo.SetInvoice(ctx, "order_inv_1", first)
	require.NoError(t, err)
	assert.True(t, written)

	second := first
	second.Number = "CS-2025-000099"
	second.BaseAmount = 1
	written, err = repo.SetInvoice(ctx, "order_inv_1", second)
	require.NoError(t, err)
	assert.False(t, written, "invoice fields must never be recomputed")

	row, err := repo.FindByOrderID(ctx, "order_inv_1")
	require.NoError(t, err)
	require.NotNil(t, row.InvoiceNumber)
	assert.Equal(t, "CS-2025-000001", *row.InvoiceNumber)
	require.NotNil(t, row.InvoiceBaseAmount)
	assert.Equal(t, int64(293000), *row.InvoiceBaseAmount)
}

func TestNextInvoiceSeqIncrements(t *testing.T) {
	repo := NewRepository(setupPaymentsTestDB(t))
	ctx := context.Background()

	first, err := repo.NextInvoiceSeq(ctx, 2025)
	require.NoError(t, err)
	second, err := repo.NextInvoiceSeq(ctx, 2025)
	require.NoError(t, err)
	other, err := repo.NextInvoiceSeq(ctx, 2026)
	require.NoError(t, err)

	assert.Equal(t, first+1, second)
	assert.Equal(t, int64(1), other)
}

func TestListPendingReturnsOnlyPending(t *testing.T) {
	repo := NewRepository(setupPaymentsTestDB(t))
	ctx := context.Background()

	seedPendingPayment(t, repo, "order_list_1")
	seedPendingPayment(t, repo, "order_list_2")
	seedPendingPayment(t, repo, "order_list_3")

	claimed, err := repo.ClaimSuccess(ctx, "order_list_2", SuccessClaim{PaymentID: "pay_2", Source: enums.SourceClientVerified})
	require.NoError(t, err)
	require.True(t, claimed)

	rows, err := repo.ListPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, row := range rows {
		assert.Equal(t, enums.PaymentStatusPending, row.Status)
	}
}

func TestMarkWebhookVerifiedCorroborates(t *testing.T) {
	repo := NewRepository(setupPaymentsTestDB(t))
	ctx := context.Background()
	seedPendingPayment(t, repo, "order_wh_1")

	claimed, err := repo.ClaimSuccess(ctx, "order_wh_1", SuccessClaim{PaymentID: "pay_1", Source: enums.SourceClientVerified})
	require.NoError(t, err)
	require.True(t, claimed)

	require.NoError(t, repo.MarkWebhookVerified(ctx, "order_wh_1"))

	row, err := repo.FindByOrderID(ctx, "order_wh_1")
	require.NoError(t, err)
	assert.True(t, row.WebhookVerified)
	require.NotNil(t, row.Source)
	assert.Equal(t, enums.SourceClientVerified, *row.Source, "source of the finalizing entry point is preserved")
}
