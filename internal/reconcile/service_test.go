package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/dhirensoni-certistage/certistage-app-sub001/internal/invoices"
	"github.com/dhirensoni-certistage/certistage-app-sub001/internal/payments"
	"github.com/dhirensoni-certistage/certistage-app-sub001/internal/plans"
	"github.com/dhirensoni-certistage/certistage-app-sub001/internal/users"
	"github.com/dhirensoni-certistage/certistage-app-sub001/pkg/config"
	"github.com/dhirensoni-certistage/certistage-app-sub001/pkg/db/models"
	"github.com/dhirensoni-certistage/certistage-app-sub001/pkg/enums"
	pkgerrors "github.com/dhirensoni-certistage/certistage-app-sub001/pkg/errors"
	"github.com/dhirensoni-certistage/certistage-app-sub001/pkg/outbox"
)

var testClock = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

type fixture struct {
	db           *gorm.DB
	svc          *Service
	paymentsRepo payments.Repository
	usersRepo    users.Repository
}

func setupFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:reconcile_test?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
  id TEXT PRIMARY KEY,
  email TEXT NOT NULL UNIQUE,
  password_hash TEXT NOT NULL,
  first_name TEXT NOT NULL,
  last_name TEXT NOT NULL,
  role TEXT NOT NULL DEFAULT 'user',
  is_active INTEGER NOT NULL DEFAULT 1,
  last_login_at DATETIME,
  plan TEXT NOT NULL DEFAULT 'free',
  pending_plan TEXT,
  plan_start_date DATETIME,
  plan_expires_at DATETIME,
  plan_order_id TEXT,
  created_at DATETIME,
  updated_at DATETIME
);`,
		`CREATE TABLE IF NOT EXISTS payments (
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
);`,
		`CREATE TABLE IF NOT EXISTS plans (
  id TEXT PRIMARY KEY,
  tier TEXT NOT NULL UNIQUE,
  name TEXT NOT NULL,
  price_amount INTEGER NOT NULL,
  price_display TEXT NOT NULL,
  currency_code TEXT NOT NULL DEFAULT 'INR',
  term_days INTEGER NOT NULL DEFAULT 365,
  cert_quota INTEGER NOT NULL,
  features TEXT DEFAULT '{}',
  is_default INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME,
  updated_at DATETIME
);`,
		`CREATE TABLE IF NOT EXISTS invoice_sequences (
  year INTEGER PRIMARY KEY,
  last_seq INTEGER NOT NULL DEFAULT 0
);`,
		`CREATE TABLE IF NOT EXISTS outbox_events (
  id TEXT PRIMARY KEY,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload TEXT NOT NULL,
  created_at DATETIME,
  published_at DATETIME,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  last_error TEXT
);`,
	}
	for _, stmt := range statements {
		require.NoError(t, db.Exec(stmt).Error)
	}

	seedPlans := `INSERT OR IGNORE INTO plans (id, tier, name, price_amount, price_display, term_days, cert_quota) VALUES
  ('plan_free', 'free', 'Free', 0, '0.00', 0, 50),
  ('plan_starter', 'starter', 'Starter', 99900, '999.00', 365, 1000),
  ('plan_pro', 'pro', 'Pro', 299900, '2999.00', 365, 10000),
  ('plan_enterprise', 'enterprise', 'Enterprise', 699900, '6999.00', 365, 100000);`
	require.NoError(t, db.Exec(seedPlans).Error)

	t.Cleanup(func() {
		db.Exec("DELETE FROM payments")
		db.Exec("DELETE FROM users")
		db.Exec("DELETE FROM outbox_events")
		db.Exec("DELETE FROM invoice_sequences")
	})

	paymentsRepo := payments.NewRepository(db)
	usersRepo := users.NewRepository(db)

	plansSvc, err := plans.NewService(plans.ServiceParams{Repo: plans.NewRepository(db)})
	require.NoError(t, err)
	invoicesSvc, err := invoices.NewService(invoices.ServiceParams{
		Repo:   paymentsRepo,
		Config: config.InvoiceConfig{Prefix: "CS", GatewayFeeBPS: 236},
	})
	require.NoError(t, err)

	outboxSvc := outbox.NewService(outbox.NewRepository(db), nil)

	svc, err := NewService(ServiceParams{
		Payments: paymentsRepo,
		Users:    usersRepo,
		Plans:    plansSvc,
		Invoices: invoicesSvc,
		Outbox:   outboxSvc,
	})
	require.NoError(t, err)
	svc.WithClock(func() time.Time { return testClock })

	return &fixture{db: db, svc: svc, paymentsRepo: paymentsRepo, usersRepo: usersRepo}
}

func (f *fixture) seedUser(t *testing.T, email string) *models.User {
	t.Helper()
	pending := enums.PlanTierPro
	user := &models.User{
		Email:        email,
		PasswordHash: "x",
		FirstName:    "Ravi",
		LastName:     "Iyer",
		Role:         enums.MemberRoleUser,
		IsActive:     true,
		Plan:         enums.PlanTierFree,
		PendingPlan:  &pending,
	}
	require.NoError(t, f.usersRepo.Create(context.Background(), user))
	return user
}

func (f *fixture) seedPendingPayment(t *testing.T, user *models.User, orderID string, tier enums.PlanTier, amount int64) {
	t.Helper()
	require.NoError(t, f.paymentsRepo.Create(context.Background(), &models.Payment{
		OrderID:  orderID,
		UserID:   user.ID,
		Plan:     tier,
		Amount:   amount,
		Currency: "INR",
		Status:   enums.PaymentStatusPending,
	}))
}

func (f *fixture) countEvents(t *testing.T, eventType enums.OutboxEventType) int64 {
	t.Helper()
	var count int64
	require.NoError(t, f.db.Raw("SELECT COUNT(*) FROM outbox_events WHERE event_type = ?", eventType).Scan(&count).Error)
	return count
}

func TestReconcileSuccessIsIdempotent(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()
	user := f.seedUser(t, "idem@example.com")
	f.seedPendingPayment(t, user, "order_idem", enums.PlanTierPro, 299900)

	input := Input{
		OrderID:   "order_idem",
		Observed:  ObservedCaptured,
		PaymentID: "pay_1",
		Signature: "sig_1",
		Source:    enums.SourceClientVerified,
	}

	first, err := f.svc.Reconcile(ctx, input)
	require.NoError(t, err)
	assert.Equal(t, ResultFinalized, first.Result)
	assert.NotEmpty(t, first.InvoiceNumber)

	row, err := f.usersRepo.FindByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PlanTierPro, row.Plan)
	assert.Nil(t, row.PendingPlan)
	require.NotNil(t, row.PlanExpiresAt)
	assert.Equal(t, testClock.AddDate(0, 0, 365), row.PlanExpiresAt.UTC())

	// Identical retry: same record back, no extra plan mutation, no
	// duplicate invoice, no duplicate events.
	second, err := f.svc.Reconcile(ctx, input)
	require.NoError(t, err)
	assert.Equal(t, ResultAlreadyReconciled, second.Result)
	assert.Equal(t, first.InvoiceNumber, second.InvoiceNumber)

	assert.EqualValues(t, 1, f.countEvents(t, enums.EventPaymentSucceeded))
	assert.EqualValues(t, 1, f.countEvents(t, enums.EventPlanActivated))
	assert.EqualValues(t, 1, f.countEvents(t, enums.EventInvoiceIssued))
}

func TestReconcileRaceProducesOneSuccess(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()
	user := f.seedUser(t, "race@example.com")
	f.seedPendingPayment(t, user, "order_race", enums.PlanTierEnterprise, 699900)

	// Webhook and client callback presenting the same capture. Whichever
	// lands second must see the first one's result.
	webhook := Input{
		OrderID: "order_race", Observed: ObservedCaptured, PaymentID: "pay_1",
		Source: enums.SourceWebhookVerified,
	}
	client := Input{
		OrderID: "order_race", Observed: ObservedCaptured, PaymentID: "pay_1",
		Signature: "sig_1", Source: enums.SourceClientVerified,
	}

	out1, err := f.svc.Reconcile(ctx, client)
	require.NoError(t, err)
	out2, err := f.svc.Reconcile(ctx, webhook)
	require.NoError(t, err)

	assert.Equal(t, ResultFinalized, out1.Result)
	assert.Equal(t, ResultAlreadyReconciled, out2.Result)

	payment, err := f.paymentsRepo.FindByOrderID(ctx, "order_race")
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusSuccess, payment.Status)
	assert.True(t, payment.WebhookVerified, "webhook re-observation corroborates the record")
	require.NotNil(t, payment.Source)
	assert.Equal(t, enums.SourceClientVerified, *payment.Source)

	row, err := f.usersRepo.FindByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PlanTierEnterprise, row.Plan)

	assert.EqualValues(t, 1, f.countEvents(t, enums.EventInvoiceIssued), "never two invoices")
}

func TestReconcileCreatesPaymentFromEventMetadata(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()
	user := f.seedUser(t, "reactive@example.com")

	// The client never called back; the webhook's self-describing notes
	// are enough to reconcile from nothing.
	out, err := f.svc.Reconcile(ctx, Input{
		OrderID:   "order_reactive",
		Observed:  ObservedCaptured,
		PaymentID: "pay_7",
		Plan:      enums.PlanTierStarter,
		UserID:    user.ID,
		Amount:    99900,
		Currency:  "INR",
		Source:    enums.SourceWebhookVerified,
	})
	require.NoError(t, err)
	assert.Equal(t, ResultFinalized, out.Result)

	payment, err := f.paymentsRepo.FindByOrderID(ctx, "order_reactive")
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusSuccess, payment.Status)
	assert.True(t, payment.WebhookVerified)
	assert.Equal(t, int64(99900), payment.Amount)

	row, err := f.usersRepo.FindByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PlanTierStarter, row.Plan)
}

func TestReconcileUnknownOrderWithoutMetadata(t *testing.T) {
	f := setupFixture(t)

	_, err := f.svc.Reconcile(context.Background(), Input{
		OrderID:  "order_ghost",
		Observed: ObservedCaptured,
		Source:   enums.SourceGatewayPolled,
	})
	perr := pkgerrors.As(err)
	require.NotNil(t, perr)
	assert.Equal(t, pkgerrors.CodeNotFound, perr.Code())
}

func TestReconcileFailureNeverGrantsPlan(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()
	user := f.seedUser(t, "failure@example.com")
	f.seedPendingPayment(t, user, "order_fail", enums.PlanTierPro, 299900)

	out, err := f.svc.Reconcile(ctx, Input{
		OrderID:       "order_fail",
		Observed:      ObservedFailed,
		Source:        enums.SourceWebhookVerified,
		FailureReason: "card declined",
	})
	require.NoError(t, err)
	assert.Equal(t, ResultFailed, out.Result)

	row, err := f.usersRepo.FindByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PlanTierFree, row.Plan)
	assert.Nil(t, row.PlanExpiresAt)

	assert.EqualValues(t, 1, f.countEvents(t, enums.EventPaymentFailed))
	assert.EqualValues(t, 0, f.countEvents(t, enums.EventPlanActivated))
}

func TestReconcilePendingIsNoMutation(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()
	user := f.seedUser(t, "pending@example.com")
	f.seedPendingPayment(t, user, "order_pend", enums.PlanTierPro, 299900)

	out, err := f.svc.Reconcile(ctx, Input{
		OrderID:  "order_pend",
		Observed: ObservedPending,
		Source:   enums.SourceGatewayPolled,
	})
	require.NoError(t, err)
	assert.Equal(t, ResultPending, out.Result)

	payment, err := f.paymentsRepo.FindByOrderID(ctx, "order_pend")
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusPending, payment.Status)
}

func TestReconcileRepairsInterruptedActivation(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()
	user := f.seedUser(t, "crash@example.com")
	f.seedPendingPayment(t, user, "order_crash", enums.PlanTierPro, 299900)

	// Simulate a crash right after the payment write: the row is success
	// but no invoice was issued and the user was never mutated.
	claimed, err := f.paymentsRepo.ClaimSuccess(ctx, "order_crash", payments.SuccessClaim{
		PaymentID: "pay_1", Source: enums.SourceClientVerified,
	})
	require.NoError(t, err)
	require.True(t, claimed)

	out, err := f.svc.Reconcile(ctx, Input{
		OrderID:   "order_crash",
		Observed:  ObservedCaptured,
		PaymentID: "pay_1",
		Source:    enums.SourceGatewayPolled,
	})
	require.NoError(t, err)
	assert.Equal(t, ResultRepaired, out.Result)

	row, err := f.usersRepo.FindByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PlanTierPro, row.Plan)

	payment, err := f.paymentsRepo.FindByOrderID(ctx, "order_crash")
	require.NoError(t, err)
	require.NotNil(t, payment.InvoiceNumber, "invoice completed on re-observation")
	assert.Equal(t, enums.PaymentStatusSuccess, payment.Status)
}

func TestHandleRefundDowngradesBackingPlan(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()
	user := f.seedUser(t, "refund@example.com")
	f.seedPendingPayment(t, user, "order_rf", enums.PlanTierPro, 299900)

	_, err := f.svc.Reconcile(ctx, Input{
		OrderID: "order_rf", Observed: ObservedCaptured, PaymentID: "pay_1",
		Source: enums.SourceWebhookVerified,
	})
	require.NoError(t, err)

	out, err := f.svc.HandleRefund(ctx, "order_rf", "rfnd_1")
	require.NoError(t, err)
	assert.Equal(t, ResultFinalized, out.Result)

	payment, err := f.paymentsRepo.FindByOrderID(ctx, "order_rf")
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusRefunded, payment.Status)

	row, err := f.usersRepo.FindByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PlanTierFree, row.Plan)

	// Duplicate refund delivery is a no-op.
	again, err := f.svc.HandleRefund(ctx, "order_rf", "rfnd_1")
	require.NoError(t, err)
	assert.Equal(t, ResultAlreadyReconciled, again.Result)
	assert.EqualValues(t, 1, f.countEvents(t, enums.EventPaymentRefunded))
}

func TestReplayOfSupersededOrderKeepsCurrentPlan(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()
	user := f.seedUser(t, "upgrade@example.com")
	f.seedPendingPayment(t, user, "order_old", enums.PlanTierPro, 299900)
	f.seedPendingPayment(t, user, "order_new", enums.PlanTierEnterprise, 699900)

	oldCapture := Input{
		OrderID: "order_old", Observed: ObservedCaptured, PaymentID: "pay_old",
		Source: enums.SourceWebhookVerified,
	}
	_, err := f.svc.Reconcile(ctx, oldCapture)
	require.NoError(t, err)
	_, err = f.svc.Reconcile(ctx, Input{
		OrderID: "order_new", Observed: ObservedCaptured, PaymentID: "pay_new",
		Source: enums.SourceWebhookVerified,
	})
	require.NoError(t, err)

	// At-least-once delivery replays the older order's capture after the
	// upgrade. The newer plan must hold.
	out, err := f.svc.Reconcile(ctx, oldCapture)
	require.NoError(t, err)
	assert.Equal(t, ResultAlreadyReconciled, out.Result)

	row, err := f.usersRepo.FindByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PlanTierEnterprise, row.Plan)
	require.NotNil(t, row.PlanOrderID)
	assert.Equal(t, "order_new", *row.PlanOrderID)

	assert.EqualValues(t, 2, f.countEvents(t, enums.EventPlanActivated), "one activation per order, none for the replay")
}

func TestCaptureReplayAfterRefundStaysRefunded(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()
	user := f.seedUser(t, "replay-refund@example.com")
	f.seedPendingPayment(t, user, "order_rr", enums.PlanTierPro, 299900)

	capture := Input{
		OrderID: "order_rr", Observed: ObservedCaptured, PaymentID: "pay_1",
		Source: enums.SourceWebhookVerified,
	}
	_, err := f.svc.Reconcile(ctx, capture)
	require.NoError(t, err)
	_, err = f.svc.HandleRefund(ctx, "order_rr", "rfnd_1")
	require.NoError(t, err)

	// A redelivered capture after the refund must not resurrect the row or
	// re-grant the refunded plan.
	out, err := f.svc.Reconcile(ctx, capture)
	require.NoError(t, err)
	assert.Equal(t, ResultAlreadyReconciled, out.Result)

	payment, err := f.paymentsRepo.FindByOrderID(ctx, "order_rr")
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusRefunded, payment.Status)

	row, err := f.usersRepo.FindByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PlanTierFree, row.Plan)

	assert.EqualValues(t, 1, f.countEvents(t, enums.EventPaymentSucceeded))
	assert.EqualValues(t, 1, f.countEvents(t, enums.EventPlanActivated))
}

func TestReconcileValidatesInput(t *testing.T) {
	f := setupFixture(t)

	_, err := f.svc.Reconcile(context.Background(), Input{Observed: ObservedCaptured, Source: enums.SourceClientVerified})
	perr := pkgerrors.As(err)
	require.NotNil(t, perr)
	assert.Equal(t, pkgerrors.CodeValidation, perr.Code())

	_, err = f.svc.Reconcile(context.Background(), Input{OrderID: "order_x", Observed: ObservedCaptured, Source: "bogus"})
	perr = pkgerrors.As(err)
	require.NotNil(t, perr)
	assert.Equal(t, pkgerrors.CodeValidation, perr.Code())
}
