package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/dhirensoni-certistage/certistage-app-sub001/internal/invoices"
	"github.com/dhirensoni-certistage/certistage-app-sub001/internal/payments"
	"github.com/dhirensoni-certistage/certistage-app-sub001/internal/plans"
	"github.com/dhirensoni-certistage/certistage-app-sub001/internal/users"
	dbpkg "github.com/dhirensoni-certistage/certistage-app-sub001/pkg/db"
	"github.com/dhirensoni-certistage/certistage-app-sub001/pkg/db/models"
	"github.com/dhirensoni-certistage/certistage-app-sub001/pkg/enums"
	pkgerrors "github.com/dhirensoni-certistage/certistage-app-sub001/pkg/errors"
	"github.com/dhirensoni-certistage/certistage-app-sub001/pkg/logger"
	"github.com/dhirensoni-certistage/certistage-app-sub001/pkg/metrics"
	"github.com/dhirensoni-certistage/certistage-app-sub001/pkg/outbox"
)

// Observed is the gateway-authoritative status presented by an entry point.
type Observed string

const (
	ObservedCaptured Observed = "captured"
	ObservedFailed   Observed = "failed"
	ObservedPending  Observed = "pending"
)

// Result describes what one reconciliation attempt did.
type Result string

const (
	// ResultFinalized means this attempt won the success transition and
	// dispatched the side effects.
	ResultFinalized Result = "finalized"
	// ResultAlreadyReconciled means the order was already success; nothing
	// was re-dispatched. This is a normal return, not an error.
	ResultAlreadyReconciled Result = "already_reconciled"
	// ResultRepaired means the payment was already success but the user
	// mutation was still owed (crash between the two writes) and has now
	// been completed.
	ResultRepaired Result = "repaired"
	ResultFailed   Result = "failed"
	ResultPending  Result = "pending"
)

// Input is the uniform contract shared by the client-verify handler, the
// webhook ingestor and the sync sweeper.
type Input struct {
	OrderID   string
	Observed  Observed
	PaymentID string
	Plan      enums.PlanTier
	UserID    uuid.UUID
	Signature string
	Source    enums.ReconcileSource

	// Amount and Currency let a webhook with no prior local state create
	// the payment record from its self-describing metadata.
	Amount   int64
	Currency string

	FailureReason string
}

// Outcome is the attempt's observable result.
type Outcome struct {
	Payment       *models.Payment
	Result        Result
	InvoiceNumber string
}

// ServiceParams wires the reconciliation core dependencies.
type ServiceParams struct {
	Payments payments.Repository
	Users    users.Repository
	Plans    *plans.Service
	Invoices *invoices.Service
	Outbox   *outbox.Service
	Metrics  *metrics.ReconcileMetrics
	Logger   *logger.Logger
}

// Service is the single authority for turning an observed gateway event
// into a persisted Payment plus a User plan mutation. All three entry
// points funnel through Reconcile; the payment row's conditional success
// update is the sole race safeguard.
type Service struct {
	paymentsRepo payments.Repository
	usersRepo    users.Repository
	plans        *plans.Service
	invoices     *invoices.Service
	outbox       *outbox.Service
	metrics      *metrics.ReconcileMetrics
	logg         *logger.Logger
	now          func() time.Time
}

// NewService builds the reconciliation core.
func NewService(params ServiceParams) (*Service, error) {
	if params.Payments == nil {
		return nil, errors.New("payments repo is required")
	}
	if params.Users == nil {
		return nil, errors.New("users repo is required")
	}
	if params.Plans == nil {
		return nil, errors.New("plans service is required")
	}
	if params.Invoices == nil {
		return nil, errors.New("invoices service is required")
	}
	return &Service{
		paymentsRepo: params.Payments,
		usersRepo:    params.Users,
		plans:        params.Plans,
		invoices:     params.Invoices,
		outbox:       params.Outbox,
		metrics:      params.Metrics,
		logg:         params.Logger,
		now:          time.Now,
	}, nil
}

// WithClock overrides the time source, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Reconcile converges the local Payment and User state with one observed
// gateway status. Replaying the same observation is always safe.
func (s *Service) Reconcile(ctx context.Context, input Input) (*Outcome, error) {
	if input.OrderID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	if !input.Source.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid reconcile source")
	}

	started := s.now()
	outcome, err := s.reconcile(ctx, input)
	if s.metrics != nil {
		s.metrics.ObserveDuration(input.Source.String(), s.now().Sub(started))
		if err != nil {
			s.metrics.IncOutcome(input.Source.String(), "error")
		} else {
			s.metrics.IncOutcome(input.Source.String(), string(outcome.Result))
		}
	}
	return outcome, err
}

func (s *Service) reconcile(ctx context.Context, input Input) (*Outcome, error) {
	ctx = s.withLogFields(ctx, input)

	payment, err := s.loadOrCreate(ctx, input)
	if err != nil {
		return nil, err
	}

	switch input.Observed {
	case ObservedCaptured:
		return s.finalizeSuccess(ctx, payment, input)
	case ObservedFailed:
		return s.recordFailure(ctx, payment, input)
	case ObservedPending:
		// No mutation; exists so the sweeper has a uniform contract.
		return &Outcome{Payment: payment, Result: ResultPending}, nil
	default:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown observed status")
	}
}

// loadOrCreate fetches the payment row, creating it reactively when a
// webhook arrives for an order the client flow never recorded locally.
func (s *Service) loadOrCreate(ctx context.Context, input Input) (*models.Payment, error) {
	payment, err := s.paymentsRepo.FindByOrderID(ctx, input.OrderID)
	if err == nil {
		return payment, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load payment")
	}

	if input.UserID == uuid.Nil || !input.Plan.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no payment record for order")
	}

	currency := input.Currency
	if currency == "" {
		currency = "INR"
	}
	created := &models.Payment{
		OrderID:  input.OrderID,
		UserID:   input.UserID,
		Plan:     input.Plan,
		Amount:   input.Amount,
		Currency: currency,
		Status:   enums.PaymentStatusPending,
	}
	if err := s.paymentsRepo.Create(ctx, created); err != nil {
		// Lost a create race with another entry point; the row exists now.
		if dbpkg.IsUniqueViolation(err, "idx_payments_order_id") {
			return s.loadExisting(ctx, input.OrderID)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create payment")
	}
	if s.logg != nil {
		s.logg.Info(ctx, "payment record created from gateway event")
	}
	return created, nil
}

func (s *Service) loadExisting(ctx context.Context, orderID string) (*models.Payment, error) {
	payment, err := s.paymentsRepo.FindByOrderID(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load payment")
	}
	return payment, nil
}

func (s *Service) finalizeSuccess(ctx context.Context, payment *models.Payment, input Input) (*Outcome, error) {
	claim := payments.SuccessClaim{
		PaymentID:       input.PaymentID,
		Signature:       input.Signature,
		Source:          input.Source,
		WebhookVerified: input.Source == enums.SourceWebhookVerified,
	}

	claimed, err := s.paymentsRepo.ClaimSuccess(ctx, payment.OrderID, claim)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "claim success")
	}

	payment, err = s.loadExisting(ctx, payment.OrderID)
	if err != nil {
		return nil, err
	}

	if !claimed {
		return s.reobserveSuccess(ctx, payment, input)
	}

	// This attempt owns the transition into success: invoice fields first
	// (same document), then the user mutation, then notification dispatch.
	invoiceNumber := s.issueInvoice(ctx, payment)

	activated, err := s.activateUserPlan(ctx, payment)
	if err != nil {
		return nil, err
	}
	if err := s.paymentsRepo.MarkPlanActivated(ctx, payment.OrderID); err != nil {
		// The user write landed; the next re-observation retries the flag.
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark plan activated")
	}

	s.emitSuccessEvents(ctx, payment, invoiceNumber, activated)

	if s.logg != nil {
		s.logg.Info(ctx, "payment finalized")
	}

	payment, err = s.loadExisting(ctx, payment.OrderID)
	if err != nil {
		return nil, err
	}
	return &Outcome{Payment: payment, Result: ResultFinalized, InvoiceNumber: invoiceNumber}, nil
}

// reobserveSuccess handles a success observation for an order that is
// already success. No side effects are re-dispatched, but two repairs are
// allowed: completing a user mutation a crash left undone, and recording
// webhook corroboration on a client-finalized payment.
func (s *Service) reobserveSuccess(ctx context.Context, payment *models.Payment, input Input) (*Outcome, error) {
	if payment.Status != enums.PaymentStatusSuccess {
		// The row was refunded or failed after an earlier success claim
		// raced us. Either way this observation changes nothing.
		return &Outcome{Payment: payment, Result: ResultAlreadyReconciled}, nil
	}

	if input.Source == enums.SourceWebhookVerified && !payment.WebhookVerified {
		if err := s.paymentsRepo.MarkWebhookVerified(ctx, payment.OrderID); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark webhook verified")
		}
	}

	// Invoice fields are computed only if a crash left them unset; the
	// conditional write keeps the first issuance authoritative.
	if payment.InvoiceNumber == nil {
		s.issueInvoice(ctx, payment)
		var err error
		payment, err = s.loadExisting(ctx, payment.OrderID)
		if err != nil {
			return nil, err
		}
	}

	// The user mutation is repaired only while the activation flag is
	// unset. Once set, a replayed capture for this order never touches the
	// user again, even if a newer order has since moved plan_order_id on.
	result := ResultAlreadyReconciled
	if !payment.PlanActivated {
		activated, err := s.activateUserPlan(ctx, payment)
		if err != nil {
			return nil, err
		}
		if err := s.paymentsRepo.MarkPlanActivated(ctx, payment.OrderID); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark plan activated")
		}
		if activated {
			// The previous attempt crashed between the payment write and
			// the user write; this observation completed it.
			result = ResultRepaired
			if s.logg != nil {
				s.logg.Info(ctx, "completed interrupted plan activation")
			}
		}
	}

	invoiceNumber := ""
	if payment.InvoiceNumber != nil {
		invoiceNumber = *payment.InvoiceNumber
	}
	return &Outcome{Payment: payment, Result: result, InvoiceNumber: invoiceNumber}, nil
}

func (s *Service) recordFailure(ctx context.Context, payment *models.Payment, input Input) (*Outcome, error) {
	reason := input.FailureReason
	if reason == "" {
		reason = "payment failed at gateway"
	}

	marked, err := s.paymentsRepo.MarkFailed(ctx, payment.OrderID, reason, input.Source)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark failed")
	}

	payment, err = s.loadExisting(ctx, payment.OrderID)
	if err != nil {
		return nil, err
	}

	if !marked {
		// Already success or already failed; a failure report never
		// downgrades a finalized payment and the user is never touched.
		return &Outcome{Payment: payment, Result: ResultAlreadyReconciled}, nil
	}

	s.emitEvent(ctx, outbox.DomainEvent{
		EventType:     enums.EventPaymentFailed,
		AggregateType: enums.AggregatePayment,
		AggregateID:   payment.ID,
		Version:       1,
		Data: map[string]any{
			"orderId": payment.OrderID,
			"userId":  payment.UserID.String(),
			"plan":    payment.Plan,
			"reason":  reason,
		},
	})

	if s.logg != nil {
		s.logg.Info(ctx, "payment marked failed")
	}
	return &Outcome{Payment: payment, Result: ResultFailed}, nil
}

// HandleRefund moves a success payment to refunded and removes the plan it
// paid for, if that plan is still the user's active one.
func (s *Service) HandleRefund(ctx context.Context, orderID, refundID string) (*Outcome, error) {
	if orderID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}

	payment, err := s.paymentsRepo.FindByOrderID(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no payment record for order")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load payment")
	}

	marked, err := s.paymentsRepo.MarkRefunded(ctx, orderID, refundID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark refunded")
	}

	payment, err = s.loadExisting(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if !marked {
		return &Outcome{Payment: payment, Result: ResultAlreadyReconciled}, nil
	}

	downgraded, err := s.usersRepo.DowngradeForOrder(ctx, payment.UserID, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "downgrade refunded plan")
	}

	s.emitEvent(ctx, outbox.DomainEvent{
		EventType:     enums.EventPaymentRefunded,
		AggregateType: enums.AggregatePayment,
		AggregateID:   payment.ID,
		Version:       1,
		Data: map[string]any{
			"orderId":        payment.OrderID,
			"refundId":       refundID,
			"userId":         payment.UserID.String(),
			"planDowngraded": downgraded,
		},
	})

	if s.logg != nil {
		s.logg.Info(ctx, "payment refunded")
	}
	return &Outcome{Payment: payment, Result: ResultFinalized}, nil
}

func (s *Service) issueInvoice(ctx context.Context, payment *models.Payment) string {
	fields, issued, err := s.invoices.Issue(ctx, payment, s.now())
	if err != nil {
		// Invoice issuance is retried by the next re-observation; the
		// success claim itself is already durable.
		if s.logg != nil {
			s.logg.Error(ctx, "issue invoice", err)
		}
		return ""
	}
	if !issued {
		if payment.InvoiceNumber != nil {
			return *payment.InvoiceNumber
		}
		return ""
	}
	return fields.Number
}

func (s *Service) activateUserPlan(ctx context.Context, payment *models.Payment) (bool, error) {
	plan, err := s.plans.Get(ctx, payment.Plan)
	if err != nil {
		return false, err
	}

	now := s.now()
	activation := users.PlanActivation{
		Tier:    payment.Plan,
		OrderID: payment.OrderID,
		Start:   now,
		Expiry:  now.AddDate(0, 0, plan.TermDays),
	}
	activated, err := s.usersRepo.ActivatePlan(ctx, payment.UserID, activation)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "activate plan")
	}
	return activated, nil
}

func (s *Service) emitSuccessEvents(ctx context.Context, payment *models.Payment, invoiceNumber string, activated bool) {
	s.emitEvent(ctx, outbox.DomainEvent{
		EventType:     enums.EventPaymentSucceeded,
		AggregateType: enums.AggregatePayment,
		AggregateID:   payment.ID,
		Version:       1,
		Data: map[string]any{
			"orderId":       payment.OrderID,
			"userId":        payment.UserID.String(),
			"plan":          payment.Plan,
			"amount":        payment.Amount,
			"invoiceNumber": invoiceNumber,
		},
	})
	if activated {
		s.emitEvent(ctx, outbox.DomainEvent{
			EventType:     enums.EventPlanActivated,
			AggregateType: enums.AggregateUser,
			AggregateID:   payment.UserID,
			Version:       1,
			Data: map[string]any{
				"userId":  payment.UserID.String(),
				"plan":    payment.Plan,
				"orderId": payment.OrderID,
			},
		})
	}
	if invoiceNumber != "" {
		s.emitEvent(ctx, outbox.DomainEvent{
			EventType:     enums.EventInvoiceIssued,
			AggregateType: enums.AggregatePayment,
			AggregateID:   payment.ID,
			Version:       1,
			Data: map[string]any{
				"orderId":       payment.OrderID,
				"invoiceNumber": invoiceNumber,
			},
		})
	}
}

func (s *Service) emitEvent(ctx context.Context, event outbox.DomainEvent) {
	if s.outbox == nil {
		return
	}
	if err := s.outbox.EmitDirect(ctx, event); err != nil && s.logg != nil {
		s.logg.Error(ctx, "queue outbox event", err)
	}
}

func (s *Service) withLogFields(ctx context.Context, input Input) context.Context {
	if s.logg == nil {
		return ctx
	}
	ctx = s.logg.WithOrderID(ctx, input.OrderID)
	return s.logg.WithField(ctx, "source", input.Source.String())
}
