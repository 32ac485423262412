package gatewaywebhook

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"

	"github.com/dhirensoni-certistage/certistage-app-sub001/internal/reconcile"
	"github.com/dhirensoni-certistage/certistage-app-sub001/pkg/enums"
	pkgerrors "github.com/dhirensoni-certistage/certistage-app-sub001/pkg/errors"
	"github.com/dhirensoni-certistage/certistage-app-sub001/pkg/gateway"
	"github.com/dhirensoni-certistage/certistage-app-sub001/pkg/logger"
	"github.com/dhirensoni-certistage/certistage-app-sub001/pkg/metrics"
)

// Event kinds delivered by the payment gateway.
const (
	EventPaymentCaptured = "payment.captured"
	EventPaymentFailed   = "payment.failed"
	EventOrderPaid       = "order.paid"
	EventRefundCreated   = "refund.created"
)

// envelope is the gateway's outer webhook shape. Signatures are computed
// over the raw bytes, so this is decoded only after verification.
type envelope struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity paymentEntity `json:"entity"`
		} `json:"payment"`
		Order struct {
			Entity orderEntity `json:"entity"`
		} `json:"order"`
		Refund struct {
			Entity refundEntity `json:"entity"`
		} `json:"refund"`
	} `json:"payload"`
	CreatedAt int64 `json:"created_at"`
}

type paymentEntity struct {
	ID               string            `json:"id"`
	OrderID          string            `json:"order_id"`
	Amount           int64             `json:"amount"`
	Currency         string            `json:"currency"`
	Status           string            `json:"status"`
	ErrorDescription string            `json:"error_description"`
	Notes            map[string]string `json:"notes"`
}

type orderEntity struct {
	ID       string            `json:"id"`
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Status   string            `json:"status"`
	Notes    map[string]string `json:"notes"`
}

type refundEntity struct {
	ID        string `json:"id"`
	PaymentID string `json:"payment_id"`
	Amount    int64  `json:"amount"`
}

type secretSource interface {
	WebhookSecret() string
}

type reconciler interface {
	Reconcile(ctx context.Context, input reconcile.Input) (*reconcile.Outcome, error)
	HandleRefund(ctx context.Context, orderID, refundID string) (*reconcile.Outcome, error)
}

// ServiceParams wires the webhook ingestor dependencies.
type ServiceParams struct {
	Reconcile reconciler
	Secrets   secretSource
	Guard     *IdempotencyGuard
	Metrics   *metrics.ReconcileMetrics
	Logger    *logger.Logger
}

// Service verifies, deduplicates and dispatches gateway webhook events.
type Service struct {
	reconcile reconciler
	secrets   secretSource
	guard     *IdempotencyGuard
	metrics   *metrics.ReconcileMetrics
	logg      *logger.Logger
}

// NewService builds a webhook ingest service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Reconcile == nil {
		return nil, errors.New("reconcile service is required")
	}
	if params.Secrets == nil {
		return nil, errors.New("webhook secret source is required")
	}
	return &Service{
		reconcile: params.Reconcile,
		secrets:   params.Secrets,
		guard:     params.Guard,
		metrics:   params.Metrics,
		logg:      params.Logger,
	}, nil
}

// Ingest processes one webhook delivery. The signature covers the exact
// raw request bytes; decoding happens only after it checks out. Duplicate
// deliveries are tolerated twice over: the redis guard short-circuits
// them cheaply, and the reconciliation core absorbs any that slip past.
func (s *Service) Ingest(ctx context.Context, raw []byte, signature, eventID string) error {
	if !gateway.VerifyWebhookSignature(raw, signature, s.secrets.WebhookSecret()) {
		s.count("unknown", "signature_mismatch")
		return pkgerrors.New(pkgerrors.CodeSignature, "webhook signature mismatch")
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		s.count("unknown", "malformed")
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode webhook payload")
	}

	switch env.Event {
	case EventPaymentCaptured, EventPaymentFailed, EventOrderPaid, EventRefundCreated:
	default:
		// Unsubscribed event kinds are acknowledged, not errors.
		s.count(env.Event, "ignored")
		return nil
	}

	if dup, err := s.checkDuplicate(ctx, eventID); err != nil {
		// Guard failure is not fatal; reconciliation is replay-safe.
		if s.logg != nil {
			s.logg.Warn(ctx, "webhook idempotency check failed")
		}
	} else if dup {
		s.count(env.Event, "duplicate")
		return nil
	}

	if err := s.dispatch(ctx, &env); err != nil {
		// Release the mark so the gateway's redelivery retries this event.
		if s.guard != nil && eventID != "" {
			if delErr := s.guard.Delete(ctx, eventID); delErr != nil && s.logg != nil {
				s.logg.Warn(ctx, "release webhook idempotency mark failed")
			}
		}
		s.count(env.Event, "error")
		return err
	}

	s.count(env.Event, "processed")
	return nil
}

func (s *Service) checkDuplicate(ctx context.Context, eventID string) (bool, error) {
	if s.guard == nil || eventID == "" {
		return false, nil
	}
	return s.guard.CheckAndMark(ctx, eventID)
}

func (s *Service) dispatch(ctx context.Context, env *envelope) error {
	switch env.Event {
	case EventPaymentCaptured:
		return s.dispatchCapture(ctx, env.Payload.Payment.Entity)
	case EventOrderPaid:
		// order.paid arrives alongside payment.captured; both resolve to
		// the same reconciliation input and the core dedupes them.
		entity := env.Payload.Payment.Entity
		if entity.OrderID == "" {
			entity.OrderID = env.Payload.Order.Entity.ID
			entity.Notes = env.Payload.Order.Entity.Notes
			entity.Amount = env.Payload.Order.Entity.Amount
			entity.Currency = env.Payload.Order.Entity.Currency
		}
		return s.dispatchCapture(ctx, entity)
	case EventPaymentFailed:
		entity := env.Payload.Payment.Entity
		if entity.OrderID == "" {
			return pkgerrors.New(pkgerrors.CodeValidation, "payment event missing order id")
		}
		input := inputFromEntity(entity, reconcile.ObservedFailed)
		input.FailureReason = entity.ErrorDescription
		_, err := s.reconcile.Reconcile(ctx, input)
		return err
	case EventRefundCreated:
		refund := env.Payload.Refund.Entity
		orderID := env.Payload.Payment.Entity.OrderID
		if refund.ID == "" || orderID == "" {
			return pkgerrors.New(pkgerrors.CodeValidation, "refund event missing refund or order id")
		}
		_, err := s.reconcile.HandleRefund(ctx, orderID, refund.ID)
		return err
	default:
		return nil
	}
}

func (s *Service) dispatchCapture(ctx context.Context, entity paymentEntity) error {
	if entity.OrderID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "payment event missing order id")
	}
	_, err := s.reconcile.Reconcile(ctx, inputFromEntity(entity, reconcile.ObservedCaptured))
	return err
}

// inputFromEntity builds a reconciliation input from the event's
// self-describing notes, so a webhook can create the payment record even
// when the client flow never wrote one.
func inputFromEntity(entity paymentEntity, observed reconcile.Observed) reconcile.Input {
	input := reconcile.Input{
		OrderID:   entity.OrderID,
		Observed:  observed,
		PaymentID: entity.ID,
		Source:    enums.SourceWebhookVerified,
		Amount:    entity.Amount,
		Currency:  entity.Currency,
	}
	if tier, err := enums.ParsePlanTier(entity.Notes["plan"]); err == nil {
		input.Plan = tier
	}
	if id, err := uuid.Parse(entity.Notes["user_id"]); err == nil {
		input.UserID = id
	}
	return input
}

func (s *Service) count(event, disposition string) {
	if s.metrics != nil {
		s.metrics.IncWebhook(event, disposition)
	}
}
