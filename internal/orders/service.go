package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dhirensoni-certistage/certistage-app-sub001/internal/payments"
	"github.com/dhirensoni-certistage/certistage-app-sub001/internal/plans"
	"github.com/dhirensoni-certistage/certistage-app-sub001/internal/users"
	"github.com/dhirensoni-certistage/certistage-app-sub001/pkg/db/models"
	"github.com/dhirensoni-certistage/certistage-app-sub001/pkg/enums"
	pkgerrors "github.com/dhirensoni-certistage/certistage-app-sub001/pkg/errors"
	"github.com/dhirensoni-certistage/certistage-app-sub001/pkg/gateway"
	"github.com/dhirensoni-certistage/certistage-app-sub001/pkg/logger"
)

// Intent is everything the checkout client needs to open the gateway's
// payment widget. The key secret never appears here.
type Intent struct {
	OrderID  string         `json:"orderId"`
	Amount   int64          `json:"amount"`
	Currency string         `json:"currency"`
	KeyID    string         `json:"keyId"`
	Plan     enums.PlanTier `json:"plan"`
	Quote    plans.ProRata  `json:"quote"`
}

// ServiceParams wires the order intent dependencies.
type ServiceParams struct {
	Payments payments.Repository
	Users    users.Repository
	Plans    *plans.Service
	Gateway  gateway.API
	Logger   *logger.Logger
}

// Service creates gateway orders and the local pending payment records
// that anchor reconciliation.
type Service struct {
	paymentsRepo payments.Repository
	usersRepo    users.Repository
	plans        *plans.Service
	gateway      gateway.API
	logg         *logger.Logger
	now          func() time.Time
}

// NewService builds an order intent service.
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
	if params.Gateway == nil {
		return nil, errors.New("gateway client is required")
	}
	return &Service{
		paymentsRepo: params.Payments,
		usersRepo:    params.Users,
		plans:        params.Plans,
		gateway:      params.Gateway,
		logg:         params.Logger,
		now:          time.Now,
	}, nil
}

// WithClock overrides the time source, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// CreateIntent quotes the target plan for the user, opens a gateway order
// for the quoted amount and records the pending payment. The order's notes
// carry enough metadata for a webhook to reconcile even if this process
// dies immediately after the gateway call.
func (s *Service) CreateIntent(ctx context.Context, user *models.User, target enums.PlanTier) (*Intent, error) {
	if user == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user is required")
	}
	if !target.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid plan tier")
	}

	now := s.now()
	plan, quote, err := s.plans.Quote(ctx, user, target, now)
	if err != nil {
		return nil, err
	}

	order, err := s.gateway.CreateOrder(ctx, gateway.CreateOrderParams{
		Amount:   quote.FinalAmount,
		Currency: plan.CurrencyCode,
		Receipt:  fmt.Sprintf("sub_%s_%d", user.ID, now.Unix()),
		Notes: map[string]string{
			"plan":    target.String(),
			"user_id": user.ID.String(),
			"email":   user.Email,
		},
	})
	if err != nil {
		return nil, err
	}

	payment := &models.Payment{
		OrderID:  order.ID,
		UserID:   user.ID,
		Plan:     target,
		Amount:   quote.FinalAmount,
		Currency: plan.CurrencyCode,
		Status:   enums.PaymentStatusPending,
	}
	if err := s.paymentsRepo.Create(ctx, payment); err != nil {
		// The gateway order exists but has no local anchor; the webhook's
		// notes recreate the record, so surface the error without retrying.
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record pending payment")
	}

	if err := s.markPendingTarget(ctx, user, target); err != nil {
		return nil, err
	}

	if s.logg != nil {
		s.logg.Info(s.logg.WithOrderID(ctx, order.ID), "payment intent created")
	}

	return &Intent{
		OrderID:  order.ID,
		Amount:   quote.FinalAmount,
		Currency: plan.CurrencyCode,
		KeyID:    s.gateway.KeyID(),
		Plan:     target,
		Quote:    quote,
	}, nil
}

func (s *Service) markPendingTarget(ctx context.Context, user *models.User, target enums.PlanTier) error {
	if user.PendingPlan != nil && *user.PendingPlan == target {
		return nil
	}
	if err := s.usersRepo.SetPendingPlan(ctx, user.ID, &target); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "set pending plan")
	}
	return nil
}
