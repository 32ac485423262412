package sweeper

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/dhirensoni-certistage/certistage-app-sub001/internal/payments"
	"github.com/dhirensoni-certistage/certistage-app-sub001/internal/reconcile"
	"github.com/dhirensoni-certistage/certistage-app-sub001/pkg/enums"
	pkgerrors "github.com/dhirensoni-certistage/certistage-app-sub001/pkg/errors"
	"github.com/dhirensoni-certistage/certistage-app-sub001/pkg/gateway"
	"github.com/dhirensoni-certistage/certistage-app-sub001/pkg/logger"
)

const (
	defaultSweepLimit       = 250
	defaultSweepConcurrency = 4
)

type reconciler interface {
	Reconcile(ctx context.Context, input reconcile.Input) (*reconcile.Outcome, error)
}

// Report aggregates one bulk sweep. Per-order failures are counted, never
// propagated; the next sweep retries them.
type Report struct {
	Total        int `json:"total"`
	Synced       int `json:"synced"`
	Success      int `json:"success"`
	Failed       int `json:"failed"`
	StillPending int `json:"stillPending"`
	Errors       int `json:"errors"`
}

// ServiceParams wires the sweep dependencies.
type ServiceParams struct {
	Payments    payments.Repository
	Gateway     gateway.API
	Reconcile   reconciler
	Logger      *logger.Logger
	Limit       int
	Concurrency int
}

// Service polls the gateway for the authoritative status of pending
// payments, catching orders whose webhook and client callback both never
// arrived.
type Service struct {
	paymentsRepo payments.Repository
	gateway      gateway.API
	reconcile    reconciler
	logg         *logger.Logger
	limit        int
	concurrency  int
}

// NewService builds a sweep service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Payments == nil {
		return nil, errors.New("payments repo is required")
	}
	if params.Gateway == nil {
		return nil, errors.New("gateway client is required")
	}
	if params.Reconcile == nil {
		return nil, errors.New("reconcile service is required")
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultSweepLimit
	}
	concurrency := params.Concurrency
	if concurrency <= 0 {
		concurrency = defaultSweepConcurrency
	}
	return &Service{
		paymentsRepo: params.Payments,
		gateway:      params.Gateway,
		reconcile:    params.Reconcile,
		logg:         params.Logger,
		limit:        limit,
		concurrency:  concurrency,
	}, nil
}

// SyncOrder polls the gateway for one order and dispatches what it finds.
func (s *Service) SyncOrder(ctx context.Context, orderID string) (*reconcile.Outcome, error) {
	if orderID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}

	input, err := s.observe(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return s.reconcile.Reconcile(ctx, *input)
}

// SweepAll enumerates pending payments and syncs each against the
// gateway. Concurrency is bounded to stay under the gateway's rate
// limits; one order's failure never aborts the rest.
func (s *Service) SweepAll(ctx context.Context) (*Report, error) {
	pending, err := s.paymentsRepo.ListPending(ctx, s.limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list pending payments")
	}

	report := &Report{Total: len(pending)}
	var (
		mu   sync.Mutex
		errs error
	)

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.concurrency)
	for i := range pending {
		payment := pending[i]
		group.Go(func() error {
			outcome, syncErr := s.SyncOrder(groupCtx, payment.OrderID)
			mu.Lock()
			defer mu.Unlock()
			if syncErr != nil {
				report.Errors++
				errs = multierr.Append(errs, syncErr)
				return nil
			}
			report.Synced++
			s.tally(report, outcome)
			return nil
		})
	}
	// Workers always return nil; Wait only observes context cancellation.
	if waitErr := group.Wait(); waitErr != nil {
		errs = multierr.Append(errs, waitErr)
	}

	if s.logg != nil {
		reportCtx := s.logg.WithFields(ctx, map[string]any{
			"total":         report.Total,
			"synced":        report.Synced,
			"success":       report.Success,
			"failed":        report.Failed,
			"still_pending": report.StillPending,
			"errors":        report.Errors,
		})
		if errs != nil {
			s.logg.Error(reportCtx, "sweep finished with per-order errors", errs)
		} else {
			s.logg.Info(reportCtx, "sweep complete")
		}
	}
	return report, nil
}

func (s *Service) tally(report *Report, outcome *reconcile.Outcome) {
	switch outcome.Result {
	case reconcile.ResultFinalized, reconcile.ResultRepaired:
		report.Success++
	case reconcile.ResultFailed:
		report.Failed++
	case reconcile.ResultPending:
		report.StillPending++
	case reconcile.ResultAlreadyReconciled:
		// Another entry point got there first; count what it decided.
		if outcome.Payment != nil && outcome.Payment.Status == enums.PaymentStatusSuccess {
			report.Success++
		} else if outcome.Payment != nil && outcome.Payment.Status == enums.PaymentStatusFailed {
			report.Failed++
		} else {
			report.StillPending++
		}
	}
}

// observe maps the gateway's order and charge records onto a single
// reconciliation input. A paid order is authoritative on its own; an
// attempted order needs its charge list to distinguish a failed attempt
// from one still in flight.
func (s *Service) observe(ctx context.Context, orderID string) (*reconcile.Input, error) {
	order, err := s.gateway.FetchOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	input := &reconcile.Input{
		OrderID:  orderID,
		Source:   enums.SourceGatewayPolled,
		Amount:   order.Amount,
		Currency: order.Currency,
	}
	applyNotes(input, order.Notes)

	charges, err := s.gateway.FetchOrderPayments(ctx, orderID)
	if err != nil && order.Status != gateway.OrderStatusPaid {
		return nil, err
	}

	if captured := pickCharge(charges, gateway.PaymentStatusCaptured); captured != nil {
		input.Observed = reconcile.ObservedCaptured
		input.PaymentID = captured.ID
		return input, nil
	}
	if order.Status == gateway.OrderStatusPaid {
		// Paid order with no readable charge list still finalizes; the
		// charge id is recovered by a later webhook or sweep.
		input.Observed = reconcile.ObservedCaptured
		return input, nil
	}
	if failed := pickCharge(charges, gateway.PaymentStatusFailed); failed != nil {
		input.Observed = reconcile.ObservedFailed
		input.PaymentID = failed.ID
		input.FailureReason = failed.ErrorDescription
		return input, nil
	}

	input.Observed = reconcile.ObservedPending
	return input, nil
}

func pickCharge(charges []gateway.Payment, status gateway.PaymentStatus) *gateway.Payment {
	for i := range charges {
		if charges[i].Status == status {
			return &charges[i]
		}
	}
	return nil
}

func applyNotes(input *reconcile.Input, notes map[string]string) {
	if tier, err := enums.ParsePlanTier(notes["plan"]); err == nil {
		input.Plan = tier
	}
	if id, err := uuid.Parse(notes["user_id"]); err == nil {
		input.UserID = id
	}
}
