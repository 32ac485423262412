package plans

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/dhirensoni-certistage/certistage-app-sub001/pkg/db/models"
	"github.com/dhirensoni-certistage/certistage-app-sub001/pkg/enums"
	pkgerrors "github.com/dhirensoni-certistage/certistage-app-sub001/pkg/errors"
)

// ServiceParams wires the plan catalog dependencies.
type ServiceParams struct {
	Repo Repository
}

// Service exposes the plan catalog and upgrade quoting.
type Service struct {
	repo Repository
}

// NewService builds a plan catalog service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, errors.New("repo is required")
	}
	return &Service{repo: params.Repo}, nil
}

// List returns the catalog ordered by price.
func (s *Service) List(ctx context.Context) ([]models.Plan, error) {
	return s.repo.List(ctx)
}

// Get returns the catalog row for a tier.
func (s *Service) Get(ctx context.Context, tier enums.PlanTier) (*models.Plan, error) {
	if !tier.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid plan tier")
	}
	plan, err := s.repo.FindByTier(ctx, tier)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "plan not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load plan")
	}
	return plan, nil
}

// Quote computes the pro-rata upgrade amount for a user moving to target.
// The user's current tier contributes credit only while its paid term is
// still active.
func (s *Service) Quote(ctx context.Context, user *models.User, target enums.PlanTier, now time.Time) (*models.Plan, ProRata, error) {
	if !target.IsPaid() {
		return nil, ProRata{}, pkgerrors.New(pkgerrors.CodeValidation, "free plan requires no payment")
	}
	targetPlan, err := s.Get(ctx, target)
	if err != nil {
		return nil, ProRata{}, err
	}

	var currentPrice int64
	if user != nil && user.Plan.IsPaid() {
		currentPlan, err := s.Get(ctx, user.Plan)
		if err != nil {
			return nil, ProRata{}, err
		}
		currentPrice = currentPlan.PriceAmount
	}

	var start, expiry *time.Time
	if user != nil {
		start = user.PlanStartDate
		expiry = user.PlanExpiresAt
	}

	quote := ComputeProRata(currentPrice, targetPlan.PriceAmount, start, expiry, now)
	return targetPlan, quote, nil
}
