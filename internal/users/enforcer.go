package users

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/dhirensoni-certistage/certistage-app-sub001/pkg/enums"
	"github.com/dhirensoni-certistage/certistage-app-sub001/pkg/logger"
	"github.com/dhirensoni-certistage/certistage-app-sub001/pkg/outbox"

	"github.com/dhirensoni-certistage/certistage-app-sub001/pkg/db/models"
)

// EnforcerParams wires the expiry enforcer dependencies.
type EnforcerParams struct {
	Repo   Repository
	Outbox *outbox.Service
	Logger *logger.Logger
}

// Enforcer downgrades users whose paid term has elapsed. It runs at session
// establishment, before any authorization decision is returned.
type Enforcer struct {
	repo   Repository
	outbox *outbox.Service
	logg   *logger.Logger
}

// NewEnforcer builds a plan expiry enforcer.
func NewEnforcer(params EnforcerParams) (*Enforcer, error) {
	if params.Repo == nil {
		return nil, errors.New("repo is required")
	}
	return &Enforcer{
		repo:   params.Repo,
		outbox: params.Outbox,
		logg:   params.Logger,
	}, nil
}

// Enforce loads the user and applies an expiry downgrade when due. It
// returns the post-enforcement user and whether a downgrade happened. The
// conditional update means a race with a concurrent payment activation
// resolves in the activation's favor.
func (e *Enforcer) Enforce(ctx context.Context, userID uuid.UUID, now time.Time) (*models.User, bool, error) {
	user, err := e.repo.FindByID(ctx, userID)
	if err != nil {
		return nil, false, err
	}

	if !user.PlanExpired(now) {
		return user, false, nil
	}

	downgraded, err := e.repo.DowngradeExpired(ctx, userID, now)
	if err != nil {
		return nil, false, err
	}
	if !downgraded {
		// Another writer renewed or already downgraded; re-read.
		user, err = e.repo.FindByID(ctx, userID)
		return user, false, err
	}

	if e.logg != nil {
		logCtx := e.logg.WithUserID(ctx, userID.String())
		e.logg.Info(logCtx, "plan expired, user downgraded to free")
	}

	if e.outbox != nil {
		event := outbox.DomainEvent{
			EventType:     enums.EventPlanExpired,
			AggregateType: enums.AggregateUser,
			AggregateID:   userID,
			Version:       1,
			Data: map[string]any{
				"userId":      userID.String(),
				"expiredPlan": user.Plan,
				"expiredAt":   user.PlanExpiresAt,
			},
		}
		if err := e.outbox.EmitDirect(ctx, event); err != nil && e.logg != nil {
			e.logg.Error(ctx, "queue plan expired event", err)
		}
	}

	user, err = e.repo.FindByID(ctx, userID)
	if err != nil {
		return nil, true, err
	}
	return user, true, nil
}

// EnforceByID is the middleware-facing form of Enforce. It returns the
// effective plan tier after enforcement.
func (e *Enforcer) EnforceByID(ctx context.Context, userID string, now time.Time) (string, error) {
	id, err := uuid.Parse(userID)
	if err != nil {
		return "", err
	}
	user, _, err := e.Enforce(ctx, id, now)
	if err != nil {
		return "", err
	}
	return user.Plan.String(), nil
}
