package users

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/dhirensoni-certistage/certistage-app-sub001/pkg/db/models"
	"github.com/dhirensoni-certistage/certistage-app-sub001/pkg/enums"
)

// PlanActivation carries the fields written when a paid term starts.
type PlanActivation struct {
	Tier    enums.PlanTier
	OrderID string
	Start   time.Time
	Expiry  time.Time
}

// Repository handles user persistence. Plan fields are only written through
// the conditional helpers below; there is no general-purpose plan setter.
type Repository interface {
	Create(ctx context.Context, user *models.User) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	SetPendingPlan(ctx context.Context, id uuid.UUID, tier *enums.PlanTier) error
	TouchLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error
	ActivatePlan(ctx context.Context, id uuid.UUID, activation PlanActivation) (bool, error)
	DowngradeExpired(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
	DowngradeForOrder(ctx context.Context, id uuid.UUID, orderID string) (bool, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a user repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Create(ctx context.Context, user *models.User) error {
	return r.db.WithContext(ctx).Create(user).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var row models.User
	if err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *repository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	var row models.User
	if err := r.db.WithContext(ctx).
		Where("email = ?", email).
		First(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *repository) SetPendingPlan(ctx context.Context, id uuid.UUID, tier *enums.PlanTier) error {
	return r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"pending_plan": tier,
			"updated_at":   time.Now(),
		}).Error
}

func (r *repository) TouchLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"last_login_at": at,
			"updated_at":    time.Now(),
		}).Error
}

// ActivatePlan grants the paid tier bought by one gateway order. The guard
// on plan_order_id makes the write re-entrant: replaying the same order is
// a no-op, so a crash between the payment write and this one is recovered
// by the next reconciliation of the order.
func (r *repository) ActivatePlan(ctx context.Context, id uuid.UUID, activation PlanActivation) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ? AND (plan_order_id IS NULL OR plan_order_id <> ?)", id, activation.OrderID).
		Updates(map[string]any{
			"plan":            activation.Tier,
			"pending_plan":    nil,
			"plan_start_date": activation.Start,
			"plan_expires_at": activation.Expiry,
			"plan_order_id":   activation.OrderID,
			"updated_at":      time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// DowngradeExpired clears the plan only while it is actually past expiry,
// so a concurrent activation for a fresh order is never clobbered.
func (r *repository) DowngradeExpired(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ? AND plan <> ? AND plan_expires_at IS NOT NULL AND plan_expires_at < ?", id, enums.PlanTierFree, now).
		Updates(map[string]any{
			"plan":            enums.PlanTierFree,
			"plan_start_date": nil,
			"plan_expires_at": nil,
			"plan_order_id":   nil,
			"updated_at":      time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// DowngradeForOrder removes the plan granted by a refunded order. If the
// user has since paid for a different order the active plan is untouched.
func (r *repository) DowngradeForOrder(ctx context.Context, id uuid.UUID, orderID string) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ? AND plan_order_id = ?", id, orderID).
		Updates(map[string]any{
			"plan":            enums.PlanTierFree,
			"plan_start_date": nil,
			"plan_expires_at": nil,
			"plan_order_id":   nil,
			"updated_at":      time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
