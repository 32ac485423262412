package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/dhirensoni-certistage/certistage-app-sub001/pkg/enums"
)

// User represents the canonical identity entity plus its subscription fields.
//
// Plan, PlanStartDate, PlanExpiresAt and PlanOrderID are written only by the
// reconciliation core (on success or refund) and the expiry enforcer. No
// other code path mutates them.
type User struct {
	ID           uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	Email        string    `gorm:"column:email;type:text;not null;uniqueIndex"`
	PasswordHash string    `gorm:"column:password_hash;not null"`
	FirstName    string    `gorm:"column:first_name;not null"`
	LastName     string    `gorm:"column:last_name;not null"`
	Role         enums.MemberRole `gorm:"column:role;type:member_role;not null;default:'user'"`
	IsActive     bool      `gorm:"column:is_active;not null;default:true"`
	LastLoginAt  *time.Time `gorm:"column:last_login_at"`

	Plan          enums.PlanTier  `gorm:"column:plan;type:plan_tier;not null;default:'free'"`
	PendingPlan   *enums.PlanTier `gorm:"column:pending_plan;type:plan_tier"`
	PlanStartDate *time.Time      `gorm:"column:plan_start_date"`
	PlanExpiresAt *time.Time      `gorm:"column:plan_expires_at"`
	// PlanOrderID records which gateway order paid for the active plan. A
	// success Payment whose order id does not match means the user write is
	// still owed for that order.
	PlanOrderID *string `gorm:"column:plan_order_id"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (u *User) BeforeCreate(_ *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}

// PlanExpired reports whether the active paid term has elapsed.
func (u *User) PlanExpired(now time.Time) bool {
	return u.Plan.IsPaid() && u.PlanExpiresAt != nil && u.PlanExpiresAt.Before(now)
}
