package models

import (
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/dhirensoni-certistage/certistage-app-sub001/pkg/enums"
)

// Plan captures the local catalog metadata for a subscription tier.
type Plan struct {
	ID           string          `gorm:"column:id;primaryKey"`
	Tier         enums.PlanTier  `gorm:"column:tier;type:plan_tier;not null;uniqueIndex"`
	Name         string          `gorm:"column:name;not null"`
	PriceAmount  int64           `gorm:"column:price_amount;not null"`
	PriceDisplay decimal.Decimal `gorm:"column:price_display;type:numeric(12,2);not null"`
	CurrencyCode string          `gorm:"column:currency_code;not null;default:'INR'"`
	TermDays     int             `gorm:"column:term_days;not null;default:365"`
	CertQuota    int             `gorm:"column:cert_quota;not null"`
	Features     pq.StringArray  `gorm:"column:features;type:text[];default:ARRAY[]::text[]"`
	IsDefault    bool            `gorm:"column:is_default;not null;default:false"`
	CreatedAt    time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}
