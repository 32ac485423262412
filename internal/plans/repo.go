package plans

import (
	"context"

	"gorm.io/gorm"

	"github.com/dhirensoni-certistage/certistage-app-sub001/pkg/db/models"
	"github.com/dhirensoni-certistage/certistage-app-sub001/pkg/enums"
)

// Repository handles plan catalog persistence.
type Repository interface {
	List(ctx context.Context) ([]models.Plan, error)
	FindByTier(ctx context.Context, tier enums.PlanTier) (*models.Plan, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a plan repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) List(ctx context.Context) ([]models.Plan, error) {
	var rows []models.Plan
	if err := r.db.WithContext(ctx).
		Order("price_amount ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) FindByTier(ctx context.Context, tier enums.PlanTier) (*models.Plan, error) {
	var row models.Plan
	if err := r.db.WithContext(ctx).
		Where("tier = ?", tier).
		First(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}
