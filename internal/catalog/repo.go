package catalog

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/promptcraft-backend/pkg/db/models"
)

// Repository reads credit packages.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// ListActive returns purchasable packages in display order.
func (r *Repository) ListActive(ctx context.Context) ([]models.CreditPackage, error) {
	var rows []models.CreditPackage
	err := r.db.WithContext(ctx).
		Where("active = ?", true).
		Order("sort_order ASC").
		Order("credits ASC").
		Find(&rows).Error
	return rows, err
}

// FindActiveByID returns nil when the package is missing or retired.
func (r *Repository) FindActiveByID(ctx context.Context, id uuid.UUID) (*models.CreditPackage, error) {
	var pkg models.CreditPackage
	err := r.db.WithContext(ctx).
		Where("id = ? AND active = ?", id, true).
		Take(&pkg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &pkg, nil
}
