package characters

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/promptcraft-backend/pkg/db/models"
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) CreateTx(ctx context.Context, tx *gorm.DB, character *models.Character) error {
	return tx.WithContext(ctx).Create(character).Error
}

func (r *Repository) ListByAccount(ctx context.Context, accountID uuid.UUID, limit int) ([]models.Character, error) {
	var rows []models.Character
	err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
