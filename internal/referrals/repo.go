package referrals

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/promptcraft-backend/pkg/db/models"
)

// Repository persists referral codes and their uses.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

// LockByCode loads the code row for update. Returns nil when unknown.
func (r *Repository) LockByCode(ctx context.Context, code string) (*models.ReferralCode, error) {
	var row models.ReferralCode
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("code = ?", code).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *Repository) FindByCode(ctx context.Context, code string) (*models.ReferralCode, error) {
	var row models.ReferralCode
	err := r.db.WithContext(ctx).Where("code = ?", code).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *Repository) FindByOwner(ctx context.Context, ownerID uuid.UUID) (*models.ReferralCode, error) {
	var row models.ReferralCode
	err := r.db.WithContext(ctx).Where("owner_account_id = ?", ownerID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *Repository) CreateCode(ctx context.Context, code *models.ReferralCode) error {
	return r.db.WithContext(ctx).Create(code).Error
}

func (r *Repository) AccountExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Account{}).Where("id = ?", id).Count(&count).Error
	return count > 0, err
}

func (r *Repository) HasUse(ctx context.Context, referredID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.ReferralUse{}).Where("referred_account_id = ?", referredID).Count(&count).Error
	return count > 0, err
}

func (r *Repository) InsertUse(ctx context.Context, use *models.ReferralUse) error {
	return r.db.WithContext(ctx).Create(use).Error
}

// IncrementUses bumps the counter unless the code reached its cap.
func (r *Repository) IncrementUses(ctx context.Context, codeID uuid.UUID) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.ReferralCode{}).
		Where("id = ? AND (max_uses IS NULL OR uses < max_uses)", codeID).
		UpdateColumn("uses", gorm.Expr("uses + 1"))
	return res.RowsAffected, res.Error
}
