package accounts

import (
	"context"
	"errors"

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

func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

func (r *Repository) Create(ctx context.Context, account *models.Account) error {
	return r.db.WithContext(ctx).Create(account).Error
}

// FindByID returns nil when the account does not exist.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	var account models.Account
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// Delete removes the account and everything hanging off it, children first.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) (int64, error) {
	conn := r.db.WithContext(ctx)
	ownedCodes := conn.Model(&models.ReferralCode{}).Select("id").Where("owner_account_id = ?", id)

	steps := []func() error{
		func() error {
			return conn.Where("referred_account_id = ?", id).Delete(&models.ReferralUse{}).Error
		},
		func() error {
			return conn.Where("referral_code_id IN (?)", ownedCodes).Delete(&models.ReferralUse{}).Error
		},
		func() error {
			return conn.Where("owner_account_id = ?", id).Delete(&models.ReferralCode{}).Error
		},
		func() error {
			return conn.Where("account_id = ?", id).Delete(&models.Character{}).Error
		},
		func() error {
			return conn.Where("account_id = ?", id).Delete(&models.LedgerEntry{}).Error
		},
		func() error {
			return conn.Where("account_id = ?", id).Delete(&models.ReconciliationAnomaly{}).Error
		},
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return 0, err
		}
	}
	res := conn.Where("id = ?", id).Delete(&models.Account{})
	return res.RowsAffected, res.Error
}
