package models

import (
	"time"

	"github.com/google/uuid"
)

type ReferralCode struct {
	ID             uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Code           string    `gorm:"column:code;not null;uniqueIndex"`
	OwnerAccountID uuid.UUID `gorm:"column:owner_account_id;type:uuid;not null"`
	BonusCredits   int64     `gorm:"column:bonus_credits;not null"`
	Uses           int       `gorm:"column:uses;not null;default:0"`
	MaxUses        *int      `gorm:"column:max_uses"`
	Active         bool      `gorm:"column:active;not null;default:true"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
}

// ReferralUse is written once per successful referral; the referred account
// can appear at most once across all codes.
type ReferralUse struct {
	ID                uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ReferralCodeID    uuid.UUID `gorm:"column:referral_code_id;type:uuid;not null"`
	ReferredAccountID uuid.UUID `gorm:"column:referred_account_id;type:uuid;not null;uniqueIndex"`
	CreatedAt         time.Time `gorm:"column:created_at;autoCreateTime"`
}
