package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/promptcraft-backend/pkg/enums"
)

// Account is the credit-holding identity. Balance is a cache of the ledger
// and is only ever written alongside a ledger entry.
type Account struct {
	ID          uuid.UUID         `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Email       string            `gorm:"column:email;type:text;not null;uniqueIndex"`
	DisplayName string            `gorm:"column:display_name;not null"`
	Role        enums.AccountRole `gorm:"column:role;type:account_role_enum;not null;default:'user'"`
	Balance     int64             `gorm:"column:balance;not null;default:0"`
	CreatedAt   time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}
