package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/promptcraft-backend/pkg/enums"
)

// CreditPackage is a purchasable bundle of credits priced in BRL.
type CreditPackage struct {
	ID        uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Name      string          `gorm:"column:name;not null"`
	Credits   int64           `gorm:"column:credits;not null"`
	Price     decimal.Decimal `gorm:"column:price;type:numeric(12,2);not null"`
	Currency  enums.Currency  `gorm:"column:currency;type:char(3);not null;default:'BRL'"`
	Active    bool            `gorm:"column:active;not null;default:true"`
	SortOrder int             `gorm:"column:sort_order;not null;default:0"`
	CreatedAt time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}
