package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/promptcraft-backend/pkg/enums"
)

// LedgerEntry is an immutable credit movement. The only permitted update is
// the pending -> terminal transition of PaymentStatus on purchase rows.
type LedgerEntry struct {
	ID                uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	AccountID         uuid.UUID             `gorm:"column:account_id;type:uuid;not null"`
	Kind              enums.LedgerEntryKind `gorm:"column:kind;type:ledger_entry_kind_enum;not null"`
	Amount            int64                 `gorm:"column:amount;not null"`
	Description       string                `gorm:"column:description;not null"`
	ExternalPaymentID *string               `gorm:"column:external_payment_id;uniqueIndex"`
	PaymentStatus     *enums.PaymentStatus  `gorm:"column:payment_status;type:payment_status_enum"`
	RelatedEntryID    *uuid.UUID            `gorm:"column:related_entry_id;type:uuid"`
	SettledAt         *time.Time            `gorm:"column:settled_at"`
	CreatedAt         time.Time             `gorm:"column:created_at;autoCreateTime"`
}

// Effective reports whether the entry counts toward the account balance.
func (e LedgerEntry) Effective() bool {
	return e.PaymentStatus == nil || *e.PaymentStatus == enums.PaymentStatusApproved
}
