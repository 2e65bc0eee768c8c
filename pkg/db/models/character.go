package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Character is the credit-gated resource; LedgerEntryID points at the usage
// entry that paid for it.
type Character struct {
	ID            uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	AccountID     uuid.UUID       `gorm:"column:account_id;type:uuid;not null"`
	Name          string          `gorm:"column:name;not null"`
	Prompt        string          `gorm:"column:prompt;not null"`
	Traits        json.RawMessage `gorm:"column:traits;type:jsonb"`
	LedgerEntryID uuid.UUID       `gorm:"column:ledger_entry_id;type:uuid;not null"`
	CreatedAt     time.Time       `gorm:"column:created_at;autoCreateTime"`
}
