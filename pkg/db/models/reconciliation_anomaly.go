package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/promptcraft-backend/pkg/enums"
)

// ReconciliationAnomaly records a provider status that contradicts the
// terminal status already stored on the purchase entry.
type ReconciliationAnomaly struct {
	ID                uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ExternalPaymentID string                `gorm:"column:external_payment_id;not null"`
	AccountID         *uuid.UUID            `gorm:"column:account_id;type:uuid"`
	RecordedStatus    string                `gorm:"column:recorded_status;not null"`
	ObservedStatus    string                `gorm:"column:observed_status;not null"`
	Source            enums.ReconcileSource `gorm:"column:source;not null"`
	Reason            string                `gorm:"column:reason;not null"`
	ResolvedAt        *time.Time            `gorm:"column:resolved_at"`
	ResolvedBy        *uuid.UUID            `gorm:"column:resolved_by;type:uuid"`
	ResolutionNote    *string               `gorm:"column:resolution_note"`
	CreatedAt         time.Time             `gorm:"column:created_at;autoCreateTime"`
}
