package payloads

import (
	"time"

	"github.com/angelmondragon/promptcraft-backend/pkg/enums"
	"github.com/google/uuid"
)

// LedgerEntryRecorded is emitted for every entry that changes, or may later
// change, an account balance. Balance is the cached value after the write.
type LedgerEntryRecorded struct {
	EntryID           uuid.UUID             `json:"entry_id"`
	AccountID         uuid.UUID             `json:"account_id"`
	Kind              enums.LedgerEntryKind `json:"kind"`
	Amount            int64                 `json:"amount"`
	Balance           int64                 `json:"balance"`
	Description       string                `json:"description"`
	ExternalPaymentID *string               `json:"external_payment_id,omitempty"`
	PaymentStatus     *enums.PaymentStatus  `json:"payment_status,omitempty"`
	CreatedAt         time.Time             `json:"created_at"`
}

// PaymentSettled reports the single pending -> terminal transition of a purchase.
type PaymentSettled struct {
	EntryID           uuid.UUID             `json:"entry_id"`
	AccountID         uuid.UUID             `json:"account_id"`
	ExternalPaymentID string                `json:"external_payment_id"`
	Status            enums.PaymentStatus   `json:"status"`
	Credits           int64                 `json:"credits"`
	Balance           int64                 `json:"balance"`
	Source            enums.ReconcileSource `json:"source"`
	SettledAt         time.Time             `json:"settled_at"`
}

type ReferralApplied struct {
	ReferralCodeID    uuid.UUID `json:"referral_code_id"`
	Code              string    `json:"code"`
	ReferrerAccountID uuid.UUID `json:"referrer_account_id"`
	ReferredAccountID uuid.UUID `json:"referred_account_id"`
	BonusCredits      int64     `json:"bonus_credits"`
}

// ReconciliationAnomaly is an alert; consumers must never apply it.
type ReconciliationAnomaly struct {
	AnomalyID         uuid.UUID             `json:"anomaly_id"`
	AccountID         uuid.UUID             `json:"account_id"`
	ExternalPaymentID string                `json:"external_payment_id"`
	RecordedStatus    string                `json:"recorded_status"`
	ObservedStatus    string                `json:"observed_status"`
	Source            enums.ReconcileSource `json:"source"`
	Reason            string                `json:"reason"`
}

type AccountDeleted struct {
	AccountID uuid.UUID `json:"account_id"`
	DeletedAt time.Time `json:"deleted_at"`
}
