package enums

import "fmt"

// LedgerEntryKind maps to the ledger_entry_kind enum in Postgres.
type LedgerEntryKind string

const (
	LedgerEntryKindPurchase        LedgerEntryKind = "purchase"
	LedgerEntryKindUsage           LedgerEntryKind = "usage"
	LedgerEntryKindReferralBonus   LedgerEntryKind = "referral_bonus"
	LedgerEntryKindRefund          LedgerEntryKind = "refund"
	LedgerEntryKindAdminAdjustment LedgerEntryKind = "admin_adjustment"
)

var validLedgerEntryKinds = []LedgerEntryKind{
	LedgerEntryKindPurchase,
	LedgerEntryKindUsage,
	LedgerEntryKindReferralBonus,
	LedgerEntryKindRefund,
	LedgerEntryKindAdminAdjustment,
}

// String implements fmt.Stringer.
func (k LedgerEntryKind) String() string {
	return string(k)
}

// IsValid reports whether the value matches the canonical ledger entry kind enum.
func (k LedgerEntryKind) IsValid() bool {
	for _, candidate := range validLedgerEntryKinds {
		if candidate == k {
			return true
		}
	}
	return false
}

// AllowsAmount reports whether the signed amount is legal for the kind.
// Usage debits, adjustments go either way, everything else credits.
func (k LedgerEntryKind) AllowsAmount(amount int64) bool {
	switch k {
	case LedgerEntryKindUsage:
		return amount < 0
	case LedgerEntryKindAdminAdjustment:
		return amount != 0
	case LedgerEntryKindPurchase, LedgerEntryKindReferralBonus, LedgerEntryKindRefund:
		return amount > 0
	default:
		return false
	}
}

// ParseLedgerEntryKind converts raw input into LedgerEntryKind.
func ParseLedgerEntryKind(value string) (LedgerEntryKind, error) {
	for _, candidate := range validLedgerEntryKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid ledger entry kind %q", value)
}
