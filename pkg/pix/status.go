package pix

import (
	"strings"

	"github.com/angelmondragon/promptcraft-backend/pkg/enums"
)

// NormalizeStatus maps a provider status onto the ledger payment status.
// Unknown and in-flight statuses report pending and terminal=false.
func NormalizeStatus(providerStatus string) (enums.PaymentStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(providerStatus)) {
	case "approved":
		return enums.PaymentStatusApproved, true
	case "rejected", "cancelled", "refunded", "charged_back":
		return enums.PaymentStatusRejected, true
	default:
		return enums.PaymentStatusPending, false
	}
}
