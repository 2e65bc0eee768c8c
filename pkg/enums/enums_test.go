package enums

import "testing"

func TestLedgerEntryKindAllowsAmount(t *testing.T) {
	tests := []struct {
		kind   LedgerEntryKind
		amount int64
		want   bool
	}{
		{LedgerEntryKindUsage, -1, true},
		{LedgerEntryKindUsage, 1, false},
		{LedgerEntryKindPurchase, 10, true},
		{LedgerEntryKindPurchase, -10, false},
		{LedgerEntryKindReferralBonus, 0, false},
		{LedgerEntryKindRefund, 1, true},
		{LedgerEntryKindAdminAdjustment, -5, true},
		{LedgerEntryKindAdminAdjustment, 0, false},
		{LedgerEntryKind("bogus"), 1, false},
	}
	for _, tt := range tests {
		if got := tt.kind.AllowsAmount(tt.amount); got != tt.want {
			t.Fatalf("%s.AllowsAmount(%d) = %v, want %v", tt.kind, tt.amount, got, tt.want)
		}
	}
}

func TestParseLedgerEntryKind(t *testing.T) {
	kind, err := ParseLedgerEntryKind("referral_bonus")
	if err != nil || kind != LedgerEntryKindReferralBonus {
		t.Fatalf("unexpected parse result %q %v", kind, err)
	}
	if _, err := ParseLedgerEntryKind("gift"); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestPaymentStatusIsTerminal(t *testing.T) {
	if PaymentStatusPending.IsTerminal() {
		t.Fatal("pending must not be terminal")
	}
	if !PaymentStatusApproved.IsTerminal() || !PaymentStatusRejected.IsTerminal() {
		t.Fatal("approved and rejected must be terminal")
	}
	if _, err := ParsePaymentStatus("paid"); err == nil {
		t.Fatal("expected error for unknown status")
	}
}
