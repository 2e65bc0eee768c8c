package pix

import (
	"errors"
	"strconv"
	"testing"
	"time"
)

func TestVerifySignature(t *testing.T) {
	sig := ComputeSignature("whsec", "ABC123", "req-1", "1704908010")
	header := "ts=1704908010,v1=" + sig

	if err := VerifySignature("whsec", header, "req-1", "abc123"); err != nil {
		t.Fatalf("expected valid signature, got %v", err)
	}
	if err := VerifySignature("other", header, "req-1", "abc123"); !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("expected invalid signature with wrong secret, got %v", err)
	}
	if err := VerifySignature("whsec", header, "req-2", "abc123"); !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("expected invalid signature with other request id, got %v", err)
	}
	if err := VerifySignature("whsec", "", "req-1", "abc123"); !errors.Is(err, ErrSignatureMissing) {
		t.Fatalf("expected missing signature, got %v", err)
	}
	if err := VerifySignature("whsec", "v1="+sig, "req-1", "abc123"); !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("expected invalid signature without ts, got %v", err)
	}
}

func TestComputeSignatureSkipsEmptyParts(t *testing.T) {
	if ComputeSignature("k", "1", "", "9") == ComputeSignature("k", "1", "r", "9") {
		t.Fatal("expected request id to change the signature")
	}
}

func TestVerifySignatureWithinRejectsReplayedTimestamp(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sign := func(ts string) string {
		return "ts=" + ts + ",v1=" + ComputeSignature("whsec", "77", "req-9", ts)
	}

	fresh := strconv.FormatInt(now.Add(-time.Minute).Unix(), 10)
	if err := VerifySignatureWithin("whsec", sign(fresh), "req-9", "77", now, 5*time.Minute); err != nil {
		t.Fatalf("expected fresh signature to pass, got %v", err)
	}

	freshMillis := strconv.FormatInt(now.Add(-time.Minute).UnixMilli(), 10)
	if err := VerifySignatureWithin("whsec", sign(freshMillis), "req-9", "77", now, 5*time.Minute); err != nil {
		t.Fatalf("expected millisecond ts to pass, got %v", err)
	}

	stale := strconv.FormatInt(now.Add(-time.Hour).Unix(), 10)
	err := VerifySignatureWithin("whsec", sign(stale), "req-9", "77", now, 5*time.Minute)
	if !errors.Is(err, ErrSignatureExpired) || !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("expected expired signature, got %v", err)
	}

	future := strconv.FormatInt(now.Add(time.Hour).Unix(), 10)
	if err := VerifySignatureWithin("whsec", sign(future), "req-9", "77", now, 5*time.Minute); !errors.Is(err, ErrSignatureExpired) {
		t.Fatalf("expected future ts to be rejected, got %v", err)
	}

	if err := VerifySignatureWithin("whsec", sign(stale), "req-9", "77", now, 0); err != nil {
		t.Fatalf("expected zero tolerance to skip the freshness check, got %v", err)
	}
}

func TestClientVerifySignatureAppliesTolerance(t *testing.T) {
	c := &Client{
		webhookSecret:      "whsec",
		signatureTolerance: 10 * time.Minute,
		now:                func() time.Time { return time.Unix(1704908010, 0).Add(time.Hour) },
	}
	header := "ts=1704908010,v1=" + ComputeSignature("whsec", "abc123", "req-1", "1704908010")
	if err := c.VerifySignature(header, "req-1", "abc123"); !errors.Is(err, ErrSignatureExpired) {
		t.Fatalf("expected replayed notification to be rejected, got %v", err)
	}

	c.now = func() time.Time { return time.Unix(1704908010, 0).Add(time.Minute) }
	if err := c.VerifySignature(header, "req-1", "abc123"); err != nil {
		t.Fatalf("expected signature within tolerance, got %v", err)
	}
}
