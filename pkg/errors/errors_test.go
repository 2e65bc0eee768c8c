package errors

import (
	stdErrors "errors"
	"net/http"
	"testing"
)

func TestMetadataForKnownCodes(t *testing.T) {
	tests := []struct {
		code      Code
		status    int
		publicMsg string
		retryable bool
		detailsOK bool
	}{
		{code: CodeValidation, status: http.StatusBadRequest, publicMsg: "validation failed", detailsOK: true},
		{code: CodeUnauthorized, status: http.StatusUnauthorized, publicMsg: "authentication required"},
		{code: CodeForbidden, status: http.StatusForbidden, publicMsg: "access denied"},
		{code: CodeNotFound, status: http.StatusNotFound, publicMsg: "resource not found"},
		{code: CodeConflict, status: http.StatusConflict, publicMsg: "conflict detected"},
		{code: CodeStateConflict, status: http.StatusUnprocessableEntity, publicMsg: "state transition disallowed", detailsOK: true},
		{code: CodeInternal, status: http.StatusInternalServerError, publicMsg: "internal server error", retryable: true},
		{code: CodeDependency, status: http.StatusServiceUnavailable, publicMsg: "dependency unavailable", retryable: true, detailsOK: true},
		{code: CodeInsufficientCredits, status: http.StatusPaymentRequired, publicMsg: "insufficient credits", detailsOK: true},
		{code: CodeInvalidReferral, status: http.StatusUnprocessableEntity, publicMsg: "referral code cannot be applied", detailsOK: true},
		{code: CodeGatewayRejected, status: http.StatusBadGateway, publicMsg: "payment provider rejected the request", detailsOK: true},
		{code: CodeReconciliationAnomaly, status: http.StatusConflict, publicMsg: "payment state requires review"},
	}

	for _, tt := range tests {
		meta := MetadataFor(tt.code)
		if meta.HTTPStatus != tt.status {
			t.Fatalf("code %s expected status %d got %d", tt.code, tt.status, meta.HTTPStatus)
		}
		if meta.PublicMessage != tt.publicMsg {
			t.Fatalf("code %s expected public message %q got %q", tt.code, tt.publicMsg, meta.PublicMessage)
		}
		if meta.Retryable != tt.retryable {
			t.Fatalf("code %s expected retryable %v got %v", tt.code, tt.retryable, meta.Retryable)
		}
		if meta.DetailsAllowed != tt.detailsOK {
			t.Fatalf("code %s expected details allowed %v got %v", tt.code, tt.detailsOK, meta.DetailsAllowed)
		}
	}
}

func TestMetadataForUnknownCodeDefaultsToInternal(t *testing.T) {
	meta := MetadataFor("SOMETHING_UNKNOWN")
	if meta.HTTPStatus != http.StatusInternalServerError {
		t.Fatalf("expected internal status, got %d", meta.HTTPStatus)
	}
}

func TestErrorConstructors(t *testing.T) {
	base := New(CodeValidation, "missing foo")
	if base.Code() != CodeValidation {
		t.Fatalf("expected validation code, got %s", base.Code())
	}
	if base.Message() != "missing foo" {
		t.Fatalf("unexpected message %q", base.Message())
	}
	if base.Details() != nil {
		t.Fatalf("details should be nil by default")
	}

	detail := map[string]any{"field": "foo"}
	base.WithDetails(detail)
	if base.Details() == nil {
		t.Fatalf("details should be preserved")
	}

	cause := stdErrors.New("boom")
	wrapped := Wrap(CodeConflict, cause, "ctx")
	if !stdErrors.Is(wrapped, cause) {
		t.Fatalf("Wrap did not preserve cause")
	}
	if wrapped.Code() != CodeConflict {
		t.Fatalf("unexpected code %s", wrapped.Code())
	}
}

func TestAsReturnsTypedError(t *testing.T) {
	err := New(CodeForbidden, "no entry")
	if got := As(err); got == nil || got.Code() != CodeForbidden {
		t.Fatalf("As failed to return typed error")
	}
	if As(nil) != nil {
		t.Fatalf("As(nil) should return nil")
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(Wrap(CodeDependency, stdErrors.New("timeout"), "gateway")) {
		t.Fatalf("dependency errors should be retryable")
	}
	if IsRetryable(New(CodeInsufficientCredits, "balance too low")) {
		t.Fatalf("insufficient credits should not be retryable")
	}
	if IsRetryable(stdErrors.New("plain")) {
		t.Fatalf("untyped errors should not be retryable")
	}
}

type upstreamErr struct{ status int }

func (e upstreamErr) Error() string       { return "provider failed" }
func (e upstreamErr) UpstreamStatus() int { return e.status }

func TestDumpCarriesUpstreamStatusAndCode(t *testing.T) {
	err := Wrap(CodeDependency, upstreamErr{status: http.StatusBadGateway}, "create payment")
	d := Dump(err)
	if d.Code != CodeDependency || !d.Retryable {
		t.Fatalf("unexpected code/retryable: %+v", d)
	}
	if d.UpstreamStatus != http.StatusBadGateway {
		t.Fatalf("expected upstream status 502, got %d", d.UpstreamStatus)
	}
	if d.PG != nil {
		t.Fatal("expected no postgres detail")
	}

	fields := d.LogFields()
	if fields["upstream_status"] != http.StatusBadGateway {
		t.Fatalf("missing upstream_status in %v", fields)
	}
	if _, ok := fields["pg_code"]; ok {
		t.Fatal("pg fields must be omitted when absent")
	}
}

func TestDumpPlainError(t *testing.T) {
	fields := Dump(stdErrors.New("boom")).LogFields()
	if fields["error"] != "boom" {
		t.Fatalf("unexpected fields %v", fields)
	}
	if _, ok := fields["error_code"]; ok {
		t.Fatal("untyped errors carry no code")
	}
	if len(Dump(nil).Chain) != 0 {
		t.Fatal("nil error dumps empty")
	}
}
