package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/angelmondragon/promptcraft-backend/pkg/logger"
)

func TestRecovererWritesEnvelope(t *testing.T) {
	buf := &bytes.Buffer{}
	logg := logger.New(logger.Options{ServiceName: "test", Output: buf})
	handler := Recoverer(logg)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("ledger exploded")
	}))

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/", nil))

	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), "INTERNAL_ERROR") {
		t.Fatalf("expected error envelope, got %s", resp.Body.String())
	}
	if !strings.Contains(buf.String(), "ledger exploded") || !strings.Contains(buf.String(), "stack") {
		t.Fatalf("expected panic and stack in log, got %s", buf.String())
	}
}

func TestRecovererLeavesStartedResponseAlone(t *testing.T) {
	handler := Recoverer(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("event: balance\n\n"))
		panic("stream broke")
	}))

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/", nil))

	if resp.Code != http.StatusOK || resp.Body.String() != "event: balance\n\n" {
		t.Fatalf("started response must not be rewritten: %d %q", resp.Code, resp.Body.String())
	}
}

func TestRecovererReraisesAbort(t *testing.T) {
	handler := Recoverer(nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}))
	defer func() {
		if v := recover(); v != http.ErrAbortHandler {
			t.Fatalf("expected ErrAbortHandler, got %v", v)
		}
	}()
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
}

func TestRequestIDEchoesOnlySafeValues(t *testing.T) {
	handler := RequestID(nil)(okHandler())
	cases := []struct {
		name    string
		inbound string
		echoed  bool
	}{
		{"provider id", "bb56a2f1-6aae-46ac-982e-9dcd3581d08e", true},
		{"dotted", "req.42:retry_1", true},
		{"empty", "", false},
		{"newline", "abc\ninjected", false},
		{"too long", strings.Repeat("a", maxRequestIDLen+1), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.inbound != "" {
				req.Header[requestIDHeader] = []string{tc.inbound}
			}
			resp := httptest.NewRecorder()
			handler.ServeHTTP(resp, req)
			got := resp.Header().Get(requestIDHeader)
			if got == "" {
				t.Fatal("expected a request id")
			}
			if (got == tc.inbound) != tc.echoed {
				t.Fatalf("inbound %q echoed=%v, got %q", tc.inbound, tc.echoed, got)
			}
		})
	}
}
