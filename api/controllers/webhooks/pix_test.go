package webhooks

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/promptcraft-backend/internal/reconciler"
	pkgerrors "github.com/angelmondragon/promptcraft-backend/pkg/errors"
	"github.com/angelmondragon/promptcraft-backend/pkg/pix"
)

const testSecret = "whsec_test"

func TestPixWebhook_ProcessesOnceAndSuppressesRedelivery(t *testing.T) {
	svc := &fakeNotificationHandler{}
	guard := newTestGuard(t)
	handler := PixWebhook(svc, secretVerifier{secret: testSecret}, guard, nil)

	body := []byte(`{"id":12345,"type":"payment","action":"payment.updated","data":{"id":"987"}}`)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, signedRequest(t, body, "987", "req-1"))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	require.Equal(t, 1, svc.calls)
	require.Equal(t, "12345", svc.last.ID)
	require.Equal(t, "987", svc.last.PaymentID)
	require.Equal(t, "payment", svc.last.Type)
}

func TestPixWebhook_QueryDataIDWins(t *testing.T) {
	svc := &fakeNotificationHandler{}
	handler := PixWebhook(svc, secretVerifier{secret: testSecret}, newTestGuard(t), nil)

	body := []byte(`{"type":"payment","data":{"id":"111"}}`)
	req := signedRequest(t, body, "222", "req-2")
	q := req.URL.Query()
	q.Set("data.id", "222")
	req.URL.RawQuery = q.Encode()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "222", svc.last.PaymentID)
}

func TestPixWebhook_RejectsBadSignature(t *testing.T) {
	svc := &fakeNotificationHandler{}
	handler := PixWebhook(svc, secretVerifier{secret: testSecret}, newTestGuard(t), nil)

	body := []byte(`{"id":"1","type":"payment","data":{"id":"987"}}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/pix", bytes.NewReader(body))
	req.Header.Set("x-signature", "ts=1,v1=deadbeef")
	req.Header.Set("x-request-id", "req-1")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Zero(t, svc.calls)

	missing := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/pix", bytes.NewReader(body))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, missing)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPixWebhook_FailureReleasesGuard(t *testing.T) {
	svc := &fakeNotificationHandler{err: pkgerrors.New(pkgerrors.CodeDependency, "purchase not visible yet")}
	handler := PixWebhook(svc, secretVerifier{secret: testSecret}, newTestGuard(t), nil)

	body := []byte(`{"id":"evt-9","type":"payment","data":{"id":"555"}}`)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, signedRequest(t, body, "555", "req-9"))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	svc.err = nil
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, signedRequest(t, body, "555", "req-9"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, 2, svc.calls)
}

func TestPixWebhook_IgnoredNotificationReleasesGuard(t *testing.T) {
	svc := &fakeNotificationHandler{outcome: reconciler.OutcomeIgnored}
	guard := newTestGuard(t)
	handler := PixWebhook(svc, secretVerifier{secret: testSecret}, guard, nil)

	body := []byte(`{"type":"payment","action":"payment.updated","data":{"id":"654"}}`)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, signedRequest(t, body, "654", "req-10"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Contains(t, rec.Body.String(), string(reconciler.OutcomeIgnored))

	svc.outcome = reconciler.OutcomeApplied
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, signedRequest(t, body, "654", "req-11"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Contains(t, rec.Body.String(), string(reconciler.OutcomeApplied))
	require.Equal(t, 2, svc.calls)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, signedRequest(t, body, "654", "req-12"))
	require.Contains(t, rec.Body.String(), string(reconciler.OutcomeDuplicate))
	require.Equal(t, 2, svc.calls)
}

func TestRawID(t *testing.T) {
	require.Equal(t, "42", rawID([]byte(`42`)))
	require.Equal(t, "abc", rawID([]byte(`" abc "`)))
	require.Equal(t, "", rawID([]byte(`null`)))
	require.Equal(t, "", rawID(nil))
}

func signedRequest(t *testing.T, body []byte, dataID, requestID string) *http.Request {
	t.Helper()
	ts := fmt.Sprint(time.Now().Unix())
	sig := pix.ComputeSignature(testSecret, dataID, requestID, ts)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/pix", bytes.NewReader(body))
	req.Header.Set("x-signature", "ts="+ts+",v1="+sig)
	req.Header.Set("x-request-id", requestID)
	return req
}

func newTestGuard(t *testing.T) *reconciler.IdempotencyGuard {
	t.Helper()
	guard, err := reconciler.NewIdempotencyGuard(newInMemoryStore(), time.Minute, "pix-webhook")
	require.NoError(t, err)
	return guard
}

type secretVerifier struct {
	secret string
}

func (v secretVerifier) VerifySignature(xSignature, xRequestID, dataID string) error {
	return pix.VerifySignature(v.secret, xSignature, xRequestID, dataID)
}

type fakeNotificationHandler struct {
	calls   int
	last    reconciler.Notification
	err     error
	outcome reconciler.Outcome
}

func (f *fakeNotificationHandler) HandleNotification(ctx context.Context, n reconciler.Notification) (reconciler.Result, error) {
	f.calls++
	f.last = n
	if f.err != nil {
		return reconciler.Result{}, f.err
	}
	outcome := f.outcome
	if outcome == "" {
		outcome = reconciler.OutcomeApplied
	}
	return reconciler.Result{Outcome: outcome, PaymentID: n.PaymentID}, nil
}

type inMemoryStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newInMemoryStore() *inMemoryStore {
	return &inMemoryStore{data: make(map[string]string)}
}

func (s *inMemoryStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data[key], nil
}

func (s *inMemoryStore) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.data[key]; exists {
		return false, nil
	}
	s.data[key] = fmt.Sprintf("%v", value)
	return true, nil
}

func (s *inMemoryStore) IdempotencyKey(scope, id string) string {
	return fmt.Sprintf("pc:idempotency:%s:%s", scope, id)
}

func (s *inMemoryStore) Del(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.data, key)
	}
	return nil
}
