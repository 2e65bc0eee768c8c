package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/promptcraft-backend/internal/clientsync"
	"github.com/angelmondragon/promptcraft-backend/internal/payments"
	"github.com/angelmondragon/promptcraft-backend/pkg/enums"
	"github.com/angelmondragon/promptcraft-backend/pkg/redis"
)

type fakeSnapshots struct {
	calls int
}

func (f *fakeSnapshots) Snapshot(ctx context.Context, accountID uuid.UUID) (*clientsync.Snapshot, error) {
	f.calls++
	return &clientsync.Snapshot{AccountID: accountID, Balance: 30, AsOf: time.Now().UTC()}, nil
}

type fakeSubscription struct {
	ch     chan string
	closed bool
}

func (s *fakeSubscription) Messages() <-chan string { return s.ch }

func (s *fakeSubscription) Close() error {
	s.closed = true
	return nil
}

type fakeSubscriber struct {
	sub      *fakeSubscription
	accounts []uuid.UUID
}

func (f *fakeSubscriber) Subscribe(ctx context.Context, accountID uuid.UUID) (redis.Subscription, error) {
	f.accounts = append(f.accounts, accountID)
	return f.sub, nil
}

func TestSyncStream_SnapshotThenEvents(t *testing.T) {
	id := uuid.New()
	event, err := json.Marshal(clientsync.Event{ID: "evt-1", Type: "ledger_entry_created", AccountID: id})
	require.NoError(t, err)

	sub := &fakeSubscription{ch: make(chan string, 2)}
	sub.ch <- string(event)
	sub.ch <- "not json"
	close(sub.ch)

	subscriber := &fakeSubscriber{sub: sub}
	snapshots := &fakeSnapshots{}

	req := authed(httptest.NewRequest(http.MethodGet, "/api/v1/sync/stream", nil), id, enums.AccountRoleUser)
	rec := httptest.NewRecorder()
	SyncStream(snapshots, subscriber, time.Hour, testLogger()).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	require.Equal(t, []uuid.UUID{id}, subscriber.accounts)
	require.True(t, sub.closed)

	body := rec.Body.String()
	snapAt := strings.Index(body, "event: snapshot")
	eventAt := strings.Index(body, "id: evt-1\nevent: ledger_entry_created")
	require.GreaterOrEqual(t, snapAt, 0, body)
	require.Greater(t, eventAt, snapAt, body)
	require.NotContains(t, body, "not json")
}

type fakePoller struct {
	interval time.Duration
	timeout  time.Duration
}

func (f *fakePoller) PollPayment(ctx context.Context, accountID uuid.UUID, paymentID string, interval, timeout time.Duration) (*clientsync.PollResult, error) {
	f.interval = interval
	f.timeout = timeout
	return &clientsync.PollResult{
		Status:   &payments.IntentStatus{PaymentID: paymentID, Status: enums.PaymentStatusApproved},
		Terminal: true,
		Attempts: 1,
	}, nil
}

func TestSyncPollPayment(t *testing.T) {
	poller := &fakePoller{}
	req := authed(httptest.NewRequest(http.MethodGet, "/api/v1/sync/payments/pay-1?interval_ms=1500&timeout_ms=20000", nil), uuid.New(), enums.AccountRoleUser)
	req = withURLParams(req, "paymentId", "pay-1")

	rec := httptest.NewRecorder()
	SyncPollPayment(poller, nil).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, 1500*time.Millisecond, poller.interval)
	require.Equal(t, 20*time.Second, poller.timeout)

	var out clientsync.PollResult
	decodeData(t, rec, &out)
	require.True(t, out.Terminal)
}

func TestSyncSnapshot(t *testing.T) {
	id := uuid.New()
	rec := httptest.NewRecorder()
	SyncSnapshot(&fakeSnapshots{}, nil).ServeHTTP(rec, authed(httptest.NewRequest(http.MethodGet, "/api/v1/sync/snapshot", nil), id, enums.AccountRoleUser))
	require.Equal(t, http.StatusOK, rec.Code)

	var out clientsync.Snapshot
	decodeData(t, rec, &out)
	require.Equal(t, int64(30), out.Balance)
	require.Equal(t, id, out.AccountID)
}
