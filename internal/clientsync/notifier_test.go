package clientsync

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/promptcraft-backend/pkg/redis"
)

type fakeSubscription struct {
	ch chan string
}

func (f *fakeSubscription) Messages() <-chan string { return f.ch }
func (f *fakeSubscription) Close() error {
	close(f.ch)
	return nil
}

type fakeBroker struct {
	published map[string][]string
	subs      map[string]*fakeSubscription
	err       error
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{published: map[string][]string{}, subs: map[string]*fakeSubscription{}}
}

func (f *fakeBroker) Publish(_ context.Context, channel string, payload any) error {
	if f.err != nil {
		return f.err
	}
	body := string(payload.([]byte))
	f.published[channel] = append(f.published[channel], body)
	if sub, ok := f.subs[channel]; ok {
		sub.ch <- body
	}
	return nil
}

func (f *fakeBroker) Subscribe(_ context.Context, channel string) (redis.Subscription, error) {
	sub := &fakeSubscription{ch: make(chan string, 4)}
	f.subs[channel] = sub
	return sub, nil
}

func (f *fakeBroker) LedgerChannel(accountID string) string {
	return "pc:ledger:" + accountID
}

func TestNotifierRoutesEventsPerAccount(t *testing.T) {
	broker := newFakeBroker()
	notifier, err := NewNotifier(broker)
	require.NoError(t, err)

	accountID := uuid.New()
	sub, err := notifier.Subscribe(context.Background(), accountID)
	require.NoError(t, err)
	defer sub.Close()

	event := Event{ID: "evt-1", Type: "payment_settled", AccountID: accountID, Data: json.RawMessage(`{"credits":10}`)}
	require.NoError(t, notifier.Publish(context.Background(), event))
	require.NoError(t, notifier.Publish(context.Background(), Event{ID: "evt-2", Type: "payment_settled", AccountID: uuid.New()}))

	msg := <-sub.Messages()
	var got Event
	require.NoError(t, json.Unmarshal([]byte(msg), &got))
	require.Equal(t, "evt-1", got.ID)
	require.JSONEq(t, `{"credits":10}`, string(got.Data))
	require.Len(t, broker.published["pc:ledger:"+accountID.String()], 1)
}

func TestNotifierRejectsMissingAccount(t *testing.T) {
	notifier, err := NewNotifier(newFakeBroker())
	require.NoError(t, err)
	require.Error(t, notifier.Publish(context.Background(), Event{Type: "payment_settled"}))
}

func TestNotifierWrapsBrokerErrors(t *testing.T) {
	broker := newFakeBroker()
	broker.err = errors.New("connection refused")
	notifier, err := NewNotifier(broker)
	require.NoError(t, err)
	require.Error(t, notifier.Publish(context.Background(), Event{AccountID: uuid.New()}))
}
