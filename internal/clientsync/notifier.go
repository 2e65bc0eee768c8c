package clientsync

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	pkgerrors "github.com/angelmondragon/promptcraft-backend/pkg/errors"
	"github.com/angelmondragon/promptcraft-backend/pkg/redis"
)

// Event is the push message sent to a client after a ledger mutation. Data
// carries the outbox payload untouched.
type Event struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	AccountID  uuid.UUID       `json:"account_id"`
	OccurredAt time.Time       `json:"occurred_at"`
	Data       json.RawMessage `json:"data"`
}

type channelBroker interface {
	Publish(ctx context.Context, channel string, payload any) error
	Subscribe(ctx context.Context, channel string) (redis.Subscription, error)
	LedgerChannel(accountID string) string
}

// Notifier fans ledger events out over one redis channel per account.
type Notifier struct {
	broker channelBroker
}

func NewNotifier(broker channelBroker) (*Notifier, error) {
	if broker == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "redis broker required")
	}
	return &Notifier{broker: broker}, nil
}

func (n *Notifier) Publish(ctx context.Context, event Event) error {
	if event.AccountID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "event account id is required")
	}
	body, err := json.Marshal(event)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode sync event")
	}
	if err := n.broker.Publish(ctx, n.broker.LedgerChannel(event.AccountID.String()), body); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "publish sync event")
	}
	return nil
}

// Subscribe returns the raw JSON events published for accountID. The caller
// must Close the subscription.
func (n *Notifier) Subscribe(ctx context.Context, accountID uuid.UUID) (redis.Subscription, error) {
	sub, err := n.broker.Subscribe(ctx, n.broker.LedgerChannel(accountID.String()))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "subscribe sync channel")
	}
	return sub, nil
}
