package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/promptcraft-backend/pkg/redis"
)

// Manager remembers which outbox rows a sink has already received so a row
// retried for one sink is not delivered twice to another. Keys follow
// `pc:idempotency:evt:delivered:<sink>:<outbox_id>`.
type Manager struct {
	store redis.IdempotencyStore
	ttl   time.Duration
}

func NewManager(store redis.IdempotencyStore, ttl time.Duration) (*Manager, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	return &Manager{store: store, ttl: ttl}, nil
}

// MarkDelivered reports whether sink already received eventID, marking it
// when it had not.
func (m *Manager) MarkDelivered(ctx context.Context, sink string, eventID uuid.UUID) (bool, error) {
	key, err := m.deliveredKey(sink, eventID)
	if err != nil {
		return false, err
	}
	set, err := m.store.SetNX(ctx, key, "1", m.ttl)
	if err != nil {
		return false, err
	}
	return !set, nil
}

// Unmark clears the marker after a failed delivery so the next attempt retries it.
func (m *Manager) Unmark(ctx context.Context, sink string, eventID uuid.UUID) error {
	key, err := m.deliveredKey(sink, eventID)
	if err != nil {
		return err
	}
	return m.store.Del(ctx, key)
}

func (m *Manager) deliveredKey(sink string, eventID uuid.UUID) (string, error) {
	if sink == "" {
		return "", errors.New("sink name is required")
	}
	if eventID == uuid.Nil {
		return "", errors.New("event id is required")
	}
	return m.store.IdempotencyKey(fmt.Sprintf("evt:delivered:%s", sink), eventID.String()), nil
}
