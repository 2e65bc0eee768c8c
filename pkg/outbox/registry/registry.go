package registry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/angelmondragon/promptcraft-backend/pkg/config"
	"github.com/angelmondragon/promptcraft-backend/pkg/db/models"
	"github.com/angelmondragon/promptcraft-backend/pkg/enums"
	"github.com/angelmondragon/promptcraft-backend/pkg/outbox"
	"github.com/angelmondragon/promptcraft-backend/pkg/outbox/payloads"
	"github.com/google/uuid"
)

// EventDescriptor links an event type to its aggregate, sinks and payload schema.
type EventDescriptor struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	// Topic is the Pub/Sub topic; empty disables the Pub/Sub sink.
	Topic string
	// PushToAccount fans the event out on the account's realtime channel.
	PushToAccount  bool
	PayloadFactory func() interface{}
}

// ResolvedEvent is the result of decoding an outbox row.
type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    interface{}
}

// EventRegistry maps each supported event type to its descriptor.
type EventRegistry struct {
	entries map[enums.OutboxEventType]EventDescriptor
}

// NonRetryableError signals the dispatcher should stop retrying a row.
type NonRetryableError struct {
	Err error
}

// Error implements error.
func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

// Unwrap exposes the wrapped error.
func (e NonRetryableError) Unwrap() error {
	return e.Err
}

// NewEventRegistry builds the registry. Ledger events go to the account
// channel always and to the ledger topic when one is configured.
func NewEventRegistry(cfg config.PubSubConfig) *EventRegistry {
	reg := &EventRegistry{entries: make(map[enums.OutboxEventType]EventDescriptor)}
	topic := strings.TrimSpace(cfg.LedgerTopic)

	for _, desc := range []EventDescriptor{
		{
			EventType:      enums.EventLedgerEntryRecorded,
			AggregateType:  enums.AggregateAccount,
			Topic:          topic,
			PushToAccount:  true,
			PayloadFactory: func() interface{} { return &payloads.LedgerEntryRecorded{} },
		},
		{
			EventType:      enums.EventPaymentSettled,
			AggregateType:  enums.AggregateAccount,
			Topic:          topic,
			PushToAccount:  true,
			PayloadFactory: func() interface{} { return &payloads.PaymentSettled{} },
		},
		{
			EventType:      enums.EventReferralApplied,
			AggregateType:  enums.AggregateAccount,
			Topic:          topic,
			PushToAccount:  true,
			PayloadFactory: func() interface{} { return &payloads.ReferralApplied{} },
		},
		{
			EventType:      enums.EventReconciliationAnomaly,
			AggregateType:  enums.AggregateAccount,
			Topic:          topic,
			PayloadFactory: func() interface{} { return &payloads.ReconciliationAnomaly{} },
		},
		{
			EventType:      enums.EventAccountDeleted,
			AggregateType:  enums.AggregateAccount,
			Topic:          topic,
			PayloadFactory: func() interface{} { return &payloads.AccountDeleted{} },
		},
	} {
		reg.register(desc)
	}
	return reg
}

func (r *EventRegistry) register(desc EventDescriptor) {
	if desc.PayloadFactory == nil {
		return
	}
	r.entries[desc.EventType] = desc
}

// Resolve validates the row and decodes its typed payload.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.entries[event.EventType]
	if !ok {
		return nil, NewNonRetryableError(fmt.Errorf("unsupported event type %s", event.EventType))
	}
	if desc.AggregateType != event.AggregateType {
		return nil, NewNonRetryableError(fmt.Errorf("aggregate mismatch: expected %s got %s", desc.AggregateType, event.AggregateType))
	}
	if event.AggregateID == uuid.Nil {
		return nil, NewNonRetryableError(fmt.Errorf("missing aggregate_id"))
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(event.Payload, &envelope); err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("decode envelope: %w", err))
	}

	trimmed := bytes.TrimSpace(envelope.Data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, NewNonRetryableError(fmt.Errorf("payload missing for %s", event.EventType))
	}

	payload := desc.PayloadFactory()
	if err := json.Unmarshal(envelope.Data, payload); err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("decode %s payload: %w", event.EventType, err))
	}

	return &ResolvedEvent{
		Descriptor: desc,
		Envelope:   envelope,
		Payload:    payload,
	}, nil
}

// NewNonRetryableError wraps an error to signal no retries.
func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}
