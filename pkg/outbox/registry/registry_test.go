package registry

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/angelmondragon/promptcraft-backend/pkg/config"
	"github.com/angelmondragon/promptcraft-backend/pkg/db/models"
	"github.com/angelmondragon/promptcraft-backend/pkg/enums"
	"github.com/angelmondragon/promptcraft-backend/pkg/outbox"
	"github.com/angelmondragon/promptcraft-backend/pkg/outbox/payloads"
	"github.com/google/uuid"
)

func TestEventRegistryResolveSuccess(t *testing.T) {
	reg := NewEventRegistry(config.PubSubConfig{LedgerTopic: "ledger-topic"})

	accountID := uuid.New()
	payloadBytes := mustMarshal(t, payloads.LedgerEntryRecorded{
		EntryID:   uuid.New(),
		AccountID: accountID,
		Kind:      enums.LedgerEntryKindUsage,
		Amount:    -1,
		Balance:   4,
	})

	event := models.OutboxEvent{
		EventType:     enums.EventLedgerEntryRecorded,
		AggregateType: enums.AggregateAccount,
		AggregateID:   accountID,
		Payload:       mustEnvelope(t, payloadBytes),
	}

	resolved, err := reg.Resolve(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resolved.Descriptor.Topic != "ledger-topic" {
		t.Fatalf("unexpected topic %q", resolved.Descriptor.Topic)
	}
	if !resolved.Descriptor.PushToAccount {
		t.Fatalf("ledger entries must be pushed to the account channel")
	}
	payload, ok := resolved.Payload.(*payloads.LedgerEntryRecorded)
	if !ok {
		t.Fatalf("unexpected payload type %T", resolved.Payload)
	}
	if payload.AccountID != accountID || payload.Balance != 4 {
		t.Fatalf("payload mismatch %+v", payload)
	}
	if resolved.Envelope.EventID == "" || resolved.Envelope.OccurredAt.IsZero() {
		t.Fatalf("envelope incomplete %+v", resolved.Envelope)
	}
}

func TestEventRegistryWithoutTopic(t *testing.T) {
	reg := NewEventRegistry(config.PubSubConfig{})
	event := models.OutboxEvent{
		EventType:     enums.EventReconciliationAnomaly,
		AggregateType: enums.AggregateAccount,
		AggregateID:   uuid.New(),
		Payload:       mustEnvelope(t, []byte(`{"external_payment_id":"123","recorded_status":"approved","observed_status":"rejected"}`)),
	}
	resolved, err := reg.Resolve(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resolved.Descriptor.Topic != "" || resolved.Descriptor.PushToAccount {
		t.Fatalf("anomalies should have no sinks without a topic: %+v", resolved.Descriptor)
	}
}

func TestEventRegistryResolveRejectsInvalidRows(t *testing.T) {
	reg := NewEventRegistry(config.PubSubConfig{})

	tests := []struct {
		name  string
		event models.OutboxEvent
	}{
		{
			name: "unknown event",
			event: models.OutboxEvent{
				EventType:     enums.OutboxEventType("order_created"),
				AggregateType: enums.AggregateAccount,
				AggregateID:   uuid.New(),
				Payload:       mustEnvelope(t, []byte(`{}`)),
			},
		},
		{
			name: "aggregate mismatch",
			event: models.OutboxEvent{
				EventType:     enums.EventPaymentSettled,
				AggregateType: enums.OutboxAggregateType("store"),
				AggregateID:   uuid.New(),
				Payload:       mustEnvelope(t, []byte(`{}`)),
			},
		},
		{
			name: "missing aggregate id",
			event: models.OutboxEvent{
				EventType:     enums.EventPaymentSettled,
				AggregateType: enums.AggregateAccount,
				Payload:       mustEnvelope(t, []byte(`{}`)),
			},
		},
		{
			name: "null payload",
			event: models.OutboxEvent{
				EventType:     enums.EventPaymentSettled,
				AggregateType: enums.AggregateAccount,
				AggregateID:   uuid.New(),
				Payload:       mustEnvelope(t, []byte("null")),
			},
		},
		{
			name: "broken envelope",
			event: models.OutboxEvent{
				EventType:     enums.EventPaymentSettled,
				AggregateType: enums.AggregateAccount,
				AggregateID:   uuid.New(),
				Payload:       json.RawMessage(`{"data":`),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := reg.Resolve(tt.event)
			if err == nil {
				t.Fatalf("expected error")
			}
			var nonRetry NonRetryableError
			if !errors.As(err, &nonRetry) {
				t.Fatalf("expected non-retryable error, got %T", err)
			}
		})
	}
}

func mustMarshal(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return data
}

func mustEnvelope(t *testing.T, payload []byte) json.RawMessage {
	t.Helper()
	envelope := outbox.PayloadEnvelope{
		Version:    1,
		EventID:    uuid.NewString(),
		OccurredAt: time.Now().UTC(),
		Data:       payload,
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return data
}
