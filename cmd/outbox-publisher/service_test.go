package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/promptcraft-backend/internal/clientsync"
	"github.com/angelmondragon/promptcraft-backend/pkg/config"
	"github.com/angelmondragon/promptcraft-backend/pkg/db/models"
	"github.com/angelmondragon/promptcraft-backend/pkg/enums"
	"github.com/angelmondragon/promptcraft-backend/pkg/logger"
	"github.com/angelmondragon/promptcraft-backend/pkg/outbox"
	"github.com/angelmondragon/promptcraft-backend/pkg/outbox/registry"
)

func settledEvent(t *testing.T) models.OutboxEvent {
	t.Helper()
	return models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventPaymentSettled,
		AggregateType: enums.AggregateAccount,
		AggregateID:   uuid.New(),
		Payload:       mustEnvelopePayload(t, uuid.NewString()),
	}
}

func TestProcessBatchPushesToAccountChannel(t *testing.T) {
	event := settledEvent(t)
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	pusher := &fakePusher{}
	reg := registry.NewEventRegistry(config.PubSubConfig{})
	service := newTestService(t, repo, pusher, nil, reg, &fakeDLQRepo{}, nil)

	processed, err := service.processBatch(context.Background())
	require.NoError(t, err)
	require.True(t, processed)
	require.Len(t, pusher.events, 1)
	require.Equal(t, event.AggregateID, pusher.events[0].AccountID)
	require.Equal(t, string(enums.EventPaymentSettled), pusher.events[0].Type)
	require.JSONEq(t, `{"credits":10}`, string(pusher.events[0].Data))
	require.Equal(t, []uuid.UUID{event.ID}, repo.published)
}

func TestProcessBatchContinuesAfterFailure(t *testing.T) {
	first, second := settledEvent(t), settledEvent(t)
	repo := &fakeRepo{events: []models.OutboxEvent{first, second}}
	pusher := &fakePusher{errs: []error{errors.New("redis timeout"), nil}}
	reg := registry.NewEventRegistry(config.PubSubConfig{})
	deliveries := newFakeDeliveries()
	service := newTestService(t, repo, pusher, nil, reg, &fakeDLQRepo{}, nil)
	service.deliveries = deliveries

	processed, err := service.processBatch(context.Background())
	require.NoError(t, err)
	require.True(t, processed)
	require.Equal(t, []uuid.UUID{first.ID}, repo.failed)
	require.Equal(t, []uuid.UUID{second.ID}, repo.published)
	require.False(t, deliveries.marked[sinkAccountChannel+":"+first.ID.String()])
}

func TestRetrySkipsSinksAlreadyDelivered(t *testing.T) {
	event := settledEvent(t)
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	pusher := &fakePusher{}
	pub := &fakePublisher{results: []publishResult{
		fakePublishResult{err: errors.New("transient")},
		fakePublishResult{},
	}}
	reg := registry.NewEventRegistry(config.PubSubConfig{LedgerTopic: "ledger"})
	service := newTestService(t, repo, pusher, pub, reg, &fakeDLQRepo{}, nil)

	_, err := service.processBatch(context.Background())
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{event.ID}, repo.failed)

	_, err = service.processBatch(context.Background())
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{event.ID}, repo.published)
	require.Len(t, pusher.events, 1)
	require.Len(t, pub.messages, 2)
	require.Equal(t, string(enums.EventPaymentSettled), pub.messages[1].Attributes["event_type"])
}

func TestPubSubSinkSkippedWithoutClient(t *testing.T) {
	event := settledEvent(t)
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	reg := registry.NewEventRegistry(config.PubSubConfig{LedgerTopic: "ledger"})
	service := newTestService(t, repo, &fakePusher{}, nil, reg, &fakeDLQRepo{}, nil)

	_, err := service.processBatch(context.Background())
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{event.ID}, repo.published)
}

func TestProcessBatchWritesDLQOnNonRetryable(t *testing.T) {
	event := settledEvent(t)
	event.EventType = "order_created"
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	dlqRepo := &fakeDLQRepo{}
	reg := registry.NewEventRegistry(config.PubSubConfig{})
	service := newTestService(t, repo, &fakePusher{}, nil, reg, dlqRepo, nil)

	processed, err := service.processBatch(context.Background())
	require.NoError(t, err)
	require.True(t, processed)
	require.Len(t, dlqRepo.entries, 1)
	entry := dlqRepo.entries[0]
	require.Equal(t, event.ID, entry.EventID)
	require.True(t, bytes.Equal(entry.Payload, event.Payload))
	require.Equal(t, enums.OutboxDLQReasonNonRetryable, entry.ErrorReason)
	require.Equal(t, []uuid.UUID{event.ID}, repo.terminal)
}

func TestProcessBatchWritesDLQOnMaxAttempts(t *testing.T) {
	event := settledEvent(t)
	event.AttemptCount = 1
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	dlqRepo := &fakeDLQRepo{}
	pusher := &fakePusher{errs: []error{errors.New("redis down")}}
	reg := registry.NewEventRegistry(config.PubSubConfig{})
	service := newTestService(t, repo, pusher, nil, reg, dlqRepo, &config.OutboxConfig{
		BatchSize:      1,
		PollIntervalMS: 100,
		MaxAttempts:    2,
	})

	_, err := service.processBatch(context.Background())
	require.NoError(t, err)
	require.Len(t, dlqRepo.entries, 1)
	require.Equal(t, enums.OutboxDLQReasonMaxAttempts, dlqRepo.entries[0].ErrorReason)
}

func TestNextBackoffCaps(t *testing.T) {
	require.Equal(t, 2*time.Second, nextBackoff(time.Second, time.Second, 10*time.Second))
	require.Equal(t, 10*time.Second, nextBackoff(8*time.Second, time.Second, 10*time.Second))
	require.Equal(t, 2*time.Second, nextBackoff(0, time.Second, 10*time.Second))
}

func newTestService(t *testing.T, repo outboxRepository, pusher accountPusher, pub *fakePublisher, reg registryResolver, dlq dlqRepository, outboxCfgOverride *config.OutboxConfig) *Service {
	t.Helper()
	outboxCfg := config.OutboxConfig{
		BatchSize:      2,
		PollIntervalMS: 100,
		MaxAttempts:    5,
	}
	if outboxCfgOverride != nil {
		outboxCfg = *outboxCfgOverride
	}
	params := ServiceParams{
		Config:        &config.Config{Outbox: outboxCfg},
		Logger:        logger.New(logger.Options{ServiceName: "outbox-publisher-test", Output: io.Discard}),
		DB:            &fakeDB{},
		Redis:         fakePinger{},
		Pusher:        pusher,
		Deliveries:    newFakeDeliveries(),
		Repository:    repo,
		Registry:      reg,
		DLQRepository: dlq,
	}
	if pub != nil {
		params.PubSub = fakePinger{}
		params.PublisherFactory = func(string) publisher { return pub }
	}
	service, err := NewService(params)
	require.NoError(t, err)
	return service
}

func mustEnvelopePayload(tb testing.TB, eventID string) json.RawMessage {
	tb.Helper()
	env := outbox.PayloadEnvelope{
		Version:    1,
		EventID:    eventID,
		OccurredAt: time.Now().UTC(),
		Data:       json.RawMessage(`{"credits":10}`),
	}
	payload, err := json.Marshal(env)
	if err != nil {
		tb.Fatalf("marshal envelope: %v", err)
	}
	return payload
}

type fakeRepo struct {
	events    []models.OutboxEvent
	published []uuid.UUID
	failed    []uuid.UUID
	terminal  []uuid.UUID
}

func (f *fakeRepo) FetchUnpublishedForPublish(*gorm.DB, int, int) ([]models.OutboxEvent, error) {
	pending := []models.OutboxEvent{}
	for _, event := range f.events {
		if !containsID(f.published, event.ID) && !containsID(f.terminal, event.ID) {
			pending = append(pending, event)
		}
	}
	return pending, nil
}

func (f *fakeRepo) MarkPublishedTx(_ *gorm.DB, id uuid.UUID) error {
	f.published = append(f.published, id)
	return nil
}

func (f *fakeRepo) MarkFailedTx(_ *gorm.DB, id uuid.UUID, _ error) error {
	f.failed = append(f.failed, id)
	return nil
}

func (f *fakeRepo) MarkTerminalTx(_ *gorm.DB, id uuid.UUID, _ error) error {
	f.terminal = append(f.terminal, id)
	return nil
}

func containsID(ids []uuid.UUID, id uuid.UUID) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}

type fakeDB struct{}

func (f *fakeDB) Ping(context.Context) error {
	return nil
}

func (f *fakeDB) WithTx(_ context.Context, fn func(*gorm.DB) error) error {
	return fn(nil)
}

type fakePinger struct{}

func (fakePinger) Ping(context.Context) error { return nil }

type fakePusher struct {
	events []clientsync.Event
	errs   []error
}

func (f *fakePusher) Publish(_ context.Context, event clientsync.Event) error {
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return err
		}
	}
	f.events = append(f.events, event)
	return nil
}

type fakeDeliveries struct {
	marked map[string]bool
}

func newFakeDeliveries() *fakeDeliveries {
	return &fakeDeliveries{marked: map[string]bool{}}
}

func (f *fakeDeliveries) MarkDelivered(_ context.Context, sink string, eventID uuid.UUID) (bool, error) {
	key := sink + ":" + eventID.String()
	if f.marked[key] {
		return true, nil
	}
	f.marked[key] = true
	return false, nil
}

func (f *fakeDeliveries) Unmark(_ context.Context, sink string, eventID uuid.UUID) error {
	delete(f.marked, sink+":"+eventID.String())
	return nil
}

type fakePublisher struct {
	results  []publishResult
	messages []*gcppubsub.Message
}

func (f *fakePublisher) Publish(_ context.Context, msg *gcppubsub.Message) publishResult {
	f.messages = append(f.messages, msg)
	if len(f.results) == 0 {
		return nil
	}
	result := f.results[0]
	f.results = f.results[1:]
	return result
}

type fakePublishResult struct {
	err error
}

func (f fakePublishResult) Get(context.Context) (string, error) {
	return "", f.err
}

type fakeDLQRepo struct {
	entries []models.OutboxDLQ
}

func (f *fakeDLQRepo) InsertTx(_ *gorm.DB, entry models.OutboxDLQ) error {
	f.entries = append(f.entries, entry)
	return nil
}
