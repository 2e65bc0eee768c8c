package controllers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/promptcraft-backend/api/responses"
	"github.com/angelmondragon/promptcraft-backend/api/validators"
	"github.com/angelmondragon/promptcraft-backend/internal/clientsync"
	pkgerrors "github.com/angelmondragon/promptcraft-backend/pkg/errors"
	"github.com/angelmondragon/promptcraft-backend/pkg/logger"
	"github.com/angelmondragon/promptcraft-backend/pkg/redis"
)

type snapshotReader interface {
	Snapshot(ctx context.Context, accountID uuid.UUID) (*clientsync.Snapshot, error)
}

type paymentPoller interface {
	PollPayment(ctx context.Context, accountID uuid.UUID, paymentID string, interval, timeout time.Duration) (*clientsync.PollResult, error)
}

type eventSubscriber interface {
	Subscribe(ctx context.Context, accountID uuid.UUID) (redis.Subscription, error)
}

const (
	maxPollIntervalMs = 60_000
	maxPollTimeoutMs  = 300_000
)

// SyncSnapshot returns the full client state in one read.
func SyncSnapshot(svc snapshotReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID, err := requireAccount(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		snap, err := svc.Snapshot(r.Context(), accountID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, snap)
	}
}

// SyncPollPayment blocks until the payment settles or the timeout elapses.
// interval_ms and timeout_ms are clamped by the service.
func SyncPollPayment(svc paymentPoller, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID, err := requireAccount(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		paymentID := paymentIDParam(r)
		if paymentID == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "payment id is required"))
			return
		}
		intervalMs, err := validators.ParseQueryInt(r, "interval_ms", 0, 0, maxPollIntervalMs)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		timeoutMs, err := validators.ParseQueryInt(r, "timeout_ms", 0, 0, maxPollTimeoutMs)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.PollPayment(r.Context(), accountID, paymentID,
			time.Duration(intervalMs)*time.Millisecond,
			time.Duration(timeoutMs)*time.Millisecond,
		)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// SyncStream pushes ledger events as server-sent events. The subscription is
// opened before the snapshot is read so no event committed in between is lost;
// clients dedupe by event id.
func SyncStream(snapshots snapshotReader, events eventSubscriber, heartbeat time.Duration, logg *logger.Logger) http.HandlerFunc {
	if heartbeat <= 0 {
		heartbeat = 25 * time.Second
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		accountID, err := requireAccount(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "streaming unsupported"))
			return
		}

		sub, err := events.Subscribe(ctx, accountID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		defer sub.Close()

		snap, err := snapshots.Snapshot(ctx, accountID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)

		payload, err := json.Marshal(snap)
		if err != nil {
			logg.Error(ctx, "sync.stream.encode_snapshot", err)
			return
		}
		if err := writeEvent(w, "snapshot", "", payload); err != nil {
			return
		}
		flusher.Flush()

		logg.Info(ctx, "sync.stream.open")
		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				logg.Info(ctx, "sync.stream.closed")
				return
			case <-ticker.C:
				if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
					return
				}
				flusher.Flush()
			case msg, ok := <-sub.Messages():
				if !ok {
					logg.Warn(ctx, "sync.stream.subscription_closed")
					return
				}
				var event clientsync.Event
				if err := json.Unmarshal([]byte(msg), &event); err != nil {
					logg.Warn(logg.WithField(ctx, "error", err.Error()), "sync.stream.bad_event")
					continue
				}
				if err := writeEvent(w, event.Type, event.ID, []byte(msg)); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, name, id string, data []byte) error {
	if id != "" {
		if _, err := fmt.Fprintf(w, "id: %s\n", id); err != nil {
			return err
		}
	}
	if name == "" {
		name = "message"
	}
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
	return err
}
