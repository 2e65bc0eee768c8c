package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/promptcraft-backend/api/responses"
	"github.com/angelmondragon/promptcraft-backend/api/validators"
	"github.com/angelmondragon/promptcraft-backend/pkg/db/models"
	"github.com/angelmondragon/promptcraft-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/promptcraft-backend/pkg/errors"
	"github.com/angelmondragon/promptcraft-backend/pkg/logger"
	"github.com/angelmondragon/promptcraft-backend/pkg/outbox"
	"github.com/angelmondragon/promptcraft-backend/pkg/pagination"
)

type deadLetterReader interface {
	List(ctx context.Context, q outbox.DeadLetterQuery) ([]models.OutboxDLQ, error)
	FindByEventID(ctx context.Context, eventID uuid.UUID) (*models.OutboxDLQ, error)
}

type deadLetterView struct {
	ID            uuid.UUID                  `json:"id"`
	EventID       uuid.UUID                  `json:"event_id"`
	EventType     enums.OutboxEventType      `json:"event_type"`
	AggregateType enums.OutboxAggregateType  `json:"aggregate_type"`
	AggregateID   uuid.UUID                  `json:"aggregate_id"`
	ErrorReason   enums.OutboxDLQErrorReason `json:"error_reason"`
	ErrorMessage  *string                    `json:"error_message,omitempty"`
	AttemptCount  int                        `json:"attempt_count"`
	FailedAt      time.Time                  `json:"failed_at"`
	Payload       json.RawMessage            `json:"payload,omitempty"`
}

func deadLetterFromModel(row models.OutboxDLQ, withPayload bool) deadLetterView {
	view := deadLetterView{
		ID:            row.ID,
		EventID:       row.EventID,
		EventType:     row.EventType,
		AggregateType: row.AggregateType,
		AggregateID:   row.AggregateID,
		ErrorReason:   row.ErrorReason,
		ErrorMessage:  row.ErrorMessage,
		AttemptCount:  row.AttemptCount,
		FailedAt:      row.FailedAt,
	}
	if withPayload {
		view.Payload = row.Payload
	}
	return view
}

// AdminListDeadLetters lists outbox events the publisher stopped retrying.
// Payloads are left out of the listing.
func AdminListDeadLetters(repo deadLetterReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		q := outbox.DeadLetterQuery{Limit: limit}
		if raw := strings.TrimSpace(r.URL.Query().Get("event_type")); raw != "" {
			eventType, err := enums.ParseOutboxEventType(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid event_type"))
				return
			}
			q.EventType = eventType
		}

		rows, err := repo.List(r.Context(), q)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list dead letters"))
			return
		}
		out := make([]deadLetterView, 0, len(rows))
		for _, row := range rows {
			out = append(out, deadLetterFromModel(row, false))
		}
		responses.WriteSuccess(w, out)
	}
}

func AdminGetDeadLetter(repo deadLetterReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		eventID, err := validators.ParseUUIDParam(chi.URLParam(r, "eventId"), "eventId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		row, err := repo.FindByEventID(r.Context(), eventID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find dead letter"))
			return
		}
		if row == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "dead letter not found"))
			return
		}
		responses.WriteSuccess(w, deadLetterFromModel(*row, true))
	}
}
