package controllers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/promptcraft-backend/api/middleware"
	"github.com/angelmondragon/promptcraft-backend/api/responses"
	"github.com/angelmondragon/promptcraft-backend/api/validators"
	"github.com/angelmondragon/promptcraft-backend/internal/clientsync"
	"github.com/angelmondragon/promptcraft-backend/internal/ledger"
	"github.com/angelmondragon/promptcraft-backend/internal/reconciler"
	"github.com/angelmondragon/promptcraft-backend/pkg/db/models"
	"github.com/angelmondragon/promptcraft-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/promptcraft-backend/pkg/errors"
	"github.com/angelmondragon/promptcraft-backend/pkg/logger"
	"github.com/angelmondragon/promptcraft-backend/pkg/pagination"
)

type adjuster interface {
	AdminAdjust(ctx context.Context, in ledger.AdjustInput) (ledger.AppendResult, error)
}

type anomalyManager interface {
	Reconcile(ctx context.Context, paymentID string, source enums.ReconcileSource) (reconciler.Result, error)
	ListAnomalies(ctx context.Context, unresolvedOnly bool, limit int) ([]models.ReconciliationAnomaly, error)
	ResolveAnomaly(ctx context.Context, id uuid.UUID, actorID uuid.UUID, note string) error
}

type adjustmentRequest struct {
	Amount      int64  `json:"amount" validate:"required"`
	Description string `json:"description" validate:"required,max=280"`
}

type adjustmentResponse struct {
	Entry     clientsync.EntryView `json:"entry"`
	Balance   int64                `json:"balance"`
	Duplicate bool                 `json:"duplicate"`
}

type resolveRequest struct {
	Note string `json:"note" validate:"required,max=1000"`
}

// AdminAdjust writes a signed manual correction against an account.
func AdminAdjust(svc adjuster, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actorID, err := requireAccount(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		accountID, err := validators.ParseUUIDParam(chi.URLParam(r, "accountId"), "accountId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body adjustmentRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.AdminAdjust(r.Context(), ledger.AdjustInput{
			AccountID:   accountID,
			Amount:      body.Amount,
			Description: validators.SanitizeString(body.Description, ledger.MaxDescriptionLen),
			ActorID:     actorID,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, adjustmentResponse{
			Entry:     clientsync.EntryFromModel(result.Entry),
			Balance:   result.Balance,
			Duplicate: result.Duplicate,
		})
	}
}

func AdminListAnomalies(svc anomalyManager, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		unresolved := r.URL.Query().Get("unresolved") != "false"

		rows, err := svc.ListAnomalies(r.Context(), unresolved, limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, anomaliesFromModels(rows))
	}
}

func AdminResolveAnomaly(svc anomalyManager, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actorID := middleware.AccountUUID(r.Context())
		if actorID == uuid.Nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required"))
			return
		}
		anomalyID, err := validators.ParseUUIDParam(chi.URLParam(r, "anomalyId"), "anomalyId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body resolveRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.ResolveAnomaly(r.Context(), anomalyID, actorID, validators.SanitizeString(body.Note, 1000)); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// AdminReconcilePayment forces a provider re-read for one payment.
func AdminReconcilePayment(svc anomalyManager, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		paymentID := paymentIDParam(r)
		if paymentID == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "payment id is required"))
			return
		}
		ctx := logg.WithPaymentID(r.Context(), paymentID)
		result, err := svc.Reconcile(ctx, paymentID, enums.ReconcileSourceManual)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}
