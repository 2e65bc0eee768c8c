package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/promptcraft-backend/api/middleware"
	"github.com/angelmondragon/promptcraft-backend/api/responses"
	"github.com/angelmondragon/promptcraft-backend/api/validators"
	"github.com/angelmondragon/promptcraft-backend/internal/payments"
	pkgerrors "github.com/angelmondragon/promptcraft-backend/pkg/errors"
	"github.com/angelmondragon/promptcraft-backend/pkg/logger"
)

type paymentService interface {
	CreateIntent(ctx context.Context, in payments.CreateIntentInput) (*payments.PixIntent, error)
	GetIntentStatus(ctx context.Context, accountID uuid.UUID, paymentID string) (*payments.IntentStatus, error)
}

// createIntentRequest selects a package either by id or by its exact terms.
type createIntentRequest struct {
	PackageID *uuid.UUID       `json:"package_id"`
	Amount    *decimal.Decimal `json:"amount"`
	Credits   int64            `json:"credits" validate:"gte=0"`
}

// CreatePaymentIntent opens a PIX charge for a credit package. The
// Idempotency-Key header doubles as the provider idempotency key.
func CreatePaymentIntent(svc paymentService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID, err := requireAccount(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body createIntentRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if body.PackageID == nil && body.Credits == 0 {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "package_id or credits is required"))
			return
		}

		intent, err := svc.CreateIntent(r.Context(), payments.CreateIntentInput{
			AccountID:      accountID,
			PackageID:      body.PackageID,
			Amount:         body.Amount,
			Credits:        body.Credits,
			IdempotencyKey: middleware.IdempotencyKeyFromContext(r.Context()),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, intent)
	}
}

func GetPayment(svc paymentService, logg *logger.Logger) http.HandlerFunc {
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
		status, err := svc.GetIntentStatus(r.Context(), accountID, paymentID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, status)
	}
}

func paymentIDParam(r *http.Request) string {
	return strings.TrimSpace(chi.URLParam(r, "paymentId"))
}
