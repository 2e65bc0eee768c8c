package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/promptcraft-backend/api/middleware"
	"github.com/angelmondragon/promptcraft-backend/api/responses"
	"github.com/angelmondragon/promptcraft-backend/api/validators"
	"github.com/angelmondragon/promptcraft-backend/internal/referrals"
	"github.com/angelmondragon/promptcraft-backend/pkg/db/models"
	"github.com/angelmondragon/promptcraft-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/promptcraft-backend/pkg/errors"
	"github.com/angelmondragon/promptcraft-backend/pkg/logger"
)

type referralService interface {
	EnsureCode(ctx context.Context, ownerID uuid.UUID) (*models.ReferralCode, error)
	ApplyWithRetry(ctx context.Context, code string, referredID uuid.UUID) (referrals.ApplyResult, error)
}

type applyReferralRequest struct {
	ReferralCode string    `json:"referral_code" validate:"required,max=32"`
	NewAccountID uuid.UUID `json:"new_account_id" validate:"required"`
}

// ReferralCode returns the caller's code, creating it on first request.
func ReferralCode(svc referralService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID, err := requireAccount(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		code, err := svc.EnsureCode(r.Context(), accountID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, referralCodeView{
			Code:         code.Code,
			BonusCredits: code.BonusCredits,
			Uses:         code.Uses,
			MaxUses:      code.MaxUses,
			Active:       code.Active,
		})
	}
}

// ApplyReferral credits both sides of a referral. Only the referred account
// itself or an admin may apply a code on its behalf.
func ApplyReferral(svc referralService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		callerID, err := requireAccount(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body applyReferralRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if body.NewAccountID == uuid.Nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "new_account_id is required"))
			return
		}
		isAdmin := middleware.RoleFromContext(r.Context()) == string(enums.AccountRoleAdmin)
		if body.NewAccountID != callerID && !isAdmin {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "cannot apply a referral for another account"))
			return
		}

		result, err := svc.ApplyWithRetry(r.Context(), body.ReferralCode, body.NewAccountID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if !result.Applied {
			responses.WriteError(r.Context(), logg, w, referrals.RejectionError(result))
			return
		}
		responses.WriteSuccess(w, result)
	}
}
