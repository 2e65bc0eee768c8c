package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/promptcraft-backend/api/middleware"
	"github.com/angelmondragon/promptcraft-backend/api/responses"
	"github.com/angelmondragon/promptcraft-backend/api/validators"
	"github.com/angelmondragon/promptcraft-backend/internal/accounts"
	"github.com/angelmondragon/promptcraft-backend/internal/referrals"
	"github.com/angelmondragon/promptcraft-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/promptcraft-backend/pkg/errors"
	"github.com/angelmondragon/promptcraft-backend/pkg/logger"
)

const maxDisplayNameLen = 80

type accountService interface {
	Signup(ctx context.Context, in accounts.SignupInput) (*accounts.SignupResult, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Account, error)
	Delete(ctx context.Context, id uuid.UUID) error
	Logout(ctx context.Context, accessID string) error
}

type signupRequest struct {
	Email        string `json:"email" validate:"required,email"`
	DisplayName  string `json:"display_name" validate:"omitempty,max=80"`
	ReferralCode string `json:"referral_code" validate:"omitempty,max=32"`
}

type signupResponse struct {
	Account  accountView            `json:"account"`
	Tokens   accounts.Tokens        `json:"tokens"`
	Referral *referrals.ApplyResult `json:"referral,omitempty"`
}

// AccountSignup creates an account, credits the signup bonus and applies an
// optional referral code. A rejected referral does not fail the signup.
func AccountSignup(svc accountService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body signupRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Signup(r.Context(), accounts.SignupInput{
			Email:        body.Email,
			DisplayName:  validators.SanitizeString(body.DisplayName, maxDisplayNameLen),
			ReferralCode: body.ReferralCode,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, signupResponse{
			Account:  accountFromModel(result.Account),
			Tokens:   result.Tokens,
			Referral: result.Referral,
		})
	}
}

func AccountMe(svc accountService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID, err := requireAccount(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		account, err := svc.Get(r.Context(), accountID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, accountFromModel(account))
	}
}

// AccountDelete removes the caller's account and revokes the current session.
func AccountDelete(svc accountService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID, err := requireAccount(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.Delete(r.Context(), accountID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if accessID := middleware.AccessIDFromContext(r.Context()); accessID != "" {
			if err := svc.Logout(r.Context(), accessID); err != nil && logg != nil {
				logg.Warn(r.Context(), "session not revoked after account deletion")
			}
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// requireAccount returns the authenticated account id.
func requireAccount(r *http.Request) (uuid.UUID, error) {
	id := middleware.AccountUUID(r.Context())
	if id == uuid.Nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	return id, nil
}
