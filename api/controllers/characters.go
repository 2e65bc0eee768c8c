package controllers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/promptcraft-backend/api/responses"
	"github.com/angelmondragon/promptcraft-backend/api/validators"
	"github.com/angelmondragon/promptcraft-backend/internal/characters"
	"github.com/angelmondragon/promptcraft-backend/pkg/db/models"
	"github.com/angelmondragon/promptcraft-backend/pkg/logger"
	"github.com/angelmondragon/promptcraft-backend/pkg/pagination"
)

type characterService interface {
	Create(ctx context.Context, in characters.CreateInput) (*models.Character, error)
	List(ctx context.Context, accountID uuid.UUID, limit int) ([]models.Character, error)
}

type createCharacterRequest struct {
	Name   string          `json:"name" validate:"required,max=80"`
	Prompt string          `json:"prompt" validate:"required,max=4000"`
	Traits json.RawMessage `json:"traits"`
}

// CreateCharacter spends credits on a new character; 402 when the balance is
// too low.
func CreateCharacter(svc characterService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID, err := requireAccount(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body createCharacterRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		character, err := svc.Create(r.Context(), characters.CreateInput{
			AccountID: accountID,
			Name:      body.Name,
			Prompt:    body.Prompt,
			Traits:    body.Traits,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, characterFromModel(character))
	}
}

func ListCharacters(svc characterService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID, err := requireAccount(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		rows, err := svc.List(r.Context(), accountID, limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out := make([]characterView, 0, len(rows))
		for i := range rows {
			out = append(out, characterFromModel(&rows[i]))
		}
		responses.WriteSuccess(w, out)
	}
}
