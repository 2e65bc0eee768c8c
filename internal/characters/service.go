package characters

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/promptcraft-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/promptcraft-backend/pkg/errors"
	"github.com/angelmondragon/promptcraft-backend/pkg/logger"
	"github.com/angelmondragon/promptcraft-backend/pkg/pagination"
)

const (
	maxNameLen   = 80
	maxPromptLen = 4000
)

type consumer interface {
	ConsumeWith(ctx context.Context, accountID uuid.UUID, cost int64, description string, create func(tx *gorm.DB, entryID uuid.UUID) error) (uuid.UUID, error)
}

type ServiceParams struct {
	Repo     *Repository
	Consumer consumer
	Logger   *logger.Logger
	Cost     int64
}

// Service creates characters, each paid for with credits.
type Service struct {
	repo     *Repository
	consumer consumer
	logg     *logger.Logger
	cost     int64
	now      func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "character repository required")
	}
	if params.Consumer == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "credit consumer required")
	}
	if params.Cost <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "character cost must be positive")
	}
	return &Service{
		repo:     params.Repo,
		consumer: params.Consumer,
		logg:     params.Logger,
		cost:     params.Cost,
		now:      time.Now,
	}, nil
}

type CreateInput struct {
	AccountID uuid.UUID
	Name      string
	Prompt    string
	Traits    json.RawMessage
}

// Create debits the character cost and stores the character atomically.
func (s *Service) Create(ctx context.Context, in CreateInput) (*models.Character, error) {
	name := strings.TrimSpace(in.Name)
	prompt := strings.TrimSpace(in.Prompt)
	switch {
	case in.AccountID == uuid.Nil:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account id is required")
	case name == "" || len(name) > maxNameLen:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "name must be between 1 and 80 characters")
	case prompt == "" || len(prompt) > maxPromptLen:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "prompt must be between 1 and 4000 characters")
	case len(in.Traits) > 0 && !json.Valid(in.Traits):
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "traits must be valid json")
	}

	character := &models.Character{
		ID:        uuid.New(),
		AccountID: in.AccountID,
		Name:      name,
		Prompt:    prompt,
		Traits:    in.Traits,
		CreatedAt: s.now().UTC(),
	}
	_, err := s.consumer.ConsumeWith(ctx, in.AccountID, s.cost, "character "+name, func(tx *gorm.DB, entryID uuid.UUID) error {
		character.LedgerEntryID = entryID
		return s.repo.CreateTx(ctx, tx, character)
	})
	if err != nil {
		return nil, err
	}
	if s.logg != nil {
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{
			"account_id":   in.AccountID.String(),
			"character_id": character.ID.String(),
		}), "character created")
	}
	return character, nil
}

func (s *Service) List(ctx context.Context, accountID uuid.UUID, limit int) ([]models.Character, error) {
	rows, err := s.repo.ListByAccount(ctx, accountID, pagination.NormalizeLimit(limit))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list characters")
	}
	return rows, nil
}
