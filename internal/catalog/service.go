package catalog

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/promptcraft-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/promptcraft-backend/pkg/errors"
)

type packageReader interface {
	ListActive(ctx context.Context) ([]models.CreditPackage, error)
	FindActiveByID(ctx context.Context, id uuid.UUID) (*models.CreditPackage, error)
}

// Service exposes the credit package catalog.
type Service struct {
	repo packageReader
}

func NewService(repo packageReader) (*Service, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "catalog repository required")
	}
	return &Service{repo: repo}, nil
}

func (s *Service) ListActive(ctx context.Context) ([]models.CreditPackage, error) {
	rows, err := s.repo.ListActive(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list credit packages")
	}
	return rows, nil
}

// ResolveInput selects a package either by id or by the exact price and
// credit amount shown to the client.
type ResolveInput struct {
	PackageID *uuid.UUID
	Amount    *decimal.Decimal
	Credits   int64
}

// Resolve returns the active package matching the input. Client supplied
// prices never define the charge; they must match an active package.
func (s *Service) Resolve(ctx context.Context, in ResolveInput) (*models.CreditPackage, error) {
	if in.PackageID != nil {
		pkg, err := s.repo.FindActiveByID(ctx, *in.PackageID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load credit package")
		}
		if pkg == nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown credit package")
		}
		if !matchesTerms(*pkg, in.Amount, in.Credits) {
			return nil, mismatchError()
		}
		return pkg, nil
	}

	if in.Amount == nil || in.Credits <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "package_id or amount and credits are required")
	}
	rows, err := s.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	for i := range rows {
		if matchesTerms(rows[i], in.Amount, in.Credits) {
			return &rows[i], nil
		}
	}
	return nil, mismatchError()
}

func matchesTerms(pkg models.CreditPackage, amount *decimal.Decimal, credits int64) bool {
	if amount != nil && !pkg.Price.Equal(*amount) {
		return false
	}
	if credits != 0 && pkg.Credits != credits {
		return false
	}
	return true
}

func mismatchError() error {
	return pkgerrors.New(pkgerrors.CodeValidation, "amount and credits do not match an active package").
		WithDetails(map[string]any{"field": "amount"})
}
