package consumption

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/promptcraft-backend/internal/ledger"
	"github.com/angelmondragon/promptcraft-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/promptcraft-backend/pkg/errors"
	"github.com/angelmondragon/promptcraft-backend/pkg/logger"
	"github.com/angelmondragon/promptcraft-backend/pkg/metrics"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type ledgerWriter interface {
	Append(ctx context.Context, in ledger.AppendInput) (ledger.AppendResult, error)
	AppendTx(ctx context.Context, tx *gorm.DB, in ledger.AppendInput) (ledger.AppendResult, error)
}

type ServiceParams struct {
	DB       txRunner
	Ledger   ledgerWriter
	Metrics  *metrics.LedgerMetrics
	Logger   *logger.Logger
	Resource string
}

// Guard debits credits before a gated resource is created. The debit is a
// single conditional balance update, so concurrent requests can never drive
// the balance below zero.
type Guard struct {
	tx       txRunner
	ledger   ledgerWriter
	metrics  *metrics.LedgerMetrics
	logg     *logger.Logger
	resource string
}

func NewGuard(params ServiceParams) (*Guard, error) {
	if params.DB == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Ledger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "ledger required")
	}
	resource := strings.TrimSpace(params.Resource)
	if resource == "" {
		resource = "resource"
	}
	return &Guard{
		tx:       params.DB,
		ledger:   params.Ledger,
		metrics:  params.Metrics,
		logg:     params.Logger,
		resource: resource,
	}, nil
}

// TryConsume debits cost credits and returns the usage entry id.
func (g *Guard) TryConsume(ctx context.Context, accountID uuid.UUID, cost int64, description string) (uuid.UUID, error) {
	if err := validateCost(cost); err != nil {
		return uuid.Nil, err
	}
	res, err := g.ledger.Append(ctx, g.usageInput(accountID, cost, description))
	if err != nil {
		g.observeDenied(ctx, accountID, err)
		return uuid.Nil, err
	}
	return res.Entry.ID, nil
}

// ConsumeWith debits and runs create in the same transaction; either both
// commit or neither does.
func (g *Guard) ConsumeWith(ctx context.Context, accountID uuid.UUID, cost int64, description string, create func(tx *gorm.DB, entryID uuid.UUID) error) (uuid.UUID, error) {
	if err := validateCost(cost); err != nil {
		return uuid.Nil, err
	}
	if create == nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeInternal, "create callback required")
	}
	var entryID uuid.UUID
	err := g.tx.WithTx(ctx, func(tx *gorm.DB) error {
		res, err := g.ledger.AppendTx(ctx, tx, g.usageInput(accountID, cost, description))
		if err != nil {
			return err
		}
		entryID = res.Entry.ID
		return create(tx, entryID)
	})
	if err != nil {
		g.observeDenied(ctx, accountID, err)
		if pkgerrors.As(err) == nil {
			err = pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("create %s", g.resource))
		}
		return uuid.Nil, err
	}
	return entryID, nil
}

// ReserveThenCreate debits first and runs create outside the transaction,
// for resources living in other systems. A failed create is compensated by
// a refund entry.
func (g *Guard) ReserveThenCreate(ctx context.Context, accountID uuid.UUID, cost int64, description string, create func(ctx context.Context, entryID uuid.UUID) error) (uuid.UUID, error) {
	if create == nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeInternal, "create callback required")
	}
	entryID, err := g.TryConsume(ctx, accountID, cost, description)
	if err != nil {
		return uuid.Nil, err
	}
	createErr := create(ctx, entryID)
	if createErr == nil {
		return entryID, nil
	}

	related := entryID
	_, refundErr := g.ledger.Append(ctx, ledger.AppendInput{
		AccountID:      accountID,
		Kind:           enums.LedgerEntryKindRefund,
		Amount:         cost,
		Description:    fmt.Sprintf("refund %s", g.resource),
		RelatedEntryID: &related,
	})
	if refundErr != nil && g.logg != nil {
		logCtx := g.logg.WithFields(ctx, map[string]any{
			"account_id": accountID.String(),
			"entry_id":   entryID.String(),
		})
		g.logg.Error(logCtx, "refund after failed create did not persist", refundErr)
	}
	combined := multierr.Combine(createErr, refundErr)
	if typed := pkgerrors.As(createErr); typed != nil && refundErr == nil {
		return uuid.Nil, createErr
	}
	return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeDependency, combined, fmt.Sprintf("create %s", g.resource))
}

func (g *Guard) usageInput(accountID uuid.UUID, cost int64, description string) ledger.AppendInput {
	if strings.TrimSpace(description) == "" {
		description = g.resource
	}
	return ledger.AppendInput{
		AccountID:   accountID,
		Kind:        enums.LedgerEntryKindUsage,
		Amount:      -cost,
		Description: description,
	}
}

func (g *Guard) observeDenied(ctx context.Context, accountID uuid.UUID, err error) {
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeInsufficientCredits {
		return
	}
	g.metrics.IncConsumptionDenied(g.resource)
	if g.logg != nil {
		g.logg.Debug(g.logg.WithAccountID(ctx, accountID.String()), "credit consumption denied")
	}
}

func validateCost(cost int64) error {
	if cost <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "cost must be positive")
	}
	return nil
}
