package cron

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/promptcraft-backend/pkg/logger"
	"github.com/angelmondragon/promptcraft-backend/pkg/metrics"
	"github.com/angelmondragon/promptcraft-backend/pkg/pagination"
)

const auditPageSize = pagination.MaxLimit

type BalanceAuditJobParams struct {
	Logger   *logger.Logger
	Ledger   balanceAuditor
	Metrics  *metrics.LedgerMetrics
	PageSize int
}

func NewBalanceAuditJob(params BalanceAuditJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger required")
	}
	pageSize := params.PageSize
	if pageSize <= 0 || pageSize > auditPageSize {
		pageSize = auditPageSize
	}
	return &balanceAuditJob{
		logg:     params.Logger,
		ledger:   params.Ledger,
		metrics:  params.Metrics,
		pageSize: pageSize,
	}, nil
}

type balanceAuditJob struct {
	logg     *logger.Logger
	ledger   balanceAuditor
	metrics  *metrics.LedgerMetrics
	pageSize int
}

func (j *balanceAuditJob) Name() string { return "balance-audit" }

// Run compares every cached balance with the sum of its effective entries.
// Drift is reported, never corrected.
func (j *balanceAuditJob) Run(ctx context.Context) error {
	var (
		errs    error
		after   = uuid.Nil
		checked int
		drifted int
	)
	for {
		ids, err := j.ledger.ListAccountIDs(ctx, after, j.pageSize)
		if err != nil {
			return multierr.Append(errs, fmt.Errorf("list accounts: %w", err))
		}
		for _, id := range ids {
			driftFound, err := j.audit(ctx, id)
			if err != nil {
				errs = multierr.Append(errs, err)
				continue
			}
			checked++
			if driftFound {
				drifted++
			}
		}
		if len(ids) < j.pageSize {
			break
		}
		after = ids[len(ids)-1]
	}

	j.metrics.AddBalanceDrift(drifted)
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"accounts_checked": checked,
		"accounts_drifted": drifted,
	})
	if drifted > 0 {
		j.logg.Warn(logCtx, "balance audit found drift")
	} else {
		j.logg.Info(logCtx, "balance audit clean")
	}
	return errs
}

func (j *balanceAuditJob) audit(ctx context.Context, accountID uuid.UUID) (bool, error) {
	balance, err := j.ledger.Balance(ctx, accountID)
	if err != nil {
		return false, fmt.Errorf("account %s balance: %w", accountID, err)
	}
	sum, err := j.ledger.EffectiveSum(ctx, accountID)
	if err != nil {
		return false, fmt.Errorf("account %s entries: %w", accountID, err)
	}
	if balance == sum {
		return false, nil
	}
	logCtx := j.logg.WithAccountID(ctx, accountID.String())
	logCtx = j.logg.WithFields(logCtx, map[string]any{
		"cached_balance": balance,
		"ledger_sum":     sum,
		"drift":          balance - sum,
	})
	j.logg.Warn(logCtx, "cached balance differs from ledger")
	return true, nil
}
