package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/promptcraft-backend/internal/reconciler"
	"github.com/angelmondragon/promptcraft-backend/pkg/enums"
	"github.com/angelmondragon/promptcraft-backend/pkg/logger"
)

const (
	defaultStaleAfter = 10 * time.Minute
	defaultSweepLimit = 200
)

type PendingPaymentSweepJobParams struct {
	Logger     *logger.Logger
	Ledger     stalePendingLister
	Reconciler paymentReconciler
	StaleAfter time.Duration
	Limit      int
}

// NewPendingPaymentSweepJob re-queries the provider for purchases whose
// webhook never arrived.
func NewPendingPaymentSweepJob(params PendingPaymentSweepJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger required")
	}
	if params.Reconciler == nil {
		return nil, fmt.Errorf("reconciler required")
	}
	staleAfter := params.StaleAfter
	if staleAfter <= 0 {
		staleAfter = defaultStaleAfter
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultSweepLimit
	}
	return &pendingPaymentSweepJob{
		logg:       params.Logger,
		ledger:     params.Ledger,
		reconciler: params.Reconciler,
		staleAfter: staleAfter,
		limit:      limit,
	}, nil
}

type pendingPaymentSweepJob struct {
	logg       *logger.Logger
	ledger     stalePendingLister
	reconciler paymentReconciler
	staleAfter time.Duration
	limit      int
}

func (j *pendingPaymentSweepJob) Name() string { return "pending-payment-sweep" }

// Run reconciles each stale purchase independently; one failure does not
// stop the sweep, and all failures are returned together.
func (j *pendingPaymentSweepJob) Run(ctx context.Context) error {
	entries, err := j.ledger.ListStalePending(ctx, j.staleAfter, j.limit)
	if err != nil {
		return fmt.Errorf("list stale purchases: %w", err)
	}

	var (
		errs   error
		counts = map[reconciler.Outcome]int{}
	)
	for _, entry := range entries {
		if ctx.Err() != nil {
			errs = multierr.Append(errs, ctx.Err())
			break
		}
		if entry.ExternalPaymentID == nil {
			continue
		}
		paymentID := *entry.ExternalPaymentID
		res, err := j.reconciler.Reconcile(ctx, paymentID, enums.ReconcileSourceSweep)
		if err != nil {
			counts[reconciler.OutcomeFailed]++
			errs = multierr.Append(errs, fmt.Errorf("payment %s: %w", paymentID, err))
			continue
		}
		counts[res.Outcome]++
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"candidates": len(entries),
		"applied":    counts[reconciler.OutcomeApplied],
		"still_open": counts[reconciler.OutcomeIgnored],
		"anomalies":  counts[reconciler.OutcomeAnomaly],
		"failed":     counts[reconciler.OutcomeFailed],
	})
	j.logg.Info(logCtx, "pending payment sweep complete")
	return errs
}
