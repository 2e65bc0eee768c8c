package cron

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/promptcraft-backend/internal/reconciler"
	"github.com/angelmondragon/promptcraft-backend/pkg/db/models"
	"github.com/angelmondragon/promptcraft-backend/pkg/enums"
)

type stalePendingLister interface {
	ListStalePending(ctx context.Context, olderThan time.Duration, limit int) ([]models.LedgerEntry, error)
}

type paymentReconciler interface {
	Reconcile(ctx context.Context, paymentID string, source enums.ReconcileSource) (reconciler.Result, error)
}

type balanceAuditor interface {
	ListAccountIDs(ctx context.Context, afterID uuid.UUID, limit int) ([]uuid.UUID, error)
	Balance(ctx context.Context, accountID uuid.UUID) (int64, error)
	EffectiveSum(ctx context.Context, accountID uuid.UUID) (int64, error)
}
