package consumption

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/promptcraft-backend/internal/ledger"
	"github.com/angelmondragon/promptcraft-backend/pkg/db/dbtest"
	"github.com/angelmondragon/promptcraft-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/promptcraft-backend/pkg/errors"
	"github.com/angelmondragon/promptcraft-backend/pkg/metrics"
	"github.com/angelmondragon/promptcraft-backend/pkg/outbox"
)

func newTestGuard(t *testing.T) (*Guard, *gorm.DB) {
	t.Helper()
	client, conn := dbtest.Client(t)
	led, err := ledger.NewService(ledger.ServiceParams{
		DB:     client,
		Conn:   conn,
		Outbox: outbox.NewService(outbox.NewRepository(conn), nil),
	})
	require.NoError(t, err)
	guard, err := NewGuard(ServiceParams{
		DB:       client,
		Ledger:   led,
		Metrics:  metrics.NewLedgerMetrics(prometheus.NewRegistry()),
		Resource: "character",
	})
	require.NoError(t, err)
	return guard, conn
}

func TestTryConsume(t *testing.T) {
	guard, conn := newTestGuard(t)
	account := dbtest.SeedAccount(t, conn, "ana@example.com", 1)

	entryID, err := guard.TryConsume(context.Background(), account.ID, 1, "")
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, entryID)
	require.Equal(t, int64(0), dbtest.Balance(t, conn, account.ID))

	_, err = guard.TryConsume(context.Background(), account.ID, 1, "")
	require.Equal(t, pkgerrors.CodeInsufficientCredits, pkgerrors.As(err).Code())

	_, err = guard.TryConsume(context.Background(), account.ID, 0, "")
	require.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())
}

func TestConcurrentTryConsumeSingleCredit(t *testing.T) {
	guard, conn := newTestGuard(t)
	account := dbtest.SeedAccount(t, conn, "bia@example.com", 1)

	var (
		wg      sync.WaitGroup
		granted atomic.Int32
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := guard.TryConsume(context.Background(), account.ID, 1, ""); err == nil {
				granted.Add(1)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), granted.Load())
	require.Equal(t, int64(0), dbtest.Balance(t, conn, account.ID))
	require.Equal(t, dbtest.EffectiveSum(t, conn, account.ID), dbtest.Balance(t, conn, account.ID))
}

func TestConsumeWithRollsBackOnCreateFailure(t *testing.T) {
	guard, conn := newTestGuard(t)
	account := dbtest.SeedAccount(t, conn, "cai@example.com", 2)

	_, err := guard.ConsumeWith(context.Background(), account.ID, 1, "character", func(tx *gorm.DB, entryID uuid.UUID) error {
		return errors.New("insert failed")
	})
	require.Error(t, err)
	require.Equal(t, int64(2), dbtest.Balance(t, conn, account.ID))
	require.Equal(t, int64(0), dbtest.CountRows(t, conn, "ledger_entries", "kind = ?", enums.LedgerEntryKindUsage))

	var seen uuid.UUID
	entryID, err := guard.ConsumeWith(context.Background(), account.ID, 1, "character", func(tx *gorm.DB, id uuid.UUID) error {
		seen = id
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, seen, entryID)
	require.Equal(t, int64(1), dbtest.Balance(t, conn, account.ID))
}

func TestReserveThenCreateRefundsOnFailure(t *testing.T) {
	guard, conn := newTestGuard(t)
	account := dbtest.SeedAccount(t, conn, "dan@example.com", 3)

	_, err := guard.ReserveThenCreate(context.Background(), account.ID, 2, "render", func(ctx context.Context, entryID uuid.UUID) error {
		return errors.New("renderer offline")
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "create character")
	require.Equal(t, int64(3), dbtest.Balance(t, conn, account.ID))
	require.Equal(t, int64(1), dbtest.CountRows(t, conn, "ledger_entries", "kind = ?", enums.LedgerEntryKindRefund))
	require.Equal(t, dbtest.EffectiveSum(t, conn, account.ID), dbtest.Balance(t, conn, account.ID))

	_, err = guard.ReserveThenCreate(context.Background(), account.ID, 2, "render", func(ctx context.Context, entryID uuid.UUID) error {
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, int64(1), dbtest.Balance(t, conn, account.ID))
}
