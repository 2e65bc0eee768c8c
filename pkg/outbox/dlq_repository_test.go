package outbox

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/promptcraft-backend/pkg/db/dbtest"
	"github.com/angelmondragon/promptcraft-backend/pkg/db/models"
	"github.com/angelmondragon/promptcraft-backend/pkg/enums"
)

func deadLetter(eventType enums.OutboxEventType, failedAt time.Time, msg string) models.OutboxDLQ {
	return models.OutboxDLQ{
		EventID:       uuid.New(),
		EventType:     eventType,
		AggregateType: enums.AggregateAccount,
		AggregateID:   uuid.New(),
		Payload:       json.RawMessage(`{"version":1}`),
		ErrorReason:   enums.OutboxDLQReasonMaxAttempts,
		ErrorMessage:  &msg,
		AttemptCount:  5,
		FailedAt:      failedAt,
	}
}

func TestDLQRepositoryListsNewestFirst(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewDLQRepository(conn)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	older := deadLetter(enums.EventPaymentSettled, base, "broker down")
	newer := deadLetter(enums.EventReconciliationAnomaly, base.Add(time.Minute), "schema rejected")
	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		if err := repo.InsertTx(tx, older); err != nil {
			return err
		}
		return repo.InsertTx(tx, newer)
	}))

	rows, err := repo.List(context.Background(), DeadLetterQuery{})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, newer.EventID, rows[0].EventID)

	rows, err = repo.List(context.Background(), DeadLetterQuery{EventType: enums.EventPaymentSettled, Limit: 10})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, older.EventID, rows[0].EventID)

	found, err := repo.FindByEventID(context.Background(), newer.EventID)
	require.NoError(t, err)
	require.NotNil(t, found)
	require.Equal(t, "schema rejected", *found.ErrorMessage)

	missing, err := repo.FindByEventID(context.Background(), uuid.New())
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestDLQRepositoryRequiresTransaction(t *testing.T) {
	repo := NewDLQRepository(dbtest.Open(t))
	require.Error(t, repo.InsertTx(nil, deadLetter(enums.EventPaymentSettled, time.Now(), "x")))
}

func TestTruncateDLQErrorKeepsRunesWhole(t *testing.T) {
	msg := strings.Repeat("a", maxDLQErrorLen-1) + "é tail"
	got := truncateDLQError(msg)
	require.True(t, utf8.ValidString(got))
	require.Equal(t, maxDLQErrorLen-1, len(got))
	require.Equal(t, "short", truncateDLQError("short"))
}
