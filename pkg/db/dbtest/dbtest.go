// Package dbtest opens isolated in-memory sqlite databases carrying the full
// application schema.
package dbtest

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/promptcraft-backend/pkg/db"
	"github.com/angelmondragon/promptcraft-backend/pkg/db/models"
	"github.com/angelmondragon/promptcraft-backend/pkg/enums"
)

// Open returns a fresh database for the calling test. The pool is capped at
// one connection so transactions from concurrent goroutines serialize the way
// row locks serialize them in postgres.
func Open(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%s?mode=memory&cache=shared&_busy_timeout=5000", name, uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{SkipDefaultTransaction: true})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.ApplySQLiteSchema(context.Background(), conn); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	return conn
}

// Client wraps Open in the application db client.
func Client(t *testing.T) (*db.Client, *gorm.DB) {
	t.Helper()
	conn := Open(t)
	return db.Wrap(conn), conn
}

// SeedAccount inserts an account whose balance is backed by a matching
// admin_adjustment entry so balance == sum of effective entries holds.
func SeedAccount(t *testing.T, conn *gorm.DB, email string, balance int64) models.Account {
	t.Helper()
	now := time.Now().UTC()
	account := models.Account{
		ID:          uuid.New(),
		Email:       email,
		DisplayName: strings.Split(email, "@")[0],
		Role:        enums.AccountRoleUser,
		Balance:     balance,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := conn.Create(&account).Error; err != nil {
		t.Fatalf("seed account: %v", err)
	}
	if balance > 0 {
		entry := models.LedgerEntry{
			ID:          uuid.New(),
			AccountID:   account.ID,
			Kind:        enums.LedgerEntryKindAdminAdjustment,
			Amount:      balance,
			Description: "seed balance",
			CreatedAt:   now,
		}
		if err := conn.Create(&entry).Error; err != nil {
			t.Fatalf("seed entry: %v", err)
		}
	}
	return account
}

// Balance reads the cached balance straight from the accounts table.
func Balance(t *testing.T, conn *gorm.DB, accountID uuid.UUID) int64 {
	t.Helper()
	var account models.Account
	if err := conn.Select("balance").Where("id = ?", accountID).Take(&account).Error; err != nil {
		t.Fatalf("load balance: %v", err)
	}
	return account.Balance
}

// EffectiveSum recomputes the balance from ledger entries.
func EffectiveSum(t *testing.T, conn *gorm.DB, accountID uuid.UUID) int64 {
	t.Helper()
	var sum int64
	err := conn.Model(&models.LedgerEntry{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("account_id = ?", accountID).
		Where("payment_status IS NULL OR payment_status = ?", enums.PaymentStatusApproved).
		Scan(&sum).Error
	if err != nil {
		t.Fatalf("sum entries: %v", err)
	}
	return sum
}

// CountRows counts rows in table matching the optional where clause.
func CountRows(t *testing.T, conn *gorm.DB, table string, where string, args ...any) int64 {
	t.Helper()
	var count int64
	q := conn.Table(table)
	if where != "" {
		q = q.Where(where, args...)
	}
	if err := q.Count(&count).Error; err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return count
}
