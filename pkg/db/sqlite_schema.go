package db

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// sqliteSchema mirrors pkg/migrate/migrations for local sqlite runs and tests.
// Enum columns degrade to TEXT, uuids to TEXT and jsonb to TEXT.
var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		display_name TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'user',
		balance INTEGER NOT NULL DEFAULT 0 CHECK (balance >= 0),
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE IF NOT EXISTS ledger_entries (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
		kind TEXT NOT NULL,
		amount INTEGER NOT NULL CHECK (amount <> 0),
		description TEXT NOT NULL,
		external_payment_id TEXT UNIQUE,
		payment_status TEXT,
		related_entry_id TEXT,
		settled_at DATETIME,
		created_at DATETIME
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ledger_entries_account_created ON ledger_entries (account_id, created_at, id)`,
	`CREATE TABLE IF NOT EXISTS credit_packages (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		credits INTEGER NOT NULL,
		price TEXT NOT NULL,
		currency TEXT NOT NULL DEFAULT 'BRL',
		active BOOLEAN NOT NULL DEFAULT 1,
		sort_order INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE IF NOT EXISTS referral_codes (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL UNIQUE,
		owner_account_id TEXT NOT NULL UNIQUE REFERENCES accounts(id) ON DELETE CASCADE,
		bonus_credits INTEGER NOT NULL,
		uses INTEGER NOT NULL DEFAULT 0,
		max_uses INTEGER,
		active BOOLEAN NOT NULL DEFAULT 1,
		created_at DATETIME
	)`,
	`CREATE TABLE IF NOT EXISTS referral_uses (
		id TEXT PRIMARY KEY,
		referral_code_id TEXT NOT NULL REFERENCES referral_codes(id) ON DELETE CASCADE,
		referred_account_id TEXT NOT NULL UNIQUE REFERENCES accounts(id) ON DELETE CASCADE,
		created_at DATETIME,
		UNIQUE (referral_code_id, referred_account_id)
	)`,
	`CREATE TABLE IF NOT EXISTS characters (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		prompt TEXT NOT NULL,
		traits TEXT,
		ledger_entry_id TEXT NOT NULL,
		created_at DATETIME
	)`,
	`CREATE TABLE IF NOT EXISTS reconciliation_anomalies (
		id TEXT PRIMARY KEY,
		external_payment_id TEXT NOT NULL,
		account_id TEXT,
		recorded_status TEXT NOT NULL,
		observed_status TEXT NOT NULL,
		source TEXT NOT NULL,
		reason TEXT NOT NULL,
		resolved_at DATETIME,
		resolved_by TEXT,
		resolution_note TEXT,
		created_at DATETIME,
		UNIQUE (external_payment_id, observed_status)
	)`,
	`CREATE TABLE IF NOT EXISTS outbox_events (
		id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		aggregate_type TEXT NOT NULL,
		aggregate_id TEXT NOT NULL,
		payload TEXT NOT NULL,
		created_at DATETIME,
		published_at DATETIME,
		attempt_count INTEGER NOT NULL DEFAULT 0,
		last_error TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS outbox_dlq (
		id TEXT PRIMARY KEY,
		event_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		aggregate_type TEXT NOT NULL,
		aggregate_id TEXT NOT NULL,
		payload_json TEXT NOT NULL,
		error_reason TEXT NOT NULL,
		error_message TEXT,
		attempt_count INTEGER NOT NULL DEFAULT 0,
		failed_at DATETIME,
		created_at DATETIME
	)`,
}

// ApplySQLiteSchema creates every table on a sqlite connection. It is
// idempotent.
func ApplySQLiteSchema(ctx context.Context, conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("connection is required")
	}
	if name := conn.Dialector.Name(); name != "sqlite" {
		return fmt.Errorf("sqlite schema cannot be applied to %s", name)
	}
	for _, stmt := range sqliteSchema {
		if err := conn.WithContext(ctx).Exec(stmt).Error; err != nil {
			head, _, _ := strings.Cut(strings.TrimSpace(stmt), "(")
			return fmt.Errorf("%s: %w", head, err)
		}
	}
	return nil
}
