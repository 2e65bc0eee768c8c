package migrate

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"
	"time"
)

func TestCreateSQLMigrationThenValidate(t *testing.T) {
	dir := t.TempDir()
	path, err := CreateSQLMigration(dir, "Add Ledger Index!")
	if err != nil {
		t.Fatalf("create migration: %v", err)
	}
	if !strings.HasSuffix(path, "_add_ledger_index.sql") {
		t.Fatalf("unexpected filename %s", path)
	}
	if err := ValidateDir(dir); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestValidateDirRejectsBadFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "001_bad.sql"), []byte("-- +goose Up\n-- +goose Down\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := ValidateDir(dir); err == nil {
		t.Fatal("expected invalid filename error")
	}

	dir = t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "20260101000000_no_down.sql"), []byte("-- +goose Up\nSELECT 1;\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := ValidateDir(dir); err == nil {
		t.Fatal("expected missing down marker error")
	}
}

func TestEmbeddedMigrationsValidate(t *testing.T) {
	if err := ValidateDir(DefaultDir); err != nil {
		t.Fatalf("embedded migrations invalid: %v", err)
	}
}

func TestValidateRejectsLedgerRewrite(t *testing.T) {
	fsys := fstest.MapFS{
		"m/20260401000000_fix_amounts.sql": {Data: []byte("-- +goose Up\nUPDATE ledger_entries SET amount = 0;\n-- +goose Down\nSELECT 1;\n")},
	}
	err := ValidateFS(fsys, "m")
	if err == nil || !strings.Contains(err.Error(), "rewrites ledger history") {
		t.Fatalf("expected ledger rewrite rejection, got %v", err)
	}

	fsys = fstest.MapFS{
		"m/20260401000000_drop_ledger.sql": {Data: []byte("-- +goose Up\nSELECT 1;\n-- +goose Down\nDELETE FROM ledger_entries;\n")},
	}
	if err := ValidateFS(fsys, "m"); err != nil {
		t.Fatalf("down sections may clean up: %v", err)
	}
}

func TestCreateSQLMigrationKeepsVersionsOrdered(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	first, err := createSQLMigration(dir, "add anomaly index", now)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := createSQLMigration(dir, "add dlq index", now)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if filepath.Base(first) != "20260401100000_add_anomaly_index.sql" {
		t.Fatalf("unexpected first name %s", first)
	}
	if filepath.Base(second) != "20260401100001_add_dlq_index.sql" {
		t.Fatalf("expected bumped version, got %s", second)
	}
	if err := ValidateDir(dir); err != nil {
		t.Fatalf("validate: %v", err)
	}
}
