package migrate

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"regexp"
	"strings"
)

var (
	sqlFileRe = regexp.MustCompile(`^(\d{14})_[a-z0-9_]+\.sql$`)
	// ledger rows are append-only; corrections go through new entries.
	ledgerRewriteRe = regexp.MustCompile(`(?i)\b(update\s+ledger_entries\s+set\s+amount|delete\s+from\s+ledger_entries|truncate\s+(table\s+)?ledger_entries)\b`)
)

// ValidateDir checks a migrations directory. DefaultDir validates the
// embedded copy.
func ValidateDir(dir string) error {
	if dir == "" {
		return fmt.Errorf("dir is required")
	}
	fsys, root := source(dir)
	if fsys == nil {
		fsys, root = os.DirFS(dir), "."
	}
	return ValidateFS(fsys, root)
}

// ValidateFS enforces goose naming, unique versions, Up/Down markers, and
// that no Up section rewrites ledger history.
func ValidateFS(fsys fs.FS, root string) error {
	entries, err := fs.ReadDir(fsys, root)
	if err != nil {
		return fmt.Errorf("read dir %q: %w", root, err)
	}
	seen := map[string]string{}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		m := sqlFileRe.FindStringSubmatch(name)
		if m == nil {
			return fmt.Errorf("invalid migration filename %q (expected YYYYMMDDHHMMSS_name.sql)", name)
		}
		if prev, ok := seen[m[1]]; ok {
			return fmt.Errorf("duplicate migration version %s in %q and %q", m[1], prev, name)
		}
		seen[m[1]] = name

		raw, err := fs.ReadFile(fsys, path.Join(root, name))
		if err != nil {
			return fmt.Errorf("read %q: %w", name, err)
		}
		if err := validateBody(name, string(raw)); err != nil {
			return err
		}
	}
	return nil
}

func validateBody(name, body string) error {
	up, _, ok := strings.Cut(body, "-- +goose Down")
	if !strings.Contains(up, "-- +goose Up") {
		return fmt.Errorf("migration %q missing \"-- +goose Up\"", name)
	}
	if !ok {
		return fmt.Errorf("migration %q missing \"-- +goose Down\"", name)
	}
	if loc := ledgerRewriteRe.FindString(up); loc != "" {
		return fmt.Errorf("migration %q rewrites ledger history (%q)", name, loc)
	}
	return nil
}
