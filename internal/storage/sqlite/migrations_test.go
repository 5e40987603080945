package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

func TestMigrationsVersioningAndTables(t *testing.T) {
	dir := t.TempDir()
	db, err := sql.Open("sqlite", filepath.Join(dir, "mig.db"))
	if err != nil {
		t.Skip("sqlite open:", err)
	}
	defer db.Close()

	m := Manager{}
	if err := m.UpToLatest(context.Background(), db); err != nil {
		t.Fatalf("UpToLatest error: %v", err)
	}
	var v int
	if err := db.QueryRow(`SELECT version FROM schema_migrations`).Scan(&v); err != nil {
		t.Fatalf("version scan: %v", err)
	}
	if v != latestVersion {
		t.Fatalf("unexpected version: %d", v)
	}
	var cnt int
	if err := db.QueryRow(`SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='restaurants'`).Scan(&cnt); err != nil || cnt == 0 {
		t.Fatalf("expected restaurants table to exist")
	}

	// idempotent on re-run
	if err := m.UpToLatest(context.Background(), db); err != nil {
		t.Fatalf("UpToLatest rerun error: %v", err)
	}
}
