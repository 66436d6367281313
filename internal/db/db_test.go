package db

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestOpenCreatesWorkspaceDatabase(t *testing.T) {
	dir := t.TempDir()
	conn, err := Open(Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()
	if _, err := os.Stat(filepath.Join(dir, ".atelier", "atelier.db")); err != nil {
		t.Fatalf("expected database file: %v", err)
	}
	var fk int
	if err := conn.QueryRow(`PRAGMA foreign_keys`).Scan(&fk); err != nil || fk != 1 {
		t.Fatalf("expected foreign keys on, got %d err %v", fk, err)
	}
	var mode string
	if err := conn.QueryRow(`PRAGMA journal_mode`).Scan(&mode); err != nil || !strings.EqualFold(mode, "wal") {
		t.Fatalf("expected wal journal, got %q err %v", mode, err)
	}
}

func TestDSNBusyTimeout(t *testing.T) {
	if got := DSN("x.db", 0); !strings.Contains(got, "busy_timeout(10000)") || !strings.Contains(got, "_txlock=immediate") {
		t.Fatalf("unexpected default dsn %s", got)
	}
	if got := DSN("x.db", 2500*time.Millisecond); !strings.Contains(got, "busy_timeout(2500)") {
		t.Fatalf("unexpected dsn %s", got)
	}
}
