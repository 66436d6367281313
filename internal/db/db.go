package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const (
	dirName            = ".atelier"
	fileName           = "atelier.db"
	defaultBusyTimeout = 10 * time.Second
)

type Config struct {
	Workspace string
	// BusyTimeout bounds how long a writer queues behind another before
	// SQLITE_BUSY. Zero uses 10s.
	BusyTimeout time.Duration
}

// Path returns the db path for the workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, dirName, fileName)
}

// EnsureWorkspace creates the workspace state directory if missing.
func EnsureWorkspace(workspace string) (string, error) {
	path := filepath.Dir(Path(workspace))
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}

// DSN builds the modernc connection string. Transactions take the write lock
// up front (_txlock=immediate) so concurrent writers queue on the busy timeout
// instead of failing on lock upgrade.
func DSN(path string, busy time.Duration) string {
	if busy <= 0 {
		busy = defaultBusyTimeout
	}
	return fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_txlock=immediate",
		path, busy.Milliseconds())
}

// Open opens the workspace database and checks that it is reachable.
func Open(cfg Config) (*sql.DB, error) {
	if _, err := EnsureWorkspace(cfg.Workspace); err != nil {
		return nil, err
	}
	path := Path(cfg.Workspace)
	conn, err := sql.Open("sqlite", DSN(path, cfg.BusyTimeout))
	if err != nil {
		return nil, err
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return conn, nil
}
