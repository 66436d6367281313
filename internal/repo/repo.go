package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

// Repo is the SQL persistence layer. Methods taking a *sql.Tx run inside the
// caller's transaction when it is non-nil and directly on DB otherwise.
type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// TimeLayout keeps a fixed width so stored timestamps sort lexicographically.
const TimeLayout = "2006-01-02T15:04:05.000000Z07:00"

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r Repo) q(tx *sql.Tx) querier {
	if tx != nil {
		return tx
	}
	return r.DB
}

// WithTx runs fn inside a transaction, committing when fn returns nil.
func (r Repo) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(TimeLayout, s)
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return FormatTime(*t)
}

func nullableFloat(v float64) any {
	if v == 0 {
		return nil
	}
	return v
}

func nullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullBool(ni sql.NullInt64) *bool {
	if !ni.Valid {
		return nil
	}
	b := ni.Int64 != 0
	return &b
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func marshalStrings(in []string) (string, error) {
	if in == nil {
		in = []string{}
	}
	b, err := json.Marshal(in)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalStrings(raw sql.NullString) ([]string, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw.String), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

var ErrDuplicate = errors.New("duplicate")
