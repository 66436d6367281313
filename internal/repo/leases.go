package repo

import (
	"context"
	"database/sql"
	"time"
)

type Lease struct {
	Name       string
	OwnerID    string
	AcquiredAt time.Time
	ExpiresAt  time.Time
}

// ClaimLease takes or renews the named lease for owner. It reports false when
// another owner holds an unexpired lease.
func (r Repo) ClaimLease(ctx context.Context, name, owner string, now time.Time, ttl time.Duration) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `INSERT INTO scheduler_leases(name,owner_id,acquired_at,expires_at) VALUES (?,?,?,?)
		ON CONFLICT(name) DO UPDATE SET owner_id=excluded.owner_id, acquired_at=excluded.acquired_at, expires_at=excluded.expires_at
		WHERE scheduler_leases.owner_id=excluded.owner_id OR scheduler_leases.expires_at <= excluded.acquired_at`,
		name, owner, FormatTime(now), FormatTime(now.Add(ttl)))
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (r Repo) ReleaseLease(ctx context.Context, name, owner string) error {
	_, err := r.DB.ExecContext(ctx, `DELETE FROM scheduler_leases WHERE name=? AND owner_id=?`, name, owner)
	return err
}

func (r Repo) GetLease(ctx context.Context, name string) (Lease, error) {
	var l Lease
	var acquired, expires string
	err := r.DB.QueryRowContext(ctx, `SELECT name,owner_id,acquired_at,expires_at FROM scheduler_leases WHERE name=?`, name).
		Scan(&l.Name, &l.OwnerID, &acquired, &expires)
	if err == sql.ErrNoRows {
		return l, ErrNotFound
	}
	if err != nil {
		return l, err
	}
	if l.AcquiredAt, err = parseTime(acquired); err != nil {
		return l, err
	}
	l.ExpiresAt, err = parseTime(expires)
	return l, err
}
