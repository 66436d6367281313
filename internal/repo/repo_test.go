package repo_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"atelier/internal/db"
	"atelier/internal/domain"
	"atelier/internal/migrate"
	"atelier/internal/repo"
)

var t0 = time.Date(2024, 3, 4, 2, 0, 0, 0, time.UTC)

func newRepo(t *testing.T) repo.Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(context.Background(), conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo.Repo{DB: conn}
}

func insertArtisan(t *testing.T, r repo.Repo, id string, maxVolume int) {
	t.Helper()
	err := r.InsertArtisan(context.Background(), nil, domain.Artisan{
		ID: id, UserID: "user-" + id, BusinessName: id, Status: domain.ArtisanActive, KYCStatus: domain.KYCVerified,
		MaxVolume: maxVolume, AverageLeadTime: 7, ServiceTier: domain.TierStandard, PayoutSchedule: domain.ScheduleWeekly,
		CreatedAt: t0, UpdatedAt: t0,
	})
	if err != nil {
		t.Fatalf("insert artisan: %v", err)
	}
}

func TestLeaseOwnership(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	ok, err := r.ClaimLease(ctx, "job", "a", t0, time.Minute)
	if err != nil || !ok {
		t.Fatalf("first claim: %v %v", ok, err)
	}
	if ok, _ := r.ClaimLease(ctx, "job", "b", t0.Add(30*time.Second), time.Minute); ok {
		t.Fatalf("b must not take an unexpired lease")
	}
	if ok, _ := r.ClaimLease(ctx, "job", "a", t0.Add(30*time.Second), time.Minute); !ok {
		t.Fatalf("owner must be able to renew")
	}
	if ok, _ := r.ClaimLease(ctx, "job", "b", t0.Add(2*time.Minute), time.Minute); !ok {
		t.Fatalf("b must take the expired lease")
	}
	l, err := r.GetLease(ctx, "job")
	if err != nil || l.OwnerID != "b" || !l.ExpiresAt.Equal(t0.Add(3*time.Minute)) {
		t.Fatalf("unexpected lease %+v %v", l, err)
	}
	if err := r.ReleaseLease(ctx, "job", "a"); err != nil {
		t.Fatalf("release by stranger: %v", err)
	}
	if _, err := r.GetLease(ctx, "job"); err != nil {
		t.Fatalf("stranger must not release: %v", err)
	}
	if err := r.ReleaseLease(ctx, "job", "b"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := r.GetLease(ctx, "job"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestIncrementLoadRespectsCapacity(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	insertArtisan(t, r, "a1", 2)
	for i := 0; i < 2; i++ {
		if ok, err := r.IncrementLoad(ctx, nil, "a1", t0); err != nil || !ok {
			t.Fatalf("increment %d: %v %v", i, ok, err)
		}
	}
	if ok, _ := r.IncrementLoad(ctx, nil, "a1", t0); ok {
		t.Fatalf("increment beyond capacity must fail")
	}
	if err := r.DecrementLoad(ctx, nil, "a1", t0); err != nil {
		t.Fatalf("decrement: %v", err)
	}
	a, err := r.GetArtisan(ctx, nil, "a1")
	if err != nil || a.CurrentLoad != 1 {
		t.Fatalf("expected load 1, got %+v %v", a.CurrentLoad, err)
	}
}

func TestDuplicateArtisan(t *testing.T) {
	r := newRepo(t)
	insertArtisan(t, r, "a1", 1)
	err := r.InsertArtisan(context.Background(), nil, domain.Artisan{ID: "a1", UserID: "other", BusinessName: "x", Status: domain.ArtisanInactive, KYCStatus: domain.KYCPending, ServiceTier: domain.TierBasic, PayoutSchedule: domain.ScheduleManual, CreatedAt: t0, UpdatedAt: t0})
	if !errors.Is(err, repo.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestQCAggregates(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	insertArtisan(t, r, "a1", 1)
	err := r.WithTx(ctx, func(tx *sql.Tx) error {
		if err := r.RecordQCOutcome(ctx, tx, "a1", 4, false, t0); err != nil {
			return err
		}
		return r.RecordQCOutcome(ctx, tx, "a1", 2, true, t0)
	})
	if err != nil {
		t.Fatalf("record qc: %v", err)
	}
	a, _ := r.GetArtisan(ctx, nil, "a1")
	if a.Reputation.QualityScore != 3 || a.Reputation.DefectRate != 0.5 {
		t.Fatalf("unexpected reputation %+v", a.Reputation)
	}
}
