package scheduler_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"atelier/internal/config"
	"atelier/internal/db"
	"atelier/internal/engine"
	"atelier/internal/logging"
	"atelier/internal/migrate"
	"atelier/internal/payments/paymentstest"
	"atelier/internal/scheduler"
)

func newEngine(t *testing.T) engine.Engine {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(context.Background(), conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return engine.New(conn, config.Default(), &paymentstest.Rail{}, logging.Discard())
}

func TestNewRegistersStandardJobs(t *testing.T) {
	s := scheduler.New(newEngine(t))
	jobs := s.Jobs()
	want := map[string]time.Duration{
		scheduler.JobSLASweep:    time.Hour,
		scheduler.JobPayoutRun:   time.Hour,
		scheduler.JobPayoutRetry: 15 * time.Minute,
	}
	if len(jobs) != len(want) {
		t.Fatalf("expected %d jobs, got %d", len(want), len(jobs))
	}
	for _, j := range jobs {
		if want[j.Name] != j.Interval {
			t.Fatalf("job %s: expected interval %s, got %s", j.Name, want[j.Name], j.Interval)
		}
	}
	if s.LeaseTTL != 5*time.Minute || s.Owner == "" {
		t.Fatalf("unexpected scheduler %+v", s)
	}
}

func TestRunOnceHonoursLease(t *testing.T) {
	e := newEngine(t)
	clock := time.Date(2024, 1, 1, 2, 0, 0, 0, time.UTC)
	now := func() time.Time { return clock }
	var runs atomic.Int32
	job := scheduler.Job{Name: "count", Interval: time.Minute, Run: func(context.Context, time.Time) error {
		runs.Add(1)
		return nil
	}}
	a := &scheduler.Scheduler{Repo: e.Repo, Owner: "a", LeaseTTL: time.Minute, Now: now, Logger: logging.Discard()}
	b := &scheduler.Scheduler{Repo: e.Repo, Owner: "b", LeaseTTL: time.Minute, Now: now, Logger: logging.Discard()}
	a.Add(job)
	b.Add(job)
	ctx := context.Background()

	if ran, err := a.RunOnce(ctx, "count"); err != nil || !ran {
		t.Fatalf("first owner should run: %v %v", ran, err)
	}
	if ran, err := b.RunOnce(ctx, "count"); err != nil || ran {
		t.Fatalf("second owner must skip while lease is held: %v %v", ran, err)
	}
	// the holder renews its own lease
	if ran, err := a.RunOnce(ctx, "count"); err != nil || !ran {
		t.Fatalf("owner should renew: %v %v", ran, err)
	}
	clock = clock.Add(2 * time.Minute)
	if ran, err := b.RunOnce(ctx, "count"); err != nil || !ran {
		t.Fatalf("expired lease should pass to second owner: %v %v", ran, err)
	}
	if runs.Load() != 3 {
		t.Fatalf("expected 3 runs, got %d", runs.Load())
	}
	lease, err := e.Repo.GetLease(ctx, "count")
	if err != nil || lease.OwnerID != "b" {
		t.Fatalf("expected lease owned by b, got %+v err %v", lease, err)
	}
}

func TestRunOnceReportsJobError(t *testing.T) {
	e := newEngine(t)
	s := &scheduler.Scheduler{Repo: e.Repo, Owner: "a", LeaseTTL: time.Minute, Logger: logging.Discard()}
	boom := errors.New("boom")
	s.Add(scheduler.Job{Name: "fail", Interval: time.Minute, Run: func(context.Context, time.Time) error { return boom }})
	ran, err := s.RunOnce(context.Background(), "fail")
	if !ran || !errors.Is(err, boom) {
		t.Fatalf("expected job error, got %v %v", ran, err)
	}
	if _, err := s.RunOnce(context.Background(), "missing"); err == nil {
		t.Fatalf("expected error for unknown job")
	}
}

func TestRunStopsOnCancelAndReleasesLeases(t *testing.T) {
	e := newEngine(t)
	s := &scheduler.Scheduler{Repo: e.Repo, Owner: "a", LeaseTTL: time.Hour, Logger: logging.Discard()}
	started := make(chan struct{}, 1)
	s.Add(scheduler.Job{Name: "tick", Interval: time.Hour, Run: func(context.Context, time.Time) error {
		select {
		case started <- struct{}{}:
		default:
		}
		return nil
	}})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatalf("job did not run at start")
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("scheduler did not stop")
	}
	if _, err := e.Repo.GetLease(context.Background(), "tick"); err == nil {
		t.Fatalf("expected lease released on shutdown")
	}
}

func TestRunWithoutJobs(t *testing.T) {
	s := &scheduler.Scheduler{}
	if err := s.Run(context.Background()); err == nil {
		t.Fatalf("expected error without jobs")
	}
}
