// Package scheduler runs the periodic marketplace jobs: SLA sweeps, scheduled
// payouts and the retry of payouts stuck before their transfer.
//
// Several processes may run a scheduler against the same database. Each job
// tick first claims a named lease, so only one process runs a given job at a
// time.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"atelier/internal/engine"
	"atelier/internal/repo"
)

const (
	JobSLASweep    = "sla-sweep"
	JobPayoutRun   = "payout-run"
	JobPayoutRetry = "payout-retry"
)

// Job is one periodic task.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context, now time.Time) error
}

type Scheduler struct {
	Repo     repo.Repo
	Owner    string
	LeaseTTL time.Duration
	Logger   *slog.Logger
	Now      func() time.Time

	mu   sync.Mutex
	jobs []Job
}

// New builds a scheduler with the standard jobs wired to e.
func New(e engine.Engine) *Scheduler {
	s := &Scheduler{
		Repo:     e.Repo,
		Owner:    OwnerID(),
		LeaseTTL: time.Duration(e.Config.Scheduler.LeaseSeconds) * time.Second,
		Logger:   e.Logger,
		Now:      e.Now,
	}
	cfg := e.Config.Scheduler
	s.Add(Job{
		Name:     JobSLASweep,
		Interval: minutes(cfg.SLAIntervalMinutes),
		Run: func(ctx context.Context, _ time.Time) error {
			_, err := e.EvaluateAllActiveSLAs(ctx)
			return err
		},
	})
	s.Add(Job{
		Name:     JobPayoutRun,
		Interval: minutes(cfg.PayoutIntervalMinutes),
		Run: func(ctx context.Context, now time.Time) error {
			_, err := e.ProcessScheduledPayouts(ctx, now)
			return err
		},
	})
	s.Add(Job{
		Name:     JobPayoutRetry,
		Interval: minutes(cfg.RetryIntervalMinutes),
		Run: func(ctx context.Context, _ time.Time) error {
			_, err := e.RetryPendingPayouts(ctx)
			return err
		},
	})
	return s
}

// OwnerID identifies this process in lease rows.
func OwnerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.NewString()[:8])
}

func minutes(n int) time.Duration {
	if n <= 0 {
		n = 60
	}
	return time.Duration(n) * time.Minute
}

// Add registers a job. Jobs added after Run starts are not scheduled.
func (s *Scheduler) Add(j Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, j)
}

func (s *Scheduler) Jobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Job(nil), s.jobs...)
}

func (s *Scheduler) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *Scheduler) log() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// RunOnce runs the named job if this owner can claim its lease. It reports
// whether the job ran. The lease is held until it expires so other owners
// skip the same tick.
func (s *Scheduler) RunOnce(ctx context.Context, name string) (bool, error) {
	var job *Job
	for _, j := range s.Jobs() {
		if j.Name == name {
			job = &j
			break
		}
	}
	if job == nil {
		return false, fmt.Errorf("unknown job %q", name)
	}
	now := s.now()
	ok, err := s.Repo.ClaimLease(ctx, job.Name, s.Owner, now, s.LeaseTTL)
	if err != nil {
		return false, fmt.Errorf("claim lease %s: %w", job.Name, err)
	}
	if !ok {
		s.log().Debug("job lease held elsewhere", "job", job.Name)
		return false, nil
	}
	start := time.Now()
	if err := job.Run(ctx, now); err != nil {
		return true, fmt.Errorf("job %s: %w", job.Name, err)
	}
	s.log().Info("job finished", "job", job.Name, "elapsed", time.Since(start).Round(time.Millisecond))
	return true, nil
}

// Run ticks every job until ctx is cancelled. Each job runs once at start.
// Job failures are logged and do not stop the loop.
func (s *Scheduler) Run(ctx context.Context) error {
	jobs := s.Jobs()
	if len(jobs) == 0 {
		return errors.New("no jobs registered")
	}
	g, ctx := errgroup.WithContext(ctx)
	for _, j := range jobs {
		g.Go(func() error {
			s.loop(ctx, j)
			return nil
		})
	}
	s.log().Info("scheduler started", "owner", s.Owner, "jobs", len(jobs))
	err := g.Wait()
	s.release()
	return err
}

func (s *Scheduler) loop(ctx context.Context, j Job) {
	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()
	for {
		if _, err := s.RunOnce(ctx, j.Name); err != nil && ctx.Err() == nil {
			s.log().Warn("job failed", "job", j.Name, "err", err)
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

// release drops this owner's leases so another process can take over
// without waiting for expiry.
func (s *Scheduler) release() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, j := range s.Jobs() {
		if err := s.Repo.ReleaseLease(ctx, j.Name, s.Owner); err != nil {
			s.log().Warn("release lease failed", "job", j.Name, "err", err)
		}
	}
}
