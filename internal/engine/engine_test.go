package engine_test

import (
	"context"
	"testing"
	"time"

	"atelier/internal/config"
	"atelier/internal/db"
	"atelier/internal/domain"
	"atelier/internal/engine"
	"atelier/internal/logging"
	"atelier/internal/migrate"
	"atelier/internal/payments/paymentstest"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	Rail   *paymentstest.Rail
	clock  *time.Time
}

// Monday.
var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	ctx := context.Background()
	if err := migrate.Migrate(ctx, conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	rail := &paymentstest.Rail{}
	eng := engine.New(conn, config.Default(), rail, logging.Discard())
	clock := t0
	eng.Now = func() time.Time { return clock }
	env := testEnv{Engine: eng, Ctx: ctx, Rail: rail, clock: &clock}
	if _, err := eng.UpsertProduct(ctx, domain.Product{ID: "prod-1", BrandID: "brand-1", Name: "Ring", BaseCostCents: 5000, BaseLaborCents: 3000}, "tester"); err != nil {
		t.Fatalf("seed product: %v", err)
	}
	return env
}

func (env testEnv) setNow(ts time.Time) { *env.clock = ts }

func (env testEnv) now() time.Time { return *env.clock }

func (env testEnv) newArtisan(t *testing.T, id string, mutate func(*engine.ArtisanCreateOptions)) domain.Artisan {
	t.Helper()
	opts := engine.ArtisanCreateOptions{
		ID:           id,
		UserID:       "user-" + id,
		BrandID:      "brand-1",
		BusinessName: "Atelier " + id,
		Email:        id + "@example.com",
		Country:      "FR",
		Zone:         "eu",
		MaxVolume:    10,
		ServiceTier:  domain.TierStandard,
		Capabilities: []domain.Capability{{Material: "gold", Technique: "casting", CostMultiplier: 1.0, LeadTimeDays: 7}},
		ActorID:      "tester",
	}
	if mutate != nil {
		mutate(&opts)
	}
	if _, err := env.Engine.CreateArtisan(env.Ctx, opts); err != nil {
		t.Fatalf("create artisan %s: %v", id, err)
	}
	a, err := env.Engine.VerifyArtisan(env.Ctx, id, domain.KYCVerified, "tester")
	if err != nil {
		t.Fatalf("verify artisan %s: %v", id, err)
	}
	return a
}

func (env testEnv) seedReputation(t *testing.T, id string, rep domain.Reputation) {
	t.Helper()
	if _, err := env.Engine.SeedReputation(env.Ctx, id, rep, "tester"); err != nil {
		t.Fatalf("seed reputation: %v", err)
	}
}

func (env testEnv) setLoad(t *testing.T, id string, load int) {
	t.Helper()
	if _, err := env.Engine.DB.ExecContext(env.Ctx, `UPDATE artisans SET current_load=? WHERE id=?`, load, id); err != nil {
		t.Fatalf("set load: %v", err)
	}
}

func (env testEnv) newOrder(t *testing.T, mutate func(*domain.Order)) domain.Order {
	t.Helper()
	o := domain.Order{BrandID: "brand-1", ProductID: "prod-1", Material: "gold", Technique: "casting", Quantity: 1}
	if mutate != nil {
		mutate(&o)
	}
	o, err := env.Engine.CreateOrder(env.Ctx, o, "tester")
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	return o
}

// route assigns a fresh order to the artisan. A zero price keeps the derived quote.
func (env testEnv) route(t *testing.T, artisanID string, price int64) domain.WorkOrder {
	t.Helper()
	o := env.newOrder(t, nil)
	res, err := env.Engine.RouteOrder(env.Ctx, engine.RouteInput{BrandID: "brand-1", OrderID: o.ID, ArtisanID: artisanID, PriceCents: price, ActorID: "tester"})
	if err != nil {
		t.Fatalf("route order: %v", err)
	}
	return res.WorkOrder
}

func (env testEnv) toQC(t *testing.T, woID string) {
	t.Helper()
	for _, st := range []string{domain.WorkOrderAccepted, domain.WorkOrderInProgress, domain.WorkOrderQCPending} {
		if _, err := env.Engine.TransitionWorkOrder(env.Ctx, woID, st, "tester"); err != nil {
			t.Fatalf("transition %s to %s: %v", woID, st, err)
		}
	}
}

func (env testEnv) inspect(t *testing.T, woID string, score float64, passed bool) domain.QualityReport {
	t.Helper()
	r, err := env.Engine.CreateQCReport(env.Ctx, engine.QCReportInput{WorkOrderID: woID, OverallScore: score, Passed: passed, InspectorID: "qc-1", ActorID: "tester"})
	if err != nil {
		t.Fatalf("qc report: %v", err)
	}
	return r
}

func (env testEnv) complete(t *testing.T, woID string) domain.WorkOrder {
	t.Helper()
	env.toQC(t, woID)
	env.inspect(t, woID, 9, true)
	wo, err := env.Engine.TransitionWorkOrder(env.Ctx, woID, domain.WorkOrderCompleted, "tester")
	if err != nil {
		t.Fatalf("complete %s: %v", woID, err)
	}
	return wo
}

func (env testEnv) linkAccount(t *testing.T, artisanID string) {
	t.Helper()
	if err := env.Engine.Repo.SetPayoutAccount(env.Ctx, nil, artisanID, "acct_"+artisanID, domain.AccountActive, env.now()); err != nil {
		t.Fatalf("link account: %v", err)
	}
}

func mustKind(t *testing.T, err error, kind engine.Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", kind)
	}
	if got := engine.KindOf(err); got != kind {
		t.Fatalf("expected %s error, got %s: %v", kind, got, err)
	}
}

func TestWorkOrderTransitions(t *testing.T) {
	env := newTestEnv(t)
	env.newArtisan(t, "a1", nil)
	wo := env.route(t, "a1", 0)

	_, err := env.Engine.TransitionWorkOrder(env.Ctx, wo.ID, domain.WorkOrderCompleted, "tester")
	mustKind(t, err, engine.KindConflict)

	env.toQC(t, wo.ID)
	env.inspect(t, wo.ID, 3, false)
	got, err := env.Engine.GetWorkOrder(env.Ctx, wo.ID)
	if err != nil || got.Status != domain.WorkOrderQCFailed {
		t.Fatalf("expected qc_failed, got %s err %v", got.Status, err)
	}
	_, err = env.Engine.TransitionWorkOrder(env.Ctx, wo.ID, domain.WorkOrderCompleted, "tester")
	mustKind(t, err, engine.KindConflict)
	// rework
	if _, err := env.Engine.TransitionWorkOrder(env.Ctx, wo.ID, domain.WorkOrderInProgress, "tester"); err != nil {
		t.Fatalf("rework: %v", err)
	}
	if _, err := env.Engine.TransitionWorkOrder(env.Ctx, wo.ID, domain.WorkOrderQCPending, "tester"); err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	env.inspect(t, wo.ID, 9, true)
	done, err := env.Engine.TransitionWorkOrder(env.Ctx, wo.ID, domain.WorkOrderCompleted, "tester")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.CompletedAt == nil || done.AcceptedAt == nil || done.StartedAt == nil {
		t.Fatalf("expected lifecycle timestamps, got %+v", done)
	}
}

func TestCompletionReleasesLoad(t *testing.T) {
	env := newTestEnv(t)
	env.newArtisan(t, "a1", nil)
	wo := env.route(t, "a1", 0)
	a, _ := env.Engine.GetArtisan(env.Ctx, "a1")
	if a.CurrentLoad != 1 {
		t.Fatalf("expected load 1 after routing, got %d", a.CurrentLoad)
	}
	env.complete(t, wo.ID)
	a, _ = env.Engine.GetArtisan(env.Ctx, "a1")
	if a.CurrentLoad != 0 {
		t.Fatalf("expected load 0 after completion, got %d", a.CurrentLoad)
	}
	if a.Reputation.TotalOrders != 1 || a.Reputation.CompletedOrders != 1 {
		t.Fatalf("expected delivery credited once, got %+v", a.Reputation)
	}
}

func TestEventsRecorded(t *testing.T) {
	env := newTestEnv(t)
	env.newArtisan(t, "a1", nil)
	wo := env.route(t, "a1", 0)
	var n int
	if err := env.Engine.DB.QueryRowContext(env.Ctx, `SELECT COUNT(*) FROM events WHERE entity_kind='work_order' AND entity_id=? AND type='work_order.assigned'`, wo.ID).Scan(&n); err != nil {
		t.Fatalf("count events: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one assignment event, got %d", n)
	}
}
