package engine_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"atelier/internal/domain"
	"atelier/internal/engine"
	"atelier/internal/payments"
	"atelier/internal/repo"
)

func TestPayoutTotals(t *testing.T) {
	fees, net := engine.PayoutTotals(100, 200)
	if fees != 2 || net != 98 {
		t.Fatalf("expected fees 2 net 98, got %d %d", fees, net)
	}
	fees, net = engine.PayoutTotals(7200, 200)
	if fees != 144 || net != 7056 {
		t.Fatalf("expected fees 144 net 7056, got %d %d", fees, net)
	}
}

func TestCreatePayoutBelowMinimum(t *testing.T) {
	env := newTestEnv(t)
	env.newArtisan(t, "a1", nil)
	env.linkAccount(t, "a1")
	wo := env.route(t, "a1", 100)
	env.complete(t, wo.ID)

	_, err := env.Engine.CreatePayout(env.Ctx, "a1", nil, "tester")
	mustKind(t, err, engine.KindConflict)
	if env.Rail.TransferCount() != 0 {
		t.Fatalf("no transfer expected below minimum")
	}
	list, err := env.Engine.ListPayouts(env.Ctx, repo.PayoutFilter{ArtisanID: "a1"})
	if err != nil || len(list) != 0 {
		t.Fatalf("expected no payout rows, got %d err %v", len(list), err)
	}
	got, _ := env.Engine.GetWorkOrder(env.Ctx, wo.ID)
	if got.PayoutStatus != domain.PayoutPending || got.PayoutID != "" {
		t.Fatalf("work order must stay pending, got %+v", got)
	}
}

func TestCreatePayoutSubmitsTransfer(t *testing.T) {
	env := newTestEnv(t)
	env.newArtisan(t, "a1", nil)
	env.linkAccount(t, "a1")
	wo := env.route(t, "a1", 0)
	// completed a week early: standard bonus 2% of 7200
	env.complete(t, wo.ID)

	p, err := env.Engine.CreatePayout(env.Ctx, "a1", nil, "tester")
	if err != nil {
		t.Fatalf("create payout: %v", err)
	}
	if p.Status != domain.PayoutProcessing || p.ExternalTransferID != "tr_"+p.ID {
		t.Fatalf("unexpected payout %+v", p)
	}
	if p.GrossAmountCents != 7200 || p.SLABonusCents != 144 || p.AmountCents != 7344 || p.FeesCents != 144 || p.NetAmountCents != 7200 {
		t.Fatalf("unexpected amounts %+v", p)
	}
	if p.NetAmountCents != p.AmountCents-p.FeesCents {
		t.Fatalf("net must equal amount minus fees")
	}
	if len(env.Rail.Transfers) != 1 {
		t.Fatalf("expected one transfer, got %d", len(env.Rail.Transfers))
	}
	tr := env.Rail.Transfers[0]
	if tr.AmountCents != 7200 || tr.DestinationAccountID != "acct_a1" || tr.IdempotencyKey != p.ID || tr.Metadata["payout_id"] != p.ID {
		t.Fatalf("unexpected transfer %+v", tr)
	}
	got, _ := env.Engine.GetWorkOrder(env.Ctx, wo.ID)
	if got.PayoutStatus != domain.PayoutProcessing || got.PayoutID != p.ID {
		t.Fatalf("work order not claimed: %+v", got)
	}

	// nothing left to pay
	_, err = env.Engine.CreatePayout(env.Ctx, "a1", nil, "tester")
	mustKind(t, err, engine.KindNotFound)
}

func TestCreatePayoutSelectsWorkOrders(t *testing.T) {
	env := newTestEnv(t)
	env.newArtisan(t, "a1", nil)
	env.linkAccount(t, "a1")
	first := env.route(t, "a1", 0)
	second := env.route(t, "a1", 0)
	env.complete(t, first.ID)
	env.complete(t, second.ID)

	p, err := env.Engine.CreatePayout(env.Ctx, "a1", []string{second.ID}, "tester")
	if err != nil {
		t.Fatalf("create payout: %v", err)
	}
	if len(p.WorkOrderIDs) != 1 || p.WorkOrderIDs[0] != second.ID {
		t.Fatalf("expected only %s, got %v", second.ID, p.WorkOrderIDs)
	}
	left, _ := env.Engine.GetWorkOrder(env.Ctx, first.ID)
	if left.PayoutStatus != domain.PayoutPending {
		t.Fatalf("unselected work order must stay pending, got %s", left.PayoutStatus)
	}
}

func TestCreatePayoutConcurrentClaim(t *testing.T) {
	env := newTestEnv(t)
	env.newArtisan(t, "a1", nil)
	env.linkAccount(t, "a1")
	var ids []string
	for i := 0; i < 3; i++ {
		wo := env.route(t, "a1", 0)
		env.complete(t, wo.ID)
		ids = append(ids, wo.ID)
	}

	const n = 8
	var wg sync.WaitGroup
	payouts := make([]domain.Payout, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			payouts[i], errs[i] = env.Engine.CreatePayout(env.Ctx, "a1", ids, "tester")
		}(i)
	}
	wg.Wait()

	var winner domain.Payout
	ok := 0
	for i, err := range errs {
		switch {
		case err == nil:
			ok++
			winner = payouts[i]
		case engine.KindOf(err) != engine.KindNotFound && engine.KindOf(err) != engine.KindConflict:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 {
		t.Fatalf("expected exactly one payout, got %d", ok)
	}
	if env.Rail.TransferCount() != 1 {
		t.Fatalf("expected one transfer, got %d", env.Rail.TransferCount())
	}
	if len(winner.WorkOrderIDs) != len(ids) {
		t.Fatalf("winner must hold every work order, got %v", winner.WorkOrderIDs)
	}
	for _, id := range ids {
		wo, _ := env.Engine.GetWorkOrder(env.Ctx, id)
		if wo.PayoutID != winner.ID || wo.PayoutStatus != domain.PayoutProcessing {
			t.Fatalf("work order %s claimed by %q status %s", id, wo.PayoutID, wo.PayoutStatus)
		}
	}
}

func TestCreatePayoutTransferFailure(t *testing.T) {
	env := newTestEnv(t)
	env.newArtisan(t, "a1", nil)
	env.linkAccount(t, "a1")
	wo := env.route(t, "a1", 0)
	env.complete(t, wo.ID)

	env.Rail.TransferErr = payments.NewError("transfer", payments.CategoryTimeout, errors.New("secret provider detail"))
	failed, err := env.Engine.CreatePayout(env.Ctx, "a1", nil, "tester")
	mustKind(t, err, engine.KindExternal)
	if failed.Status != domain.PayoutFailed || failed.FailureReason != "external transfer failed (timeout)" {
		t.Fatalf("unexpected failed payout %+v", failed)
	}
	stored, err := env.Engine.GetPayout(env.Ctx, failed.ID)
	if err != nil {
		t.Fatalf("get payout: %v", err)
	}
	if stored.Status != domain.PayoutFailed || stored.FailureReason != "external transfer failed (timeout)" {
		t.Fatalf("failure not persisted: %+v", stored)
	}
	got, _ := env.Engine.GetWorkOrder(env.Ctx, wo.ID)
	if got.PayoutStatus != domain.PayoutPending || got.PayoutID != "" {
		t.Fatalf("work order not released: %+v", got)
	}

	env.Rail.TransferErr = nil
	p, err := env.Engine.CreatePayout(env.Ctx, "a1", nil, "tester")
	if err != nil {
		t.Fatalf("retry payout: %v", err)
	}
	if p.ID == failed.ID || p.Status != domain.PayoutProcessing {
		t.Fatalf("expected a fresh processing payout, got %+v", p)
	}
}

func TestCreatePayoutWithoutAccount(t *testing.T) {
	env := newTestEnv(t)
	env.newArtisan(t, "a1", nil)
	wo := env.route(t, "a1", 0)
	env.complete(t, wo.ID)
	_, err := env.Engine.CreatePayout(env.Ctx, "a1", nil, "tester")
	mustKind(t, err, engine.KindNotFound)
	_, err = env.Engine.CreatePayout(env.Ctx, "ghost", nil, "tester")
	mustKind(t, err, engine.KindNotFound)
}

func TestTransferWebhookCompletesPayout(t *testing.T) {
	env := newTestEnv(t)
	env.newArtisan(t, "a1", nil)
	env.linkAccount(t, "a1")
	wo := env.route(t, "a1", 0)
	env.complete(t, wo.ID)
	p, err := env.Engine.CreatePayout(env.Ctx, "a1", nil, "tester")
	if err != nil {
		t.Fatalf("create payout: %v", err)
	}
	env.setNow(t0.Add(3 * time.Hour))

	evt := payments.TransferEvent{Type: payments.EventTransferUpdated, TransferID: p.ExternalTransferID}
	if err := env.Engine.HandleTransferWebhook(env.Ctx, evt); err != nil {
		t.Fatalf("webhook: %v", err)
	}
	got, _ := env.Engine.GetPayout(env.Ctx, p.ID)
	if got.Status != domain.PayoutCompleted || got.PaidAt == nil || !got.PaidAt.Equal(env.now()) {
		t.Fatalf("payout not completed: %+v", got)
	}
	w, _ := env.Engine.GetWorkOrder(env.Ctx, wo.ID)
	if w.PayoutStatus != domain.PayoutPaid || w.PaidAt == nil {
		t.Fatalf("work order not paid: %+v", w)
	}

	// redelivery is a no-op
	if err := env.Engine.HandleTransferWebhook(env.Ctx, evt); err != nil {
		t.Fatalf("redelivered webhook: %v", err)
	}

	evt.Reversed = true
	if err := env.Engine.HandleTransferWebhook(env.Ctx, evt); err != nil {
		t.Fatalf("reversal webhook: %v", err)
	}
	got, _ = env.Engine.GetPayout(env.Ctx, p.ID)
	if got.Status != domain.PayoutFailed || got.FailureReason != "transfer reversed" {
		t.Fatalf("payout not failed after reversal: %+v", got)
	}
	w, _ = env.Engine.GetWorkOrder(env.Ctx, wo.ID)
	if w.PayoutStatus != domain.PayoutFailed {
		t.Fatalf("work order not failed after reversal: %s", w.PayoutStatus)
	}
}

func TestTransferWebhookIgnoresUnknown(t *testing.T) {
	env := newTestEnv(t)
	if err := env.Engine.HandleTransferWebhook(env.Ctx, payments.TransferEvent{Type: payments.EventTransferUpdated, TransferID: "tr_unknown"}); err != nil {
		t.Fatalf("unmatched transfer: %v", err)
	}
	if err := env.Engine.HandleTransferWebhook(env.Ctx, payments.TransferEvent{Type: "account.updated"}); err != nil {
		t.Fatalf("irrelevant event: %v", err)
	}
}

func TestShouldPayoutNow(t *testing.T) {
	monday := time.Date(2024, 1, 1, 2, 0, 0, 0, time.UTC)
	tuesday := monday.Add(24 * time.Hour)
	fifteenth := time.Date(2024, 1, 15, 2, 0, 0, 0, time.UTC)
	cases := []struct {
		schedule string
		now      time.Time
		due      bool
		known    bool
	}{
		{domain.ScheduleDaily, tuesday, true, true},
		{domain.ScheduleDaily, tuesday.Add(time.Hour), false, true},
		{domain.ScheduleWeekly, monday, true, true},
		{domain.ScheduleWeekly, tuesday, false, true},
		{domain.ScheduleBiWeekly, monday, true, true},
		{domain.ScheduleBiWeekly, fifteenth, true, true},
		{domain.ScheduleBiWeekly, tuesday, false, true},
		{domain.ScheduleMonthly, monday, true, true},
		{domain.ScheduleMonthly, fifteenth, false, true},
		{domain.ScheduleManual, monday, false, true},
		{"fortnightly", monday, true, false},
		{"fortnightly", tuesday, false, false},
	}
	for _, c := range cases {
		due, known := engine.ShouldPayoutNow(c.schedule, c.now, 2)
		if due != c.due || known != c.known {
			t.Fatalf("%s at %s: expected due=%v known=%v, got %v %v", c.schedule, c.now.Format(time.RFC3339), c.due, c.known, due, known)
		}
	}
}

func TestProcessScheduledPayouts(t *testing.T) {
	env := newTestEnv(t)
	daily, manual := domain.ScheduleDaily, domain.ScheduleManual
	for id, sched := range map[string]*string{"daily": &daily, "manual": &manual} {
		env.newArtisan(t, id, nil)
		env.linkAccount(t, id)
		if _, err := env.Engine.UpdateArtisanSettings(env.Ctx, id, repo.ArtisanSettings{PayoutSchedule: sched}, "tester"); err != nil {
			t.Fatalf("settings: %v", err)
		}
		env.complete(t, env.route(t, id, 0).ID)
	}
	run := t0.Add(2 * time.Hour)
	env.setNow(run)

	sum, err := env.Engine.ProcessScheduledPayouts(env.Ctx, run)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if sum.Considered != 2 || sum.Created != 1 || sum.Skipped != 1 || sum.Failed != 0 {
		t.Fatalf("unexpected summary %+v", sum)
	}
	list, _ := env.Engine.ListPayouts(env.Ctx, repo.PayoutFilter{ArtisanID: "daily"})
	if len(list) != 1 {
		t.Fatalf("expected one payout for the daily artisan, got %d", len(list))
	}
	list, _ = env.Engine.ListPayouts(env.Ctx, repo.PayoutFilter{ArtisanID: "manual"})
	if len(list) != 0 {
		t.Fatalf("manual artisan must not be paid automatically")
	}
}

func TestProcessScheduledPayoutsUsesPayoutTimezone(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Config.Payouts.Timezone = "Asia/Tokyo"
	daily, weekly := domain.ScheduleDaily, domain.ScheduleWeekly
	for id, sched := range map[string]*string{"daily": &daily, "weekly": &weekly} {
		env.newArtisan(t, id, nil)
		env.linkAccount(t, id)
		if _, err := env.Engine.UpdateArtisanSettings(env.Ctx, id, repo.ArtisanSettings{PayoutSchedule: sched}, "tester"); err != nil {
			t.Fatalf("settings: %v", err)
		}
		env.complete(t, env.route(t, id, 0).ID)
	}

	// Monday 02:00 UTC is 11:00 in Tokyo: nobody is due.
	sum, err := env.Engine.ProcessScheduledPayouts(env.Ctx, t0.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if sum.Created != 0 {
		t.Fatalf("expected no payouts outside the local window, got %+v", sum)
	}

	// Monday 17:00 UTC is Tuesday 02:00 in Tokyo: daily only.
	sum, err = env.Engine.ProcessScheduledPayouts(env.Ctx, t0.Add(17*time.Hour))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if sum.Created != 1 || sum.Skipped != 1 {
		t.Fatalf("expected the daily artisan only, got %+v", sum)
	}
	if list, _ := env.Engine.ListPayouts(env.Ctx, repo.PayoutFilter{ArtisanID: "daily"}); len(list) != 1 {
		t.Fatalf("expected one payout for the daily artisan, got %d", len(list))
	}
}

func TestRetryPendingPayouts(t *testing.T) {
	env := newTestEnv(t)
	env.newArtisan(t, "a1", nil)
	env.linkAccount(t, "a1")
	wo := env.route(t, "a1", 0)
	env.complete(t, wo.ID)

	// a payout whose process stopped between claim and transfer
	p := domain.Payout{
		ID: "po-stuck", ArtisanID: "a1", GrossAmountCents: 7200, AmountCents: 7200, FeesCents: 144, NetAmountCents: 7056,
		Currency: "eur", WorkOrderIDs: []string{wo.ID}, Status: domain.PayoutPending, CreatedAt: env.now(), UpdatedAt: env.now(),
	}
	if err := env.Engine.Repo.InsertPayout(env.Ctx, nil, p); err != nil {
		t.Fatalf("insert payout: %v", err)
	}
	if ok, err := env.Engine.Repo.ClaimForPayout(env.Ctx, nil, wo.ID, p.ID, env.now()); err != nil || !ok {
		t.Fatalf("claim: %v %v", ok, err)
	}

	sum, err := env.Engine.RetryPendingPayouts(env.Ctx)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if sum.Retried != 0 {
		t.Fatalf("fresh payouts must not be retried, got %+v", sum)
	}

	env.setNow(t0.Add(31 * time.Minute))
	sum, err = env.Engine.RetryPendingPayouts(env.Ctx)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if sum.Retried != 1 || sum.Submitted != 1 {
		t.Fatalf("unexpected summary %+v", sum)
	}
	got, _ := env.Engine.GetPayout(env.Ctx, "po-stuck")
	if got.Status != domain.PayoutProcessing || got.ExternalTransferID != "tr_po-stuck" {
		t.Fatalf("payout not submitted: %+v", got)
	}
}
