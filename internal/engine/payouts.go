package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"atelier/internal/domain"
	"atelier/internal/events"
	"atelier/internal/payments"
	"atelier/internal/repo"
)

// PayoutTotals computes fees in basis points on the gross amount.
func PayoutTotals(totalCents, feeBasisPoints int64) (fees, net int64) {
	fees = applyBasisPoints(totalCents, feeBasisPoints)
	return fees, totalCents - fees
}

// CreatePayout aggregates the artisan's completed, unpaid work orders into a
// payout and submits the transfer. An empty workOrderIDs selects every
// eligible work order.
//
// The claim commits before the transfer so no transaction is held across the
// network call. A failed transfer marks the payout FAILED and releases the
// work orders for a later payout.
func (e Engine) CreatePayout(ctx context.Context, artisanID string, workOrderIDs []string, actorID string) (p domain.Payout, err error) {
	ctx, end := e.span(ctx, "engine.CreatePayout", attribute.String("artisan_id", artisanID))
	defer func() { end(err) }()

	if err := e.ready(); err != nil {
		return p, err
	}
	rail, err := e.rail()
	if err != nil {
		return p, err
	}
	now := e.now()
	minCents := e.Config.Payouts.MinPayoutCents

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return p, err
	}
	defer tx.Rollback()
	artisan, err := e.Repo.GetArtisan(ctx, tx, artisanID)
	if err != nil {
		return p, notFoundAs(err, "artisan", artisanID)
	}
	if artisan.PayoutAccountID == "" {
		return p, NotFound("artisan %s has no linked payout account", artisanID)
	}
	eligible, err := e.Repo.ListWorkOrders(ctx, tx, repo.WorkOrderFilter{
		ArtisanID:    artisanID,
		Status:       domain.WorkOrderCompleted,
		PayoutStatus: domain.PayoutPending,
	})
	if err != nil {
		return p, err
	}
	if len(workOrderIDs) > 0 {
		eligible = filterWorkOrders(eligible, workOrderIDs)
	}
	if len(eligible) == 0 {
		return p, NotFound("no completed work orders pending payout for artisan %s", artisanID)
	}
	var total int64
	ids := make([]string, 0, len(eligible))
	for _, wo := range eligible {
		total += wo.PayoutAmountCents
		ids = append(ids, wo.ID)
	}
	fees, net := PayoutTotals(total, e.Config.ConnectFeeBasisPoints())
	if net < minCents {
		return p, Conflict("net payout %d is below the minimum of %d; work orders will accumulate until the threshold is met", net, minCents)
	}
	p = domain.Payout{
		ID:               uuid.NewString(),
		ArtisanID:        artisanID,
		GrossAmountCents: total,
		AmountCents:      total,
		FeesCents:        fees,
		NetAmountCents:   net,
		Currency:         e.Config.Currency,
		WorkOrderIDs:     ids,
		Status:           domain.PayoutPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := e.Repo.InsertPayout(ctx, tx, p); err != nil {
		return p, fmt.Errorf("insert payout: %w", err)
	}
	for _, id := range ids {
		ok, err := e.Repo.ClaimForPayout(ctx, tx, id, p.ID, now)
		if err != nil {
			return p, err
		}
		if !ok {
			return p, Conflict("work order %s was claimed by another payout", id)
		}
	}
	if p, err = e.applySLA(ctx, tx, p); err != nil {
		return p, err
	}
	if p.NetAmountCents < minCents {
		return p, Conflict("net payout %d after sla adjustments is below the minimum of %d; work orders will accumulate until the threshold is met", p.NetAmountCents, minCents)
	}
	if err := e.appendEvent(ctx, tx, "payout.create", artisan.BrandID, "payout", p.ID, actorID, events.EventPayload{
		"artisan_id": artisanID, "net_amount_cents": p.NetAmountCents, "work_orders": len(ids),
	}); err != nil {
		return p, err
	}
	if err := tx.Commit(); err != nil {
		return p, err
	}
	return e.submitTransfer(ctx, rail, p, artisan.PayoutAccountID, actorID)
}

func filterWorkOrders(wos []domain.WorkOrder, ids []string) []domain.WorkOrder {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	out := wos[:0]
	for _, wo := range wos {
		if want[wo.ID] {
			out = append(out, wo)
		}
	}
	return out
}

// submitTransfer sends a PENDING payout to the rail and records the outcome.
// The payout id is the idempotency key, so resubmission is safe.
func (e Engine) submitTransfer(ctx context.Context, rail payments.Rail, p domain.Payout, accountID, actorID string) (domain.Payout, error) {
	tctx, cancel := context.WithTimeout(ctx, e.Config.TransferTimeout())
	transferID, terr := rail.CreateTransfer(tctx, payments.TransferRequest{
		AmountCents:          p.NetAmountCents,
		Currency:             p.Currency,
		DestinationAccountID: accountID,
		IdempotencyKey:       p.ID,
		Metadata: map[string]string{
			"payout_id":   p.ID,
			"artisan_id":  p.ArtisanID,
			"work_orders": strconv.Itoa(len(p.WorkOrderIDs)),
		},
	})
	cancel()
	now := e.now()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return p, err
	}
	defer tx.Rollback()
	if terr != nil {
		category := payments.CategoryOf(terr)
		reason := fmt.Sprintf("external transfer failed (%s)", category)
		if _, err := e.Repo.MarkPayoutFailed(ctx, tx, p.ID, reason, []string{domain.PayoutPending}, now); err != nil {
			return p, err
		}
		released, err := e.Repo.ReleasePayoutClaims(ctx, tx, p.ID, now)
		if err != nil {
			return p, err
		}
		if err := e.appendEvent(ctx, tx, "payout.failed", "", "payout", p.ID, actorID, events.EventPayload{
			"reason": reason, "released_work_orders": released,
		}); err != nil {
			return p, err
		}
		if err := tx.Commit(); err != nil {
			return p, err
		}
		e.log().Error("payout transfer failed", "payout", p.ID, "artisan", p.ArtisanID, "category", string(category))
		p.Status = domain.PayoutFailed
		p.FailureReason = reason
		return p, External(terr, "payout %s: %s", p.ID, reason)
	}
	ok, err := e.Repo.MarkPayoutSubmitted(ctx, tx, p.ID, transferID, now)
	if err != nil {
		return p, err
	}
	if !ok {
		return p, Conflict("payout %s is no longer pending", p.ID)
	}
	if err := e.appendEvent(ctx, tx, "payout.submitted", "", "payout", p.ID, actorID, events.EventPayload{
		"transfer_id": transferID, "net_amount_cents": p.NetAmountCents,
	}); err != nil {
		return p, err
	}
	if err := tx.Commit(); err != nil {
		return p, err
	}
	e.log().Info("payout submitted", "payout", p.ID, "artisan", p.ArtisanID, "net_cents", p.NetAmountCents)
	return e.Repo.GetPayout(ctx, nil, p.ID)
}

func (e Engine) GetPayout(ctx context.Context, id string) (domain.Payout, error) {
	p, err := e.Repo.GetPayout(ctx, nil, id)
	return p, notFoundAs(err, "payout", id)
}

func (e Engine) ListPayouts(ctx context.Context, f repo.PayoutFilter) ([]domain.Payout, error) {
	return e.Repo.ListPayouts(ctx, f)
}

// ShouldPayoutNow reports whether now falls in the schedule's payout window.
// known is false for unrecognized schedules, which follow the weekly window.
func ShouldPayoutNow(schedule string, now time.Time, hour int) (due, known bool) {
	known = true
	switch schedule {
	case domain.ScheduleDaily:
		due = true
	case domain.ScheduleWeekly:
		due = now.Weekday() == time.Monday
	case domain.ScheduleBiWeekly:
		due = now.Day() == 1 || now.Day() == 15
	case domain.ScheduleMonthly:
		due = now.Day() == 1
	case domain.ScheduleManual:
		return false, true
	default:
		known = false
		due = now.Weekday() == time.Monday
	}
	return due && now.Hour() == hour, known
}

type PayoutRunSummary struct {
	Considered int      `json:"considered"`
	Created    int      `json:"created"`
	Skipped    int      `json:"skipped"`
	Failed     int      `json:"failed"`
	PayoutIDs  []string `json:"payout_ids,omitempty"`
}

// ProcessScheduledPayouts creates payouts for every artisan whose schedule is
// due at now, read in the configured payout timezone. Artisans are processed
// independently.
func (e Engine) ProcessScheduledPayouts(ctx context.Context, now time.Time) (sum PayoutRunSummary, err error) {
	ctx, end := e.span(ctx, "engine.ProcessScheduledPayouts")
	defer func() { end(err) }()

	if err := e.ready(); err != nil {
		return sum, err
	}
	local := now.In(e.Config.PayoutLocation())
	artisans, err := e.Repo.ListPayoutArtisans(ctx)
	if err != nil {
		return sum, fmt.Errorf("list payout artisans: %w", err)
	}
	for _, a := range artisans {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		sum.Considered++
		due, known := ShouldPayoutNow(a.PayoutSchedule, local, e.Config.Payouts.ScheduleHour)
		if !known {
			e.log().Warn("unknown payout schedule, using weekly", "artisan", a.ID, "schedule", a.PayoutSchedule)
		}
		if !due {
			sum.Skipped++
			continue
		}
		p, err := e.CreatePayout(ctx, a.ID, nil, events.SystemActor)
		switch {
		case err == nil:
			sum.Created++
			sum.PayoutIDs = append(sum.PayoutIDs, p.ID)
		case KindOf(err) == KindNotFound || KindOf(err) == KindConflict:
			sum.Skipped++
			e.log().Info("scheduled payout skipped", "artisan", a.ID, "err", err)
		default:
			sum.Failed++
			e.log().Warn("scheduled payout failed", "artisan", a.ID, "err", err)
		}
	}
	e.log().Info("scheduled payouts finished", "considered", sum.Considered, "created", sum.Created, "skipped", sum.Skipped, "failed", sum.Failed)
	return sum, nil
}

type RetrySummary struct {
	Retried   int `json:"retried"`
	Submitted int `json:"submitted"`
	Failed    int `json:"failed"`
}

// RetryPendingPayouts resubmits payouts left PENDING longer than the retry
// window, which happens when the process stops between claim and transfer.
func (e Engine) RetryPendingPayouts(ctx context.Context) (sum RetrySummary, err error) {
	ctx, end := e.span(ctx, "engine.RetryPendingPayouts")
	defer func() { end(err) }()

	if err := e.ready(); err != nil {
		return sum, err
	}
	rail, err := e.rail()
	if err != nil {
		return sum, err
	}
	cutoff := e.now().Add(-time.Duration(e.Config.Payouts.RetryAfterMinutes) * time.Minute)
	pending, err := e.Repo.ListPayouts(ctx, repo.PayoutFilter{Status: domain.PayoutPending, CreatedBefore: &cutoff})
	if err != nil {
		return sum, err
	}
	for _, p := range pending {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		sum.Retried++
		a, err := e.Repo.GetArtisan(ctx, nil, p.ArtisanID)
		if err != nil || a.PayoutAccountID == "" {
			sum.Failed++
			e.log().Warn("pending payout has no payout account", "payout", p.ID, "artisan", p.ArtisanID)
			continue
		}
		if _, err := e.submitTransfer(ctx, rail, p, a.PayoutAccountID, events.SystemActor); err != nil {
			sum.Failed++
			e.log().Warn("pending payout retry failed", "payout", p.ID, "err", err)
			continue
		}
		sum.Submitted++
	}
	return sum, nil
}

// HandleTransferWebhook reconciles a payout with the rail's transfer status.
// Events that match no payout are logged and dropped.
func (e Engine) HandleTransferWebhook(ctx context.Context, evt payments.TransferEvent) (err error) {
	ctx, end := e.span(ctx, "engine.HandleTransferWebhook", attribute.String("transfer_id", evt.TransferID))
	defer func() { end(err) }()

	if !evt.Relevant() {
		e.log().Debug("ignoring payment event", "type", evt.Type)
		return nil
	}
	now := e.now()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	p, err := e.Repo.GetPayoutByTransfer(ctx, tx, evt.TransferID)
	if errors.Is(err, repo.ErrNotFound) {
		e.log().Info("transfer event matches no payout", "transfer", evt.TransferID)
		return nil
	}
	if err != nil {
		return err
	}
	if evt.Reversed || evt.AmountReversed > 0 {
		reason := "transfer reversed"
		if !evt.Reversed {
			reason = fmt.Sprintf("transfer partially reversed (%d)", evt.AmountReversed)
		}
		ok, err := e.Repo.MarkPayoutFailed(ctx, tx, p.ID, reason, []string{domain.PayoutProcessing, domain.PayoutCompleted}, now)
		if err != nil {
			return err
		}
		if !ok {
			e.log().Info("transfer event ignored for payout state", "payout", p.ID, "status", p.Status)
			return nil
		}
		if _, err := e.Repo.SetPayoutWorkOrdersStatus(ctx, tx, p.ID, []string{domain.PayoutProcessing, domain.PayoutPaid}, domain.PayoutFailed, nil, now); err != nil {
			return err
		}
		if err := e.appendEvent(ctx, tx, "payout.reversed", "", "payout", p.ID, events.SystemActor, events.EventPayload{
			"transfer_id": evt.TransferID, "amount_reversed": evt.AmountReversed,
		}); err != nil {
			return err
		}
		e.log().Warn("payout reversed", "payout", p.ID, "amount_reversed", evt.AmountReversed)
		return tx.Commit()
	}
	ok, err := e.Repo.MarkPayoutCompleted(ctx, tx, p.ID, now)
	if err != nil {
		return err
	}
	if !ok {
		e.log().Info("transfer event ignored for payout state", "payout", p.ID, "status", p.Status)
		return nil
	}
	if _, err := e.Repo.SetPayoutWorkOrdersStatus(ctx, tx, p.ID, []string{domain.PayoutProcessing}, domain.PayoutPaid, &now, now); err != nil {
		return err
	}
	if err := e.appendEvent(ctx, tx, "payout.completed", "", "payout", p.ID, events.SystemActor, events.EventPayload{
		"transfer_id": evt.TransferID,
	}); err != nil {
		return err
	}
	return tx.Commit()
}
