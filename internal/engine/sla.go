package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"atelier/internal/config"
	"atelier/internal/domain"
	"atelier/internal/events"
	"atelier/internal/repo"
)

// ComputeSLA evaluates a deadline against completion, or against now while the
// work order is still open.
func ComputeSLA(tier config.SLATier, payoutCents int64, deadline time.Time, completedAt *time.Time, now time.Time, earlyBonusHours int) domain.SLARecord {
	rec := domain.SLARecord{Deadline: deadline, CompletedAt: completedAt, EvaluatedAt: now}
	ref := now
	if completedAt != nil {
		ref = *completedAt
	}
	if !ref.After(deadline) {
		rec.OnTime = true
		switch {
		case completedAt == nil:
			rec.Reason = "In progress, within deadline"
		case deadline.Sub(*completedAt) >= time.Duration(earlyBonusHours)*time.Hour:
			rec.BonusCents = int64(math.Round(float64(payoutCents) * tier.BonusRate))
			rec.Reason = fmt.Sprintf("Completed %d hours early", int(deadline.Sub(*completedAt).Hours()))
		default:
			rec.Reason = "Completed on time"
		}
		return rec
	}
	rec.DelayHours = int(ref.Sub(deadline).Hours())
	rec.PenaltyCents = PenaltyCents(tier, payoutCents, rec.DelayHours)
	if completedAt != nil {
		rec.Reason = fmt.Sprintf("Completed %d hours late", rec.DelayHours)
	} else {
		rec.Reason = fmt.Sprintf("Overdue by %d hours, not completed", rec.DelayHours)
	}
	return rec
}

// PenaltyCents scales the tier's penalty rate with the delay, capped at the
// tier's maximum.
func PenaltyCents(tier config.SLATier, payoutCents int64, delayHours int) int64 {
	rate := math.Min(tier.PenaltyRate*(1+float64(delayHours)/24), tier.MaxPenalty)
	return int64(math.Round(float64(payoutCents) * rate))
}

func (e Engine) tierFor(a domain.Artisan) config.SLATier {
	if t, ok := e.Config.Tier(a.ServiceTier); ok {
		return t
	}
	e.log().Warn("unknown service tier, using standard", "artisan", a.ID, "tier", a.ServiceTier)
	t, _ := e.Config.Tier(domain.TierStandard)
	return t
}

// EvaluateSLA upserts the work order's SLA record. The artisan's delivery
// statistics are credited once, the first time the record is evaluated with
// the work order completed.
func (e Engine) EvaluateSLA(ctx context.Context, workOrderID string) (rec domain.SLARecord, err error) {
	ctx, end := e.span(ctx, "engine.EvaluateSLA", attribute.String("work_order_id", workOrderID))
	defer func() { end(err) }()

	if err := e.ready(); err != nil {
		return rec, err
	}
	now := e.now()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return rec, err
	}
	defer tx.Rollback()
	wo, err := e.Repo.GetWorkOrder(ctx, tx, workOrderID)
	if err != nil {
		return rec, notFoundAs(err, "work order", workOrderID)
	}
	if wo.SLADeadline == nil {
		return rec, Conflict("work order %s has no sla deadline", workOrderID)
	}
	artisan, err := e.Repo.GetArtisan(ctx, tx, wo.ArtisanID)
	if err != nil {
		return rec, notFoundAs(err, "artisan", wo.ArtisanID)
	}
	var completedAt *time.Time
	if wo.Status == domain.WorkOrderCompleted {
		completedAt = wo.CompletedAt
		if completedAt == nil {
			completedAt = &wo.UpdatedAt
		}
	}
	rec = ComputeSLA(e.tierFor(artisan), wo.PayoutAmountCents, *wo.SLADeadline, completedAt, now, e.Config.SLA.EarlyBonusHours)
	rec.WorkOrderID = wo.ID

	prev, err := e.Repo.GetSLARecord(ctx, tx, wo.ID)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return rec, err
	}
	credit := completedAt != nil && !prev.Finalized
	rec.Finalized = prev.Finalized || completedAt != nil
	if err := e.Repo.UpsertSLARecord(ctx, tx, rec); err != nil {
		return rec, fmt.Errorf("upsert sla record: %w", err)
	}
	if err := e.Repo.SetWorkOrderSLA(ctx, tx, wo.ID, rec.OnTime, rec.PenaltyCents, rec.BonusCents, now); err != nil {
		return rec, err
	}
	if credit {
		if err := e.Repo.RecordDelivery(ctx, tx, artisan.ID, rec.OnTime, now); err != nil {
			return rec, fmt.Errorf("record delivery: %w", err)
		}
		if _, err := e.checkQuarantine(ctx, tx, artisan.ID, now); err != nil {
			return rec, err
		}
	}
	if err := e.appendEvent(ctx, tx, "sla.evaluate", wo.BrandID, "work_order", wo.ID, events.SystemActor, events.EventPayload{
		"on_time":       rec.OnTime,
		"delay_hours":   rec.DelayHours,
		"penalty_cents": rec.PenaltyCents,
		"bonus_cents":   rec.BonusCents,
		"finalized":     rec.Finalized,
	}); err != nil {
		return rec, err
	}
	if err := tx.Commit(); err != nil {
		return rec, err
	}
	return rec, nil
}

type SLASweepSummary struct {
	Evaluated int      `json:"evaluated"`
	Late      int      `json:"late"`
	Failed    int      `json:"failed"`
	FailedIDs []string `json:"failed_ids,omitempty"`
}

// EvaluateAllActiveSLAs evaluates every open work order with a deadline. A
// failing work order is logged and skipped.
func (e Engine) EvaluateAllActiveSLAs(ctx context.Context) (sum SLASweepSummary, err error) {
	ctx, end := e.span(ctx, "engine.EvaluateAllActiveSLAs")
	defer func() { end(err) }()

	wos, err := e.Repo.ListSLAWorkOrders(ctx)
	if err != nil {
		return sum, fmt.Errorf("list sla work orders: %w", err)
	}
	for _, wo := range wos {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		rec, err := e.EvaluateSLA(ctx, wo.ID)
		if err != nil {
			sum.Failed++
			sum.FailedIDs = append(sum.FailedIDs, wo.ID)
			e.log().Warn("sla evaluation failed", "work_order", wo.ID, "err", err)
			continue
		}
		sum.Evaluated++
		if !rec.OnTime {
			sum.Late++
		}
	}
	e.log().Info("sla sweep finished", "evaluated", sum.Evaluated, "late", sum.Late, "failed", sum.Failed)
	return sum, nil
}

// ApplySLAToPayout re-prices a PENDING payout from its work orders' SLA records.
func (e Engine) ApplySLAToPayout(ctx context.Context, payoutID, actorID string) (p domain.Payout, err error) {
	ctx, end := e.span(ctx, "engine.ApplySLAToPayout", attribute.String("payout_id", payoutID))
	defer func() { end(err) }()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return p, err
	}
	defer tx.Rollback()
	p, err = e.Repo.GetPayout(ctx, tx, payoutID)
	if err != nil {
		return p, notFoundAs(err, "payout", payoutID)
	}
	if p.Status != domain.PayoutPending {
		return p, Conflict("payout %s is %s; sla adjustments apply only before transfer", payoutID, p.Status)
	}
	if p, err = e.applySLA(ctx, tx, p); err != nil {
		return p, err
	}
	if err := e.appendEvent(ctx, tx, "payout.sla_applied", "", "payout", p.ID, actorID, events.EventPayload{
		"penalty_cents": p.SLAPenaltyCents, "bonus_cents": p.SLABonusCents, "amount_cents": p.AmountCents,
	}); err != nil {
		return p, err
	}
	return p, tx.Commit()
}

// applySLA recomputes amount = gross - penalties + bonuses and net = amount - fees.
func (e Engine) applySLA(ctx context.Context, tx *sql.Tx, p domain.Payout) (domain.Payout, error) {
	penalty, bonus, err := e.Repo.SLATotals(ctx, tx, p.WorkOrderIDs)
	if err != nil {
		return p, fmt.Errorf("sum sla records: %w", err)
	}
	p.SLAPenaltyCents = penalty
	p.SLABonusCents = bonus
	p.AmountCents = p.GrossAmountCents - penalty + bonus
	if p.AmountCents < 0 {
		p.AmountCents = 0
	}
	p.NetAmountCents = p.AmountCents - p.FeesCents
	if err := e.Repo.UpdatePayoutAmounts(ctx, tx, p, e.now()); err != nil {
		return p, err
	}
	return p, nil
}
