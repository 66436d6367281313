package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"atelier/internal/config"
	"atelier/internal/domain"
	"atelier/internal/events"
	"atelier/internal/repo"
)

type QCReportInput struct {
	WorkOrderID     string
	InspectorID     string
	OverallScore    float64
	Issues          []string
	Recommendations []string
	Passed          bool
	ActorID         string
}

// CreateQCReport records an inspection, updates the work order and the
// artisan's quality statistics, then re-evaluates quarantine.
func (e Engine) CreateQCReport(ctx context.Context, in QCReportInput) (r domain.QualityReport, err error) {
	ctx, end := e.span(ctx, "engine.CreateQCReport", attribute.String("work_order_id", in.WorkOrderID))
	defer func() { end(err) }()

	if err := e.ready(); err != nil {
		return r, err
	}
	if in.WorkOrderID == "" {
		return r, Validation("work_order_id is required")
	}
	if in.OverallScore < 0 || in.OverallScore > 10 {
		return r, Validation("overall score must be within [0,10], got %g", in.OverallScore)
	}
	now := e.now()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return r, err
	}
	defer tx.Rollback()
	wo, err := e.Repo.GetWorkOrder(ctx, tx, in.WorkOrderID)
	if err != nil {
		return r, notFoundAs(err, "work order", in.WorkOrderID)
	}
	if wo.Status != domain.WorkOrderQCPending && wo.Status != domain.WorkOrderInProgress {
		return r, Conflict("work order %s is %s; inspection requires qc_pending", wo.ID, wo.Status)
	}
	r = domain.QualityReport{
		ID:              uuid.NewString(),
		WorkOrderID:     wo.ID,
		ArtisanID:       wo.ArtisanID,
		InspectorID:     in.InspectorID,
		OverallScore:    in.OverallScore,
		Issues:          nonNil(in.Issues),
		Recommendations: nonNil(in.Recommendations),
		Passed:          in.Passed,
		CreatedAt:       now,
	}
	if err := e.Repo.InsertQualityReport(ctx, tx, r); err != nil {
		return r, fmt.Errorf("insert quality report: %w", err)
	}
	status := domain.WorkOrderQCFailed
	if in.Passed {
		status = domain.WorkOrderQCPassed
	}
	if err := e.Repo.SetWorkOrderQC(ctx, tx, wo.ID, in.OverallScore, in.Passed, r.Issues, status, now); err != nil {
		return r, err
	}
	// Reports score on 0..10; reputation quality is kept on 0..5.
	if err := e.Repo.RecordQCOutcome(ctx, tx, wo.ArtisanID, in.OverallScore/2, !in.Passed, now); err != nil {
		return r, fmt.Errorf("record qc outcome: %w", err)
	}
	if _, err := e.checkQuarantine(ctx, tx, wo.ArtisanID, now); err != nil {
		return r, err
	}
	if err := e.appendEvent(ctx, tx, "qc.report", wo.BrandID, "work_order", wo.ID, in.ActorID, events.EventPayload{
		"report_id": r.ID, "score": in.OverallScore, "passed": in.Passed, "issues": len(r.Issues),
	}); err != nil {
		return r, err
	}
	if err := tx.Commit(); err != nil {
		return r, err
	}
	return r, nil
}

// RecordReturn registers a customer return against a completed work order.
func (e Engine) RecordReturn(ctx context.Context, workOrderID, reason, actorID string) (d QuarantineDecision, err error) {
	ctx, end := e.span(ctx, "engine.RecordReturn", attribute.String("work_order_id", workOrderID))
	defer func() { end(err) }()

	now := e.now()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return d, err
	}
	defer tx.Rollback()
	wo, err := e.Repo.GetWorkOrder(ctx, tx, workOrderID)
	if err != nil {
		return d, notFoundAs(err, "work order", workOrderID)
	}
	if wo.Status != domain.WorkOrderCompleted {
		return d, Conflict("work order %s is %s; only completed work can be returned", wo.ID, wo.Status)
	}
	if err := e.Repo.InsertReturn(ctx, tx, uuid.NewString(), wo.ID, wo.ArtisanID, reason, now); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return d, Conflict("work order %s already returned", wo.ID)
		}
		return d, err
	}
	if err := e.Repo.RecordReturnOutcome(ctx, tx, wo.ArtisanID, now); err != nil {
		return d, err
	}
	if d, err = e.checkQuarantine(ctx, tx, wo.ArtisanID, now); err != nil {
		return d, err
	}
	if err := e.appendEvent(ctx, tx, "work_order.return", wo.BrandID, "work_order", wo.ID, actorID, events.EventPayload{
		"reason": reason,
	}); err != nil {
		return d, err
	}
	return d, tx.Commit()
}

// QuarantineViolations lists every threshold the reputation breaks, as
// human-readable reasons.
func QuarantineViolations(p config.QuarantinePolicy, rep domain.Reputation) []string {
	var out []string
	if rep.DefectRate >= p.MaxDefectRate {
		out = append(out, fmt.Sprintf("High defect rate: %.1f%%", rep.DefectRate*100))
	}
	if rep.ReturnRate >= p.MaxReturnRate {
		out = append(out, fmt.Sprintf("High return rate: %.1f%%", rep.ReturnRate*100))
	}
	if rep.OnTimeDeliveryRate < p.MinOnTimeRate {
		out = append(out, fmt.Sprintf("Low on-time delivery rate: %.1f%%", rep.OnTimeDeliveryRate*100))
	}
	if rep.QualityScore < p.MinQualityScore {
		out = append(out, fmt.Sprintf("Low quality score: %.2f/5", rep.QualityScore))
	}
	return out
}

type QuarantineDecision struct {
	ArtisanID string `json:"artisan_id"`
	Status    string `json:"status"`
	Changed   bool   `json:"changed"`
	Reason    string `json:"reason,omitempty"`
}

// CheckQuarantine re-evaluates the artisan's quarantine state against the
// current thresholds.
func (e Engine) CheckQuarantine(ctx context.Context, artisanID, actorID string) (QuarantineDecision, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return QuarantineDecision{}, err
	}
	defer tx.Rollback()
	d, err := e.checkQuarantine(ctx, tx, artisanID, e.now())
	if err != nil {
		return d, err
	}
	return d, tx.Commit()
}

func (e Engine) checkQuarantine(ctx context.Context, tx *sql.Tx, artisanID string, now time.Time) (QuarantineDecision, error) {
	a, err := e.Repo.GetArtisan(ctx, tx, artisanID)
	if err != nil {
		return QuarantineDecision{}, notFoundAs(err, "artisan", artisanID)
	}
	d := QuarantineDecision{ArtisanID: a.ID, Status: a.Status, Reason: a.QuarantineReason}
	violations := QuarantineViolations(e.Config.Quality.Quarantine, a.Reputation)
	switch {
	case len(violations) > 0 && a.Status == domain.ArtisanActive:
		reason := strings.Join(violations, "; ")
		until := now.Add(days(e.Config.Quality.Quarantine.Days))
		ok, err := e.Repo.Quarantine(ctx, tx, a.ID, until, reason, now)
		if err != nil {
			return d, err
		}
		if ok {
			d = QuarantineDecision{ArtisanID: a.ID, Status: domain.ArtisanQuarantined, Changed: true, Reason: reason}
			if err := e.appendEvent(ctx, tx, "artisan.quarantine", a.BrandID, "artisan", a.ID, events.SystemActor, events.EventPayload{
				"reason": reason, "until": until.Format(time.RFC3339),
			}); err != nil {
				return d, err
			}
			e.log().Warn("artisan quarantined", "artisan", a.ID, "reason", reason)
		}
	case len(violations) == 0 && a.Status == domain.ArtisanQuarantined:
		ok, err := e.Repo.Reinstate(ctx, tx, a.ID, now)
		if err != nil {
			return d, err
		}
		if ok {
			d = QuarantineDecision{ArtisanID: a.ID, Status: domain.ArtisanActive, Changed: true}
			if err := e.appendEvent(ctx, tx, "artisan.reinstate", a.BrandID, "artisan", a.ID, events.SystemActor, nil); err != nil {
				return d, err
			}
			e.log().Info("artisan reinstated", "artisan", a.ID)
		}
	}
	return d, nil
}

type QCStats struct {
	ArtisanID        string                 `json:"artisan_id"`
	Status           string                 `json:"status"`
	Reputation       domain.Reputation      `json:"reputation"`
	QuarantineUntil  *time.Time             `json:"quarantine_until,omitempty"`
	QuarantineReason string                 `json:"quarantine_reason,omitempty"`
	RecentReports    []domain.QualityReport `json:"recent_reports"`
}

// GetArtisanQCStats returns the reputation snapshot and the newest reports.
func (e Engine) GetArtisanQCStats(ctx context.Context, artisanID string) (QCStats, error) {
	if err := e.ready(); err != nil {
		return QCStats{}, err
	}
	a, err := e.Repo.GetArtisan(ctx, nil, artisanID)
	if err != nil {
		return QCStats{}, notFoundAs(err, "artisan", artisanID)
	}
	reports, err := e.Repo.RecentQualityReports(ctx, artisanID, e.Config.Quality.RecentReports)
	if err != nil {
		return QCStats{}, err
	}
	return QCStats{
		ArtisanID:        a.ID,
		Status:           a.Status,
		Reputation:       a.Reputation,
		QuarantineUntil:  a.QuarantineUntil,
		QuarantineReason: a.QuarantineReason,
		RecentReports:    reports,
	}, nil
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
