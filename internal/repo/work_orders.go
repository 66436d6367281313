package repo

import (
	"context"
	"database/sql"
	"time"

	sq "github.com/Masterminds/squirrel"

	"atelier/internal/domain"
)

var workOrderColumns = []string{
	"id", "order_id", "brand_id", "artisan_id", "quote_id", "routing_score", "sla_deadline", "status",
	"price_cents", "payout_amount_cents", "commission_cents", "qc_score", "qc_passed", "qc_issues_json",
	"sla_met", "sla_penalty_cents", "sla_bonus_cents", "payout_status", "payout_id",
	"accepted_at", "started_at", "completed_at", "paid_at", "created_at", "updated_at",
}

func scanWorkOrder(row rowScanner) (domain.WorkOrder, error) {
	var w domain.WorkOrder
	var deadline, issues, payoutID, accepted, started, completed, paid sql.NullString
	var qcScore sql.NullFloat64
	var qcPassed, slaMet sql.NullInt64
	var created, updated string
	err := row.Scan(&w.ID, &w.OrderID, &w.BrandID, &w.ArtisanID, &w.QuoteID, &w.RoutingScore, &deadline, &w.Status,
		&w.PriceCents, &w.PayoutAmountCents, &w.CommissionCents, &qcScore, &qcPassed, &issues,
		&slaMet, &w.SLAPenaltyCents, &w.SLABonusCents, &w.PayoutStatus, &payoutID,
		&accepted, &started, &completed, &paid, &created, &updated)
	if err == sql.ErrNoRows {
		return w, ErrNotFound
	}
	if err != nil {
		return w, err
	}
	if qcScore.Valid {
		v := qcScore.Float64
		w.QCScore = &v
	}
	w.QCPassed = nullBool(qcPassed)
	w.SLAMet = nullBool(slaMet)
	w.PayoutID = payoutID.String
	if w.QCIssues, err = unmarshalStrings(issues); err != nil {
		return w, err
	}
	for _, f := range []struct {
		src sql.NullString
		dst **time.Time
	}{{deadline, &w.SLADeadline}, {accepted, &w.AcceptedAt}, {started, &w.StartedAt}, {completed, &w.CompletedAt}, {paid, &w.PaidAt}} {
		if *f.dst, err = nullTime(f.src); err != nil {
			return w, err
		}
	}
	if w.CreatedAt, err = parseTime(created); err != nil {
		return w, err
	}
	w.UpdatedAt, err = parseTime(updated)
	return w, err
}

func (r Repo) InsertWorkOrder(ctx context.Context, tx *sql.Tx, w domain.WorkOrder) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO work_orders(id,order_id,brand_id,artisan_id,quote_id,routing_score,sla_deadline,status,price_cents,payout_amount_cents,commission_cents,payout_status,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		w.ID, w.OrderID, w.BrandID, w.ArtisanID, w.QuoteID, w.RoutingScore, nullableTime(w.SLADeadline), w.Status,
		w.PriceCents, w.PayoutAmountCents, w.CommissionCents, w.PayoutStatus, FormatTime(w.CreatedAt), FormatTime(w.UpdatedAt))
	return err
}

func (r Repo) GetWorkOrder(ctx context.Context, tx *sql.Tx, id string) (domain.WorkOrder, error) {
	query, args, err := sq.Select(workOrderColumns...).From("work_orders").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return domain.WorkOrder{}, err
	}
	return scanWorkOrder(r.q(tx).QueryRowContext(ctx, query, args...))
}

func (r Repo) listWorkOrders(ctx context.Context, tx *sql.Tx, b sq.SelectBuilder) ([]domain.WorkOrder, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := r.q(tx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.WorkOrder
	for rows.Next() {
		w, err := scanWorkOrder(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, w)
	}
	return res, rows.Err()
}

type WorkOrderFilter struct {
	ArtisanID    string
	BrandID      string
	Status       string
	PayoutStatus string
	PayoutID     string
}

func (r Repo) ListWorkOrders(ctx context.Context, tx *sql.Tx, f WorkOrderFilter) ([]domain.WorkOrder, error) {
	b := sq.Select(workOrderColumns...).From("work_orders").OrderBy("created_at", "id")
	eq := sq.Eq{}
	if f.ArtisanID != "" {
		eq["artisan_id"] = f.ArtisanID
	}
	if f.BrandID != "" {
		eq["brand_id"] = f.BrandID
	}
	if f.Status != "" {
		eq["status"] = f.Status
	}
	if f.PayoutStatus != "" {
		eq["payout_status"] = f.PayoutStatus
	}
	if f.PayoutID != "" {
		eq["payout_id"] = f.PayoutID
	}
	if len(eq) > 0 {
		b = b.Where(eq)
	}
	return r.listWorkOrders(ctx, tx, b)
}

// ListSLAWorkOrders returns work orders whose SLA still needs evaluation:
// every non-completed work order with a deadline plus completed ones whose
// SLA record was never finalized.
func (r Repo) ListSLAWorkOrders(ctx context.Context) ([]domain.WorkOrder, error) {
	b := sq.Select(prefixed("w", workOrderColumns)...).
		From("work_orders w").
		LeftJoin("sla_records s ON s.work_order_id = w.id").
		Where(sq.NotEq{"w.sla_deadline": nil}).
		Where(sq.Or{
			sq.NotEq{"w.status": domain.WorkOrderCompleted},
			sq.Expr("COALESCE(s.finalized,0) = 0"),
		}).
		OrderBy("w.sla_deadline", "w.id")
	return r.listWorkOrders(ctx, nil, b)
}

// SetWorkOrderStatus moves a work order from one status to another. It
// reports false when the work order was no longer in from.
func (r Repo) SetWorkOrderStatus(ctx context.Context, tx *sql.Tx, id, from, to string, now time.Time) (bool, error) {
	b := sq.Update("work_orders").Set("status", to).Set("updated_at", FormatTime(now)).
		Where(sq.Eq{"id": id, "status": from})
	switch to {
	case domain.WorkOrderAccepted:
		b = b.Set("accepted_at", FormatTime(now))
	case domain.WorkOrderInProgress:
		b = b.Set("started_at", FormatTime(now))
	case domain.WorkOrderCompleted:
		b = b.Set("completed_at", FormatTime(now))
	}
	query, args, err := b.ToSql()
	if err != nil {
		return false, err
	}
	res, err := r.q(tx).ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (r Repo) SetWorkOrderQC(ctx context.Context, tx *sql.Tx, id string, score float64, passed bool, issues []string, status string, now time.Time) error {
	raw, err := marshalStrings(issues)
	if err != nil {
		return err
	}
	_, err = r.q(tx).ExecContext(ctx, `UPDATE work_orders SET qc_score=?, qc_passed=?, qc_issues_json=?, status=?, updated_at=? WHERE id=?`,
		score, boolInt(passed), raw, status, FormatTime(now), id)
	return err
}

func (r Repo) SetWorkOrderSLA(ctx context.Context, tx *sql.Tx, id string, met bool, penalty, bonus int64, now time.Time) error {
	_, err := r.q(tx).ExecContext(ctx, `UPDATE work_orders SET sla_met=?, sla_penalty_cents=?, sla_bonus_cents=?, updated_at=? WHERE id=?`,
		boolInt(met), penalty, bonus, FormatTime(now), id)
	return err
}

// ClaimForPayout attaches a PENDING work order to a payout. It reports false
// when another payout already claimed it.
func (r Repo) ClaimForPayout(ctx context.Context, tx *sql.Tx, id, payoutID string, now time.Time) (bool, error) {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE work_orders SET payout_status=?, payout_id=?, updated_at=? WHERE id=? AND payout_status=?`,
		domain.PayoutProcessing, payoutID, FormatTime(now), id, domain.PayoutPending)
	if err != nil {
		return false, err
	}
	return affected(res)
}

// ReleasePayoutClaims returns a payout's work orders to PENDING so a later
// payout can pick them up.
func (r Repo) ReleasePayoutClaims(ctx context.Context, tx *sql.Tx, payoutID string, now time.Time) (int64, error) {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE work_orders SET payout_status=?, payout_id=NULL, updated_at=? WHERE payout_id=? AND payout_status=?`,
		domain.PayoutPending, FormatTime(now), payoutID, domain.PayoutProcessing)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// SetPayoutWorkOrdersStatus moves every work order of a payout whose payout
// status is in from to the given status.
func (r Repo) SetPayoutWorkOrdersStatus(ctx context.Context, tx *sql.Tx, payoutID string, from []string, to string, paidAt *time.Time, now time.Time) (int64, error) {
	b := sq.Update("work_orders").Set("payout_status", to).Set("updated_at", FormatTime(now)).
		Where(sq.Eq{"payout_id": payoutID, "payout_status": from})
	if paidAt != nil {
		b = b.Set("paid_at", FormatTime(*paidAt))
	}
	query, args, err := b.ToSql()
	if err != nil {
		return 0, err
	}
	res, err := r.q(tx).ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
