package repo

import (
	"context"
	"database/sql"

	sq "github.com/Masterminds/squirrel"

	"atelier/internal/domain"
)

func (r Repo) UpsertSLARecord(ctx context.Context, tx *sql.Tx, s domain.SLARecord) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO sla_records(work_order_id,deadline,completed_at,on_time,delay_hours,penalty_cents,bonus_cents,reason,finalized,evaluated_at) VALUES (?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(work_order_id) DO UPDATE SET deadline=excluded.deadline, completed_at=excluded.completed_at, on_time=excluded.on_time, delay_hours=excluded.delay_hours, penalty_cents=excluded.penalty_cents, bonus_cents=excluded.bonus_cents, reason=excluded.reason, finalized=excluded.finalized, evaluated_at=excluded.evaluated_at`,
		s.WorkOrderID, FormatTime(s.Deadline), nullableTime(s.CompletedAt), boolInt(s.OnTime), s.DelayHours,
		s.PenaltyCents, s.BonusCents, s.Reason, boolInt(s.Finalized), FormatTime(s.EvaluatedAt))
	return err
}

func (r Repo) GetSLARecord(ctx context.Context, tx *sql.Tx, workOrderID string) (domain.SLARecord, error) {
	var s domain.SLARecord
	var deadline, evaluated string
	var completed sql.NullString
	err := r.q(tx).QueryRowContext(ctx, `SELECT work_order_id,deadline,completed_at,on_time,delay_hours,penalty_cents,bonus_cents,reason,finalized,evaluated_at FROM sla_records WHERE work_order_id=?`, workOrderID).
		Scan(&s.WorkOrderID, &deadline, &completed, &s.OnTime, &s.DelayHours, &s.PenaltyCents, &s.BonusCents, &s.Reason, &s.Finalized, &evaluated)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	if s.Deadline, err = parseTime(deadline); err != nil {
		return s, err
	}
	if s.CompletedAt, err = nullTime(completed); err != nil {
		return s, err
	}
	s.EvaluatedAt, err = parseTime(evaluated)
	return s, err
}

// SLATotals sums penalties and bonuses recorded for the given work orders.
// Work orders without a record contribute nothing.
func (r Repo) SLATotals(ctx context.Context, tx *sql.Tx, workOrderIDs []string) (penalty, bonus int64, err error) {
	if len(workOrderIDs) == 0 {
		return 0, 0, nil
	}
	query, args, err := sq.Select("COALESCE(SUM(penalty_cents),0)", "COALESCE(SUM(bonus_cents),0)").
		From("sla_records").Where(sq.Eq{"work_order_id": workOrderIDs}).ToSql()
	if err != nil {
		return 0, 0, err
	}
	err = r.q(tx).QueryRowContext(ctx, query, args...).Scan(&penalty, &bonus)
	return penalty, bonus, err
}
