package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	sq "github.com/Masterminds/squirrel"

	"atelier/internal/domain"
)

var payoutColumns = []string{
	"id", "artisan_id", "gross_amount_cents", "amount_cents", "fees_cents", "net_amount_cents",
	"sla_penalty_cents", "sla_bonus_cents", "currency", "work_order_ids_json", "status",
	"external_transfer_id", "failure_reason", "paid_at", "created_at", "updated_at",
}

func scanPayout(row rowScanner) (domain.Payout, error) {
	var p domain.Payout
	var ids, created, updated string
	var transfer, reason, paid sql.NullString
	err := row.Scan(&p.ID, &p.ArtisanID, &p.GrossAmountCents, &p.AmountCents, &p.FeesCents, &p.NetAmountCents,
		&p.SLAPenaltyCents, &p.SLABonusCents, &p.Currency, &ids, &p.Status, &transfer, &reason, &paid, &created, &updated)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	if err := json.Unmarshal([]byte(ids), &p.WorkOrderIDs); err != nil {
		return p, err
	}
	p.ExternalTransferID = transfer.String
	p.FailureReason = reason.String
	if p.PaidAt, err = nullTime(paid); err != nil {
		return p, err
	}
	if p.CreatedAt, err = parseTime(created); err != nil {
		return p, err
	}
	p.UpdatedAt, err = parseTime(updated)
	return p, err
}

func (r Repo) InsertPayout(ctx context.Context, tx *sql.Tx, p domain.Payout) error {
	ids, err := marshalStrings(p.WorkOrderIDs)
	if err != nil {
		return err
	}
	_, err = r.q(tx).ExecContext(ctx, `INSERT INTO payouts(id,artisan_id,gross_amount_cents,amount_cents,fees_cents,net_amount_cents,sla_penalty_cents,sla_bonus_cents,currency,work_order_ids_json,status,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.ArtisanID, p.GrossAmountCents, p.AmountCents, p.FeesCents, p.NetAmountCents,
		p.SLAPenaltyCents, p.SLABonusCents, p.Currency, ids, p.Status, FormatTime(p.CreatedAt), FormatTime(p.UpdatedAt))
	return err
}

func (r Repo) getPayoutWhere(ctx context.Context, tx *sql.Tx, pred sq.Eq) (domain.Payout, error) {
	query, args, err := sq.Select(payoutColumns...).From("payouts").Where(pred).ToSql()
	if err != nil {
		return domain.Payout{}, err
	}
	return scanPayout(r.q(tx).QueryRowContext(ctx, query, args...))
}

func (r Repo) GetPayout(ctx context.Context, tx *sql.Tx, id string) (domain.Payout, error) {
	return r.getPayoutWhere(ctx, tx, sq.Eq{"id": id})
}

func (r Repo) GetPayoutByTransfer(ctx context.Context, tx *sql.Tx, transferID string) (domain.Payout, error) {
	return r.getPayoutWhere(ctx, tx, sq.Eq{"external_transfer_id": transferID})
}

type PayoutFilter struct {
	ArtisanID     string
	Status        string
	CreatedBefore *time.Time
}

func (r Repo) ListPayouts(ctx context.Context, f PayoutFilter) ([]domain.Payout, error) {
	b := sq.Select(payoutColumns...).From("payouts").OrderBy("created_at", "id")
	if f.ArtisanID != "" {
		b = b.Where(sq.Eq{"artisan_id": f.ArtisanID})
	}
	if f.Status != "" {
		b = b.Where(sq.Eq{"status": f.Status})
	}
	if f.CreatedBefore != nil {
		b = b.Where(sq.Lt{"created_at": FormatTime(*f.CreatedBefore)})
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Payout
	for rows.Next() {
		p, err := scanPayout(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) UpdatePayoutAmounts(ctx context.Context, tx *sql.Tx, p domain.Payout, now time.Time) error {
	_, err := r.q(tx).ExecContext(ctx, `UPDATE payouts SET amount_cents=?, fees_cents=?, net_amount_cents=?, sla_penalty_cents=?, sla_bonus_cents=?, updated_at=? WHERE id=?`,
		p.AmountCents, p.FeesCents, p.NetAmountCents, p.SLAPenaltyCents, p.SLABonusCents, FormatTime(now), p.ID)
	return err
}

// MarkPayoutSubmitted records the external transfer of a PENDING payout.
func (r Repo) MarkPayoutSubmitted(ctx context.Context, tx *sql.Tx, id, transferID string, now time.Time) (bool, error) {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE payouts SET status=?, external_transfer_id=?, failure_reason=NULL, updated_at=? WHERE id=? AND status=?`,
		domain.PayoutProcessing, transferID, FormatTime(now), id, domain.PayoutPending)
	if err != nil {
		return false, err
	}
	return affected(res)
}

// MarkPayoutFailed moves a payout in one of the from statuses to FAILED.
func (r Repo) MarkPayoutFailed(ctx context.Context, tx *sql.Tx, id, reason string, from []string, now time.Time) (bool, error) {
	query, args, err := sq.Update("payouts").
		Set("status", domain.PayoutFailed).Set("failure_reason", reason).Set("updated_at", FormatTime(now)).
		Where(sq.Eq{"id": id, "status": from}).ToSql()
	if err != nil {
		return false, err
	}
	res, err := r.q(tx).ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (r Repo) MarkPayoutCompleted(ctx context.Context, tx *sql.Tx, id string, paidAt time.Time) (bool, error) {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE payouts SET status=?, paid_at=?, updated_at=? WHERE id=? AND status=?`,
		domain.PayoutCompleted, FormatTime(paidAt), FormatTime(paidAt), id, domain.PayoutProcessing)
	if err != nil {
		return false, err
	}
	return affected(res)
}
