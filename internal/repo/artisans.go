package repo

import (
	"context"
	"database/sql"
	"math"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"atelier/internal/domain"
)

var artisanColumns = []string{
	"id", "user_id", "brand_id", "business_name", "email", "country", "zone",
	"status", "kyc_status", "kyc_verified_at", "current_load", "max_volume",
	"average_lead_time", "min_order_value_cents", "service_tier", "payout_schedule",
	"quality_score", "defect_rate", "return_rate", "on_time_rate", "total_orders",
	"completed_orders", "payout_account_id", "payout_account_status",
	"quarantine_until", "quarantine_reason", "created_at", "updated_at",
}

func prefixed(alias string, cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = alias + "." + c
	}
	return out
}

func scanArtisan(row rowScanner, extra ...any) (domain.Artisan, error) {
	var a domain.Artisan
	var brand, email, country, zone, kycAt, acct, acctStatus, qUntil, qReason sql.NullString
	var created, updated string
	dest := []any{
		&a.ID, &a.UserID, &brand, &a.BusinessName, &email, &country, &zone,
		&a.Status, &a.KYCStatus, &kycAt, &a.CurrentLoad, &a.MaxVolume,
		&a.AverageLeadTime, &a.MinOrderValueCents, &a.ServiceTier, &a.PayoutSchedule,
		&a.Reputation.QualityScore, &a.Reputation.DefectRate, &a.Reputation.ReturnRate,
		&a.Reputation.OnTimeDeliveryRate, &a.Reputation.TotalOrders, &a.Reputation.CompletedOrders,
		&acct, &acctStatus, &qUntil, &qReason, &created, &updated,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		if err == sql.ErrNoRows {
			return a, ErrNotFound
		}
		return a, err
	}
	a.BrandID = brand.String
	a.Email = email.String
	a.Country = country.String
	a.Zone = zone.String
	a.PayoutAccountID = acct.String
	a.PayoutAccountStatus = acctStatus.String
	a.QuarantineReason = qReason.String
	var err error
	if a.KYCVerifiedAt, err = nullTime(kycAt); err != nil {
		return a, err
	}
	if a.QuarantineUntil, err = nullTime(qUntil); err != nil {
		return a, err
	}
	if a.CreatedAt, err = parseTime(created); err != nil {
		return a, err
	}
	if a.UpdatedAt, err = parseTime(updated); err != nil {
		return a, err
	}
	return a, nil
}

func (r Repo) InsertArtisan(ctx context.Context, tx *sql.Tx, a domain.Artisan) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO artisans(id,user_id,brand_id,business_name,email,country,zone,status,kyc_status,kyc_verified_at,current_load,max_volume,average_lead_time,min_order_value_cents,service_tier,payout_schedule,payout_account_id,payout_account_status,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.UserID, nullable(a.BrandID), a.BusinessName, nullable(a.Email), nullable(a.Country), nullable(a.Zone),
		a.Status, a.KYCStatus, nullableTime(a.KYCVerifiedAt), a.CurrentLoad, a.MaxVolume, a.AverageLeadTime,
		a.MinOrderValueCents, a.ServiceTier, a.PayoutSchedule, nullable(a.PayoutAccountID), nullable(a.PayoutAccountStatus),
		FormatTime(a.CreatedAt), FormatTime(a.UpdatedAt))
	if err != nil && strings.Contains(err.Error(), "UNIQUE") {
		return ErrDuplicate
	}
	return err
}

func (r Repo) GetArtisan(ctx context.Context, tx *sql.Tx, id string) (domain.Artisan, error) {
	query, args, err := sq.Select(artisanColumns...).From("artisans").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return domain.Artisan{}, err
	}
	a, err := scanArtisan(r.q(tx).QueryRowContext(ctx, query, args...))
	if err != nil {
		return a, err
	}
	a.Capabilities, err = r.ListCapabilities(ctx, tx, id)
	return a, err
}

func (r Repo) GetArtisanByUser(ctx context.Context, userID string) (domain.Artisan, error) {
	query, args, err := sq.Select("id").From("artisans").Where(sq.Eq{"user_id": userID}).ToSql()
	if err != nil {
		return domain.Artisan{}, err
	}
	var id string
	if err := r.DB.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		if err == sql.ErrNoRows {
			return domain.Artisan{}, ErrNotFound
		}
		return domain.Artisan{}, err
	}
	return r.GetArtisan(ctx, nil, id)
}

type ArtisanFilter struct {
	BrandID string
	Status  string
	Zone    string
}

func (r Repo) ListArtisans(ctx context.Context, f ArtisanFilter) ([]domain.Artisan, error) {
	b := sq.Select(artisanColumns...).From("artisans").OrderBy("created_at", "id")
	if f.BrandID != "" {
		b = b.Where(sq.Eq{"brand_id": f.BrandID})
	}
	if f.Status != "" {
		b = b.Where(sq.Eq{"status": f.Status})
	}
	if f.Zone != "" {
		b = b.Where(sq.Eq{"zone": f.Zone})
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
	var res []domain.Artisan
	for rows.Next() {
		a, err := scanArtisan(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range res {
		if res[i].Capabilities, err = r.ListCapabilities(ctx, nil, res[i].ID); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// ListPayoutArtisans returns artisans with a payout account that is able to
// receive transfers, used by the scheduled payout sweep.
func (r Repo) ListPayoutArtisans(ctx context.Context) ([]domain.Artisan, error) {
	query, args, err := sq.Select(artisanColumns...).From("artisans").
		Where(sq.NotEq{"payout_account_id": nil}).
		Where(sq.Eq{"payout_account_status": domain.AccountActive}).
		OrderBy("id").ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Artisan
	for rows.Next() {
		a, err := scanArtisan(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

type ArtisanSettings struct {
	MaxVolume          *int
	AverageLeadTime    *int
	MinOrderValueCents *int64
	ServiceTier        *string
	PayoutSchedule     *string
	Zone               *string
}

func (r Repo) UpdateArtisanSettings(ctx context.Context, tx *sql.Tx, id string, s ArtisanSettings, now time.Time) error {
	b := sq.Update("artisans").Set("updated_at", FormatTime(now)).Where(sq.Eq{"id": id})
	if s.MaxVolume != nil {
		b = b.Set("max_volume", *s.MaxVolume)
	}
	if s.AverageLeadTime != nil {
		b = b.Set("average_lead_time", *s.AverageLeadTime)
	}
	if s.MinOrderValueCents != nil {
		b = b.Set("min_order_value_cents", *s.MinOrderValueCents)
	}
	if s.ServiceTier != nil {
		b = b.Set("service_tier", *s.ServiceTier)
	}
	if s.PayoutSchedule != nil {
		b = b.Set("payout_schedule", *s.PayoutSchedule)
	}
	if s.Zone != nil {
		b = b.Set("zone", nullable(*s.Zone))
	}
	query, args, err := b.ToSql()
	if err != nil {
		return err
	}
	res, err := r.q(tx).ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	ok, err := affected(res)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

func (r Repo) SetArtisanKYC(ctx context.Context, tx *sql.Tx, id, kycStatus, status string, verifiedAt *time.Time, now time.Time) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE artisans SET kyc_status=?, status=?, kyc_verified_at=?, updated_at=? WHERE id=?`,
		kycStatus, status, nullableTime(verifiedAt), FormatTime(now), id)
	if err != nil {
		return err
	}
	if ok, err := affected(res); err != nil {
		return err
	} else if !ok {
		return ErrNotFound
	}
	return nil
}

// SetArtisanStatus overwrites the status. Moving to active also drops any
// leftover quarantine window.
func (r Repo) SetArtisanStatus(ctx context.Context, tx *sql.Tx, id, status string, now time.Time) error {
	query := `UPDATE artisans SET status=?, updated_at=? WHERE id=?`
	if status == domain.ArtisanActive {
		query = `UPDATE artisans SET status=?, quarantine_until=NULL, quarantine_reason=NULL, updated_at=? WHERE id=?`
	}
	res, err := r.q(tx).ExecContext(ctx, query, status, FormatTime(now), id)
	if err != nil {
		return err
	}
	if ok, err := affected(res); err != nil {
		return err
	} else if !ok {
		return ErrNotFound
	}
	return nil
}

func (r Repo) SetPayoutAccount(ctx context.Context, tx *sql.Tx, id, accountID, accountStatus string, now time.Time) error {
	_, err := r.q(tx).ExecContext(ctx, `UPDATE artisans SET payout_account_id=?, payout_account_status=?, updated_at=? WHERE id=?`,
		nullable(accountID), nullable(accountStatus), FormatTime(now), id)
	if err != nil && strings.Contains(err.Error(), "UNIQUE") {
		return ErrDuplicate
	}
	return err
}

// IncrementLoad reserves one unit of capacity. It reports false when the
// artisan is already at max volume.
func (r Repo) IncrementLoad(ctx context.Context, tx *sql.Tx, id string, now time.Time) (bool, error) {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE artisans SET current_load=current_load+1, updated_at=? WHERE id=? AND current_load < max_volume`,
		FormatTime(now), id)
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (r Repo) DecrementLoad(ctx context.Context, tx *sql.Tx, id string, now time.Time) error {
	_, err := r.q(tx).ExecContext(ctx, `UPDATE artisans SET current_load=MAX(current_load-1,0), updated_at=? WHERE id=?`,
		FormatTime(now), id)
	return err
}

// RecordQCOutcome folds one inspection into the running quality aggregates.
// score is on the 0..5 reputation scale.
func (r Repo) RecordQCOutcome(ctx context.Context, tx *sql.Tx, id string, score float64, defect bool, now time.Time) error {
	d := boolInt(defect)
	_, err := r.q(tx).ExecContext(ctx, `UPDATE artisans SET
		qc_count=qc_count+1,
		qc_score_sum=qc_score_sum+?,
		qc_defect_count=qc_defect_count+?,
		quality_score=(qc_score_sum+?)/(qc_count+1),
		defect_rate=CAST(qc_defect_count+? AS REAL)/(qc_count+1),
		updated_at=?
		WHERE id=?`, score, d, score, d, FormatTime(now), id)
	return err
}

// RecordDelivery credits one finished work order to the delivery aggregates.
func (r Repo) RecordDelivery(ctx context.Context, tx *sql.Tx, id string, onTime bool, now time.Time) error {
	o := boolInt(onTime)
	_, err := r.q(tx).ExecContext(ctx, `UPDATE artisans SET
		total_orders=total_orders+1,
		completed_orders=completed_orders+1,
		on_time_count=on_time_count+?,
		on_time_rate=CAST(on_time_count+? AS REAL)/(total_orders+1),
		return_rate=CAST(return_count AS REAL)/(completed_orders+1),
		updated_at=?
		WHERE id=?`, o, o, FormatTime(now), id)
	return err
}

func (r Repo) RecordReturnOutcome(ctx context.Context, tx *sql.Tx, id string, now time.Time) error {
	_, err := r.q(tx).ExecContext(ctx, `UPDATE artisans SET
		return_count=return_count+1,
		return_rate=MIN(1.0, CAST(return_count+1 AS REAL)/MAX(completed_orders,1)),
		updated_at=?
		WHERE id=?`, FormatTime(now), id)
	return err
}

// SeedReputation overwrites the reputation aggregates, back-filling the
// running sums so later updates continue from the seeded values.
func (r Repo) SeedReputation(ctx context.Context, tx *sql.Tx, id string, rep domain.Reputation, now time.Time) error {
	qcCount := rep.CompletedOrders
	res, err := r.q(tx).ExecContext(ctx, `UPDATE artisans SET
		quality_score=?, defect_rate=?, return_rate=?, on_time_rate=?,
		total_orders=?, completed_orders=?,
		on_time_count=?, qc_count=?, qc_score_sum=?, qc_defect_count=?, return_count=?,
		updated_at=?
		WHERE id=?`,
		rep.QualityScore, rep.DefectRate, rep.ReturnRate, rep.OnTimeDeliveryRate,
		rep.TotalOrders, rep.CompletedOrders,
		int(math.Round(rep.OnTimeDeliveryRate*float64(rep.TotalOrders))), qcCount,
		rep.QualityScore*float64(qcCount), int(math.Round(rep.DefectRate*float64(qcCount))),
		int(math.Round(rep.ReturnRate*float64(rep.CompletedOrders))),
		FormatTime(now), id)
	if err != nil {
		return err
	}
	if ok, err := affected(res); err != nil {
		return err
	} else if !ok {
		return ErrNotFound
	}
	return nil
}

// Quarantine moves an active artisan into quarantine. It reports false when
// the artisan was not active.
func (r Repo) Quarantine(ctx context.Context, tx *sql.Tx, id string, until time.Time, reason string, now time.Time) (bool, error) {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE artisans SET status=?, quarantine_until=?, quarantine_reason=?, updated_at=? WHERE id=? AND status=?`,
		domain.ArtisanQuarantined, FormatTime(until), reason, FormatTime(now), id, domain.ArtisanActive)
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (r Repo) Reinstate(ctx context.Context, tx *sql.Tx, id string, now time.Time) (bool, error) {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE artisans SET status=?, quarantine_until=NULL, quarantine_reason=NULL, updated_at=? WHERE id=? AND status=?`,
		domain.ArtisanActive, FormatTime(now), id, domain.ArtisanQuarantined)
	if err != nil {
		return false, err
	}
	return affected(res)
}
