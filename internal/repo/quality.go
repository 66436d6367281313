package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"atelier/internal/domain"
)

func (r Repo) InsertQualityReport(ctx context.Context, tx *sql.Tx, q domain.QualityReport) error {
	issues, err := marshalStrings(q.Issues)
	if err != nil {
		return err
	}
	recs, err := marshalStrings(q.Recommendations)
	if err != nil {
		return err
	}
	_, err = r.q(tx).ExecContext(ctx, `INSERT INTO quality_reports(id,work_order_id,artisan_id,inspector_id,overall_score,issues_json,recommendations_json,passed,created_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		q.ID, q.WorkOrderID, q.ArtisanID, nullable(q.InspectorID), q.OverallScore, issues, recs, boolInt(q.Passed), FormatTime(q.CreatedAt))
	return err
}

// RecentQualityReports returns up to limit reports for an artisan, newest first.
func (r Repo) RecentQualityReports(ctx context.Context, artisanID string, limit int) ([]domain.QualityReport, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,work_order_id,artisan_id,inspector_id,overall_score,issues_json,recommendations_json,passed,created_at FROM quality_reports WHERE artisan_id=? ORDER BY created_at DESC, id DESC LIMIT ?`,
		artisanID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.QualityReport{}
	for rows.Next() {
		var q domain.QualityReport
		var inspector sql.NullString
		var issues, recs, created string
		if err := rows.Scan(&q.ID, &q.WorkOrderID, &q.ArtisanID, &inspector, &q.OverallScore, &issues, &recs, &q.Passed, &created); err != nil {
			return nil, err
		}
		q.InspectorID = inspector.String
		if err := json.Unmarshal([]byte(issues), &q.Issues); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(recs), &q.Recommendations); err != nil {
			return nil, err
		}
		if q.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		res = append(res, q)
	}
	return res, rows.Err()
}

// InsertReturn records a customer return. A second return for the same work
// order yields ErrDuplicate.
func (r Repo) InsertReturn(ctx context.Context, tx *sql.Tx, id, workOrderID, artisanID, reason string, now time.Time) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO work_order_returns(id,work_order_id,artisan_id,reason,created_at) VALUES (?,?,?,?,?)`,
		id, workOrderID, artisanID, nullable(reason), FormatTime(now))
	if err != nil && strings.Contains(err.Error(), "UNIQUE") {
		return ErrDuplicate
	}
	return err
}
