package repo

import (
	"context"
	"database/sql"
	"time"

	sq "github.com/Masterminds/squirrel"

	"atelier/internal/domain"
)

var capabilityColumns = []string{"artisan_id", "material", "technique", "cost_multiplier", "lead_time_days", "min_size", "max_size"}

func scanCapability(row rowScanner) (domain.Capability, error) {
	var c domain.Capability
	var minSize, maxSize sql.NullFloat64
	if err := row.Scan(&c.ArtisanID, &c.Material, &c.Technique, &c.CostMultiplier, &c.LeadTimeDays, &minSize, &maxSize); err != nil {
		return c, err
	}
	c.MinSize = minSize.Float64
	c.MaxSize = maxSize.Float64
	return c, nil
}

// UpsertCapability adds a capability or replaces the one with the same
// material and technique.
func (r Repo) UpsertCapability(ctx context.Context, tx *sql.Tx, c domain.Capability) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO artisan_capabilities(artisan_id,material,technique,cost_multiplier,lead_time_days,min_size,max_size) VALUES (?,?,?,?,?,?,?)
		ON CONFLICT(artisan_id,material,technique) DO UPDATE SET cost_multiplier=excluded.cost_multiplier, lead_time_days=excluded.lead_time_days, min_size=excluded.min_size, max_size=excluded.max_size`,
		c.ArtisanID, c.Material, c.Technique, c.CostMultiplier, c.LeadTimeDays, nullableFloat(c.MinSize), nullableFloat(c.MaxSize))
	return err
}

func (r Repo) DeleteCapabilities(ctx context.Context, tx *sql.Tx, artisanID string) error {
	_, err := r.q(tx).ExecContext(ctx, `DELETE FROM artisan_capabilities WHERE artisan_id=?`, artisanID)
	return err
}

func (r Repo) ListCapabilities(ctx context.Context, tx *sql.Tx, artisanID string) ([]domain.Capability, error) {
	query, args, err := sq.Select(capabilityColumns...).From("artisan_capabilities").
		Where(sq.Eq{"artisan_id": artisanID}).OrderBy("material", "technique").ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := r.q(tx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Capability{}
	for rows.Next() {
		c, err := scanCapability(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

type CandidateFilter struct {
	Material  string
	Technique string
	Size      float64
	Zones     []string
	Now       time.Time
}

// Candidate pairs an eligible artisan with the capability that matched.
type Candidate struct {
	Artisan    domain.Artisan
	Capability domain.Capability
}

// ListCandidates returns active, verified artisans with spare capacity and a
// capability matching the filter. Quarantined artisans are excluded until
// their quarantine expires.
func (r Repo) ListCandidates(ctx context.Context, f CandidateFilter) ([]Candidate, error) {
	capCols := []string{"c.cost_multiplier", "c.lead_time_days", "c.min_size", "c.max_size"}
	b := sq.Select(append(prefixed("a", artisanColumns), capCols...)...).
		From("artisans a").
		Join("artisan_capabilities c ON c.artisan_id = a.id").
		Where(sq.Eq{
			"a.status":     domain.ArtisanActive,
			"a.kyc_status": domain.KYCVerified,
			"c.material":   f.Material,
			"c.technique":  f.Technique,
		}).
		Where("a.current_load < a.max_volume").
		Where(sq.Or{sq.Eq{"a.quarantine_until": nil}, sq.LtOrEq{"a.quarantine_until": FormatTime(f.Now)}}).
		OrderBy("a.id")
	if len(f.Zones) > 0 {
		b = b.Where(sq.Eq{"a.zone": f.Zones})
	}
	if f.Size > 0 {
		b = b.Where(sq.Or{sq.Eq{"c.min_size": nil}, sq.LtOrEq{"c.min_size": f.Size}}).
			Where(sq.Or{sq.Eq{"c.max_size": nil}, sq.GtOrEq{"c.max_size": f.Size}})
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
	var res []Candidate
	for rows.Next() {
		var c domain.Capability
		var minSize, maxSize sql.NullFloat64
		a, err := scanArtisan(rows, &c.CostMultiplier, &c.LeadTimeDays, &minSize, &maxSize)
		if err != nil {
			return nil, err
		}
		c.ArtisanID = a.ID
		c.Material = f.Material
		c.Technique = f.Technique
		c.MinSize = minSize.Float64
		c.MaxSize = maxSize.Float64
		res = append(res, Candidate{Artisan: a, Capability: c})
	}
	return res, rows.Err()
}
