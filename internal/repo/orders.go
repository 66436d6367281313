package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"atelier/internal/domain"
)

func (r Repo) UpsertProduct(ctx context.Context, tx *sql.Tx, p domain.Product) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO products(id,brand_id,name,base_cost_cents,base_labor_cents) VALUES (?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET name=excluded.name, base_cost_cents=excluded.base_cost_cents, base_labor_cents=excluded.base_labor_cents`,
		p.ID, p.BrandID, p.Name, p.BaseCostCents, p.BaseLaborCents)
	return err
}

func (r Repo) GetProduct(ctx context.Context, tx *sql.Tx, id string) (domain.Product, error) {
	var p domain.Product
	err := r.q(tx).QueryRowContext(ctx, `SELECT id,brand_id,name,base_cost_cents,base_labor_cents FROM products WHERE id=?`, id).
		Scan(&p.ID, &p.BrandID, &p.Name, &p.BaseCostCents, &p.BaseLaborCents)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

func (r Repo) InsertOrder(ctx context.Context, tx *sql.Tx, o domain.Order) error {
	zones, err := marshalStrings(o.PreferredZones)
	if err != nil {
		return err
	}
	_, err = r.q(tx).ExecContext(ctx, `INSERT INTO orders(id,brand_id,product_id,material,technique,quantity,urgency,size,max_price_cents,max_lead_time_days,preferred_zones_json,status,created_at) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		o.ID, o.BrandID, o.ProductID, o.Material, o.Technique, o.Quantity, o.Urgency, nullableFloat(o.Size),
		nullableInt(o.MaxPriceCents), nullableInt(int64(o.MaxLeadTimeDays)), zones, o.Status, FormatTime(o.CreatedAt))
	if err != nil && strings.Contains(err.Error(), "UNIQUE") {
		return ErrDuplicate
	}
	return err
}

// GetOrder loads an order scoped to its brand. An order owned by another
// brand is reported as not found.
func (r Repo) GetOrder(ctx context.Context, tx *sql.Tx, brandID, id string) (domain.Order, error) {
	b := sq.Select("id", "brand_id", "product_id", "material", "technique", "quantity", "urgency", "size",
		"max_price_cents", "max_lead_time_days", "preferred_zones_json", "status", "created_at").
		From("orders").Where(sq.Eq{"id": id})
	if brandID != "" {
		b = b.Where(sq.Eq{"brand_id": brandID})
	}
	query, args, err := b.ToSql()
	if err != nil {
		return domain.Order{}, err
	}
	var o domain.Order
	var size sql.NullFloat64
	var maxPrice, maxLead sql.NullInt64
	var zones sql.NullString
	var created string
	err = r.q(tx).QueryRowContext(ctx, query, args...).Scan(&o.ID, &o.BrandID, &o.ProductID, &o.Material, &o.Technique,
		&o.Quantity, &o.Urgency, &size, &maxPrice, &maxLead, &zones, &o.Status, &created)
	if err == sql.ErrNoRows {
		return o, ErrNotFound
	}
	if err != nil {
		return o, err
	}
	o.Size = size.Float64
	o.MaxPriceCents = maxPrice.Int64
	o.MaxLeadTimeDays = int(maxLead.Int64)
	if o.PreferredZones, err = unmarshalStrings(zones); err != nil {
		return o, err
	}
	o.CreatedAt, err = parseTime(created)
	return o, err
}

func (r Repo) SetOrderStatus(ctx context.Context, tx *sql.Tx, id, status string) error {
	_, err := r.q(tx).ExecContext(ctx, `UPDATE orders SET status=? WHERE id=?`, status, id)
	return err
}

func (r Repo) InsertQuote(ctx context.Context, tx *sql.Tx, q domain.Quote) error {
	breakdown, err := json.Marshal(q.Breakdown)
	if err != nil {
		return err
	}
	_, err = r.q(tx).ExecContext(ctx, `INSERT INTO quotes(id,order_id,artisan_id,price_cents,lead_time_days,breakdown_json,overall_score,status,created_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		q.ID, q.OrderID, q.ArtisanID, q.PriceCents, q.LeadTimeDays, string(breakdown), q.OverallScore, q.Status, FormatTime(q.CreatedAt))
	return err
}

func (r Repo) GetQuote(ctx context.Context, tx *sql.Tx, id string) (domain.Quote, error) {
	var q domain.Quote
	var breakdown, created string
	err := r.q(tx).QueryRowContext(ctx, `SELECT id,order_id,artisan_id,price_cents,lead_time_days,breakdown_json,overall_score,status,created_at FROM quotes WHERE id=?`, id).
		Scan(&q.ID, &q.OrderID, &q.ArtisanID, &q.PriceCents, &q.LeadTimeDays, &breakdown, &q.OverallScore, &q.Status, &created)
	if err == sql.ErrNoRows {
		return q, ErrNotFound
	}
	if err != nil {
		return q, err
	}
	if err := json.Unmarshal([]byte(breakdown), &q.Breakdown); err != nil {
		return q, err
	}
	q.CreatedAt, err = parseTime(created)
	return q, err
}

func nullableInt(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}

