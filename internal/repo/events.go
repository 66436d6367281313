package repo

import (
	"context"
	"database/sql"

	sq "github.com/Masterminds/squirrel"

	"atelier/internal/domain"
)

type EventFilter struct {
	BrandID    string
	Type       string
	EntityKind string
	EntityID   string
	Before     int64
}

// LatestEvents returns up to limit events matching the filter, newest first.
func (r Repo) LatestEvents(ctx context.Context, limit int, f EventFilter) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	b := sq.Select("id", "ts", "type", "brand_id", "entity_kind", "entity_id", "actor_id", "payload_json").
		From("events").OrderBy("id DESC").Limit(uint64(limit))
	eq := sq.Eq{}
	if f.BrandID != "" {
		eq["brand_id"] = f.BrandID
	}
	if f.Type != "" {
		eq["type"] = f.Type
	}
	if f.EntityKind != "" {
		eq["entity_kind"] = f.EntityKind
	}
	if f.EntityID != "" {
		eq["entity_id"] = f.EntityID
	}
	if len(eq) > 0 {
		b = b.Where(eq)
	}
	if f.Before > 0 {
		b = b.Where(sq.Lt{"id": f.Before})
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
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var brand, entityID sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &brand, &e.EntityKind, &entityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		e.BrandID = brand.String
		e.EntityID = entityID.String
		res = append(res, e)
	}
	return res, rows.Err()
}
