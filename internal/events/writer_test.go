package events

import (
	"context"
	"testing"
	"time"

	"atelier/internal/db"
	"atelier/internal/migrate"
)

func TestAppendDefaultsAndOrdering(t *testing.T) {
	ctx := context.Background()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()
	if err := migrate.Migrate(ctx, conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	now := time.Date(2024, 3, 1, 9, 30, 0, 123456000, time.UTC)
	w := Writer{DB: conn, Now: func() time.Time { return now }}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()
	if err := w.Append(ctx, tx, Entry{Type: "artisan.create", EntityKind: "artisan", EntityID: "a1"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := w.Append(ctx, tx, Entry{Type: "", EntityKind: "artisan"}); err == nil {
		t.Fatalf("expected error for missing type")
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	var ts, actor, payload string
	var brand any
	err = conn.QueryRow(`SELECT ts, actor_id, payload_json, brand_id FROM events WHERE entity_id='a1'`).Scan(&ts, &actor, &payload, &brand)
	if err != nil {
		t.Fatalf("read event: %v", err)
	}
	if ts != "2024-03-01T09:30:00.123456Z" || actor != SystemActor || payload != "{}" || brand != nil {
		t.Fatalf("unexpected row ts=%s actor=%s payload=%s brand=%v", ts, actor, payload, brand)
	}

	if err := w.Append(ctx, nil, Entry{Type: "x", EntityKind: "y"}); err == nil {
		t.Fatalf("expected error without a transaction")
	}
}
