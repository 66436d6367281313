package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const SystemActor = "system"

// tsLayout matches the repo timestamp layout so events sort with the rows
// they describe.
const tsLayout = "2006-01-02T15:04:05.000000Z07:00"

type EventPayload map[string]any

// Entry is one audit record. Type and EntityKind are required; an empty
// BrandID marks a marketplace-wide event.
type Entry struct {
	Type       string
	BrandID    string
	EntityKind string
	EntityID   string
	ActorID    string
	Payload    EventPayload
}

// Writer appends audit events inside the caller's transaction so the log and
// the state change commit together.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

func (w Writer) Append(ctx context.Context, tx *sql.Tx, e Entry) error {
	if tx == nil {
		return errors.New("append event: transaction required")
	}
	if e.Type == "" || e.EntityKind == "" {
		return fmt.Errorf("append event: type and entity kind required (got %q, %q)", e.Type, e.EntityKind)
	}
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	actor := e.ActorID
	if actor == "" {
		actor = SystemActor
	}
	payload := e.Payload
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", e.Type, err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,brand_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		now().UTC().Format(tsLayout), e.Type, orNull(e.BrandID), e.EntityKind, orNull(e.EntityID), actor, string(data))
	if err != nil {
		return fmt.Errorf("insert %s event: %w", e.Type, err)
	}
	return nil
}

func orNull(v string) any {
	if v == "" {
		return nil
	}
	return v
}
