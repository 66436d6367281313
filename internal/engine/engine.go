package engine

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"atelier/internal/config"
	"atelier/internal/events"
	"atelier/internal/payments"
	"atelier/internal/repo"
	"atelier/internal/telemetry"
)

type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Config   *config.Config
	Payments payments.Rail
	Env      config.Env
	Logger   *slog.Logger
	Now      func() time.Time
}

func New(db *sql.DB, cfg *config.Config, rail payments.Rail, logger *slog.Logger) Engine {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return Engine{
		DB:       db,
		Repo:     repo.Repo{DB: db},
		Events:   events.Writer{DB: db},
		Config:   cfg,
		Payments: rail,
		Logger:   logger,
		Now:      time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func (e Engine) log() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e Engine) appendEvent(ctx context.Context, tx *sql.Tx, evtType, brandID, entityKind, entityID, actorID string, payload events.EventPayload) error {
	w := e.Events
	w.Now = e.now
	return w.Append(ctx, tx, events.Entry{
		Type:       evtType,
		BrandID:    brandID,
		EntityKind: entityKind,
		EntityID:   entityID,
		ActorID:    actorID,
		Payload:    payload,
	})
}

func (e Engine) ready() error {
	if e.Config == nil {
		return errors.New("config not loaded")
	}
	return nil
}

func (e Engine) rail() (payments.Rail, error) {
	if e.Payments == nil {
		return nil, errors.New("payment rail not configured")
	}
	return e.Payments, nil
}

// span starts an engine span. Call end with the operation's error.
func (e Engine) span(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	ctx, sp := telemetry.Tracer("atelier/engine").Start(ctx, name, trace.WithAttributes(attrs...))
	return ctx, func(err error) {
		if err != nil {
			sp.RecordError(err)
			sp.SetStatus(codes.Error, string(KindOf(err)))
		}
		sp.End()
	}
}
