// Package app wires the workspace database, configuration, environment and
// payment rail into an engine for the CLI commands.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"atelier/internal/config"
	"atelier/internal/db"
	"atelier/internal/engine"
	"atelier/internal/logging"
	"atelier/internal/migrate"
	"atelier/internal/payments"
	"atelier/internal/telemetry"
)

type Options struct {
	Workspace string
	// ConfigPath overrides <workspace>/atelier.yml.
	ConfigPath string
	// LogLevel overrides ATELIER_LOG_LEVEL when set.
	LogLevel string
	// Tracing installs the OTLP exporter when ATELIER_OTEL_ENDPOINT is set.
	Tracing bool
}

type App struct {
	Engine engine.Engine
	DB     *sql.DB
	Env    config.Env
	Logger *slog.Logger

	shutdown func(context.Context) error
}

// Open prepares the workspace: it migrates the database, loads config and
// environment, and builds the Stripe rail when a secret key is configured.
func Open(ctx context.Context, opts Options) (*App, error) {
	env, err := config.ParseEnv()
	if err != nil {
		return nil, err
	}
	level := env.LogLevel
	if opts.LogLevel != "" {
		level = opts.LogLevel
	}
	logger := logging.New(level)

	var cfg *config.Config
	if opts.ConfigPath != "" {
		cfg, err = config.FromFile(opts.ConfigPath)
	} else {
		cfg, err = config.Load(opts.Workspace)
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	conn, err := db.Open(db.Config{Workspace: opts.Workspace})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := migrate.Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	shutdown := func(context.Context) error { return nil }
	if opts.Tracing {
		if shutdown, err = telemetry.Setup(ctx, env.OTelEndpoint); err != nil {
			logger.Warn("tracing disabled", "err", err)
		}
	}

	var rail payments.Rail
	if env.StripeSecretKey != "" {
		rail = payments.NewStripeRail(env.StripeSecretKey, cfg.TransferTimeout())
	} else {
		logger.Debug("no stripe key configured; payout and connect operations are unavailable")
	}
	e := engine.New(conn, cfg, rail, logger)
	e.Env = env
	return &App{Engine: e, DB: conn, Env: env, Logger: logger, shutdown: shutdown}, nil
}

// Close flushes traces and closes the database.
func (a *App) Close(ctx context.Context) error {
	return errors.Join(a.shutdown(ctx), a.DB.Close())
}
