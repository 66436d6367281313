package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"atelier/internal/app"
	"atelier/internal/config"
	"atelier/internal/scheduler"
	"atelier/internal/server"
)

func serveCmd() *cobra.Command {
	var addr, basePath string
	var devLogin, withScheduler bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, true)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())
			authCfg := server.AuthConfig{JWTSecret: a.Env.JWTSecret, DevLogin: devLogin, Logger: a.Logger}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("ATELIER_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{
				Engine:        a.Engine,
				BasePath:      basePath,
				Auth:          authCfg,
				WebhookSecret: a.Env.StripeWebhookSecret,
				Logger:        a.Logger,
			})
			if err != nil {
				return err
			}
			if withScheduler {
				s := scheduler.New(a.Engine)
				go func() {
					if err := s.Run(ctx); err != nil {
						a.Logger.Error("scheduler stopped", "err", err)
					}
				}()
			}
			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()
			a.Logger.Info("serving atelier API", "addr", addr, "base_path", basePath, "scheduler", withScheduler)
			fmt.Printf("Serving atelier API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	cmd.Flags().BoolVar(&devLogin, "dev-login", false, "expose POST /auth/dev/login (local testing only)")
	cmd.Flags().BoolVar(&withScheduler, "scheduler", false, "run the background jobs in this process")
	return cmd
}

func schedulerCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "scheduler", Short: "Background jobs (SLA sweep, payout run, payout retry)"}
	run := &cobra.Command{
		Use:   "run",
		Short: "Run all jobs until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())
			s := scheduler.New(a.Engine)
			if err := s.Run(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	once := &cobra.Command{
		Use:   "once <job>",
		Short: "Run one job now if no other process holds its lease",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				s := scheduler.New(a.Engine)
				ran, err := s.RunOnce(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"job": args[0], "ran": ran})
				}
				if !ran {
					fmt.Printf("%s skipped: lease held by another process\n", args[0])
					return nil
				}
				fmt.Printf("%s done\n", args[0])
				return nil
			})
		},
	}
	once.Long = "Jobs: " + strings.Join([]string{scheduler.JobSLASweep, scheduler.JobPayoutRun, scheduler.JobPayoutRetry}, ", ")
	cmd.AddCommand(run, once)
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Workspace configuration"}
	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default atelier.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	show := &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return printJSONOrTable(a.Engine.Config)
			})
		},
	}
	validate := &cobra.Command{
		Use:   "validate",
		Short: "Validate config",
		RunE: func(cmd *cobra.Command, args []string) error {
			err := withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return a.Engine.Config.Validate()
			})
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	cmd.AddCommand(initCmd, show, validate)
	return cmd
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "token", Short: "API tokens"}
	var brandID string
	var roles []string
	var ttl time.Duration
	mint := &cobra.Command{
		Use:   "mint <actor-id>",
		Short: "Sign a bearer token with ATELIER_JWT_SECRET",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := config.ParseEnv()
			if err != nil {
				return err
			}
			if env.JWTSecret == "" {
				return fmt.Errorf("ATELIER_JWT_SECRET is required")
			}
			tok, err := server.SignToken(env.JWTSecret, args[0], brandID, roles, ttl)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]string{"token": tok})
			}
			fmt.Println(tok)
			return nil
		},
	}
	mint.Flags().StringVar(&brandID, "brand", "", "brand claim")
	mint.Flags().StringSliceVar(&roles, "role", nil, "role (repeatable: admin, brand, artisan, inspector, finance)")
	mint.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = mint.MarkFlagRequired("role")
	cmd.AddCommand(mint)
	return cmd
}
