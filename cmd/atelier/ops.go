package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"atelier/internal/app"
	"atelier/internal/engine"
	"atelier/internal/repo"
)

func qcCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "qc", Short: "Quality control"}

	var in engine.QCReportInput
	report := &cobra.Command{
		Use:   "report <work-order-id>",
		Short: "Record an inspection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in.WorkOrderID = args[0]
			in.ActorID = actorID()
			if in.InspectorID == "" {
				in.InspectorID = in.ActorID
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				r, err := a.Engine.CreateQCReport(ctx, in)
				if err != nil {
					return err
				}
				return printJSONOrTable(r)
			})
		},
	}
	report.Flags().Float64Var(&in.OverallScore, "score", 0, "overall score (0-10)")
	report.Flags().BoolVar(&in.Passed, "passed", false, "inspection passed")
	report.Flags().StringSliceVar(&in.Issues, "issue", nil, "issue found (repeatable)")
	report.Flags().StringSliceVar(&in.Recommendations, "recommendation", nil, "recommendation (repeatable)")
	report.Flags().StringVar(&in.InspectorID, "inspector", "", "inspector id (defaults to actor)")
	_ = report.MarkFlagRequired("score")

	var reason string
	ret := &cobra.Command{
		Use:   "return <work-order-id>",
		Short: "Record a customer return",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				d, err := a.Engine.RecordReturn(ctx, args[0], reason, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	ret.Flags().StringVar(&reason, "reason", "", "return reason")
	cmd.AddCommand(report, ret)
	return cmd
}

func slaCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "sla", Short: "SLA enforcement"}
	evaluate := &cobra.Command{
		Use:   "evaluate <work-order-id>",
		Short: "Evaluate one work order's SLA",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				rec, err := a.Engine.EvaluateSLA(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(rec)
			})
		},
	}
	sweep := &cobra.Command{
		Use:   "sweep",
		Short: "Evaluate every open SLA",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				sum, err := a.Engine.EvaluateAllActiveSLAs(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(sum)
			})
		},
	}
	apply := &cobra.Command{
		Use:   "apply <payout-id>",
		Short: "Fold SLA penalties and bonuses into a pending payout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := a.Engine.ApplySLAToPayout(ctx, args[0], actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.AddCommand(evaluate, sweep, apply)
	return cmd
}

func payoutCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "payout", Short: "Artisan payouts"}

	var workOrders []string
	create := &cobra.Command{
		Use:   "create <artisan-id>",
		Short: "Pay out completed work orders",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := a.Engine.CreatePayout(ctx, args[0], workOrders, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	create.Flags().StringSliceVar(&workOrders, "work-order", nil, "work order id (repeatable; all pending when omitted)")

	var f repo.PayoutFilter
	list := &cobra.Command{
		Use:   "list",
		Short: "List payouts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.ListPayouts(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Artisan", "Status", "Amount", "Fees", "Net", "Transfer", "Reason"})
				for _, p := range items {
					tw.AppendRow(table.Row{
						p.ID, p.ArtisanID, p.Status, formatCents(p.AmountCents),
						formatCents(p.FeesCents), formatCents(p.NetAmountCents), p.ExternalTransferID, p.FailureReason,
					})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&f.ArtisanID, "artisan", "", "filter by artisan")
	list.Flags().StringVar(&f.Status, "status", "", "filter by status")

	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a payout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := a.Engine.GetPayout(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}

	var at string
	run := &cobra.Command{
		Use:   "run-scheduled",
		Short: "Create payouts for artisans due on their schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			now := time.Now().UTC()
			if at != "" {
				parsed, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("--at must be RFC 3339: %w", err)
				}
				now = parsed
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				sum, err := a.Engine.ProcessScheduledPayouts(ctx, now)
				if err != nil {
					return err
				}
				return printJSONOrTable(sum)
			})
		},
	}
	run.Flags().StringVar(&at, "at", "", "evaluate schedules at this time (RFC 3339)")

	retry := &cobra.Command{
		Use:   "retry",
		Short: "Resubmit stale pending payouts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				sum, err := a.Engine.RetryPendingPayouts(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(sum)
			})
		},
	}
	cmd.AddCommand(create, list, show, run, retry)
	return cmd
}

func connectCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "connect", Short: "Payout account onboarding"}

	var email, country string
	create := &cobra.Command{
		Use:   "create <user-id>",
		Short: "Create the user's payout account and print an onboarding link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				res, err := a.Engine.CreateSellerConnectAccount(ctx, args[0], email, engine.ConnectAccountOptions{
					Country: country, ActorID: actorID(),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	create.Flags().StringVar(&email, "email", "", "account email (defaults to the artisan's)")
	create.Flags().StringVar(&country, "country", "", "account country (defaults to the artisan's)")

	status := &cobra.Command{
		Use:   "status <user-id>",
		Short: "Show payout account status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				st, err := a.Engine.GetSellerConnectStatus(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(st)
			})
		},
	}
	cmd.AddCommand(create, status)
	return cmd
}

func logCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "log", Short: "Event log"}
	var n int
	var f repo.EventFilter
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				events, err := a.Engine.Repo.LatestEvents(ctx, n, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				for _, e := range events {
					fmt.Printf("%d %s %s %s/%s by %s %s\n", e.ID, e.TS, e.Type, e.EntityKind, e.EntityID, e.ActorID, e.Payload)
				}
				return nil
			})
		},
	}
	tail.Flags().IntVarP(&n, "n", "n", 20, "number of events")
	tail.Flags().StringVar(&f.BrandID, "brand", "", "filter by brand")
	tail.Flags().StringVar(&f.Type, "type", "", "filter by event type")
	tail.Flags().StringVar(&f.EntityKind, "entity-kind", "", "filter by entity kind")
	tail.Flags().StringVar(&f.EntityID, "entity-id", "", "filter by entity id")
	cmd.AddCommand(tail)
	return cmd
}
