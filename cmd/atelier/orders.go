package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"atelier/internal/app"
	"atelier/internal/domain"
	"atelier/internal/engine"
	"atelier/internal/repo"
)

func productCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "product", Short: "Manage product pricing inputs"}
	var p domain.Product
	upsert := &cobra.Command{
		Use:   "upsert <id>",
		Short: "Create or update a product",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p.ID = args[0]
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				out, err := a.Engine.UpsertProduct(ctx, p, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(out)
			})
		},
	}
	upsert.Flags().StringVar(&p.BrandID, "brand", "", "brand id")
	upsert.Flags().StringVar(&p.Name, "name", "", "product name")
	upsert.Flags().Int64Var(&p.BaseCostCents, "base-cost-cents", 0, "material cost per unit")
	upsert.Flags().Int64Var(&p.BaseLaborCents, "base-labor-cents", 0, "labor cost per unit")
	_ = upsert.MarkFlagRequired("brand")
	cmd.AddCommand(upsert)
	return cmd
}

func orderCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "order", Short: "Manage orders"}
	var o domain.Order
	var zones string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an order awaiting routing",
		RunE: func(cmd *cobra.Command, args []string) error {
			o.PreferredZones = splitList(zones)
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				out, err := a.Engine.CreateOrder(ctx, o, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(out)
			})
		},
	}
	create.Flags().StringVar(&o.ID, "id", "", "order id (generated when empty)")
	create.Flags().StringVar(&o.BrandID, "brand", "", "brand id")
	create.Flags().StringVar(&o.ProductID, "product", "", "product id")
	create.Flags().StringVar(&o.Material, "material", "", "material")
	create.Flags().StringVar(&o.Technique, "technique", "", "technique")
	create.Flags().IntVar(&o.Quantity, "quantity", 1, "quantity")
	create.Flags().StringVar(&o.Urgency, "urgency", domain.UrgencyStandard, "urgency (standard, express)")
	create.Flags().Float64Var(&o.Size, "size", 0, "item size")
	create.Flags().Int64Var(&o.MaxPriceCents, "max-price-cents", 0, "price limit")
	create.Flags().IntVar(&o.MaxLeadTimeDays, "max-lead-days", 0, "lead time limit in days")
	create.Flags().StringVar(&zones, "zones", "", "comma-separated preferred zones")
	_ = create.MarkFlagRequired("brand")
	_ = create.MarkFlagRequired("product")

	var brandID string
	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Show an order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				out, err := a.Engine.GetOrder(ctx, brandID, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(out)
			})
		},
	}
	show.Flags().StringVar(&brandID, "brand", "", "brand id")
	cmd.AddCommand(create, show)
	return cmd
}

func routeCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "route", Short: "Match and assign orders to artisans"}
	cmd.AddCommand(routeFindCmd())
	cmd.AddCommand(routeAssignCmd())
	return cmd
}

func routeFindCmd() *cobra.Command {
	var brandID string
	var limit int
	cmd := &cobra.Command{
		Use:   "find <order-id>",
		Short: "Rank eligible artisans for an order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				criteria, err := a.Engine.CriteriaForOrder(ctx, brandID, args[0])
				if err != nil {
					return err
				}
				matches, err := a.Engine.FindBestArtisans(ctx, criteria, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(matches)
				}
				printMatches(matches)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&brandID, "brand", "", "brand id")
	cmd.Flags().IntVar(&limit, "limit", 0, "number of matches (config default when 0)")
	return cmd
}

func printMatches(matches []engine.Match) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Artisan", "Score", "Price", "Lead days", "Reasons"})
	for _, m := range matches {
		tw.AppendRow(table.Row{
			m.Artisan.ID,
			fmt.Sprintf("%.3f", m.Score),
			formatCents(m.Quote.PriceCents),
			m.Quote.LeadTimeDays,
			strings.Join(m.Reasons, "; "),
		})
	}
	tw.Render()
}

func routeAssignCmd() *cobra.Command {
	var in engine.RouteInput
	cmd := &cobra.Command{
		Use:   "assign <order-id> <artisan-id>",
		Short: "Assign an order to an artisan",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			in.OrderID, in.ArtisanID, in.ActorID = args[0], args[1], actorID()
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				res, err := a.Engine.RouteOrder(ctx, in)
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().StringVar(&in.BrandID, "brand", "", "brand id")
	cmd.Flags().Int64Var(&in.PriceCents, "price-cents", 0, "agreed price (derived quote when 0)")
	cmd.Flags().IntVar(&in.LeadTimeDays, "lead-days", 0, "agreed lead time (derived quote when 0)")
	return cmd
}

func workOrderCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "workorder", Aliases: []string{"wo"}, Short: "Manage work orders"}

	var f repo.WorkOrderFilter
	list := &cobra.Command{
		Use:   "list",
		Short: "List work orders",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.ListWorkOrders(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Order", "Artisan", "Status", "Deadline", "Payout", "Payout status"})
				for _, wo := range items {
					deadline := "-"
					if wo.SLADeadline != nil {
						deadline = wo.SLADeadline.Format("2006-01-02 15:04")
					}
					tw.AppendRow(table.Row{wo.ID, wo.OrderID, wo.ArtisanID, wo.Status, deadline, formatCents(wo.PayoutAmountCents), wo.PayoutStatus})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&f.BrandID, "brand", "", "filter by brand")
	list.Flags().StringVar(&f.ArtisanID, "artisan", "", "filter by artisan")
	list.Flags().StringVar(&f.Status, "status", "", "filter by status")
	list.Flags().StringVar(&f.PayoutStatus, "payout-status", "", "filter by payout status")

	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a work order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				wo, err := a.Engine.GetWorkOrder(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(wo)
			})
		},
	}

	transition := &cobra.Command{
		Use:   "transition <id> <status>",
		Short: "Advance a work order (accepted, in_progress, qc_pending, completed)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				wo, err := a.Engine.TransitionWorkOrder(ctx, args[0], args[1], actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(wo)
			})
		},
	}
	cmd.AddCommand(list, show, transition)
	return cmd
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func formatCents(c int64) string {
	sign := ""
	if c < 0 {
		sign, c = "-", -c
	}
	return fmt.Sprintf("%s%d.%02d", sign, c/100, c%100)
}
