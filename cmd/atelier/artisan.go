package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"atelier/internal/app"
	"atelier/internal/domain"
	"atelier/internal/engine"
	"atelier/internal/repo"
)

func artisanCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "artisan", Short: "Manage artisans"}
	cmd.AddCommand(artisanCreateCmd())
	cmd.AddCommand(artisanShowCmd())
	cmd.AddCommand(artisanListCmd())
	cmd.AddCommand(artisanVerifyCmd())
	cmd.AddCommand(artisanStatusCmd())
	cmd.AddCommand(artisanSettingsCmd())
	cmd.AddCommand(capabilityCmd())
	cmd.AddCommand(reputationCmd())
	cmd.AddCommand(artisanStatsCmd())
	cmd.AddCommand(quarantineCheckCmd())
	return cmd
}

func artisanCreateCmd() *cobra.Command {
	var opts engine.ArtisanCreateOptions
	var tier, schedule string
	var material, technique string
	var multiplier float64
	var leadDays int
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Onboard an artisan (inactive until KYC is verified)",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ServiceTier = tier
			opts.PayoutSchedule = schedule
			opts.ActorID = actorID()
			if material != "" || technique != "" {
				opts.Capabilities = []domain.Capability{{
					Material: material, Technique: technique, CostMultiplier: multiplier, LeadTimeDays: leadDays,
				}}
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				art, err := a.Engine.CreateArtisan(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(art)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "artisan id (generated when empty)")
	cmd.Flags().StringVar(&opts.UserID, "user", "", "owning user id")
	cmd.Flags().StringVar(&opts.BrandID, "brand", "", "brand id (empty for marketplace-wide)")
	cmd.Flags().StringVar(&opts.BusinessName, "name", "", "business name")
	cmd.Flags().StringVar(&opts.Email, "email", "", "contact email")
	cmd.Flags().StringVar(&opts.Country, "country", "", "ISO country code")
	cmd.Flags().StringVar(&opts.Zone, "zone", "", "fulfillment zone")
	cmd.Flags().IntVar(&opts.MaxVolume, "max-volume", 0, "concurrent work order capacity")
	cmd.Flags().IntVar(&opts.AverageLeadTime, "lead-time", 0, "average lead time in days")
	cmd.Flags().Int64Var(&opts.MinOrderValueCents, "min-order-cents", 0, "minimum order value")
	cmd.Flags().StringVar(&tier, "tier", "", "service tier (basic, standard, premium, enterprise)")
	cmd.Flags().StringVar(&schedule, "schedule", "", "payout schedule (daily, weekly, bi-weekly, monthly, manual)")
	cmd.Flags().StringVar(&material, "material", "", "initial capability material")
	cmd.Flags().StringVar(&technique, "technique", "", "initial capability technique")
	cmd.Flags().Float64Var(&multiplier, "cost-multiplier", 1, "initial capability cost multiplier")
	cmd.Flags().IntVar(&leadDays, "lead-days", 7, "initial capability lead time in days")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func artisanShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show an artisan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				art, err := a.Engine.GetArtisan(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(art)
			})
		},
	}
}

func artisanListCmd() *cobra.Command {
	var f repo.ArtisanFilter
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List artisans",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.ListArtisans(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Status", "Tier", "Load", "Quality", "On-time", "Defects"})
				for _, art := range items {
					rep := art.Reputation
					tw.AppendRow(table.Row{
						art.ID, art.BusinessName, art.Status, art.ServiceTier,
						fmt.Sprintf("%d/%d", art.CurrentLoad, art.MaxVolume),
						fmt.Sprintf("%.2f", rep.QualityScore),
						fmt.Sprintf("%.0f%%", rep.OnTimeDeliveryRate*100),
						fmt.Sprintf("%.1f%%", rep.DefectRate*100),
					})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.BrandID, "brand", "", "filter by brand")
	cmd.Flags().StringVar(&f.Status, "status", "", "filter by status")
	cmd.Flags().StringVar(&f.Zone, "zone", "", "filter by zone")
	return cmd
}

func artisanVerifyCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "verify <id>",
		Short: "Record the KYC outcome",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				art, err := a.Engine.VerifyArtisan(ctx, args[0], status, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(art)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", domain.KYCVerified, "KYC status (pending, verified, rejected)")
	return cmd
}

func artisanStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <id> <active|suspended|inactive>",
		Short: "Change an artisan's status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				art, err := a.Engine.SetArtisanStatus(ctx, args[0], args[1], actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(art)
			})
		},
	}
}

func artisanSettingsCmd() *cobra.Command {
	var tier, schedule, zone string
	var maxVolume, leadTime int
	var minOrder int64
	cmd := &cobra.Command{
		Use:   "settings <id>",
		Short: "Update capacity, tier, schedule or zone",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s := repo.ArtisanSettings{
				MaxVolume:       optionalInt(cmd, "max-volume", maxVolume),
				AverageLeadTime: optionalInt(cmd, "lead-time", leadTime),
				ServiceTier:     optionalString(cmd, "tier", tier),
				PayoutSchedule:  optionalString(cmd, "schedule", schedule),
				Zone:            optionalString(cmd, "zone", zone),
			}
			if cmd.Flags().Changed("min-order-cents") {
				s.MinOrderValueCents = &minOrder
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				art, err := a.Engine.UpdateArtisanSettings(ctx, args[0], s, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(art)
			})
		},
	}
	cmd.Flags().IntVar(&maxVolume, "max-volume", 0, "concurrent work order capacity")
	cmd.Flags().IntVar(&leadTime, "lead-time", 0, "average lead time in days")
	cmd.Flags().Int64Var(&minOrder, "min-order-cents", 0, "minimum order value")
	cmd.Flags().StringVar(&tier, "tier", "", "service tier")
	cmd.Flags().StringVar(&schedule, "schedule", "", "payout schedule")
	cmd.Flags().StringVar(&zone, "zone", "", "fulfillment zone")
	return cmd
}

func capabilityCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "capability", Short: "Manage artisan capabilities"}
	cmd.AddCommand(capabilityAddCmd())
	cmd.AddCommand(capabilityListCmd())
	return cmd
}

func capabilityAddCmd() *cobra.Command {
	var c domain.Capability
	cmd := &cobra.Command{
		Use:   "add <artisan-id>",
		Short: "Add a material and technique",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				art, err := a.Engine.AddCapability(ctx, args[0], c, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(art.Capabilities)
			})
		},
	}
	cmd.Flags().StringVar(&c.Material, "material", "", "material")
	cmd.Flags().StringVar(&c.Technique, "technique", "", "technique")
	cmd.Flags().Float64Var(&c.CostMultiplier, "cost-multiplier", 1, "cost multiplier")
	cmd.Flags().IntVar(&c.LeadTimeDays, "lead-days", 7, "lead time in days")
	cmd.Flags().Float64Var(&c.MinSize, "min-size", 0, "minimum size (0 for open)")
	cmd.Flags().Float64Var(&c.MaxSize, "max-size", 0, "maximum size (0 for open)")
	_ = cmd.MarkFlagRequired("material")
	_ = cmd.MarkFlagRequired("technique")
	return cmd
}

func capabilityListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <artisan-id>",
		Short: "List capabilities",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				art, err := a.Engine.GetArtisan(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(art.Capabilities)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Material", "Technique", "Multiplier", "Lead days", "Size"})
				for _, c := range art.Capabilities {
					tw.AppendRow(table.Row{c.Material, c.Technique, c.CostMultiplier, c.LeadTimeDays, sizeRange(c)})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func sizeRange(c domain.Capability) string {
	switch {
	case c.MinSize == 0 && c.MaxSize == 0:
		return "any"
	case c.MaxSize == 0:
		return fmt.Sprintf(">= %g", c.MinSize)
	default:
		return fmt.Sprintf("%g-%g", c.MinSize, c.MaxSize)
	}
}

func reputationCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "reputation", Short: "Manage reputation metrics"}
	var rep domain.Reputation
	seed := &cobra.Command{
		Use:   "seed <artisan-id>",
		Short: "Overwrite reputation metrics (backfill from another system)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				art, err := a.Engine.SeedReputation(ctx, args[0], rep, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(art.Reputation)
			})
		},
	}
	seed.Flags().Float64Var(&rep.QualityScore, "quality", 5, "quality score (0-5)")
	seed.Flags().Float64Var(&rep.DefectRate, "defect-rate", 0, "defect rate (0-1)")
	seed.Flags().Float64Var(&rep.ReturnRate, "return-rate", 0, "return rate (0-1)")
	seed.Flags().Float64Var(&rep.OnTimeDeliveryRate, "on-time-rate", 1, "on-time delivery rate (0-1)")
	seed.Flags().IntVar(&rep.TotalOrders, "total-orders", 0, "total orders")
	seed.Flags().IntVar(&rep.CompletedOrders, "completed-orders", 0, "completed orders")
	cmd.AddCommand(seed)
	return cmd
}

func artisanStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats <id>",
		Short: "Show quality statistics and recent inspections",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				stats, err := a.Engine.GetArtisanQCStats(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(stats)
			})
		},
	}
}

func quarantineCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "quarantine-check <id>",
		Short: "Re-evaluate quarantine thresholds",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				d, err := a.Engine.CheckQuarantine(ctx, args[0], actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
}
