package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"atelier/internal/app"
	"atelier/internal/db"
)

var rootCmd = &cobra.Command{
	Use:   "atelier",
	Short: "Atelier fulfillment CLI",
	Long: `Atelier routes marketplace orders to artisans and settles their payouts.
Core concepts:
- Artisans: verified fulfillment partners with capabilities (material + technique), capacity and a service tier.
- Routing: orders are matched against eligible artisans and scored on quality, cost, lead time and performance.
- Work orders: an order assigned to one artisan; statuses go assigned -> accepted -> in_progress -> qc_pending -> completed.
- Quality control: inspections feed the artisan's reputation; poor metrics put the artisan in quarantine.
- SLA: deadlines carry tier-based late penalties and early-delivery bonuses.
- Payouts: completed work orders are paid through a connected payout account on the artisan's schedule.
- Event log: every change is recorded, view with 'atelier log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		stop()
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("ATELIER")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().String("config", "", "config file (default <workspace>/atelier.yml)")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(artisanCmd())
	rootCmd.AddCommand(productCmd())
	rootCmd.AddCommand(orderCmd())
	rootCmd.AddCommand(routeCmd())
	rootCmd.AddCommand(workOrderCmd())
	rootCmd.AddCommand(qcCmd())
	rootCmd.AddCommand(slaCmd())
	rootCmd.AddCommand(payoutCmd())
	rootCmd.AddCommand(connectCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(schedulerCmd())
}

func openApp(ctx context.Context, tracing bool) (*app.App, error) {
	return app.Open(ctx, app.Options{
		Workspace:  viper.GetString("workspace"),
		ConfigPath: viper.GetString("config"),
		LogLevel:   viper.GetString("log-level"),
		Tracing:    tracing,
	})
}

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	a, err := openApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())
	return fn(ctx, a)
}

func actorID() string {
	return viper.GetString("actor-id")
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func optionalString(cmd *cobra.Command, name, value string) *string {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	return &value
}

func optionalInt(cmd *cobra.Command, name string, value int) *int {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	return &value
}
