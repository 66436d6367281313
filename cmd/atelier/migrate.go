package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"atelier/internal/db"
	"atelier/internal/migrate"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "migrate", Short: "Database schema"}
	status := &cobra.Command{
		Use:   "status",
		Short: "Show the schema version and pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := db.Open(db.Config{Workspace: viper.GetString("workspace")})
			if err != nil {
				return err
			}
			defer conn.Close()
			st, err := migrate.CurrentStatus(cmd.Context(), conn)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]int{"current": st.Current, "latest": st.Latest, "pending": st.Pending()})
			}
			fmt.Printf("schema %d of %d (%d pending)\n", st.Current, st.Latest, st.Pending())
			return nil
		},
	}
	up := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := db.Open(db.Config{Workspace: viper.GetString("workspace")})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(cmd.Context(), conn); err != nil {
				return err
			}
			v, err := migrate.Version(cmd.Context(), conn)
			if err != nil {
				return err
			}
			fmt.Printf("schema at version %d\n", v)
			return nil
		},
	}
	cmd.AddCommand(status, up)
	return cmd
}
