package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/GTDGit/conversion_api/internal/config"
	"github.com/GTDGit/conversion_api/internal/database"
)

func newMigrateCmd() *cobra.Command {
	var source string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Long:  "Apply pending migrations using the DB_* environment variables, without starting the API.",
		RunE: func(cmd *cobra.Command, args []string) error {
			dbCfg, err := config.LoadDatabase()
			if err != nil {
				return err
			}
			db, err := database.Connect(cmd.Context(), dbCfg)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := database.Migrate(db.DB, source); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
	cmd.Flags().StringVar(&source, "source", "file://migrations", "migration source URL")
	return cmd
}
