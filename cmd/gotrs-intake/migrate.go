package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gotrs-io/gotrs-intake/internal/database"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create missing tables and indexes in the configured database",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		loader, err := loadConfig()
		if err != nil {
			return err
		}
		cfg := loader.Get()
		if strings.EqualFold(cfg.Database.Driver, "memory") {
			return errors.New("migrate needs a sql database driver, not memory")
		}
		db, err := database.Open(cmd.Context(), cfg.Database)
		if err != nil {
			return err
		}
		defer db.Close()

		n, err := database.Migrate(cmd.Context(), db)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "applied %d schema statements to %s\n", n, cfg.Database.Driver)
		return nil
	},
}
