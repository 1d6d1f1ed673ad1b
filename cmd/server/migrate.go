package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pesio-ai/be-ledger-approvals/internal/config"
	"github.com/pesio-ai/be-ledger-approvals/internal/database"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|down]",
		Short:     "Apply or roll back the database schema",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{string(database.Up), string(database.Down)},
		RunE: func(_ *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Store.Driver != config.DriverPostgres {
				return fmt.Errorf("migrate requires store.driver %q", config.DriverPostgres)
			}

			dir := database.Up
			if len(args) == 1 {
				dir = database.Direction(args[0])
			}

			if err := database.Migrate(cfg.Database.DSN(), dir); err != nil {
				return err
			}

			log.Info().Str("direction", string(dir)).Msg("Migrations applied")
			return nil
		},
	}
}
