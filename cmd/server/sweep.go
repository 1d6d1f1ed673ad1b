package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep-notifications",
		Short: "Delete notifications left behind by decided approvals",
		Long: `Removes notifications whose approval has been decided or whose transaction
is no longer Pending. Decisions retry notification cleanup a few times; this
command catches whatever those retries could not remove.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}

			a, err := newApp(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()

			removed, err := a.notifier.SweepOrphaned(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d orphaned notification(s)\n", removed)
			return nil
		},
	}
}
