package main

import (
	"github.com/spf13/cobra"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the job tables",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.store.Migrate(cmd.Context()); err != nil {
				return err
			}
			a.logger.Info("migrated", "driver", a.cfg.Database.Driver)
			return nil
		},
	}
}
