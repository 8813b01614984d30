package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/invoice-extractor/internal/app"
)

var dbhealthCmd = &cobra.Command{
	Use:   "dbhealth",
	Short: "Open the configured task store and ping it",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		a, err := app.New(cmd.Context(), cfg, logger, app.WithTagger(nil))
		if err != nil {
			return err
		}
		defer a.Close(context.Background())

		if err := a.HealthCheck(cmd.Context()); err != nil {
			return fmt.Errorf("db health: FAIL (%w)", err)
		}
		tasks, err := a.Store.ListTasks(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "db health: OK (driver=%s, tasks=%d)\n", cfg.Database.Driver, len(tasks))
		return nil
	},
}
