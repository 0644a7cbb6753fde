package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Creates or updates the database schema",

		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := appInstance.Repo.Migrate(cmd.Context()); err != nil {
				return &exitError{code: ExitFatal, err: fmt.Errorf("migrate schema: %w", err)}
			}
			appInstance.Log.Info("schema is up to date")
			return nil
		},
	}
}
