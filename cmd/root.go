// Package cmd defines the CLI commands for the trailblaze-scraper
// executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/trailblaze-app/trailblaze-scraper/internal/app"
)

// Exit codes. Schedulers key off these: 2 means the run completed but
// needs attention, 3 means it did not complete.
const (
	ExitOK       = 0
	ExitConfig   = 1
	ExitDegraded = 2
	ExitFatal    = 3
)

var cfgFile string

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// newApp is the application factory. It is a variable so tests can
// swap in a stub.
var newApp = func(ctx context.Context) (*app.App, error) {
	return app.New(ctx, cfgFile)
}

// exitError carries a process exit code alongside the error.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trailblaze-scraper",
		Short: "Harvests endurance ride events from the AERC calendar.",
		Long: `trailblaze-scraper keeps a Postgres events table in sync with the
AERC ride calendar. It scrapes the calendar's AJAX endpoint, normalizes
the rows into canonical events, and enriches them out of band with
geocoded coordinates and details extracted from ride websites.`,

		SilenceUsage:  true,
		SilenceErrors: true,

		// Build the application after flags are parsed but before the
		// subcommand runs, and hand it down through the context.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context())
			if err != nil {
				return &exitError{code: ExitConfig, err: fmt.Errorf("initialize application: %w", err)}
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(*app.App); ok && appInstance != nil {
				appInstance.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (environment variables apply on top)")

	cmd.AddCommand(newScrapeCmd())
	cmd.AddCommand(newEnrichGeocodeCmd())
	cmd.AddCommand(newEnrichDetailsCmd())
	cmd.AddCommand(newMigrateCmd())
	cmd.AddCommand(newScheduleCmd())

	return cmd
}

func resolveApp(ctx context.Context) (*app.App, error) {
	appInstance, ok := ctx.Value(appKey).(*app.App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	err := newRootCmd().Execute()
	if err == nil {
		return ExitOK
	}
	fmt.Fprintln(os.Stderr, "Error:", err)

	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return ExitFatal
}
