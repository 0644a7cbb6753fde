package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/trailblaze-app/trailblaze-scraper/internal/events"
)

func newScrapeCmd() *cobra.Command {
	var source string

	cmd := &cobra.Command{
		Use:   "run-scrape",
		Short: "Runs one scrape of the AERC calendar",
		Long: `Fetches the current calendar seasons, parses every ride row, and
upserts the resulting events. Exits 0 on a clean run, 2 when the run
completed degraded (rows skipped or upserts failed), and 3 when the
run failed outright.`,

		RunE: func(cmd *cobra.Command, _ []string) error {
			if !strings.EqualFold(source, events.SourceAERC) {
				return &exitError{code: ExitConfig, err: fmt.Errorf("unknown source %q", source)}
			}
			return runScrapeCommand(cmd)
		},
	}

	cmd.Flags().StringVar(&source, "source", events.SourceAERC, "calendar source to scrape")
	return cmd
}

func runScrapeCommand(cmd *cobra.Command) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}

	report, runErr := appInstance.Orchestrator.Run(cmd.Context())
	if runErr != nil {
		return &exitError{code: ExitFatal, err: fmt.Errorf("scrape run %s: %w", report.RunID, runErr)}
	}

	log := appInstance.Log
	switch report.Outcome {
	case events.RunOK:
		return nil
	case events.RunDegraded:
		log.Warn("run completed degraded",
			zap.String("run_id", report.RunID),
			zap.Strings("errors", report.Errors))
		return &exitError{code: ExitDegraded, err: fmt.Errorf("scrape run %s degraded with %d errors", report.RunID, len(report.Errors))}
	default:
		return &exitError{code: ExitFatal, err: fmt.Errorf("scrape run %s ended %s", report.RunID, report.Outcome)}
	}
}
