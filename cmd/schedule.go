package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/trailblaze-app/trailblaze-scraper/internal/app"
	"github.com/trailblaze-app/trailblaze-scraper/internal/scheduler"
)

func newScheduleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schedule",
		Short: "Runs the scrape and enrichment jobs on their cron schedules",
		Long: `Stays resident and fires the scrape and enrichment jobs on the
configured cron expressions. A firing that lands while the previous
run of the same job is still active is dropped, not queued. SIGINT or
SIGTERM stops the scheduler after in-flight runs finish.`,

		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := registerJobs(cmd.Context(), appInstance); err != nil {
				return &exitError{code: ExitConfig, err: err}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			// The trigger loop rides alongside the schedules so location
			// changes geocode promptly instead of waiting for the next
			// batch firing.
			go func() {
				if err := appInstance.GeocodeWorker.RunTriggerLoop(ctx); err != nil {
					appInstance.Log.Warn("geocode trigger loop exited: " + err.Error())
				}
			}()

			appInstance.Scheduler.Start(ctx)
			return nil
		},
	}
}

func registerJobs(ctx context.Context, appInstance *app.App) error {
	cfg := appInstance.Config

	if err := appInstance.Scheduler.Add(ctx, scheduler.Job{
		Name: "scrape",
		Spec: cfg.Schedule.Scrape,
		Run: func(ctx context.Context) error {
			_, err := appInstance.Orchestrator.Run(ctx)
			return err
		},
	}); err != nil {
		return fmt.Errorf("register scrape job: %w", err)
	}

	if err := appInstance.Scheduler.Add(ctx, scheduler.Job{
		Name: "enrichment",
		Spec: cfg.Schedule.Enrichment,
		Run: func(ctx context.Context) error {
			if _, err := appInstance.GeocodeWorker.RunBatch(ctx); err != nil {
				return err
			}
			_, err := appInstance.EnrichWorker.RunBatch(ctx)
			return err
		},
	}); err != nil {
		return fmt.Errorf("register enrichment job: %w", err)
	}
	return nil
}
