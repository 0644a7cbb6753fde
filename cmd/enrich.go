package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/trailblaze-app/trailblaze-scraper/internal/geocode"
)

func newEnrichGeocodeCmd() *cobra.Command {
	var (
		limit  int
		all    bool
		follow bool
	)

	cmd := &cobra.Command{
		Use:   "enrich-geocode",
		Short: "Geocodes events that have no coordinates yet",
		Long: `Runs one geocoding batch over events whose locations have never
been attempted. --all keeps running batches until the backlog drains;
--follow stays resident, reacting to location changes as scrape runs
produce them.`,

		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			worker := appInstance.GeocodeWorker
			log := appInstance.Log

			var total geocode.BatchResult
			for {
				res, err := worker.RunBatchSize(cmd.Context(), limit)
				if err != nil {
					return &exitError{code: ExitFatal, err: fmt.Errorf("geocode batch: %w", err)}
				}
				total.Processed += res.Processed
				total.Geocoded += res.Geocoded
				total.NotFound += res.NotFound
				total.Deferred += res.Deferred

				// Stop when the backlog is drained or the batch made no
				// progress (everything left is deferring).
				if !all || res.Processed == 0 || res.Geocoded+res.NotFound == 0 {
					break
				}
			}

			log.Info("geocoding done",
				zap.Int("processed", total.Processed),
				zap.Int("geocoded", total.Geocoded),
				zap.Int("not_found", total.NotFound),
				zap.Int("deferred", total.Deferred))

			if follow {
				return worker.RunTriggerLoop(cmd.Context())
			}
			if total.Deferred > 0 {
				return &exitError{code: ExitDegraded, err: fmt.Errorf("%d geocode attempts deferred", total.Deferred)}
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "events per batch (default from config)")
	cmd.Flags().BoolVar(&all, "all", false, "run batches until the backlog is drained")
	cmd.Flags().BoolVar(&follow, "follow", false, "stay running and react to location changes")
	return cmd
}

func newEnrichDetailsCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "enrich-details",
		Short: "Extracts details from ride websites for events due a recheck",
		Long: `Runs one enrichment batch: events are selected by recheck cadence
(daily inside 90 days of the ride, weekly otherwise), their websites
fetched, and structured details extracted and merged.`,

		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}

			res, err := appInstance.EnrichWorker.RunBatchSize(cmd.Context(), limit)
			if err != nil {
				return &exitError{code: ExitFatal, err: fmt.Errorf("enrichment batch: %w", err)}
			}
			appInstance.Log.Info("enrichment batch done",
				zap.Int("processed", res.Processed),
				zap.Int("enriched", res.Enriched),
				zap.Int("failed", res.Failed))

			if res.Failed > 0 {
				return &exitError{code: ExitDegraded, err: fmt.Errorf("%d enrichment attempts failed", res.Failed)}
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "events per batch (default from config)")
	return cmd
}
