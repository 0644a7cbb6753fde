package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/trailblaze-app/trailblaze-scraper/internal/events"
)

const insertRunReportSQL = `INSERT INTO run_reports
	(run_id, source, started_at, ended_at, outcome, counts, errors)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (run_id) DO UPDATE SET
	ended_at = EXCLUDED.ended_at,
	outcome = EXCLUDED.outcome,
	counts = EXCLUDED.counts,
	errors = EXCLUDED.errors`

// SaveRunReport persists a run report, overwriting an earlier partial
// write for the same run id.
func (r *Repository) SaveRunReport(ctx context.Context, report events.RunReport) error {
	counts, err := json.Marshal(report.Counts)
	if err != nil {
		return fmt.Errorf("encode run counts: %w", err)
	}
	errList := report.Errors
	if errList == nil {
		errList = []string{}
	}
	errsJSON, err := json.Marshal(errList)
	if err != nil {
		return fmt.Errorf("encode run errors: %w", err)
	}

	_, err = r.pool.Exec(ctx, insertRunReportSQL,
		report.RunID, report.Source, report.StartedAt, report.EndedAt,
		string(report.Outcome), counts, errsJSON)
	if err != nil {
		return fmt.Errorf("save run report %s: %w", report.RunID, err)
	}
	return nil
}

const listRunReportsSQL = `SELECT run_id, source, started_at, ended_at, outcome, counts, errors
FROM run_reports ORDER BY started_at DESC LIMIT $1`

// ListRunReports returns the most recent run reports, newest first.
func (r *Repository) ListRunReports(ctx context.Context, limit int) ([]events.RunReport, error) {
	rows, err := r.pool.Query(ctx, listRunReportsSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("list run reports: %w", err)
	}
	defer rows.Close()

	var out []events.RunReport
	for rows.Next() {
		var (
			report         events.RunReport
			outcome        string
			counts, errsJS []byte
		)
		if err := rows.Scan(&report.RunID, &report.Source, &report.StartedAt,
			&report.EndedAt, &outcome, &counts, &errsJS); err != nil {
			return nil, fmt.Errorf("scan run report: %w", err)
		}
		report.Outcome = events.RunOutcome(outcome)
		if len(counts) > 0 {
			if err := json.Unmarshal(counts, &report.Counts); err != nil {
				return nil, fmt.Errorf("decode run counts: %w", err)
			}
		}
		if len(errsJS) > 0 {
			if err := json.Unmarshal(errsJS, &report.Errors); err != nil {
				return nil, fmt.Errorf("decode run errors: %w", err)
			}
		}
		out = append(out, report)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run reports: %w", err)
	}
	return out, nil
}
