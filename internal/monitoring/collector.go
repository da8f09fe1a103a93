// Package monitoring watches run outcomes, source freshness, and backlog
// depth, and raises webhook alerts when thresholds are breached.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/medreg-data/regsync/internal/db"
)

// SourceHealth is the per-source slice of a snapshot.
type SourceHealth struct {
	SourceKey     string     `json:"source_key"`
	LastSuccessAt *time.Time `json:"last_success_at,omitempty"`
	FailedRuns    int        `json:"failed_runs"` // within the lookback window
}

// Snapshot holds a point-in-time view of ingest health.
type Snapshot struct {
	RunsTotal     int     `json:"runs_total"`
	RunsSucceeded int     `json:"runs_succeeded"`
	RunsFailed    int     `json:"runs_failed"`
	RunsRunning   int     `json:"runs_running"`
	RunFailRate   float64 `json:"run_fail_rate"`

	PendingOpen   int `json:"pending_open"`
	ConflictsOpen int `json:"conflicts_open"`

	Sources []SourceHealth `json:"sources"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Collector gathers snapshots from the run log and backlog tables.
type Collector struct {
	q db.Querier
}

// NewCollector creates a collector bound to a query scope.
func NewCollector(q db.Querier) *Collector {
	return &Collector{q: q}
}

// Collect gathers a snapshot over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*Snapshot, error) {
	if lookbackHours <= 0 {
		lookbackHours = 24
	}
	snap := &Snapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   time.Now().UTC(),
	}
	cutoff := snap.CollectedAt.Add(-time.Duration(lookbackHours) * time.Hour)

	rows, err := c.q.Query(ctx, `
		SELECT status, count(*) FROM regdata.source_runs
		WHERE started_at >= $1 GROUP BY status`, cutoff)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count runs")
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, eris.Wrap(err, "monitoring: scan run counts")
		}
		snap.RunsTotal += count
		switch status {
		case "success":
			snap.RunsSucceeded += count
		case "failed":
			snap.RunsFailed += count
		case "running":
			snap.RunsRunning += count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "monitoring: count runs")
	}
	if finished := snap.RunsSucceeded + snap.RunsFailed; finished > 0 {
		snap.RunFailRate = float64(snap.RunsFailed) / float64(finished)
	}

	srcRows, err := c.q.Query(ctx, `
		SELECT source_key,
			count(*) FILTER (WHERE status = 'failed' AND started_at >= $1),
			max(finished_at) FILTER (WHERE status = 'success')
		FROM regdata.source_runs GROUP BY source_key ORDER BY source_key`, cutoff)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: collect source health")
	}
	defer srcRows.Close()
	for srcRows.Next() {
		var h SourceHealth
		if err := srcRows.Scan(&h.SourceKey, &h.FailedRuns, &h.LastSuccessAt); err != nil {
			return nil, eris.Wrap(err, "monitoring: scan source health")
		}
		snap.Sources = append(snap.Sources, h)
	}
	if err := srcRows.Err(); err != nil {
		return nil, eris.Wrap(err, "monitoring: collect source health")
	}

	if err := c.q.QueryRow(ctx,
		`SELECT count(*) FROM regdata.pending_records WHERE status = 'open'`).
		Scan(&snap.PendingOpen); err != nil {
		return nil, eris.Wrap(err, "monitoring: count open pending records")
	}
	if err := c.q.QueryRow(ctx,
		`SELECT count(*) FROM regdata.conflict_queue WHERE status = 'open'`).
		Scan(&snap.ConflictsOpen); err != nil {
		return nil, eris.Wrap(err, "monitoring: count open conflicts")
	}

	return snap, nil
}
