package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/medreg-data/regsync/internal/db"
)

// RunStatus is the terminal-once state of a source run.
type RunStatus string

const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunFailed  RunStatus = "failed"
)

// Counters aggregates per-run row outcomes.
type Counters struct {
	Fetched               int            `json:"fetched"`
	Skipped               int            `json:"skipped"`
	Parsed                int            `json:"parsed"`
	MissingKey            int            `json:"missing_key"`
	RegistrationsCreated  int            `json:"registrations_created"`
	RegistrationsUpserted int            `json:"registrations_upserted"`
	Conflicts             int            `json:"conflicts"`
	Failed                int            `json:"failed"`
	ByErrorCode           map[string]int `json:"by_error_code,omitempty"`
}

// CountError increments the per-code rejection counter.
func (c *Counters) CountError(code ErrorCode) {
	if c.ByErrorCode == nil {
		c.ByErrorCode = make(map[string]int)
	}
	c.ByErrorCode[string(code)]++
}

// SourceRun is one execution of the ingest pipeline against one source.
type SourceRun struct {
	ID         string     `json:"id"`
	SourceKey  string     `json:"source_key"`
	Status     RunStatus  `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Counters   Counters   `json:"counters"`
	Summary    string     `json:"summary,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// RunLog provides access to the regdata.source_runs table. Start and the
// finalizers run outside the per-run transaction, so a failed run still
// leaves a permanent record.
type RunLog struct {
	q db.Querier
}

// NewRunLog creates a RunLog backed by the given query scope.
func NewRunLog(q db.Querier) *RunLog {
	return &RunLog{q: q}
}

// Start records the beginning of a run with status running.
func (l *RunLog) Start(ctx context.Context, runID, sourceKey string) error {
	_, err := l.q.Exec(ctx,
		`INSERT INTO regdata.source_runs (id, source_key, status, started_at)
		 VALUES ($1, $2, 'running', now())`,
		runID, sourceKey,
	)
	if err != nil {
		return eris.Wrapf(err, "runlog: start run for %s", sourceKey)
	}
	return nil
}

// Complete finalizes a run as success with its counters and summary.
func (l *RunLog) Complete(ctx context.Context, runID string, c Counters, summary string) error {
	return l.finalize(ctx, runID, RunSuccess, c, summary, "")
}

// Fail finalizes a run as failed. Counters accumulated before the failure
// are persisted for observability.
func (l *RunLog) Fail(ctx context.Context, runID string, c Counters, errMsg string) error {
	return l.finalize(ctx, runID, RunFailed, c, "", errMsg)
}

func (l *RunLog) finalize(ctx context.Context, runID string, status RunStatus, c Counters, summary, errMsg string) error {
	counters, err := json.Marshal(c)
	if err != nil {
		return eris.Wrap(err, "runlog: marshal counters")
	}

	// Terminal-once: only a running run can be finalized.
	tag, err := l.q.Exec(ctx,
		`UPDATE regdata.source_runs
		 SET status=$2, finished_at=now(), counters=$3, summary=$4, error=$5
		 WHERE id=$1 AND status='running'`,
		runID, string(status), counters, nilIfBlank(summary), nilIfBlank(errMsg),
	)
	if err != nil {
		return eris.Wrapf(err, "runlog: finalize run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("runlog: run %s is not running, refusing to finalize twice", runID)
	}
	return nil
}

// List returns recent runs, newest first.
func (l *RunLog) List(ctx context.Context, limit int) ([]SourceRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.q.Query(ctx,
		`SELECT id, source_key, status, started_at, finished_at, counters, summary, error
		 FROM regdata.source_runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "runlog: list runs")
	}
	defer rows.Close()

	var runs []SourceRun
	for rows.Next() {
		var r SourceRun
		var counters []byte
		var summary, errStr *string
		if err := rows.Scan(&r.ID, &r.SourceKey, &r.Status, &r.StartedAt, &r.FinishedAt,
			&counters, &summary, &errStr); err != nil {
			return nil, eris.Wrap(err, "runlog: scan run")
		}
		if len(counters) > 0 {
			if err := json.Unmarshal(counters, &r.Counters); err != nil {
				return nil, eris.Wrap(err, "runlog: decode counters")
			}
		}
		if summary != nil {
			r.Summary = *summary
		}
		if errStr != nil {
			r.Error = *errStr
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func nilIfBlank(s string) any {
	if s == "" {
		return nil
	}
	return s
}
