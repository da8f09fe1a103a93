package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/medreg-data/regsync/internal/db"
	"github.com/medreg-data/regsync/internal/metrics"
	"github.com/medreg-data/regsync/internal/registry"
)

// FetchOptions bounds one batch fetch from a connector.
type FetchOptions struct {
	BatchSize int
	Since     *time.Time
}

// Connector produces one bounded batch of rows from an external source.
// Connectors live outside the core; the core only requires that their rows
// are compatible with the gate's field aliases.
type Connector interface {
	Fetch(ctx context.Context, opts FetchOptions) ([]Row, error)
}

// RunParams carries the per-source configuration a run needs.
type RunParams struct {
	SourceKey     string
	Grade         registry.Grade
	Priority      int
	UDI           bool // device-identifier feed without registry numbers
	PendingPolicy PendingPolicy
	BatchSize     int
	Since         *time.Time
}

// RunReport summarizes one finished run.
type RunReport struct {
	RunID    string
	Status   RunStatus
	Counters Counters
}

// Runner drives one ingest run per call: fetch, dedupe, gate, persist raw,
// upsert or backlog, all inside a single transaction committed at the end.
// The run-status record is maintained outside that transaction so failed
// runs never silently disappear.
type Runner struct {
	pool   db.Pool
	runlog *RunLog
}

// NewRunner creates a Runner over a connection pool.
func NewRunner(pool db.Pool) *Runner {
	return &Runner{pool: pool, runlog: NewRunLog(pool)}
}

// Run executes one source run. Row-level problems are absorbed into
// counters and backlog entries; connector and database failures abort the
// batch, roll back its writes, and finalize the run as failed.
func (r *Runner) Run(ctx context.Context, params RunParams, conn Connector) (*RunReport, error) {
	runID := uuid.NewString()
	log := zap.L().With(
		zap.String("component", "ingest.runner"),
		zap.String("source", params.SourceKey),
		zap.String("run_id", runID),
	)

	if err := r.runlog.Start(ctx, runID, params.SourceKey); err != nil {
		return nil, err
	}
	startedAt := time.Now().UTC()
	log.Info("run started")

	counters, runErr := r.process(ctx, runID, params, conn, startedAt)

	if runErr != nil {
		log.Error("run failed", zap.Error(runErr))
		metrics.RunsTotal.WithLabelValues(params.SourceKey, string(RunFailed)).Inc()
		if logErr := r.runlog.Fail(ctx, runID, counters, runErr.Error()); logErr != nil {
			log.Error("failed to record run failure", zap.Error(logErr))
		}
		return &RunReport{RunID: runID, Status: RunFailed, Counters: counters}, runErr
	}

	summary := fmt.Sprintf("processed %d rows: %d parsed, %d skipped, %d missing key, %d upserted (%d new), %d conflicts",
		counters.Fetched, counters.Parsed, counters.Skipped, counters.MissingKey,
		counters.RegistrationsUpserted, counters.RegistrationsCreated, counters.Conflicts)
	if err := r.runlog.Complete(ctx, runID, counters, summary); err != nil {
		return nil, err
	}

	metrics.RunsTotal.WithLabelValues(params.SourceKey, string(RunSuccess)).Inc()
	log.Info("run complete",
		zap.Int("fetched", counters.Fetched),
		zap.Int("parsed", counters.Parsed),
		zap.Int("skipped", counters.Skipped),
		zap.Int("missing_key", counters.MissingKey),
		zap.Int("upserted", counters.RegistrationsUpserted),
		zap.Int("conflicts", counters.Conflicts),
		zap.Duration("elapsed", time.Since(startedAt)),
	)
	return &RunReport{RunID: runID, Status: RunSuccess, Counters: counters}, nil
}

// process fetches and processes the batch inside one transaction. It returns
// the counters accumulated so far even on error, for the failure record.
func (r *Runner) process(ctx context.Context, runID string, params RunParams, conn Connector, startedAt time.Time) (Counters, error) {
	var counters Counters

	rows, err := conn.Fetch(ctx, FetchOptions{BatchSize: params.BatchSize, Since: params.Since})
	if err != nil {
		return counters, eris.Wrapf(err, "ingest: fetch batch from %s", params.SourceKey)
	}
	counters.Fetched = len(rows)
	metrics.RowsFetched.WithLabelValues(params.SourceKey).Add(float64(len(rows)))

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return counters, eris.Wrap(err, "ingest: begin run transaction")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	raws := NewRawStore(tx)
	pending := NewPendingStore(tx)
	upserter := registry.NewUpserter(registry.NewPostgresStore(tx))

	// Connectors sometimes return the same row twice in one page; dedupe by
	// content hash within the run.
	seen := make(map[string]bool, len(rows))

	for _, row := range rows {
		select {
		case <-ctx.Done():
			return counters, ctx.Err()
		default:
		}

		hash := row.Hash()
		if seen[hash] {
			counters.Skipped++
			continue
		}
		seen[hash] = true

		if err := r.ingestRow(ctx, raws, pending, upserter, params, runID, hash, row, &counters, startedAt); err != nil {
			// The row that aborted the batch is counted into the failure
			// record before the rollback.
			counters.Failed++
			return counters, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return counters, eris.Wrap(err, "ingest: commit run transaction")
	}
	return counters, nil
}

// ingestRow persists and routes one deduplicated row: raw copy first, then
// either the upsert path or the backlog path depending on the gate.
func (r *Runner) ingestRow(ctx context.Context, raws *RawStore, pending *PendingStore, upserter *registry.Upserter,
	params RunParams, runID, hash string, row Row, counters *Counters, startedAt time.Time) error {

	gate := Gate(row, params.UDI)

	// The raw payload is persisted before any other write for this row,
	// rejected or not.
	docID, err := raws.UpsertDocument(ctx, params.SourceKey, runID, hash, row.CanonicalJSON())
	if err != nil {
		return err
	}

	if !gate.OK {
		counters.MissingKey++
		counters.CountError(gate.Code)
		metrics.GateRejections.WithLabelValues(params.SourceKey, string(gate.Code)).Inc()
		return r.backlog(ctx, raws, pending, params, runID, docID, hash, row, gate, startedAt)
	}

	result, err := upserter.Upsert(ctx, registry.UpsertInput{
		RegistrationNo: gate.RegNo,
		Fields:         row.TrackedValues(),
		Meta: registry.SourceMeta{
			SourceKey:   params.SourceKey,
			Grade:       params.Grade,
			Priority:    params.Priority,
			ObservedAt:  observedAt(row, startedAt),
			RawRecordID: &docID,
		},
		RawPayload:  row,
		SourceRunID: runID,
	})
	if err != nil {
		return err
	}

	if err := raws.SetParseOutcome(ctx, docID, ParseOK, ""); err != nil {
		return err
	}

	counters.Parsed++
	counters.RegistrationsUpserted++
	if result.Created {
		counters.RegistrationsCreated++
	}
	counters.Conflicts += result.Conflicts
	return nil
}

// backlog routes a gate-rejected row into the reconciliation backlog
// according to the source's pending policy.
func (r *Runner) backlog(ctx context.Context, raws *RawStore, pending *PendingStore, params RunParams,
	runID string, docID int64, hash string, row Row, gate GateResult, startedAt time.Time) error {

	if err := raws.SetParseOutcome(ctx, docID, ParseRejected, gate.Code); err != nil {
		return err
	}

	if err := pending.UpsertDocument(ctx, &PendingDocument{
		RawDocumentID: docID,
		SourceKey:     params.SourceKey,
		ErrorCode:     gate.Code,
	}); err != nil {
		return err
	}

	if params.PendingPolicy != PendingRecordAndDocument {
		return nil
	}

	return pending.UpsertRecord(ctx, &PendingRecord{
		SourceKey:   params.SourceKey,
		SourceRunID: runID,
		PayloadHash: hash,
		ErrorCode:   gate.Code,
		Candidates:  row.TriageCandidates(),
		CapturedMeta: registry.SourceMeta{
			SourceKey:  params.SourceKey,
			Grade:      params.Grade,
			Priority:   params.Priority,
			ObservedAt: observedAt(row, startedAt),
		},
		Payload: row,
	})
}

// observedAt extracts the observation timestamp from a row, falling back to
// the run start time when the source does not carry one.
func observedAt(row Row, fallback time.Time) time.Time {
	if t, ok := row.ObservedAt(); ok {
		return t
	}
	return fallback
}
