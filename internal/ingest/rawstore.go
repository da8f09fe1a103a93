package ingest

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/medreg-data/regsync/internal/db"
)

// ParseStatus is the processing outcome attached to a raw document.
type ParseStatus string

const (
	ParsePending  ParseStatus = "pending"
	ParseOK       ParseStatus = "parsed"
	ParseRejected ParseStatus = "rejected"
)

// RawStore persists immutable content-addressed copies of incoming payloads.
// Rows are retained whether or not they pass the gate, so rejected payloads
// stay available for manual reconciliation and audit.
type RawStore struct {
	q db.Querier
}

// NewRawStore creates a RawStore bound to a query scope.
func NewRawStore(q db.Querier) *RawStore {
	return &RawStore{q: q}
}

// UpsertDocument inserts a raw payload keyed by (source, run, content hash)
// and returns its id. Re-delivery of the same payload within the same run
// returns the existing row; the payload itself is never rewritten.
func (s *RawStore) UpsertDocument(ctx context.Context, sourceKey, runID, hash string, payload []byte) (int64, error) {
	var id int64
	// DO UPDATE on the key column is a no-op write that makes RETURNING
	// yield the existing id on conflict.
	err := s.q.QueryRow(ctx, `
		INSERT INTO regdata.raw_documents (source_key, source_run_id, content_hash, payload, parse_status)
		VALUES ($1, $2, $3, $4, 'pending')
		ON CONFLICT (source_key, source_run_id, content_hash)
			DO UPDATE SET content_hash = EXCLUDED.content_hash
		RETURNING id`,
		sourceKey, runID, hash, payload,
	).Scan(&id)
	if err != nil {
		return 0, eris.Wrapf(err, "rawstore: upsert document for %s", sourceKey)
	}
	return id, nil
}

// SetParseOutcome attaches the gate outcome to a raw document. This is the
// only mutation a raw document ever receives.
func (s *RawStore) SetParseOutcome(ctx context.Context, id int64, status ParseStatus, code ErrorCode) error {
	_, err := s.q.Exec(ctx, `
		UPDATE regdata.raw_documents SET parse_status=$2, error_code=$3 WHERE id=$1`,
		id, string(status), nilIfBlank(string(code)),
	)
	if err != nil {
		return eris.Wrapf(err, "rawstore: set parse outcome for document %d", id)
	}
	return nil
}
