package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/medreg-data/regsync/internal/db"
	"github.com/medreg-data/regsync/internal/registry"
)

// PendingStatus is the triage state of a backlog entry.
type PendingStatus string

const (
	PendingOpen     PendingStatus = "open"
	PendingResolved PendingStatus = "resolved"
	PendingIgnored  PendingStatus = "ignored"
)

// PendingPolicy selects which backlog entries a gate rejection produces.
type PendingPolicy string

const (
	// PendingDocumentOnly records only the rejected document.
	PendingDocumentOnly PendingPolicy = "document_only"
	// PendingRecordAndDocument additionally opens a per-row pending record.
	PendingRecordAndDocument PendingPolicy = "record_and_document"
)

// PendingRecord is one backlog entry for a row that failed the anchor gate,
// awaiting manual reconciliation.
type PendingRecord struct {
	ID             int64               `json:"id"`
	SourceKey      string              `json:"source_key"`
	SourceRunID    string              `json:"source_run_id"`    // run that first saw the payload
	LastSeenRunID  string              `json:"last_seen_run_id"` // most recent run that re-delivered it
	PayloadHash    string              `json:"payload_hash"`
	ErrorCode      ErrorCode           `json:"error_code"`
	Candidates     map[string]string   `json:"candidates,omitempty"` // best-effort identifiers for triage
	CapturedMeta   registry.SourceMeta `json:"captured_meta"`
	Payload        Row                 `json:"payload"`
	Status         PendingStatus       `json:"status"`
	ResolvedRegNo  string              `json:"resolved_registration_no,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

// PendingDocument is the document-level backlog entry for a rejected payload.
type PendingDocument struct {
	ID            int64         `json:"id"`
	RawDocumentID int64         `json:"raw_document_id"`
	SourceKey     string        `json:"source_key"`
	ErrorCode     ErrorCode     `json:"error_code"`
	Status        PendingStatus `json:"status"`
	CreatedAt     time.Time     `json:"created_at"`
}

// PendingStore persists the reconciliation backlog.
type PendingStore struct {
	q db.Querier
}

// NewPendingStore creates a PendingStore bound to a query scope.
func NewPendingStore(q db.Querier) *PendingStore {
	return &PendingStore{q: q}
}

// UpsertRecord opens (or refreshes) the pending record for a payload.
// Uniqueness is per (source, payload hash): re-ingesting the identical row
// in a later run touches the existing entry instead of opening a second one.
func (s *PendingStore) UpsertRecord(ctx context.Context, p *PendingRecord) error {
	candidates, err := json.Marshal(p.Candidates)
	if err != nil {
		return eris.Wrap(err, "pending: encode candidates")
	}
	meta, err := json.Marshal(p.CapturedMeta)
	if err != nil {
		return eris.Wrap(err, "pending: encode captured meta")
	}
	payload, err := json.Marshal(p.Payload)
	if err != nil {
		return eris.Wrap(err, "pending: encode payload")
	}

	err = s.q.QueryRow(ctx, `
		INSERT INTO regdata.pending_records (
			source_key, source_run_id, last_seen_run_id, payload_hash,
			error_code, candidates, captured_meta, payload, status
		) VALUES ($1, $2, $2, $3, $4, $5, $6, $7, 'open')
		ON CONFLICT (source_key, payload_hash) DO UPDATE SET
			last_seen_run_id = EXCLUDED.last_seen_run_id,
			error_code = EXCLUDED.error_code,
			updated_at = now()
		RETURNING id, source_run_id, status`,
		p.SourceKey, p.SourceRunID, p.PayloadHash,
		string(p.ErrorCode), candidates, meta, payload,
	).Scan(&p.ID, &p.SourceRunID, &p.Status)
	if err != nil {
		return eris.Wrapf(err, "pending: upsert record for %s", p.SourceKey)
	}
	return nil
}

// UpsertDocument opens the pending-document entry for a rejected raw
// document, once per document.
func (s *PendingStore) UpsertDocument(ctx context.Context, d *PendingDocument) error {
	err := s.q.QueryRow(ctx, `
		INSERT INTO regdata.pending_documents (raw_document_id, source_key, error_code, status)
		VALUES ($1, $2, $3, 'open')
		ON CONFLICT (raw_document_id) DO UPDATE SET
			error_code = EXCLUDED.error_code
		RETURNING id, status`,
		d.RawDocumentID, d.SourceKey, string(d.ErrorCode),
	).Scan(&d.ID, &d.Status)
	if err != nil {
		return eris.Wrapf(err, "pending: upsert document %d", d.RawDocumentID)
	}
	return nil
}

// Get fetches one pending record by id, nil if absent.
func (s *PendingStore) Get(ctx context.Context, id int64) (*PendingRecord, error) {
	p := &PendingRecord{}
	var candidates, meta, payload []byte
	var resolved *string
	err := s.q.QueryRow(ctx, `
		SELECT id, source_key, source_run_id, last_seen_run_id, payload_hash,
			error_code, candidates, captured_meta, payload, status,
			resolved_registration_no, created_at, updated_at
		FROM regdata.pending_records WHERE id=$1`, id).
		Scan(&p.ID, &p.SourceKey, &p.SourceRunID, &p.LastSeenRunID, &p.PayloadHash,
			&p.ErrorCode, &candidates, &meta, &payload, &p.Status,
			&resolved, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "pending: get record %d", id)
	}
	if resolved != nil {
		p.ResolvedRegNo = *resolved
	}
	for _, pair := range []struct {
		raw []byte
		dst any
	}{
		{candidates, &p.Candidates},
		{meta, &p.CapturedMeta},
		{payload, &p.Payload},
	} {
		if len(pair.raw) > 0 {
			if err := json.Unmarshal(pair.raw, pair.dst); err != nil {
				return nil, eris.Wrapf(err, "pending: decode record %d", id)
			}
		}
	}
	return p, nil
}

// MarkResolved closes a pending record with the registration it resolved to.
func (s *PendingStore) MarkResolved(ctx context.Context, id int64, regNo string) error {
	_, err := s.q.Exec(ctx, `
		UPDATE regdata.pending_records
		SET status='resolved', resolved_registration_no=$2, updated_at=now()
		WHERE id=$1`, id, regNo)
	if err != nil {
		return eris.Wrapf(err, "pending: mark record %d resolved", id)
	}
	return nil
}

// List returns pending records by status, newest first.
func (s *PendingStore) List(ctx context.Context, status PendingStatus, limit int) ([]PendingRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.q.Query(ctx, `
		SELECT id, source_key, source_run_id, last_seen_run_id, payload_hash,
			error_code, candidates, status, created_at, updated_at
		FROM regdata.pending_records WHERE status=$1
		ORDER BY updated_at DESC LIMIT $2`, string(status), limit)
	if err != nil {
		return nil, eris.Wrap(err, "pending: list records")
	}
	defer rows.Close()

	var records []PendingRecord
	for rows.Next() {
		var p PendingRecord
		var candidates []byte
		if err := rows.Scan(&p.ID, &p.SourceKey, &p.SourceRunID, &p.LastSeenRunID, &p.PayloadHash,
			&p.ErrorCode, &candidates, &p.Status, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "pending: scan record")
		}
		if len(candidates) > 0 {
			if err := json.Unmarshal(candidates, &p.Candidates); err != nil {
				return nil, eris.Wrap(err, "pending: decode candidates")
			}
		}
		records = append(records, p)
	}
	return records, rows.Err()
}
