package registry

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/medreg-data/regsync/internal/db"
)

// PostgresStore implements Store using pgx. It operates on a db.Querier so
// the same implementation serves the per-run transaction and pool-backed
// admin reads.
type PostgresStore struct {
	q db.Querier
}

// NewPostgresStore creates a registration store bound to a query scope.
func NewPostgresStore(q db.Querier) *PostgresStore {
	return &PostgresStore{q: q}
}

const registrationColumns = `id, registration_no, filing_no, approved_at, expires_at, status,
	field_meta, provenance, created_at, updated_at`

// FindOrCreate returns the registration for a canonical key, creating a bare
// record when the key is unseen. The insert is conflict-aware so concurrent
// writers to the same key converge on one row.
func (s *PostgresStore) FindOrCreate(ctx context.Context, regNo string) (*Registration, bool, error) {
	r, err := s.GetByRegistrationNo(ctx, regNo)
	if err != nil {
		return nil, false, err
	}
	if r != nil {
		return r, false, nil
	}

	r = &Registration{RegistrationNo: regNo}
	err = s.q.QueryRow(ctx, `
		INSERT INTO regdata.registrations (registration_no, field_meta, provenance)
		VALUES ($1, '{}', '{}')
		ON CONFLICT (registration_no) DO NOTHING
		RETURNING id, created_at, updated_at`,
		regNo,
	).Scan(&r.ID, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			// Lost the race to a concurrent writer; the row exists now.
			existing, getErr := s.GetByRegistrationNo(ctx, regNo)
			if getErr != nil {
				return nil, false, getErr
			}
			if existing == nil {
				return nil, false, eris.Errorf("registry: registration %s vanished after insert conflict", regNo)
			}
			return existing, false, nil
		}
		return nil, false, eris.Wrapf(err, "registry: create registration %s", regNo)
	}
	return r, true, nil
}

// GetByRegistrationNo fetches a registration by canonical key, nil if absent.
func (s *PostgresStore) GetByRegistrationNo(ctx context.Context, regNo string) (*Registration, error) {
	r := &Registration{}
	var fieldMeta, provenance []byte
	err := s.q.QueryRow(ctx, `
		SELECT `+registrationColumns+`
		FROM regdata.registrations WHERE registration_no = $1`, regNo).
		Scan(&r.ID, &r.RegistrationNo, &r.FilingNo, &r.ApprovedAt, &r.ExpiresAt, &r.Status,
			&fieldMeta, &provenance, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "registry: get registration %s", regNo)
	}
	if err := unmarshalProvenance(fieldMeta, &r.FieldMeta); err != nil {
		return nil, eris.Wrapf(err, "registry: decode field_meta for %s", regNo)
	}
	if err := unmarshalProvenance(provenance, &r.Provenance); err != nil {
		return nil, eris.Wrapf(err, "registry: decode provenance for %s", regNo)
	}
	return r, nil
}

// Update persists tracked-field values and both provenance maps.
func (s *PostgresStore) Update(ctx context.Context, r *Registration) error {
	fieldMeta, err := json.Marshal(orEmpty(r.FieldMeta))
	if err != nil {
		return eris.Wrap(err, "registry: encode field_meta")
	}
	provenance, err := json.Marshal(orEmpty(r.Provenance))
	if err != nil {
		return eris.Wrap(err, "registry: encode provenance")
	}

	_, err = s.q.Exec(ctx, `
		UPDATE regdata.registrations SET
			filing_no=$2, approved_at=$3, expires_at=$4, status=$5,
			field_meta=$6, provenance=$7, updated_at=now()
		WHERE id=$1`,
		r.ID, r.FilingNo, r.ApprovedAt, r.ExpiresAt, r.Status, fieldMeta, provenance,
	)
	if err != nil {
		return eris.Wrapf(err, "registry: update registration %d", r.ID)
	}
	return nil
}

// AppendAudit writes one immutable field-decision audit row.
func (s *PostgresStore) AppendAudit(ctx context.Context, a *Audit) error {
	storedMeta, err := json.Marshal(a.StoredMeta)
	if err != nil {
		return eris.Wrap(err, "registry: encode stored meta")
	}
	incomingMeta, err := json.Marshal(a.IncomingMeta)
	if err != nil {
		return eris.Wrap(err, "registry: encode incoming meta")
	}

	_, err = s.q.Exec(ctx, `
		INSERT INTO regdata.conflict_audit (
			registration_no, field_name, decision, reason,
			old_value, new_value, final_value,
			stored_meta, incoming_meta, source_run_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		a.RegistrationNo, string(a.Field), string(a.Decision), a.Reason,
		a.OldValue, a.NewValue, a.FinalValue,
		storedMeta, incomingMeta, nilIfEmpty(a.SourceRunID),
	)
	if err != nil {
		return eris.Wrapf(err, "registry: append audit for %s.%s", a.RegistrationNo, a.Field)
	}
	return nil
}

// UpsertConflict appends candidates to the open conflict entry for a
// (registration, field) pair, creating it if absent.
func (s *PostgresStore) UpsertConflict(ctx context.Context, regNo string, field Field, cands []Candidate) error {
	var id int64
	var existing []byte
	err := s.q.QueryRow(ctx, `
		SELECT id, candidates FROM regdata.conflict_queue
		WHERE registration_no=$1 AND field_name=$2 AND status='open'
		FOR UPDATE`, regNo, string(field)).Scan(&id, &existing)

	switch {
	case err == pgx.ErrNoRows:
		payload, mErr := json.Marshal(cands)
		if mErr != nil {
			return eris.Wrap(mErr, "registry: encode conflict candidates")
		}
		if _, err := s.q.Exec(ctx, `
			INSERT INTO regdata.conflict_queue (registration_no, field_name, status, candidates)
			VALUES ($1, $2, 'open', $3)`,
			regNo, string(field), payload,
		); err != nil {
			return eris.Wrapf(err, "registry: create conflict for %s.%s", regNo, field)
		}
		return nil
	case err != nil:
		return eris.Wrapf(err, "registry: load conflict for %s.%s", regNo, field)
	}

	var current []Candidate
	if len(existing) > 0 {
		if err := json.Unmarshal(existing, &current); err != nil {
			return eris.Wrapf(err, "registry: decode conflict candidates for %s.%s", regNo, field)
		}
	}
	merged := mergeCandidates(current, cands)
	payload, err := json.Marshal(merged)
	if err != nil {
		return eris.Wrap(err, "registry: encode conflict candidates")
	}

	if _, err := s.q.Exec(ctx, `
		UPDATE regdata.conflict_queue SET candidates=$2, updated_at=now() WHERE id=$1`,
		id, payload,
	); err != nil {
		return eris.Wrapf(err, "registry: update conflict %d", id)
	}
	return nil
}

// AppendChange writes one change-log entry.
func (s *PostgresStore) AppendChange(ctx context.Context, e *ChangeEntry) error {
	changed, err := json.Marshal(e.Changed)
	if err != nil {
		return eris.Wrap(err, "registry: encode changed fields")
	}
	before, err := json.Marshal(e.Before)
	if err != nil {
		return eris.Wrap(err, "registry: encode before snapshot")
	}
	after, err := json.Marshal(e.After)
	if err != nil {
		return eris.Wrap(err, "registry: encode after snapshot")
	}
	meta, err := json.Marshal(e.ContractMeta)
	if err != nil {
		return eris.Wrap(err, "registry: encode contract meta")
	}

	_, err = s.q.Exec(ctx, `
		INSERT INTO regdata.change_log (
			entity_type, entity_id, change_type, changed_fields,
			before_snapshot, after_snapshot, contract_meta
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.EntityType, e.EntityID, string(e.ChangeType), changed, before, after, meta,
	)
	if err != nil {
		return eris.Wrapf(err, "registry: append change for %s %d", e.EntityType, e.EntityID)
	}
	return nil
}

// ListOpenConflicts returns open conflict-queue entries, newest first.
func (s *PostgresStore) ListOpenConflicts(ctx context.Context, limit int) ([]ConflictEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.q.Query(ctx, `
		SELECT id, registration_no, field_name, status, candidates, created_at, updated_at
		FROM regdata.conflict_queue WHERE status='open'
		ORDER BY updated_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "registry: list open conflicts")
	}
	defer rows.Close()

	var entries []ConflictEntry
	for rows.Next() {
		var e ConflictEntry
		var cands []byte
		if err := rows.Scan(&e.ID, &e.RegistrationNo, &e.Field, &e.Status, &cands, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "registry: scan conflict entry")
		}
		if len(cands) > 0 {
			if err := json.Unmarshal(cands, &e.Candidates); err != nil {
				return nil, eris.Wrap(err, "registry: decode conflict entry")
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ListChanges returns change-log entries after a given id, oldest first.
// This is the cursor interface downstream consumers poll.
func (s *PostgresStore) ListChanges(ctx context.Context, afterID int64, limit int) ([]ChangeEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.q.Query(ctx, `
		SELECT id, entity_type, entity_id, change_type, changed_fields,
			before_snapshot, after_snapshot, contract_meta, created_at
		FROM regdata.change_log WHERE id > $1
		ORDER BY id ASC LIMIT $2`, afterID, limit)
	if err != nil {
		return nil, eris.Wrap(err, "registry: list changes")
	}
	defer rows.Close()

	var entries []ChangeEntry
	for rows.Next() {
		var e ChangeEntry
		var changed, before, after, meta []byte
		if err := rows.Scan(&e.ID, &e.EntityType, &e.EntityID, &e.ChangeType,
			&changed, &before, &after, &meta, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "registry: scan change entry")
		}
		for _, pair := range []struct {
			raw []byte
			dst any
		}{
			{changed, &e.Changed},
			{before, &e.Before},
			{after, &e.After},
			{meta, &e.ContractMeta},
		} {
			if len(pair.raw) > 0 {
				if err := json.Unmarshal(pair.raw, pair.dst); err != nil {
					return nil, eris.Wrap(err, "registry: decode change entry")
				}
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// mergeCandidates appends incoming candidates not already present, keyed by
// (source, value, observed_at), so repeated identical conflicts do not grow
// the list unboundedly.
func mergeCandidates(current, incoming []Candidate) []Candidate {
	type key struct {
		source, value string
		observed      int64
	}
	seen := make(map[key]bool, len(current))
	for _, c := range current {
		seen[key{c.SourceKey, c.Value, c.ObservedAt.UnixNano()}] = true
	}
	for _, c := range incoming {
		k := key{c.SourceKey, c.Value, c.ObservedAt.UnixNano()}
		if seen[k] {
			continue
		}
		seen[k] = true
		current = append(current, c)
	}
	return current
}

func unmarshalProvenance(raw []byte, dst *ProvenanceMap) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

func orEmpty(m ProvenanceMap) ProvenanceMap {
	if m == nil {
		return ProvenanceMap{}
	}
	return m
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
