package registry

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/medreg-data/regsync/internal/metrics"
)

// UpsertInput carries one gated observation into the upsert path.
type UpsertInput struct {
	RegistrationNo string           // canonical key, already gated
	Fields         map[Field]string // tracked-field values in canonical textual form
	Meta           SourceMeta
	RawPayload     map[string]string // original row, captured into contract meta
	SourceRunID    string
}

// UpsertResult summarizes what one upsert changed.
type UpsertResult struct {
	RegistrationID int64
	RegistrationNo string
	Created        bool
	Changed        map[Field]FieldChange
	Conflicts      int
}

// Upserter is the only writer of registration rows. Every field mutation,
// from ingest, reconciliation resolution, or identifier promotion, funnels
// through here so it cannot bypass the merge policy.
type Upserter struct {
	store Store
}

// NewUpserter creates an Upserter over the given store scope.
func NewUpserter(store Store) *Upserter {
	return &Upserter{store: store}
}

// Upsert finds or creates the registration for a canonical key, resolves
// each tracked field through the merge policy, persists provenance, and
// writes a change-log entry when anything changed. Applying the same input
// twice is a noop the second time.
func (u *Upserter) Upsert(ctx context.Context, in UpsertInput) (*UpsertResult, error) {
	if in.RegistrationNo == "" {
		return nil, eris.New("registry: upsert requires a canonical registration number")
	}
	for f := range in.Fields {
		if !f.Valid() {
			return nil, eris.Errorf("registry: unknown tracked field %q", f)
		}
	}

	reg, created, err := u.store.FindOrCreate(ctx, in.RegistrationNo)
	if err != nil {
		return nil, err
	}

	before := reg.Snapshot()
	changed := make(map[Field]FieldChange)
	conflicts := 0

	// Fixed evaluation order keeps audit output deterministic.
	for _, field := range TrackedFields {
		value, ok := in.Fields[field]
		if !ok {
			continue
		}

		stored := reg.Value(field)
		var storedProv *Provenance
		if p, ok := reg.Provenance[field]; ok {
			storedProv = &p
		}

		incoming := Candidate{
			SourceKey:  in.Meta.SourceKey,
			Value:      value,
			Grade:      in.Meta.Grade,
			Priority:   in.Meta.Priority,
			ObservedAt: in.Meta.ObservedAt,
		}
		outcome := Resolve(stored, storedProv, incoming)
		metrics.FieldDecisions.WithLabelValues(string(outcome.Decision)).Inc()

		final := stored
		if outcome.Decision == DecisionApply {
			reg.SetValue(field, value)
			final = reg.Value(field)
			prov := Provenance{
				SourceKey:  in.Meta.SourceKey,
				Grade:      in.Meta.Grade,
				Priority:   in.Meta.Priority,
				ObservedAt: in.Meta.ObservedAt,
				Reason:     outcome.Reason,
				AppliedAt:  time.Now().UTC(),
			}
			if reg.Provenance == nil {
				reg.Provenance = ProvenanceMap{}
			}
			if reg.FieldMeta == nil {
				reg.FieldMeta = ProvenanceMap{}
			}
			reg.Provenance[field] = prov
			reg.FieldMeta[field] = prov
			changed[field] = FieldChange{Old: stored, New: final}
		}

		if outcome.Decision == DecisionConflict {
			conflicts++
			cands := []Candidate{incoming}
			if storedProv != nil {
				cands = append([]Candidate{{
					SourceKey:  storedProv.SourceKey,
					Value:      stored,
					Grade:      storedProv.Grade,
					Priority:   storedProv.Priority,
					ObservedAt: storedProv.ObservedAt,
				}}, cands...)
			}
			if err := u.store.UpsertConflict(ctx, in.RegistrationNo, field, cands); err != nil {
				return nil, err
			}
		}

		// The audit row is written for every evaluation, whatever the
		// decision; audit and state share the same transaction.
		if err := u.store.AppendAudit(ctx, &Audit{
			RegistrationNo: in.RegistrationNo,
			Field:          field,
			Decision:       outcome.Decision,
			Reason:         outcome.Reason,
			OldValue:       stored,
			NewValue:       value,
			FinalValue:     final,
			StoredMeta:     storedProv,
			IncomingMeta:   in.Meta,
			SourceRunID:    in.SourceRunID,
		}); err != nil {
			return nil, err
		}
	}

	if created || len(changed) > 0 {
		if err := u.store.Update(ctx, reg); err != nil {
			return nil, err
		}

		changeType := ChangeUpdate
		if created {
			changeType = ChangeNew
		}
		if err := u.store.AppendChange(ctx, &ChangeEntry{
			EntityType: "registration",
			EntityID:   reg.ID,
			ChangeType: changeType,
			Changed:    changed,
			Before:     before,
			After:      reg.Snapshot(),
			ContractMeta: map[string]any{
				"source_key":    in.Meta.SourceKey,
				"grade":         string(in.Meta.Grade),
				"priority":      in.Meta.Priority,
				"observed_at":   in.Meta.ObservedAt,
				"source_run_id": in.SourceRunID,
			},
		}); err != nil {
			return nil, err
		}

		zap.L().Debug("registry: upsert applied",
			zap.String("registration_no", in.RegistrationNo),
			zap.Bool("created", created),
			zap.Int("changed", len(changed)),
		)
	}

	return &UpsertResult{
		RegistrationID: reg.ID,
		RegistrationNo: in.RegistrationNo,
		Created:        created,
		Changed:        changed,
		Conflicts:      conflicts,
	}, nil
}
