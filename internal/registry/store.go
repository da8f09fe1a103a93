package registry

import "context"

// Store defines the persistence operations the upsert path needs. All
// methods run against the caller's transaction scope; the store itself never
// begins or commits transactions.
type Store interface {
	// FindOrCreate returns the registration for a canonical key, creating a
	// bare record when the key is unseen. Reports whether it created.
	FindOrCreate(ctx context.Context, regNo string) (*Registration, bool, error)

	// Update persists tracked-field values and both provenance maps.
	Update(ctx context.Context, r *Registration) error

	// AppendAudit writes one immutable field-decision audit row.
	AppendAudit(ctx context.Context, a *Audit) error

	// UpsertConflict appends candidates to the open conflict entry for a
	// (registration, field) pair, creating it if absent. Candidates are
	// deduplicated by (source, value, observed_at).
	UpsertConflict(ctx context.Context, regNo string, field Field, cands []Candidate) error

	// AppendChange writes one change-log entry.
	AppendChange(ctx context.Context, e *ChangeEntry) error
}
