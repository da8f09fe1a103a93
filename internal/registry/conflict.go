package registry

import "time"

// ConflictStatus is the lifecycle state of a conflict-queue entry.
type ConflictStatus string

const (
	ConflictOpen     ConflictStatus = "open"
	ConflictResolved ConflictStatus = "resolved"
	ConflictIgnored  ConflictStatus = "ignored"
)

// ConflictEntry is one open field-scoped disagreement for a registration.
// Candidates accumulate across ties; at most one open entry exists per
// (registration, field) pair.
type ConflictEntry struct {
	ID             int64          `json:"id"`
	RegistrationNo string         `json:"registration_no"`
	Field          Field          `json:"field"`
	Status         ConflictStatus `json:"status"`
	Candidates     []Candidate    `json:"candidates"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Audit is an immutable record of one field-level decision. One row is
// written per field evaluated per incoming row, applied or not; the audit
// trail is never skipped.
type Audit struct {
	ID             int64       `json:"id"`
	RegistrationNo string      `json:"registration_no"`
	Field          Field       `json:"field"`
	Decision       Decision    `json:"decision"`
	Reason         string      `json:"reason"`
	OldValue       string      `json:"old_value"`
	NewValue       string      `json:"new_value"`
	FinalValue     string      `json:"final_value"`
	StoredMeta     *Provenance `json:"stored_meta,omitempty"`
	IncomingMeta   SourceMeta  `json:"incoming_meta"`
	SourceRunID    string      `json:"source_run_id,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
}
