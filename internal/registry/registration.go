// Package registry maintains canonical device Registration records and the
// evidence-graded merge policy that governs every field mutation.
package registry

import (
	"time"
)

// Field names a tracked registration field. Only tracked fields pass through
// the merge policy; anything else on an incoming row is ignored by the core.
type Field string

const (
	FieldFilingNo   Field = "filing_no"
	FieldApprovedAt Field = "approved_at"
	FieldExpiresAt  Field = "expires_at"
	FieldStatus     Field = "status"
)

// TrackedFields lists all tracked fields in their canonical evaluation order.
// The order is fixed so per-row processing is deterministic.
var TrackedFields = []Field{FieldFilingNo, FieldApprovedAt, FieldExpiresAt, FieldStatus}

// Valid reports whether f names a tracked field.
func (f Field) Valid() bool {
	switch f {
	case FieldFilingNo, FieldApprovedAt, FieldExpiresAt, FieldStatus:
		return true
	}
	return false
}

// Grade is the coarse evidence tier of a source, A (highest) through D.
type Grade string

const (
	GradeA Grade = "A"
	GradeB Grade = "B"
	GradeC Grade = "C"
	GradeD Grade = "D"
)

// Rank returns a comparable rank for the grade; higher is more trusted.
// Unknown grades rank below D.
func (g Grade) Rank() int {
	switch g {
	case GradeA:
		return 4
	case GradeB:
		return 3
	case GradeC:
		return 2
	case GradeD:
		return 1
	}
	return 0
}

// SourceMeta carries the evidence metadata of one incoming observation.
type SourceMeta struct {
	SourceKey   string    `json:"source_key"`
	Grade       Grade     `json:"grade"`
	Priority    int       `json:"priority"` // lower wins within a grade
	ObservedAt  time.Time `json:"observed_at"`
	RawRecordID *int64    `json:"raw_record_id,omitempty"`
}

// Provenance records the winning write for one field. Future incoming values
// are compared against it, so it is updated only on apply decisions.
type Provenance struct {
	SourceKey  string    `json:"source_key"`
	Grade      Grade     `json:"grade"`
	Priority   int       `json:"priority"`
	ObservedAt time.Time `json:"observed_at"`
	Reason     string    `json:"reason"`
	AppliedAt  time.Time `json:"applied_at"`
}

// ProvenanceMap holds per-field provenance. Entries exist only for fields
// that have received at least one applied write.
type ProvenanceMap map[Field]Provenance

// Registration is the canonical record for one registration number.
// The registration number is immutable once assigned; tracked fields mutate
// only through the merge policy.
type Registration struct {
	ID             int64         `json:"id"`
	RegistrationNo string        `json:"registration_no"`
	FilingNo       string        `json:"filing_no,omitempty"`
	ApprovedAt     *time.Time    `json:"approved_at,omitempty"`
	ExpiresAt      *time.Time    `json:"expires_at,omitempty"`
	Status         string        `json:"status,omitempty"`
	FieldMeta      ProvenanceMap `json:"field_meta,omitempty"`
	Provenance     ProvenanceMap `json:"-"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

const dateLayout = "2006-01-02"

// Value returns the canonical textual form of a tracked field, the form the
// merge policy compares. Dates render as YYYY-MM-DD, absent values as "".
func (r *Registration) Value(f Field) string {
	switch f {
	case FieldFilingNo:
		return r.FilingNo
	case FieldApprovedAt:
		return formatDate(r.ApprovedAt)
	case FieldExpiresAt:
		return formatDate(r.ExpiresAt)
	case FieldStatus:
		return r.Status
	}
	return ""
}

// SetValue assigns a tracked field from its canonical textual form.
// Unparseable dates are rejected upstream by the row adapter, so a bad value
// here clears the field rather than panicking.
func (r *Registration) SetValue(f Field, v string) {
	switch f {
	case FieldFilingNo:
		r.FilingNo = v
	case FieldApprovedAt:
		r.ApprovedAt = parseDate(v)
	case FieldExpiresAt:
		r.ExpiresAt = parseDate(v)
	case FieldStatus:
		r.Status = v
	}
}

// Snapshot returns the tracked-field values keyed by field name, used for
// change-log before/after captures.
func (r *Registration) Snapshot() map[Field]string {
	snap := make(map[Field]string, len(TrackedFields))
	for _, f := range TrackedFields {
		snap[f] = r.Value(f)
	}
	return snap
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(dateLayout)
}

func parseDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return nil
	}
	return &t
}
