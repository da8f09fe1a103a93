package registry

import (
	"strings"
	"time"
)

// Decision is the outcome of evaluating one incoming field value.
type Decision string

const (
	DecisionApply    Decision = "apply"
	DecisionKeep     Decision = "keep"
	DecisionNoop     Decision = "noop"
	DecisionConflict Decision = "conflict"
)

// Reasons recorded on keep decisions. Exactly one applies: the first
// dimension on which the incoming tuple lost.
const (
	ReasonLowerGrade    = "lower_evidence_grade"
	ReasonLowerPriority = "lower_source_priority"
	ReasonOlderObserved = "older_observed_at"
)

// Reasons recorded on apply decisions.
const (
	ReasonFirstWrite     = "first_write"
	ReasonHigherGrade    = "higher_evidence_grade"
	ReasonHigherPriority = "higher_source_priority"
	ReasonNewerObserved  = "newer_observed_at"
)

// Reasons recorded on noop and conflict decisions.
const (
	ReasonEmptyIncoming = "empty_incoming"
	ReasonEqualValue    = "equal_value"
	ReasonEvidenceTied  = "evidence_tied"
)

// Candidate is one competing value for a field, with the evidence metadata
// that orders it against other candidates.
type Candidate struct {
	SourceKey  string    `json:"source_key"`
	Value      string    `json:"value"`
	Grade      Grade     `json:"grade"`
	Priority   int       `json:"priority"`
	ObservedAt time.Time `json:"observed_at"`
}

// Outcome is the resolver's verdict for one field evaluation.
type Outcome struct {
	Decision Decision
	Reason   string
}

// Resolve decides whether an incoming value replaces the stored value of one
// tracked field. Evidence tuples (grade rank, -priority, observed_at) are
// compared lexicographically; a strictly greater incoming tuple wins, a full
// tie with differing values is surfaced as a conflict for external
// resolution. The function is pure: applying the same inputs in any order
// converges on the same stored value.
func Resolve(stored string, storedProv *Provenance, incoming Candidate) Outcome {
	incomingVal := strings.TrimSpace(incoming.Value)
	if incomingVal == "" {
		return Outcome{Decision: DecisionNoop, Reason: ReasonEmptyIncoming}
	}
	if incomingVal == strings.TrimSpace(stored) {
		return Outcome{Decision: DecisionNoop, Reason: ReasonEqualValue}
	}
	if storedProv == nil {
		return Outcome{Decision: DecisionApply, Reason: ReasonFirstWrite}
	}

	switch {
	case incoming.Grade.Rank() > storedProv.Grade.Rank():
		return Outcome{Decision: DecisionApply, Reason: ReasonHigherGrade}
	case incoming.Grade.Rank() < storedProv.Grade.Rank():
		return Outcome{Decision: DecisionKeep, Reason: ReasonLowerGrade}
	}

	// Same grade: lower priority number wins.
	switch {
	case incoming.Priority < storedProv.Priority:
		return Outcome{Decision: DecisionApply, Reason: ReasonHigherPriority}
	case incoming.Priority > storedProv.Priority:
		return Outcome{Decision: DecisionKeep, Reason: ReasonLowerPriority}
	}

	// Same grade and priority: newer observation wins.
	switch {
	case incoming.ObservedAt.After(storedProv.ObservedAt):
		return Outcome{Decision: DecisionApply, Reason: ReasonNewerObserved}
	case incoming.ObservedAt.Before(storedProv.ObservedAt):
		return Outcome{Decision: DecisionKeep, Reason: ReasonOlderObserved}
	}

	// Full tie with differing values: never auto-resolved.
	return Outcome{Decision: DecisionConflict, Reason: ReasonEvidenceTied}
}
