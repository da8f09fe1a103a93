package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const regNo = "国械注准20243170001"

func meta(key string, grade Grade, priority int, observed time.Time) SourceMeta {
	return SourceMeta{SourceKey: key, Grade: grade, Priority: priority, ObservedAt: observed}
}

func TestUpsert_CreatesAndApplies(t *testing.T) {
	store := newFakeStore()
	u := NewUpserter(store)

	result, err := u.Upsert(context.Background(), UpsertInput{
		RegistrationNo: regNo,
		Fields: map[Field]string{
			FieldStatus:     "active",
			FieldApprovedAt: "2024-03-15",
		},
		Meta:        meta("nmpa", GradeA, 1, t0),
		SourceRunID: "run-1",
	})
	require.NoError(t, err)

	assert.True(t, result.Created)
	assert.Len(t, result.Changed, 2)
	assert.Zero(t, result.Conflicts)

	reg := store.get(regNo)
	require.NotNil(t, reg)
	assert.Equal(t, "active", reg.Status)
	require.NotNil(t, reg.ApprovedAt)
	assert.Equal(t, "2024-03-15", reg.ApprovedAt.Format("2006-01-02"))

	// Provenance recorded for both applied fields.
	assert.Equal(t, "nmpa", reg.Provenance[FieldStatus].SourceKey)
	assert.Equal(t, ReasonFirstWrite, reg.Provenance[FieldStatus].Reason)
	assert.False(t, reg.Provenance[FieldStatus].AppliedAt.IsZero())

	// Change log captures the transition.
	require.Len(t, store.changes, 1)
	change := store.changes[0]
	assert.Equal(t, ChangeNew, change.ChangeType)
	assert.Equal(t, "", change.Before[FieldStatus])
	assert.Equal(t, "active", change.After[FieldStatus])
	assert.Equal(t, "nmpa", change.ContractMeta["source_key"])
}

func TestUpsert_IdempotentReplay(t *testing.T) {
	store := newFakeStore()
	u := NewUpserter(store)

	in := UpsertInput{
		RegistrationNo: regNo,
		Fields:         map[Field]string{FieldStatus: "active"},
		Meta:           meta("nmpa", GradeA, 1, t0),
		SourceRunID:    "run-1",
	}

	first, err := u.Upsert(context.Background(), in)
	require.NoError(t, err)
	require.True(t, first.Created)

	second, err := u.Upsert(context.Background(), in)
	require.NoError(t, err)

	assert.False(t, second.Created)
	assert.Empty(t, second.Changed)
	assert.Zero(t, second.Conflicts)

	// No second change-log entry, but the audit trail records the noop.
	assert.Len(t, store.changes, 1)
	audits := store.auditsFor(FieldStatus)
	require.Len(t, audits, 2)
	assert.Equal(t, DecisionApply, audits[0].Decision)
	assert.Equal(t, DecisionNoop, audits[1].Decision)
	assert.Equal(t, ReasonEqualValue, audits[1].Reason)
}

func TestUpsert_WeakerSourceKeeps(t *testing.T) {
	store := newFakeStore()
	u := NewUpserter(store)
	ctx := context.Background()

	_, err := u.Upsert(ctx, UpsertInput{
		RegistrationNo: regNo,
		Fields:         map[Field]string{FieldStatus: "active"},
		Meta:           meta("nmpa", GradeA, 1, t0),
	})
	require.NoError(t, err)

	result, err := u.Upsert(ctx, UpsertInput{
		RegistrationNo: regNo,
		Fields:         map[Field]string{FieldStatus: "expired"},
		Meta:           meta("scraper", GradeC, 5, t1),
	})
	require.NoError(t, err)

	assert.Empty(t, result.Changed)
	assert.Equal(t, "active", store.get(regNo).Status)

	audits := store.auditsFor(FieldStatus)
	require.Len(t, audits, 2)
	assert.Equal(t, DecisionKeep, audits[1].Decision)
	assert.Equal(t, ReasonLowerGrade, audits[1].Reason)
	// The losing value still appears in the audit row.
	assert.Equal(t, "expired", audits[1].NewValue)
	assert.Equal(t, "active", audits[1].FinalValue)
}

func TestUpsert_StrongerSourceOverwrites(t *testing.T) {
	store := newFakeStore()
	u := NewUpserter(store)
	ctx := context.Background()

	_, err := u.Upsert(ctx, UpsertInput{
		RegistrationNo: regNo,
		Fields:         map[Field]string{FieldStatus: "active"},
		Meta:           meta("scraper", GradeC, 5, t0),
	})
	require.NoError(t, err)

	result, err := u.Upsert(ctx, UpsertInput{
		RegistrationNo: regNo,
		Fields:         map[Field]string{FieldStatus: "expired"},
		Meta:           meta("nmpa", GradeA, 1, t1),
	})
	require.NoError(t, err)

	require.Contains(t, result.Changed, FieldStatus)
	assert.Equal(t, FieldChange{Old: "active", New: "expired"}, result.Changed[FieldStatus])
	assert.Equal(t, "expired", store.get(regNo).Status)
	assert.Equal(t, "nmpa", store.get(regNo).Provenance[FieldStatus].SourceKey)

	// Update change logged with source attribution.
	require.Len(t, store.changes, 2)
	assert.Equal(t, ChangeUpdate, store.changes[1].ChangeType)
}

func TestUpsert_TieOpensConflictAndKeepsStored(t *testing.T) {
	store := newFakeStore()
	u := NewUpserter(store)
	ctx := context.Background()

	_, err := u.Upsert(ctx, UpsertInput{
		RegistrationNo: regNo,
		Fields:         map[Field]string{FieldStatus: "active"},
		Meta:           meta("source_a", GradeA, 1, t0),
	})
	require.NoError(t, err)

	result, err := u.Upsert(ctx, UpsertInput{
		RegistrationNo: regNo,
		Fields:         map[Field]string{FieldStatus: "expired"},
		Meta:           meta("source_b", GradeA, 1, t0),
	})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Conflicts)
	assert.Empty(t, result.Changed)
	// Stored value is untouched by a conflict.
	assert.Equal(t, "active", store.get(regNo).Status)

	cands := store.conflicts[regNo+"/status"]
	require.Len(t, cands, 2)
	assert.Equal(t, "source_a", cands[0].SourceKey)
	assert.Equal(t, "active", cands[0].Value)
	assert.Equal(t, "source_b", cands[1].SourceKey)
	assert.Equal(t, "expired", cands[1].Value)

	// Replaying the tied observation does not duplicate candidates.
	_, err = u.Upsert(ctx, UpsertInput{
		RegistrationNo: regNo,
		Fields:         map[Field]string{FieldStatus: "expired"},
		Meta:           meta("source_b", GradeA, 1, t0),
	})
	require.NoError(t, err)
	assert.Len(t, store.conflicts[regNo+"/status"], 2)
}

func TestUpsert_FieldsEvaluatedInCanonicalOrder(t *testing.T) {
	store := newFakeStore()
	u := NewUpserter(store)

	_, err := u.Upsert(context.Background(), UpsertInput{
		RegistrationNo: regNo,
		Fields: map[Field]string{
			FieldStatus:     "active",
			FieldFilingNo:   "京械备20180001号",
			FieldExpiresAt:  "2029-03-14",
			FieldApprovedAt: "2024-03-15",
		},
		Meta: meta("nmpa", GradeA, 1, t0),
	})
	require.NoError(t, err)

	require.Len(t, store.audits, 4)
	got := make([]Field, len(store.audits))
	for i, a := range store.audits {
		got[i] = a.Field
	}
	assert.Equal(t, TrackedFields, got)
}

func TestUpsert_RejectsUnknownField(t *testing.T) {
	u := NewUpserter(newFakeStore())

	_, err := u.Upsert(context.Background(), UpsertInput{
		RegistrationNo: regNo,
		Fields:         map[Field]string{"manufacturer": "x"},
		Meta:           meta("nmpa", GradeA, 1, t0),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown tracked field")
}

func TestUpsert_RequiresRegistrationNo(t *testing.T) {
	u := NewUpserter(newFakeStore())

	_, err := u.Upsert(context.Background(), UpsertInput{
		Fields: map[Field]string{FieldStatus: "active"},
		Meta:   meta("nmpa", GradeA, 1, t0),
	})
	require.Error(t, err)
}

func TestUpsert_EmptyIncomingValueNeverClears(t *testing.T) {
	store := newFakeStore()
	u := NewUpserter(store)
	ctx := context.Background()

	_, err := u.Upsert(ctx, UpsertInput{
		RegistrationNo: regNo,
		Fields:         map[Field]string{FieldStatus: "active"},
		Meta:           meta("nmpa", GradeA, 1, t0),
	})
	require.NoError(t, err)

	result, err := u.Upsert(ctx, UpsertInput{
		RegistrationNo: regNo,
		Fields:         map[Field]string{FieldStatus: ""},
		Meta:           meta("nmpa", GradeA, 1, t1),
	})
	require.NoError(t, err)

	assert.Empty(t, result.Changed)
	assert.Equal(t, "active", store.get(regNo).Status)
}
