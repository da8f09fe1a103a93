package ingest

import (
	"context"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRawStore_UpsertDocument(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	store := NewRawStore(mock)

	payload := []byte(`{"registration_no":"国械注准20243170001"}`)
	mock.ExpectQuery("INSERT INTO regdata.raw_documents").
		WithArgs("nmpa_bulletin", "run-1", "abc123", payload).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(5)))

	id, err := store.UpsertDocument(context.Background(), "nmpa_bulletin", "run-1", "abc123", payload)
	require.NoError(t, err)
	assert.Equal(t, int64(5), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRawStore_UpsertDocument_RedeliveryReturnsExistingID(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	store := NewRawStore(mock)

	// Same (source, run, hash) twice: the conflict-aware insert hands back
	// the same id both times.
	for range 2 {
		mock.ExpectQuery("INSERT INTO regdata.raw_documents").
			WithArgs("nmpa_bulletin", "run-1", "abc123", []byte(`{}`)).
			WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(5)))
	}

	first, err := store.UpsertDocument(context.Background(), "nmpa_bulletin", "run-1", "abc123", []byte(`{}`))
	require.NoError(t, err)
	second, err := store.UpsertDocument(context.Background(), "nmpa_bulletin", "run-1", "abc123", []byte(`{}`))
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRawStore_SetParseOutcome(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	store := NewRawStore(mock)

	mock.ExpectExec("UPDATE regdata.raw_documents").
		WithArgs(int64(5), "rejected", "CANONICAL_KEY_MISSING").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err = store.SetParseOutcome(context.Background(), 5, ParseRejected, CodeKeyMissing)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRawStore_SetParseOutcome_NoCode(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	store := NewRawStore(mock)

	// A parsed document carries no error code; the column stays NULL.
	mock.ExpectExec("UPDATE regdata.raw_documents").
		WithArgs(int64(5), "parsed", nil).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err = store.SetParseOutcome(context.Background(), 5, ParseOK, "")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
