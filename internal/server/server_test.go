package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/medreg-data/regsync/internal/ingest"
	"github.com/medreg-data/regsync/internal/registry"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestServer(t *testing.T) (pgxmock.PgxPoolIface, http.Handler) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock, New(mock).Router()
}

func TestHealthz(t *testing.T) {
	_, router := newTestServer(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	_, router := newTestServer(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestListRuns(t *testing.T) {
	mock, router := newTestServer(t)

	started := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	finished := started.Add(2 * time.Minute)
	summary := "processed 10 rows"
	rows := pgxmock.NewRows([]string{
		"id", "source_key", "status", "started_at", "finished_at", "counters", "summary", "error",
	}).AddRow(
		"run-1", "nmpa_domestic", ingest.RunSuccess, started, &finished,
		[]byte(`{"fetched":10,"parsed":9,"missing_key":1}`), &summary, nil,
	)
	mock.ExpectQuery("SELECT id, source_key, status, started_at, finished_at, counters, summary, error").
		WithArgs(50).
		WillReturnRows(rows)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Runs []struct {
			ID       string `json:"id"`
			Status   string `json:"status"`
			Counters struct {
				Fetched    int `json:"fetched"`
				MissingKey int `json:"missing_key"`
			} `json:"counters"`
		} `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Runs, 1)
	assert.Equal(t, "run-1", resp.Runs[0].ID)
	assert.Equal(t, "success", resp.Runs[0].Status)
	assert.Equal(t, 10, resp.Runs[0].Counters.Fetched)
	assert.Equal(t, 1, resp.Runs[0].Counters.MissingKey)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListRuns_Empty(t *testing.T) {
	mock, router := newTestServer(t)

	mock.ExpectQuery("SELECT id, source_key, status").
		WithArgs(5).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "source_key", "status", "started_at", "finished_at", "counters", "summary", "error",
		}))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs?limit=5", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	// Nil slice renders as an empty array, not null.
	assert.JSONEq(t, `{"runs":[]}`, rec.Body.String())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListConflicts(t *testing.T) {
	mock, router := newTestServer(t)

	now := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	rows := pgxmock.NewRows([]string{
		"id", "registration_no", "field_name", "status", "candidates", "created_at", "updated_at",
	}).AddRow(
		int64(7), "国械注准20243170001", registry.FieldStatus, registry.ConflictOpen,
		[]byte(`[{"source_key":"a","value":"active"},{"source_key":"b","value":"expired"}]`),
		now, now,
	)
	mock.ExpectQuery("SELECT id, registration_no, field_name, status, candidates").
		WithArgs(100).
		WillReturnRows(rows)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/conflicts", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "国械注准20243170001")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListChanges_Cursor(t *testing.T) {
	mock, router := newTestServer(t)

	now := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	rows := pgxmock.NewRows([]string{
		"id", "entity_type", "entity_id", "change_type", "changed_fields",
		"before_snapshot", "after_snapshot", "contract_meta", "created_at",
	}).AddRow(
		int64(12), "registration", int64(3), registry.ChangeUpdate,
		[]byte(`{"status":{"old":"","new":"active"}}`),
		[]byte(`{}`), []byte(`{"status":"active"}`),
		[]byte(`{"source_key":"nmpa_domestic"}`), now,
	)
	mock.ExpectQuery("SELECT id, entity_type, entity_id, change_type").
		WithArgs(int64(10), 100).
		WillReturnRows(rows)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/changes?after=10", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		NextCursor int64 `json:"next_cursor"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(12), resp.NextCursor)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResolvePending_BadRequests(t *testing.T) {
	_, router := newTestServer(t)

	// Non-numeric id.
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/pending/abc/resolve",
		strings.NewReader(`{"registration_no":"国械注准20243170001"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Malformed body.
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/pending/1/resolve",
		strings.NewReader(`{`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Missing registration number.
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/pending/1/resolve",
		strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListRuns_DatabaseError(t *testing.T) {
	mock, router := newTestServer(t)

	mock.ExpectQuery("SELECT id, source_key, status").
		WithArgs(50).
		WillReturnError(assert.AnError)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}
