package audit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/FairForge/meridian/internal/failover"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestAPI(t *testing.T) (*Log, http.Handler) {
	t.Helper()
	l := NewLog(zap.NewNop())
	return l, NewAPIHandler(l, zap.NewNop()).Router()
}

func TestAPIListEvents(t *testing.T) {
	l, router := newTestAPI(t)
	appendEntry(l, "ev-1", failover.EventEvaluating, "evaluation started")
	appendEntry(l, "ev-1", failover.EventCompleted, "transfer completed")
	appendEntry(l, "ev-2", failover.EventEvaluating, "evaluation started")

	t.Run("lists all", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/events", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		var body struct {
			Entries []Entry `json:"entries"`
			Count   int     `json:"count"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, 3, body.Count)
	})

	t.Run("filters by event id", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/events?event_id=ev-2", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		var body struct {
			Entries []Entry `json:"entries"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.Len(t, body.Entries, 1)
		assert.Equal(t, "ev-2", body.Entries[0].EventID)
	})

	t.Run("rejects bad since", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/events?since=yesterday", nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestAPIGetEvent(t *testing.T) {
	l, router := newTestAPI(t)
	appendEntry(l, "ev-1", failover.EventFailed, "transfer aborted: promote timeout exceeded")

	entries, err := l.Query(context.Background(), QueryFilters{}, 0)
	require.NoError(t, err)

	t.Run("found", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/events/"+entries[0].ID.String(), nil))

		require.Equal(t, http.StatusOK, rec.Code)
		var got Entry
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, "ev-1", got.EventID)
		assert.Equal(t, failover.EventFailed, got.EventState)
	})

	t.Run("invalid id", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/events/not-a-uuid", nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown id", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/events/6b9f0a54-dfb2-4f0f-9a35-0c1b8b86a001", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestAPIExport(t *testing.T) {
	l, router := newTestAPI(t)
	appendEntry(l, "ev-1", failover.EventEvaluating, "evaluation started")
	appendEntry(l, "ev-1", failover.EventCompleted, "transfer completed")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/export", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))
	assert.Equal(t, "application/x-ndjson", rec.Header().Get("Content-Type"))

	gz, err := gzip.NewReader(rec.Body)
	require.NoError(t, err)
	defer func() { _ = gz.Close() }()

	dec := json.NewDecoder(gz)
	var lines []Entry
	for dec.More() {
		var e Entry
		require.NoError(t, dec.Decode(&e))
		lines = append(lines, e)
	}
	require.Len(t, lines, 2)
	assert.Equal(t, failover.EventEvaluating, lines[0].EventState)
	assert.Equal(t, failover.EventCompleted, lines[1].EventState)
}
