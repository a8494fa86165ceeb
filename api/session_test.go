package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/advisr-io/advisr/internal/log"
	"github.com/advisr-io/advisr/internal/session"
)

func newSessionMux(t *testing.T) (*http.ServeMux, *session.Store) {
	t.Helper()
	store := session.NewStore(session.StoreConfig{}, log.NewNop())
	t.Cleanup(store.Close)

	mux := http.NewServeMux()
	NewSessionHandler(store, log.NewNop()).RegisterRoutes(mux)
	return mux, store
}

func TestSessionList(t *testing.T) {
	mux, store := newSessionMux(t)

	_, err := store.Create("a")
	require.NoError(t, err)
	_, err = store.Create("b")
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Sessions []session.View `json:"sessions"`
		Total    int            `json:"total"`
		Limit    int            `json:"limit"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Total)
	assert.Equal(t, DefaultListLimit, resp.Limit)
}

func TestSessionListLimit(t *testing.T) {
	mux, store := newSessionMux(t)
	for _, id := range []string{"a", "b", "c"} {
		_, err := store.Create(id)
		require.NoError(t, err)
	}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions?limit=2", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Sessions []session.View `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Sessions, 2)
}

func TestSessionGet(t *testing.T) {
	mux, store := newSessionMux(t)
	_, err := store.Create("known")
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions/known", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var view session.View
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "known", view.ID)
	assert.Equal(t, session.StageQualify, view.Stage)
}

func TestSessionGetNotFound(t *testing.T) {
	mux, _ := newSessionMux(t)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions/nope", nil))

	require.Equal(t, http.StatusNotFound, rec.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "not_found", resp.Error)
}

func TestSessionClear(t *testing.T) {
	mux, store := newSessionMux(t)
	_, err := store.Create("gone")
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/sessions/gone", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 0, store.Len())

	// Clearing again is fine.
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/sessions/gone", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestParseIntParam(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/?limit=50", nil)
	assert.Equal(t, 50, parseIntParam(r, "limit", 100, 1, 1000))

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Equal(t, 100, parseIntParam(r, "limit", 100, 1, 1000))

	r = httptest.NewRequest(http.MethodGet, "/?limit=99999", nil)
	assert.Equal(t, 1000, parseIntParam(r, "limit", 100, 1, 1000))

	r = httptest.NewRequest(http.MethodGet, "/?limit=bogus", nil)
	assert.Equal(t, 100, parseIntParam(r, "limit", 100, 1, 1000))

	r = httptest.NewRequest(http.MethodGet, "/?limit=-3", nil)
	assert.Equal(t, 1, parseIntParam(r, "limit", 100, 1, 1000))
}
