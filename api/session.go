package api

import (
	"errors"
	"net/http"
	"sort"
	"strconv"

	"github.com/advisr-io/advisr/internal/log"
	"github.com/advisr-io/advisr/internal/session"
)

// Listing bounds.
const (
	DefaultListLimit = 100
	MaxListLimit     = 1000
)

// SessionHandler handles session inspection endpoints.
type SessionHandler struct {
	store  *session.Store
	logger log.Logger
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(store *session.Store, logger log.Logger) *SessionHandler {
	return &SessionHandler{store: store, logger: logger}
}

// RegisterRoutes registers session routes on the given mux.
func (h *SessionHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/sessions", h.list)
	mux.HandleFunc("GET /api/sessions/{id}", h.get)
	mux.HandleFunc("DELETE /api/sessions/{id}", h.clear)
}

// list returns active sessions ordered by last update, newest first.
// Query parameters:
//   - limit: maximum number of sessions to return (default 100, max 1000)
func (h *SessionHandler) list(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		h.logger.Error("session store is nil")
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}

	limit := parseIntParam(r, "limit", DefaultListLimit, 1, MaxListLimit)

	sessions := h.store.Snapshot()
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
	})
	if len(sessions) > limit {
		sessions = sessions[:limit]
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"total":    len(sessions),
		"limit":    limit,
	})
}

// get returns one session's public view.
func (h *SessionHandler) get(w http.ResponseWriter, r *http.Request) {
	view, err := h.store.Get(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "session not found")
			return
		}
		h.logger.Error("failed to get session", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// clear deletes a session. Clearing an unknown id succeeds; expired and
// nonexistent sessions are indistinguishable.
func (h *SessionHandler) clear(w http.ResponseWriter, r *http.Request) {
	h.store.Clear(r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}

// parseIntParam parses an integer query parameter with bounds checking.
func parseIntParam(r *http.Request, name string, defaultVal, min, max int) int {
	str := r.URL.Query().Get(name)
	if str == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(str)
	if err != nil {
		return defaultVal
	}
	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}
