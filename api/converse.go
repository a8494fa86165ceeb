package api

import (
	"net/http"

	"github.com/firebase/genkit/go/genkit"

	"github.com/advisr-io/advisr/internal/dialogue"
	"github.com/advisr-io/advisr/internal/log"
)

// ConverseHandler exposes the conversation endpoint via Genkit Flow.
//
// Request body: {"data": {"session_id": "...", "message": "..."}}
// Response: {"result": {"display_spec": ..., "session": ..., "usage": ...}}
type ConverseHandler struct {
	flow   *dialogue.Flow
	logger log.Logger
}

// NewConverseHandler creates a new converse handler. The flow should be
// obtained from dialogue.NewFlow.
func NewConverseHandler(flow *dialogue.Flow, logger log.Logger) *ConverseHandler {
	return &ConverseHandler{flow: flow, logger: logger}
}

// RegisterRoutes registers the converse route on the given mux.
func (h *ConverseHandler) RegisterRoutes(mux *http.ServeMux) {
	if h.flow == nil {
		if h.logger != nil {
			h.logger.Warn("converse flow is nil, endpoint not registered")
		}
		return
	}
	mux.Handle("POST /api/converse", genkit.Handler(h.flow))
}
