package dialogue

import (
	"context"
	"errors"
	"sync"

	"github.com/firebase/genkit/go/core"
	"github.com/firebase/genkit/go/genkit"
	"github.com/google/uuid"

	"github.com/advisr-io/advisr/internal/display"
	"github.com/advisr-io/advisr/internal/log"
)

// Input is the request payload for the converse flow.
type Input struct {
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message"`
}

// FlowName is the registered name of the converse flow in Genkit.
const FlowName = "advisr/converse"

// Flow is the converse flow type, exported for genkit.Handler wiring.
type Flow = core.Flow[Input, *Result, struct{}]

// Package-level singleton: genkit.DefineFlow panics on re-registration.
var (
	flowOnce sync.Once
	flow     *Flow
)

// NewFlow returns the converse flow singleton, initializing it on first
// call. Subsequent calls return the existing flow.
func NewFlow(g *genkit.Genkit, engine *Engine, logger log.Logger) *Flow {
	flowOnce.Do(func() {
		flow = defineFlow(g, engine, logger)
	})
	return flow
}

// ResetFlowForTesting resets the flow singleton. Tests only; not safe for
// concurrent use.
func ResetFlowForTesting() {
	flowOnce = sync.Once{}
	flow = nil
}

// defineFlow registers the converse flow. A missing session id gets a
// fresh one so first-contact callers need no handshake. Engine failures
// other than the unknown-stage programming error degrade to a well-formed
// error response; the caller always receives renderable blocks.
func defineFlow(g *genkit.Genkit, engine *Engine, logger log.Logger) *Flow {
	if logger == nil {
		logger = log.NewNop()
	}
	return genkit.DefineFlow(g, FlowName,
		func(ctx context.Context, input Input) (*Result, error) {
			sessionID := input.SessionID
			if sessionID == "" {
				sessionID = uuid.NewString()
			}

			result, err := engine.Converse(ctx, sessionID, input.Message)
			if err != nil {
				if errors.Is(err, ErrUnknownStage) {
					return nil, err
				}
				logger.Error("turn failed", "session_id", sessionID, "error", err)
				return &Result{DisplaySpec: display.ErrorSpec()}, nil
			}
			return result, nil
		},
	)
}
