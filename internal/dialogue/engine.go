// Package dialogue is the conversation orchestrator: it owns the turn loop
// that checks a session out of the store, routes it to the handler for its
// current stage, merges extracted facts, evaluates completion, and builds
// the structured response. One turn per session id runs at a time; turns
// for different ids run in parallel.
package dialogue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/advisr-io/advisr/internal/display"
	"github.com/advisr-io/advisr/internal/log"
	"github.com/advisr-io/advisr/internal/session"
	"github.com/advisr-io/advisr/internal/stage"
)

var (
	// ErrUnknownStage indicates a session carrying a stage value the table
	// does not know. This is a programming error, not a user error: stage
	// values are only ever written by advancement over the same table.
	ErrUnknownStage = errors.New("unknown stage")

	// ErrNilStore indicates an engine built without a session store.
	ErrNilStore = errors.New("session store is nil")

	// ErrNilExtractor indicates an engine built without an extractor.
	ErrNilExtractor = errors.New("extractor is nil")
)

// Extractor is the slot-extraction capability the engine depends on.
// Implementations are best-effort: an error means "nothing understood" and
// the turn continues with empty facts.
type Extractor interface {
	ProfileFacts(ctx context.Context, message string, hints []string) (stage.ProfileFacts, error)
	GoalFacts(ctx context.Context, message string, hints []string) (stage.GoalFacts, error)
	AmountFacts(ctx context.Context, message string, hints []string) (stage.AmountFacts, error)
	PortfolioFacts(ctx context.Context, message string, hints []string) (stage.PortfolioFacts, error)
	ContactFacts(ctx context.Context, message string, hints []string) (stage.ContactFacts, error)
}

// Turn is the record handed to the Notifier after each processed message.
type Turn struct {
	SessionID   string
	Stage       session.Stage
	UserMessage string
	Response    display.Spec
	Session     session.View
}

// Notifier receives processed turns for write-through to external storage.
// Implementations must not block: delivery is best-effort and failures stay
// on the notifier's side.
type Notifier interface {
	Notify(turn Turn)
}

// Usage is optional metering info returned with each turn.
type Usage struct {
	ExtractorCalls int   `json:"extractor_calls"`
	ElapsedMS      int64 `json:"elapsed_ms"`
}

// Result is the caller-facing response contract for one turn.
type Result struct {
	DisplaySpec display.Spec `json:"display_spec"`
	Session     session.View `json:"session"`
	Usage       Usage        `json:"usage"`
}

// Config collects the engine's dependencies.
type Config struct {
	Store     *session.Store
	Extractor Extractor

	// Notifier may be nil; turns are then not written through.
	Notifier Notifier

	// Table defaults to stage.DefaultTable when zero.
	Table *stage.Table

	Logger log.Logger
}

type handlerFunc func(ctx context.Context, t *turn)

// Engine routes inbound messages through the stage table.
type Engine struct {
	store    *session.Store
	ext      Extractor
	notifier Notifier
	table    stage.Table
	logger   log.Logger
	handlers map[session.Stage]handlerFunc
}

// New builds an Engine. The handler table is fixed at construction; every
// stage in the table must have a handler.
func New(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, ErrNilStore
	}
	if cfg.Extractor == nil {
		return nil, ErrNilExtractor
	}
	table := stage.DefaultTable()
	if cfg.Table != nil {
		table = *cfg.Table
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}

	e := &Engine{
		store:    cfg.Store,
		ext:      cfg.Extractor,
		notifier: cfg.Notifier,
		table:    table,
		logger:   logger,
	}
	e.handlers = map[session.Stage]handlerFunc{
		session.StageQualify:        e.handleQualify,
		session.StageGoals:          e.handleGoals,
		session.StageAmountTimeline: e.handleAmountTimeline,
		session.StagePortfolio:      e.handlePortfolio,
		session.StageEmailCapture:   e.handleEmailCapture,
		session.StageAnalyze:        e.handleAnalyze,
		session.StageExplain:        e.handleExplain,
		session.StageCTA:            e.handleCTA,
		session.StageEnd:            e.handleEnd,
	}
	for _, id := range table.Stages() {
		if _, ok := e.handlers[id]; !ok {
			return nil, fmt.Errorf("%w: %q has no handler", ErrUnknownStage, id)
		}
	}
	return e, nil
}

// turn carries one message's working state through a handler.
type turn struct {
	sess    *session.Session
	message string
	b       *display.Builder
	usage   Usage
}

// Converse processes one inbound message for a session. An unknown session
// id creates a fresh session. The returned Result always carries a
// well-formed, non-empty DisplaySpec.
func (e *Engine) Converse(ctx context.Context, sessionID, message string) (*Result, error) {
	start := time.Now()

	sess, release, created, err := e.store.Checkout(sessionID)
	if err != nil {
		return nil, fmt.Errorf("checking out session: %w", err)
	}
	defer release()

	if sess.Contaminated(e.table.Initial()) {
		e.logger.Warn("discarding contaminated session",
			"session_id", sess.ID,
			"stage", sess.Stage)
		sess.Reset(e.table.Initial(), time.Now())
		created = true
	}

	handler, ok := e.handlers[sess.Stage]
	if !ok || !e.table.Contains(sess.Stage) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStage, sess.Stage)
	}

	t := &turn{
		sess:    sess,
		message: strings.TrimSpace(message),
		b:       display.NewBuilder(),
	}
	if created {
		t.b.Text(greeting)
	}
	handler(ctx, t)

	e.refreshSlots(sess)
	sess.UpdatedAt = time.Now()

	spec := t.b.
		Prepend(display.ProgressBlock(
			string(sess.Stage),
			e.position(sess.Stage),
			len(e.table.Stages()),
			stage.SlotStrings(stage.Missing(e.table, sess.Stage, sess)),
		)).
		Build()

	t.usage.ElapsedMS = time.Since(start).Milliseconds()
	result := &Result{
		DisplaySpec: spec,
		Session:     sess.View(),
		Usage:       t.usage,
	}

	e.logger.Debug("turn processed",
		"session_id", sess.ID,
		"stage", sess.Stage,
		"extractor_calls", t.usage.ExtractorCalls,
		"elapsed_ms", t.usage.ElapsedMS)

	if e.notifier != nil {
		e.notifier.Notify(Turn{
			SessionID:   sess.ID,
			Stage:       sess.Stage,
			UserMessage: t.message,
			Response:    spec,
			Session:     result.Session,
		})
	}
	return result, nil
}

// Table returns the engine's stage table.
func (e *Engine) Table() stage.Table {
	return e.table
}

// refreshSlots recomputes the derived slot sets. MissingSlots is scoped to
// the current stage; CompletedSlots accumulates every filled slot from the
// start of the table through the current stage, so an advanced session
// always carries evidence of the progress that got it there.
func (e *Engine) refreshSlots(s *session.Session) {
	s.MissingSlots = stage.SlotStrings(stage.Missing(e.table, s.Stage, s))

	var completed []stage.Slot
	for _, id := range e.table.Stages() {
		completed = append(completed, stage.Completed(e.table, id, s)...)
		if id == s.Stage {
			break
		}
	}
	s.CompletedSlots = stage.SlotStrings(completed)
}

// position returns the 1-based index of a stage in the table.
func (e *Engine) position(id session.Stage) int {
	for i, s := range e.table.Stages() {
		if s == id {
			return i + 1
		}
	}
	return 0
}

// advance moves the session one stage forward. No-op on the terminal
// stage. Advancing clears the one-time optional-slot prompt gate.
func (e *Engine) advance(t *turn) {
	next, ok := e.table.Next(t.sess.Stage)
	if !ok {
		return
	}
	t.sess.Stage = next
	t.sess.OptionalOffered = false
}
