package persist

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/advisr-io/advisr/internal/dialogue"
	"github.com/advisr-io/advisr/internal/log"
)

const (
	// DefaultQueueSize bounds how many turns may wait for write-through
	// before new ones are dropped.
	DefaultQueueSize = 256

	// DefaultWriteTimeout bounds one turn's worth of database writes.
	DefaultWriteTimeout = 5 * time.Second
)

// NotifierConfig tunes the write-through queue.
type NotifierConfig struct {
	QueueSize    int
	WriteTimeout time.Duration
}

// Notifier implements dialogue.Notifier with a bounded queue and a single
// background writer. Enqueueing never blocks; a full queue drops the turn
// with a warning. Database failures are logged and swallowed.
type Notifier struct {
	querier Querier
	timeout time.Duration
	logger  log.Logger

	queue chan dialogue.Turn
	wg    sync.WaitGroup

	// mu guards closed so Notify can never send on a closed queue.
	mu     sync.Mutex
	closed bool
}

// NewNotifier creates and starts a Notifier. Call Close to drain the
// queue and stop the writer.
func NewNotifier(querier Querier, cfg NotifierConfig, logger log.Logger) *Notifier {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if logger == nil {
		logger = log.NewNop()
	}

	n := &Notifier{
		querier: querier,
		timeout: cfg.WriteTimeout,
		logger:  logger,
		queue:   make(chan dialogue.Turn, cfg.QueueSize),
	}
	n.wg.Add(1)
	go n.run()
	return n
}

// Notify enqueues a turn for write-through. Never blocks the caller.
// Turns arriving after Close are dropped with a warning; a straggler
// request finishing during shutdown must not take the process down.
func (n *Notifier) Notify(turn dialogue.Turn) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		n.logger.Warn("persistence bridge closed, dropping turn",
			"session_id", turn.SessionID,
			"stage", turn.Stage)
		return
	}

	select {
	case n.queue <- turn:
	default:
		n.logger.Warn("persistence queue full, dropping turn",
			"session_id", turn.SessionID,
			"stage", turn.Stage)
	}
}

// Close stops accepting turns, drains whatever is queued, and waits for
// the writer to finish. Safe to call more than once.
func (n *Notifier) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	n.mu.Unlock()

	close(n.queue)
	n.wg.Wait()
}

func (n *Notifier) run() {
	defer n.wg.Done()
	for turn := range n.queue {
		n.write(turn)
	}
}

// write performs one turn's upserts and transcript append. Every failure
// path ends in a log line; nothing propagates.
func (n *Notifier) write(turn dialogue.Turn) {
	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()

	view := turn.Session
	if err := n.querier.UpsertSession(ctx, turn.SessionID, string(turn.Stage), view.CreatedAt, view.UpdatedAt); err != nil {
		n.logger.Error("session write-through failed", "session_id", turn.SessionID, "error", err)
		return
	}

	response, err := json.Marshal(turn.Response)
	if err != nil {
		n.logger.Error("encoding turn response failed", "session_id", turn.SessionID, "error", err)
		return
	}
	if err := n.querier.AppendTurn(ctx, TurnRecord{
		SessionID:   turn.SessionID,
		Stage:       string(turn.Stage),
		UserMessage: turn.UserMessage,
		Response:    response,
		CreatedAt:   view.UpdatedAt,
	}); err != nil {
		n.logger.Error("transcript write-through failed", "session_id", turn.SessionID, "error", err)
	}

	payload, err := json.Marshal(view)
	if err != nil {
		n.logger.Error("encoding session payload failed", "session_id", turn.SessionID, "error", err)
		return
	}
	if err := n.querier.UpsertPayload(ctx, turn.SessionID, payload, view.UpdatedAt); err != nil {
		n.logger.Error("payload write-through failed", "session_id", turn.SessionID, "error", err)
	}
}
