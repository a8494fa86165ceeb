// Package persist is the best-effort write-through bridge between the
// dialogue engine and PostgreSQL. Nothing in the conversation path waits
// on it: turns are queued, written in the background, and dropped with a
// log line when the database is unavailable.
package persist

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TurnRecord is one processed message as written to the transcript.
type TurnRecord struct {
	SessionID   string
	Stage       string
	UserMessage string
	Response    []byte // DisplaySpec JSON
	CreatedAt   time.Time
}

// Querier defines the database operations the notifier needs. Interfaces
// are defined by the consumer, not the provider; tests supply a mock.
type Querier interface {
	UpsertSession(ctx context.Context, id, stage string, createdAt, updatedAt time.Time) error
	AppendTurn(ctx context.Context, turn TurnRecord) error
	UpsertPayload(ctx context.Context, sessionID string, payload []byte, updatedAt time.Time) error
}

// execer is the slice of pgxpool.Pool the Postgres querier uses.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Postgres implements Querier with hand-written SQL against a pgx pool.
type Postgres struct {
	db execer
}

// NewPostgres creates a Postgres querier backed by the given pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{db: pool}
}

const upsertSessionSQL = `
INSERT INTO sessions (id, stage, created_at, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE SET stage = EXCLUDED.stage, updated_at = EXCLUDED.updated_at`

func (p *Postgres) UpsertSession(ctx context.Context, id, stage string, createdAt, updatedAt time.Time) error {
	if _, err := p.db.Exec(ctx, upsertSessionSQL, id, stage, createdAt, updatedAt); err != nil {
		return fmt.Errorf("upserting session %s: %w", id, err)
	}
	return nil
}

const appendTurnSQL = `
INSERT INTO transcript_turns (session_id, stage, user_message, response, created_at)
VALUES ($1, $2, $3, $4, $5)`

func (p *Postgres) AppendTurn(ctx context.Context, turn TurnRecord) error {
	if _, err := p.db.Exec(ctx, appendTurnSQL,
		turn.SessionID, turn.Stage, turn.UserMessage, turn.Response, turn.CreatedAt); err != nil {
		return fmt.Errorf("appending turn for %s: %w", turn.SessionID, err)
	}
	return nil
}

const upsertPayloadSQL = `
INSERT INTO session_payloads (session_id, payload, updated_at)
VALUES ($1, $2, $3)
ON CONFLICT (session_id) DO UPDATE SET payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at`

func (p *Postgres) UpsertPayload(ctx context.Context, sessionID string, payload []byte, updatedAt time.Time) error {
	if _, err := p.db.Exec(ctx, upsertPayloadSQL, sessionID, payload, updatedAt); err != nil {
		return fmt.Errorf("upserting payload for %s: %w", sessionID, err)
	}
	return nil
}
