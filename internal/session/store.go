package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/advisr-io/advisr/internal/log"
)

const (
	// DefaultTTL is how long a session remains reachable after creation.
	DefaultTTL = 24 * time.Hour

	// opportunisticSweepInterval throttles the inline expiry sweep that
	// piggybacks on Create and Checkout.
	opportunisticSweepInterval = time.Minute
)

// StoreConfig configures a Store. Zero values select defaults.
type StoreConfig struct {
	// TTL is the session lifetime measured from creation. Default: DefaultTTL.
	TTL time.Duration

	// InitialStage is the stage assigned to fresh sessions.
	// Default: StageQualify.
	InitialStage Stage

	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

// Store keeps sessions in memory with TTL-based expiry.
//
// Concurrency model: one logical owner per session. Checkout hands out the
// session together with a per-id lock; turns for the same id serialize on
// it while turns for different ids run in parallel. The expiry sweep uses
// TryLock so it never removes a session mid-mutation.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	cfg    StoreConfig
	logger log.Logger

	mu        sync.Mutex
	sessions  map[string]*entry
	lastSweep time.Time
	closed    bool

	done chan struct{}
	wg   sync.WaitGroup
}

// entry pairs a session with its per-id lock.
type entry struct {
	mu   sync.Mutex
	sess *Session
}

// NewStore creates a Store.
func NewStore(cfg StoreConfig, logger log.Logger) *Store {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.InitialStage == "" {
		cfg.InitialStage = StageQualify
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if logger == nil {
		logger = log.NewNop()
	}

	return &Store{
		cfg:      cfg,
		logger:   logger,
		sessions: make(map[string]*entry),
		done:     make(chan struct{}),
	}
}

// InitialStage returns the stage assigned to fresh sessions.
func (st *Store) InitialStage() Stage {
	return st.cfg.InitialStage
}

func (st *Store) newSession(id string, now time.Time) *Session {
	return &Session{
		ID:        id,
		Stage:     st.cfg.InitialStage,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Create creates a new session. If id is empty or already taken, a fresh
// collision-free id is generated. Runs the opportunistic expiry sweep.
func (st *Store) Create(id string) (View, error) {
	st.mu.Lock()
	if st.closed {
		st.mu.Unlock()
		return View{}, ErrStoreClosed
	}
	now := st.cfg.Clock()
	st.maybeSweepLocked(now)

	if id == "" {
		id = uuid.NewString()
	}
	for {
		if _, taken := st.sessions[id]; !taken {
			break
		}
		id = uuid.NewString()
	}

	e := &entry{sess: st.newSession(id, now)}
	st.sessions[id] = e
	st.mu.Unlock()

	e.mu.Lock()
	v := e.sess.View()
	e.mu.Unlock()

	st.logger.Debug("created session", "id", id)
	return v, nil
}

// Checkout returns the live session for id, creating a fresh one when the id
// is unknown or expired, together with a release func. The caller owns the
// session exclusively until release is called; concurrent checkouts of the
// same id block.
func (st *Store) Checkout(id string) (sess *Session, release func(), created bool, err error) {
	for {
		st.mu.Lock()
		if st.closed {
			st.mu.Unlock()
			return nil, nil, false, ErrStoreClosed
		}
		now := st.cfg.Clock()
		st.maybeSweepLocked(now)

		e, ok := st.sessions[id]
		madeNew := false
		if !ok {
			if id == "" {
				id = uuid.NewString()
			}
			e = &entry{sess: st.newSession(id, now)}
			st.sessions[id] = e
			madeNew = true
		}
		st.mu.Unlock()

		e.mu.Lock()

		// Revalidate: the entry may have been cleared or swept between
		// releasing the store lock and acquiring the entry lock.
		if !st.isCurrent(id, e) {
			e.mu.Unlock()
			continue
		}

		if !madeNew && e.sess.Expired(st.cfg.Clock(), st.cfg.TTL) {
			st.evict(id, e)
			e.mu.Unlock()
			st.logger.Debug("evicted expired session", "id", id)
			continue
		}

		return e.sess, e.mu.Unlock, madeNew, nil
	}
}

// Get returns a snapshot of the session, or ErrNotFound if the id is
// unknown or the session has expired (expired sessions are evicted).
func (st *Store) Get(id string) (View, error) {
	st.mu.Lock()
	e, ok := st.sessions[id]
	st.mu.Unlock()
	if !ok {
		return View{}, ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !st.isCurrent(id, e) {
		return View{}, ErrNotFound
	}
	if e.sess.Expired(st.cfg.Clock(), st.cfg.TTL) {
		st.evict(id, e)
		st.logger.Debug("evicted expired session", "id", id)
		return View{}, ErrNotFound
	}
	return e.sess.View(), nil
}

// Update applies fn to the session under its per-id lock and refreshes
// UpdatedAt. Returns ErrNotFound for unknown or expired ids.
func (st *Store) Update(id string, fn func(*Session)) (View, error) {
	st.mu.Lock()
	e, ok := st.sessions[id]
	st.mu.Unlock()
	if !ok {
		return View{}, ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !st.isCurrent(id, e) {
		return View{}, ErrNotFound
	}
	now := st.cfg.Clock()
	if e.sess.Expired(now, st.cfg.TTL) {
		st.evict(id, e)
		return View{}, ErrNotFound
	}

	fn(e.sess)
	e.sess.UpdatedAt = now
	return e.sess.View(), nil
}

// Clear removes the session. Waits for any in-flight turn on the id, so a
// session is never deleted mid-turn. Clearing an unknown id is a no-op.
func (st *Store) Clear(id string) {
	st.mu.Lock()
	e, ok := st.sessions[id]
	st.mu.Unlock()
	if !ok {
		return
	}

	e.mu.Lock()
	st.evict(id, e)
	e.mu.Unlock()
	st.logger.Debug("cleared session", "id", id)
}

// CleanupExpired sweeps all expired sessions and returns how many were
// removed. Sessions currently checked out are skipped; they are caught by a
// later sweep or on their next checkout.
func (st *Store) CleanupExpired() int {
	st.mu.Lock()
	entries := make(map[string]*entry, len(st.sessions))
	for id, e := range st.sessions {
		entries[id] = e
	}
	now := st.cfg.Clock()
	st.mu.Unlock()

	removed := 0
	for id, e := range entries {
		if !e.mu.TryLock() {
			continue // mid-turn, skip
		}
		if st.isCurrent(id, e) && e.sess.Expired(now, st.cfg.TTL) {
			st.evict(id, e)
			removed++
		}
		e.mu.Unlock()
	}

	if removed > 0 {
		st.logger.Debug("expiry sweep", "removed", removed)
	}
	return removed
}

// Snapshot returns point-in-time views of all live sessions.
func (st *Store) Snapshot() []View {
	st.mu.Lock()
	entries := make([]*entry, 0, len(st.sessions))
	for _, e := range st.sessions {
		entries = append(entries, e)
	}
	st.mu.Unlock()

	views := make([]View, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		views = append(views, e.sess.View())
		e.mu.Unlock()
	}
	return views
}

// Len returns the number of live sessions, expired or not.
func (st *Store) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}

// StartSweeper launches a background goroutine that runs CleanupExpired
// every interval until Close is called.
func (st *Store) StartSweeper(interval time.Duration) {
	st.wg.Add(1)
	go func() {
		defer st.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				st.CleanupExpired()
			case <-st.done:
				return
			}
		}
	}()
}

// Close stops the background sweeper and rejects further checkouts.
func (st *Store) Close() {
	st.mu.Lock()
	if st.closed {
		st.mu.Unlock()
		return
	}
	st.closed = true
	close(st.done)
	st.mu.Unlock()
	st.wg.Wait()
}

// isCurrent reports whether e is still the live entry for id.
// Callers may hold e.mu but must not hold st.mu.
func (st *Store) isCurrent(id string, e *entry) bool {
	st.mu.Lock()
	cur, ok := st.sessions[id]
	st.mu.Unlock()
	return ok && cur == e
}

// evict removes the entry for id if it is still current.
// Caller must hold e.mu and must not hold st.mu.
func (st *Store) evict(id string, e *entry) {
	st.mu.Lock()
	if cur, ok := st.sessions[id]; ok && cur == e {
		delete(st.sessions, id)
	}
	st.mu.Unlock()
}

// maybeSweepLocked runs a throttled inline sweep. Caller holds st.mu.
// Entries whose lock is busy are skipped, matching CleanupExpired.
func (st *Store) maybeSweepLocked(now time.Time) {
	if now.Sub(st.lastSweep) < opportunisticSweepInterval {
		return
	}
	st.lastSweep = now

	for id, e := range st.sessions {
		if !e.mu.TryLock() {
			continue
		}
		if e.sess.Expired(now, st.cfg.TTL) {
			delete(st.sessions, id)
		}
		e.mu.Unlock()
	}
}
