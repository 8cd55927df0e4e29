package shard

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/strata/internal/document"
)

// DefaultIdleTimeout is how long an untouched cursor survives before the
// sweeper reclaims it. It is the safety net for routers that crashed between
// opening cursors and consuming or killing them.
const DefaultIdleTimeout = 10 * time.Minute

// defaultSweepInterval is how often the expiry sweep runs.
const defaultSweepInterval = time.Minute

// cursor is one open result stream: the documents left to serve and the
// last time a client touched it.
type cursor struct {
	collection string
	docs       []document.Doc
	lastUsed   time.Time
}

// CursorManager owns every open cursor on a node. Cursors are created by
// aggregate commands that request one, advanced by getMore, destroyed by
// killCursors or by the idle-expiry sweep.
// Thread-safe: all methods may be called concurrently.
type CursorManager struct {
	mu          sync.Mutex
	cursors     map[int64]*cursor
	nextID      int64
	idleTimeout time.Duration
	log         *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCursorManager creates a manager whose idle sweep uses the given
// timeout. A zero timeout selects DefaultIdleTimeout; a nil logger disables
// logging.
func NewCursorManager(idleTimeout time.Duration, log *zap.Logger) *CursorManager {
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &CursorManager{
		cursors:     make(map[int64]*cursor),
		nextID:      1,
		idleTimeout: idleTimeout,
		log:         log,
	}
}

// Start launches the background expiry sweep. Stop shuts it down.
func (m *CursorManager) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.wg.Add(1)

	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(defaultSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.expireIdle(time.Now())
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the expiry sweep and waits for it to exit.
func (m *CursorManager) Stop() {
	if m.cancel != nil {
		m.cancel()
		m.wg.Wait()
	}
}

// Register opens a cursor over the remaining documents and returns its id.
// Ids are never 0: id 0 on the wire means "no cursor".
func (m *CursorManager) Register(collection string, docs []document.Doc) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	m.cursors[id] = &cursor{
		collection: collection,
		docs:       docs,
		lastUsed:   time.Now(),
	}
	return id
}

// Fetch returns up to limit documents from the cursor and reports whether
// the cursor is exhausted (and therefore closed). ok is false for unknown
// ids, including cursors already killed or expired.
func (m *CursorManager) Fetch(id int64, limit int) (batch []document.Doc, done, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, exists := m.cursors[id]
	if !exists {
		return nil, false, false
	}
	c.lastUsed = time.Now()

	if limit <= 0 || limit > len(c.docs) {
		limit = len(c.docs)
	}
	batch = c.docs[:limit]
	c.docs = c.docs[limit:]

	if len(c.docs) == 0 {
		delete(m.cursors, id)
		return batch, true, true
	}
	return batch, false, true
}

// Kill closes a cursor. Returns false when the id is unknown, which callers
// treat as benign: killing twice must not fail.
func (m *CursorManager) Kill(id int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, exists := m.cursors[id]
	delete(m.cursors, id)
	return exists
}

// Open reports how many cursors are currently live.
func (m *CursorManager) Open() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.cursors)
}

// expireIdle reclaims every cursor untouched for longer than the idle
// timeout.
func (m *CursorManager) expireIdle(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, c := range m.cursors {
		if now.Sub(c.lastUsed) > m.idleTimeout {
			delete(m.cursors, id)
			m.log.Info("expired idle cursor",
				zap.Int64("cursor", id), zap.String("collection", c.collection))
		}
	}
}
