package coordinator

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/waitline/queueline/pkg/hostauth"
	"github.com/waitline/queueline/pkg/models"
	"github.com/waitline/queueline/pkg/push"
)

// hubLog is the slice of store.DurableLog the Hub itself needs for cold-start
// restoration, on top of everything a Coordinator needs.
type hubLog interface {
	durableLog
	SessionByID(ctx context.Context, id string) (*models.Session, error)
	LiveParties(ctx context.Context, sessionID string) ([]models.Party, error)
}

// hubSnapshots is the slice of store.SnapshotStore the Hub itself needs, on
// top of everything a Coordinator needs.
type hubSnapshots interface {
	snapshotStore
	Get(ctx context.Context, sessionID string) ([]byte, bool, error)
}

// Hub owns the set of live Coordinators, one per active session, and
// performs cold-start restoration for sessions it has not seen since
// process start. Unlike a Coordinator, the Hub is
// accessed from many goroutines concurrently (every inbound HTTP and
// websocket request), so it is guarded by an ordinary mutex rather than
// an actor mailbox.
type Hub struct {
	mu        sync.RWMutex
	sessions  map[string]*Coordinator
	cancels   map[string]context.CancelFunc
	log       hubLog
	snapshots hubSnapshots
	dispatch  *push.Dispatcher
	auth      *hostauth.Issuer
}

// NewHub constructs an empty Hub.
func NewHub(log hubLog, snapshots hubSnapshots, dispatch *push.Dispatcher, auth *hostauth.Issuer) *Hub {
	return &Hub{
		sessions:  make(map[string]*Coordinator),
		cancels:   make(map[string]context.CancelFunc),
		log:       log,
		snapshots: snapshots,
		dispatch:  dispatch,
		auth:      auth,
	}
}

// Get returns the resident Coordinator for a session, restoring it from
// the Snapshot Store and Durable Log if this process has not served it
// before.
func (h *Hub) Get(ctx context.Context, sessionID string) (*Coordinator, error) {
	h.mu.RLock()
	c, ok := h.sessions[sessionID]
	h.mu.RUnlock()
	if ok {
		return c, nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.sessions[sessionID]; ok {
		return c, nil
	}
	return h.restoreLocked(ctx, sessionID)
}

// restoreLocked performs cold-start restoration: prefer the cached
// snapshot for exact ephemeral timing, falling back to the durable log's
// live-party rows as the source of truth for the roster itself.
func (h *Hub) restoreLocked(ctx context.Context, sessionID string) (*Coordinator, error) {
	session, err := h.log.SessionByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status == models.SessionClosed {
		return nil, errConflict("session is closed")
	}

	live, err := h.log.LiveParties(ctx, sessionID)
	if err != nil {
		return nil, errTransient(err)
	}

	c := New(*session, live, h.log, h.snapshots, h.dispatch, h.auth)

	if body, ok, snapErr := h.snapshots.Get(ctx, sessionID); snapErr == nil && ok {
		var snap Snapshot
		if json.Unmarshal(body, &snap) == nil && snap.CallDeadline != nil {
			c.restoreCallDeadline(time.UnixMilli(*snap.CallDeadline))
		}
	}

	h.adoptLocked(c)
	return c, nil
}

// Register adopts a freshly created session directly, skipping the
// durable-log round trip restoreLocked would otherwise perform.
func (h *Hub) Register(session models.Session) *Coordinator {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.sessions[session.ID]; ok {
		return c
	}
	c := New(session, nil, h.log, h.snapshots, h.dispatch, h.auth)
	h.adoptLocked(c)
	return c
}

// adoptLocked registers c and starts its actor goroutine. Caller must
// hold h.mu.
func (h *Hub) adoptLocked(c *Coordinator) {
	runCtx, cancel := context.WithCancel(context.Background())
	h.sessions[c.sessionID] = c
	h.cancels[c.sessionID] = cancel
	go func() {
		c.Run(runCtx)
		h.evict(c.sessionID)
	}()
}

// evict removes a Coordinator once its Run loop has returned (after
// Shutdown or cancellation of its run context). Closing a session does
// not end its Run loop, so a closed Coordinator stays resident.
func (h *Hub) evict(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cancel, ok := h.cancels[sessionID]; ok {
		cancel()
		delete(h.cancels, sessionID)
	}
	delete(h.sessions, sessionID)
}

// Len reports the number of resident sessions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Shutdown stops every resident Coordinator's actor loop. It does not
// wait for them to drain; callers that need a bounded graceful shutdown
// should pair this with a short sleep or a WaitGroup threaded through
// adoptLocked if that guarantee becomes necessary.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.sessions {
		c.Shutdown()
		if cancel, ok := h.cancels[id]; ok {
			cancel()
		}
		delete(h.cancels, id)
		delete(h.sessions, id)
	}
}
