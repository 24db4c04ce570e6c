// Package coordinator implements the per-session Session Coordinator
// actor: a single goroutine per active session serializes every
// mutation through a mailbox, so no lock is ever held across an I/O call
// and queue ordering, roster invariants, and call-window timing hold by
// construction rather than by discipline.
package coordinator

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/waitline/queueline/pkg/hostauth"
	"github.com/waitline/queueline/pkg/models"
	"github.com/waitline/queueline/pkg/push"
)

// mailboxDepth bounds how many in-flight operations may queue behind a
// slow durable-log call before callers start seeing their context
// deadlines expire instead of piling up unboundedly.
const mailboxDepth = 64

// durableLog is the slice of store.DurableLog the actor goroutine needs.
// Scoping it to exactly these methods, rather than depending on the
// concrete store type, lets tests exercise the state machine against an
// in-memory fake instead of a live Postgres connection.
type durableLog interface {
	JoinParty(ctx context.Context, p models.Party, joined models.Event) error
	SetPartyNearby(ctx context.Context, partyID string) error
	UpdatePartyStatus(ctx context.Context, partyID string, status models.PartyStatus) error
	AppendEvent(ctx context.Context, e models.Event) (int64, error)
	UpdateSessionStatus(ctx context.Context, sessionID string, status models.SessionStatus) error
	TouchActivity(ctx context.Context, sessionID string, at time.Time) error
}

// snapshotStore is the slice of store.SnapshotStore the actor goroutine
// needs, for the same reason as durableLog above.
type snapshotStore interface {
	Put(ctx context.Context, sessionID string, body []byte) error
	Delete(ctx context.Context, sessionID string) error
}

// Coordinator owns all mutable state for one session. Every field below
// this comment is read and written exclusively from the goroutine started
// by Run — callers only ever talk to it through the public methods, which
// marshal a closure onto the mailbox and wait for a reply.
type Coordinator struct {
	sessionID string
	log       durableLog
	snapshots snapshotStore
	dispatch  *push.Dispatcher
	auth      *hostauth.Issuer

	mailbox chan func()
	done    chan struct{}

	session      models.Session
	parties      []*party // waiting roster, FIFO by joinedAt
	byID         map[string]*party
	serving      *party
	callDeadline time.Time
	lastActivity time.Time
	closed       bool

	subs           *subscriberRegistry
	alarmTimer     *time.Timer
	pendingPush    map[string]models.PushKind
	pushBatchTimer *time.Timer
}

// New constructs a Coordinator seeded from the given session and its live
// roster (cold-start restoration happens one layer up, in the Hub).
func New(session models.Session, live []models.Party, log durableLog, snapshots snapshotStore, dispatch *push.Dispatcher, auth *hostauth.Issuer) *Coordinator {
	c := &Coordinator{
		sessionID:    session.ID,
		log:          log,
		snapshots:    snapshots,
		dispatch:     dispatch,
		auth:         auth,
		mailbox:      make(chan func(), mailboxDepth),
		done:         make(chan struct{}),
		session:      session,
		byID:         make(map[string]*party),
		lastActivity: session.LastActivityAt,
		subs:         newSubscriberRegistry(),
		pendingPush:  make(map[string]models.PushKind),
	}
	for i := range live {
		p := &party{
			id:       live[i].ID,
			name:     live[i].Name,
			size:     live[i].Size,
			status:   live[i].Status,
			nearby:   live[i].Nearby,
			joinedAt: live[i].JoinedAt,
		}
		c.byID[p.id] = p
		if p.status == models.PartyCalled && c.serving == nil {
			c.serving = p
			c.callDeadline = p.joinedAt.Add(models.CallWindow) // best effort; the Hub overrides it via restoreCallDeadline if a snapshot is available
		} else {
			c.parties = append(c.parties, p)
		}
	}
	return c
}

// restoreCallDeadline overrides the best-effort deadline computed in New
// with the exact value from a restored snapshot.
func (c *Coordinator) restoreCallDeadline(deadline time.Time) {
	c.callDeadline = deadline
}

// Run drives the mailbox loop until Shutdown is called or ctx is done.
// It must be started in its own goroutine by the Hub.
func (c *Coordinator) Run(ctx context.Context) {
	c.scheduleAlarm()
	defer func() {
		if c.alarmTimer != nil {
			c.alarmTimer.Stop()
		}
		if c.pushBatchTimer != nil {
			c.pushBatchTimer.Stop()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case fn := <-c.mailbox:
			fn()
		}
	}
}

// Shutdown stops the mailbox loop. Safe to call more than once.
func (c *Coordinator) Shutdown() {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
}

// ask marshals fn onto the mailbox and blocks until it is queued or
// ctx/done fires first — the serialization primitive every public method
// builds on. Callers wait for fn itself to finish on their own channel.
func (c *Coordinator) ask(ctx context.Context, fn func()) error {
	select {
	case c.mailbox <- fn:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return errConflict("session %s is no longer active", c.sessionID)
	}
}

// --- Public operations ---

// Join admits a new party to the back of the queue.
func (c *Coordinator) Join(ctx context.Context, req JoinRequest) (JoinResult, error) {
	var res JoinResult
	var opErr error
	done := make(chan struct{})
	err := c.ask(ctx, func() {
		defer close(done)
		res, opErr = c.join(ctx, req)
	})
	if err != nil {
		return JoinResult{}, err
	}
	select {
	case <-done:
		return res, opErr
	case <-ctx.Done():
		return JoinResult{}, ctx.Err()
	}
}

func (c *Coordinator) join(ctx context.Context, req JoinRequest) (JoinResult, error) {
	if c.closed {
		return JoinResult{}, errConflict("session is closed")
	}
	name := req.Name
	if len(name) > 100 {
		return JoinResult{}, errValidation("name must be at most 100 characters")
	}
	size := req.Size
	if size <= 0 {
		size = 1
	}
	if size > c.session.MaxGuests {
		return JoinResult{}, errValidation("party size exceeds session capacity")
	}
	guests := 0
	for _, q := range c.parties {
		guests += q.size
	}
	if c.serving != nil {
		guests += c.serving.size
	}
	if guests+size > c.session.MaxGuests {
		return JoinResult{}, errConflict("session is at capacity")
	}

	p := &party{
		id:       uuid.NewString(),
		name:     name,
		size:     size,
		status:   models.PartyWaiting,
		joinedAt: time.Now(),
	}

	record := models.Party{ID: p.id, SessionID: c.sessionID, Name: p.name, Size: p.size, Status: p.status, JoinedAt: p.joinedAt}
	evt := models.Event{SessionID: c.sessionID, PartyID: p.id, Type: models.EventJoined, Timestamp: p.joinedAt, Details: map[string]any{"name": p.name, "size": p.size}}
	if err := c.log.JoinParty(ctx, record, evt); err != nil {
		return JoinResult{}, errTransient(err)
	}

	c.parties = append(c.parties, p)
	c.byID[p.id] = p
	c.touchActivity()

	ahead := c.aheadCount(len(c.parties) - 1)
	result := JoinResult{
		PartyID:         p.id,
		Position:        ahead + 1,
		QueueLength:     c.liveCount(),
		EstimatedWaitMs: estimatedWaitMs(ahead),
	}

	c.broadcastHostUpdate()
	c.notifyPositions()
	c.persistSnapshotAsync()
	return result, nil
}

// DeclareNearby marks a waiting or called party as physically nearby.
func (c *Coordinator) DeclareNearby(ctx context.Context, partyID string) error {
	var opErr error
	done := make(chan struct{})
	err := c.ask(ctx, func() {
		defer close(done)
		opErr = c.declareNearby(ctx, partyID)
	})
	if err != nil {
		return err
	}
	select {
	case <-done:
		return opErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) declareNearby(ctx context.Context, partyID string) error {
	if c.closed {
		return errConflict("session is closed")
	}
	p, ok := c.byID[partyID]
	if !ok || !p.status.IsLive() {
		return errNotFound("party not found")
	}
	p.nearby = true
	if err := c.log.SetPartyNearby(ctx, partyID); err != nil {
		slog.Warn("coordinator: failed to persist nearby flag", "party_id", partyID, "error", err)
	}
	c.touchActivity()
	c.broadcastHostUpdate()
	return nil
}

// Leave removes a guest-initiated party from the roster.
func (c *Coordinator) Leave(ctx context.Context, partyID string) error {
	var opErr error
	done := make(chan struct{})
	err := c.ask(ctx, func() {
		defer close(done)
		opErr = c.leave(ctx, partyID, models.ReasonGuestLeft, models.PartyLeft, "left")
	})
	if err != nil {
		return err
	}
	select {
	case <-done:
		return opErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Kick is the host-initiated removal of a party, requiring a valid host
// credential.
func (c *Coordinator) Kick(ctx context.Context, partyID, credential string) error {
	var opErr error
	done := make(chan struct{})
	err := c.ask(ctx, func() {
		defer close(done)
		if !c.auth.Verify(c.sessionID, credential) {
			opErr = errAuthInvalid("invalid host credential")
			return
		}
		opErr = c.leave(ctx, partyID, models.ReasonKicked, models.PartyKicked, "kicked")
	})
	if err != nil {
		return err
	}
	select {
	case <-done:
		return opErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// leave is the shared removal path for both guest-leave and host-kick.
func (c *Coordinator) leave(ctx context.Context, partyID, reason string, terminal models.PartyStatus, removedReason string) error {
	if c.closed {
		return errConflict("session is closed")
	}
	p, ok := c.byID[partyID]
	if !ok || !p.status.IsLive() {
		return errNotFound("party not found")
	}

	if c.serving != nil && c.serving.id == partyID {
		c.clearServing()
	} else {
		c.removeFromQueue(partyID)
	}
	delete(c.byID, partyID)

	if err := c.log.UpdatePartyStatus(ctx, partyID, terminal); err != nil {
		slog.Warn("coordinator: failed to persist leave status", "party_id", partyID, "error", err)
	}
	if _, err := c.log.AppendEvent(ctx, models.Event{SessionID: c.sessionID, PartyID: partyID, Type: models.EventLeft, Timestamp: time.Now(), Details: map[string]any{"reason": reason}}); err != nil {
		slog.Warn("coordinator: failed to append left event", "party_id", partyID, "error", err)
	}

	c.touchActivity()
	c.subs.notifyParty(partyID, newGuestRemoved(removedReason))
	c.subs.closeGuestsForParty(partyID, removedReason)
	c.broadcastHostUpdate()
	c.notifyPositions()
	c.persistSnapshotAsync()
	return nil
}

// Advance confirms the currently served party (when ServedPartyID names
// it) and promotes the next party (or an explicitly chosen one) into the
// serving slot. With someone serving and no ServedPartyID it changes
// nothing and returns the current occupant.
func (c *Coordinator) Advance(ctx context.Context, req AdvanceRequest) (AdvanceResult, error) {
	var res AdvanceResult
	var opErr error
	done := make(chan struct{})
	err := c.ask(ctx, func() {
		defer close(done)
		if !c.auth.Verify(c.sessionID, req.Credential) {
			opErr = errAuthInvalid("invalid host credential")
			return
		}
		res, opErr = c.advance(ctx, req.ServedPartyID, req.NextPartyID)
	})
	if err != nil {
		return AdvanceResult{}, err
	}
	select {
	case <-done:
		return res, opErr
	case <-ctx.Done():
		return AdvanceResult{}, ctx.Err()
	}
}

// advance is the system-and-host-shared promotion path.
func (c *Coordinator) advance(ctx context.Context, servedPartyID, nextPartyID string) (AdvanceResult, error) {
	if c.closed {
		return AdvanceResult{}, errConflict("session is closed")
	}

	if c.serving != nil {
		if servedPartyID == "" {
			// No confirmation given and someone is still serving: leave the
			// occupant alone. called->no_show is driven only by the alarm
			// (see markNoShow), never by a bare advance.
			view := c.serving.toView()
			return AdvanceResult{NowServing: &view}, nil
		}
		if servedPartyID != c.serving.id {
			return AdvanceResult{}, errValidation("servedPartyId does not match the party currently being served")
		}
		outgoing := c.serving
		c.clearServing()
		delete(c.byID, outgoing.id)
		if err := c.log.UpdatePartyStatus(ctx, outgoing.id, models.PartyServed); err != nil {
			slog.Warn("coordinator: failed to persist served status", "party_id", outgoing.id, "error", err)
		}
		if _, err := c.log.AppendEvent(ctx, models.Event{SessionID: c.sessionID, PartyID: outgoing.id, Type: models.EventServed, Timestamp: time.Now()}); err != nil {
			slog.Warn("coordinator: failed to append served event", "party_id", outgoing.id, "error", err)
		}
		c.subs.notifyParty(outgoing.id, newGuestRemoved("served"))
		c.subs.closeGuestsForParty(outgoing.id, "served")
	} else if servedPartyID != "" {
		return AdvanceResult{}, errValidation("no party is currently being served")
	}

	var next *party
	if nextPartyID != "" {
		idx := c.indexOf(nextPartyID)
		if idx < 0 {
			return AdvanceResult{}, errNotFound("party not found in queue")
		}
		next = c.parties[idx]
		c.parties = append(c.parties[:idx], c.parties[idx+1:]...)
	} else if len(c.parties) > 0 {
		next = c.parties[0]
		c.parties = c.parties[1:]
	}

	if next == nil {
		c.callDeadline = time.Time{}
		c.touchActivity()
		c.broadcastHostUpdate()
		c.scheduleAlarm()
		c.persistSnapshotAsync()
		return AdvanceResult{NowServing: nil}, nil
	}

	next.status = models.PartyCalled
	c.serving = next
	c.callDeadline = time.Now().Add(models.CallWindow)

	if err := c.log.UpdatePartyStatus(ctx, next.id, models.PartyCalled); err != nil {
		slog.Warn("coordinator: failed to persist called status", "party_id", next.id, "error", err)
	}
	if _, err := c.log.AppendEvent(ctx, models.Event{SessionID: c.sessionID, PartyID: next.id, Type: models.EventCalled, Timestamp: time.Now()}); err != nil {
		slog.Warn("coordinator: failed to append called event", "party_id", next.id, "error", err)
	}

	deadlineMs := c.callDeadline.UnixMilli()
	c.subs.notifyParty(next.id, newGuestCalled(&deadlineMs))
	c.enqueuePush(next.id, models.PushCalled)

	c.touchActivity()
	c.broadcastHostUpdate()
	c.notifyPositions()
	c.scheduleAlarm()
	c.persistSnapshotAsync()

	view := next.toView()
	return AdvanceResult{NowServing: &view}, nil
}

// Close terminates the session, rejecting every subsequent mutation.
func (c *Coordinator) Close(ctx context.Context, credential string) error {
	var opErr error
	done := make(chan struct{})
	err := c.ask(ctx, func() {
		defer close(done)
		if !c.auth.Verify(c.sessionID, credential) {
			opErr = errAuthInvalid("invalid host credential")
			return
		}
		c.doClose(ctx, "host_requested")
	})
	if err != nil {
		return err
	}
	select {
	case <-done:
		return opErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) doClose(ctx context.Context, reason string) {
	if c.closed {
		return
	}
	c.closed = true
	if err := c.log.UpdateSessionStatus(ctx, c.sessionID, models.SessionClosed); err != nil {
		slog.Warn("coordinator: failed to persist session close", "session_id", c.sessionID, "error", err)
	}
	if _, err := c.log.AppendEvent(ctx, models.Event{SessionID: c.sessionID, Type: models.EventClosed, Timestamp: time.Now(), Details: map[string]any{"reason": reason}}); err != nil {
		slog.Warn("coordinator: failed to append closed event", "session_id", c.sessionID, "error", err)
	}
	if err := c.snapshots.Delete(ctx, c.sessionID); err != nil {
		slog.Warn("coordinator: failed to delete snapshot on close", "session_id", c.sessionID, "error", err)
	}
	c.parties = nil
	c.serving = nil
	c.callDeadline = time.Time{}
	c.subs.broadcastAllClosed()
	if c.alarmTimer != nil {
		c.alarmTimer.Stop()
	}
	if c.pushBatchTimer != nil {
		c.pushBatchTimer.Stop()
	}
	slog.Info("coordinator: session closed", "session_id", c.sessionID, "reason", reason)
}

// HostSnapshot returns the current host-scoped view.
func (c *Coordinator) HostSnapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	done := make(chan struct{})
	err := c.ask(ctx, func() {
		defer close(done)
		snap = c.buildSnapshot()
	})
	if err != nil {
		return Snapshot{}, err
	}
	select {
	case <-done:
		return snap, nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

// GuestSnapshotFor returns the party-scoped view for one guest.
func (c *Coordinator) GuestSnapshotFor(ctx context.Context, partyID string) (GuestSnapshot, error) {
	var snap GuestSnapshot
	var opErr error
	done := make(chan struct{})
	err := c.ask(ctx, func() {
		defer close(done)
		snap, opErr = c.buildGuestSnapshot(partyID)
	})
	if err != nil {
		return GuestSnapshot{}, err
	}
	select {
	case <-done:
		return snap, opErr
	case <-ctx.Done():
		return GuestSnapshot{}, ctx.Err()
	}
}

func (c *Coordinator) buildGuestSnapshot(partyID string) (GuestSnapshot, error) {
	if c.closed {
		return GuestSnapshot{Status: "closed"}, nil
	}
	p, ok := c.byID[partyID]
	if !ok {
		return GuestSnapshot{}, errNotFound("party not found")
	}
	if p.status == models.PartyCalled {
		var deadline *int64
		if !c.callDeadline.IsZero() {
			ms := c.callDeadline.UnixMilli()
			deadline = &ms
		}
		return GuestSnapshot{Status: string(p.status), CallDeadline: deadline}, nil
	}
	idx := c.indexOf(partyID)
	ahead := c.aheadCount(idx)
	return GuestSnapshot{
		Status:          string(p.status),
		Position:        ahead + 1,
		AheadCount:      ahead,
		QueueLength:     c.liveCount(),
		EstimatedWaitMs: estimatedWaitMs(ahead),
	}, nil
}

// SubscribeHost registers a host websocket connection and returns its
// outbox, primed with the current state.
func (c *Coordinator) SubscribeHost(ctx context.Context, connID string) (*HostSubscriber, error) {
	var sub *HostSubscriber
	done := make(chan struct{})
	err := c.ask(ctx, func() {
		defer close(done)
		sub = c.subs.addHost(connID)
		c.subs.sendHost(sub, c.hostQueueUpdateMessage())
	})
	if err != nil {
		return nil, err
	}
	<-done
	return sub, nil
}

// UnsubscribeHost removes a host websocket connection.
func (c *Coordinator) UnsubscribeHost(connID string) {
	select {
	case c.mailbox <- func() { c.subs.removeHost(connID) }:
	case <-c.done:
	}
}

// SubscribeGuest registers a guest websocket connection scoped to one
// party and returns its outbox, primed with current position/status.
func (c *Coordinator) SubscribeGuest(ctx context.Context, connID, partyID string) (*GuestSubscriber, error) {
	var sub *GuestSubscriber
	var opErr error
	done := make(chan struct{})
	err := c.ask(ctx, func() {
		defer close(done)
		if _, ok := c.byID[partyID]; !ok {
			opErr = errNotFound("party not found")
			return
		}
		sub = c.subs.addGuest(connID, partyID)
		snap, _ := c.buildGuestSnapshot(partyID)
		c.subs.sendGuest(sub, snap)
	})
	if err != nil {
		return nil, err
	}
	<-done
	return sub, opErr
}

// UnsubscribeGuest removes a guest websocket connection.
func (c *Coordinator) UnsubscribeGuest(connID string) {
	select {
	case c.mailbox <- func() { c.subs.removeGuest(connID) }:
	case <-c.done:
	}
}

// --- internal helpers (actor-goroutine only) ---

func (c *Coordinator) liveCount() int {
	n := len(c.parties)
	if c.serving != nil {
		n++
	}
	return n
}

func (c *Coordinator) indexOf(partyID string) int {
	for i, p := range c.parties {
		if p.id == partyID {
			return i
		}
	}
	return -1
}

func (c *Coordinator) removeFromQueue(partyID string) {
	idx := c.indexOf(partyID)
	if idx >= 0 {
		c.parties = append(c.parties[:idx], c.parties[idx+1:]...)
	}
}

func (c *Coordinator) clearServing() {
	c.serving = nil
	c.callDeadline = time.Time{}
}

// markNoShow records the currently-serving party as a no-show. It is the
// only path that ever produces a called->no_show transition — the alarm
// calls it before handing promotion off to the shared advance path.
func (c *Coordinator) markNoShow(ctx context.Context) {
	outgoing := c.serving
	if outgoing == nil {
		return
	}
	c.clearServing()
	delete(c.byID, outgoing.id)
	if err := c.log.UpdatePartyStatus(ctx, outgoing.id, models.PartyNoShow); err != nil {
		slog.Warn("coordinator: failed to persist no-show status", "party_id", outgoing.id, "error", err)
	}
	if _, err := c.log.AppendEvent(ctx, models.Event{SessionID: c.sessionID, PartyID: outgoing.id, Type: models.EventNoShow, Timestamp: time.Now()}); err != nil {
		slog.Warn("coordinator: failed to append no-show event", "party_id", outgoing.id, "error", err)
	}
	c.subs.notifyParty(outgoing.id, newGuestRemoved("no_show"))
	c.subs.closeGuestsForParty(outgoing.id, "no_show")
}

// aheadCount returns the number of parties ahead of the waiting-queue
// index idx, counting the currently served party if any.
func (c *Coordinator) aheadCount(idx int) int {
	ahead := idx
	if c.serving != nil {
		ahead++
	}
	return ahead
}

func estimatedWaitMs(ahead int) int64 {
	return int64(ahead) * models.AverageServiceMins * int64(time.Minute/time.Millisecond)
}

func (c *Coordinator) touchActivity() {
	c.lastActivity = time.Now()
	if err := c.log.TouchActivity(context.Background(), c.sessionID, c.lastActivity); err != nil {
		slog.Warn("coordinator: failed to persist activity timestamp", "session_id", c.sessionID, "error", err)
	}
}

func (c *Coordinator) hostQueueUpdateMessage() HostQueueUpdate {
	queue := make([]PartyView, 0, len(c.parties))
	for _, p := range c.parties {
		queue = append(queue, p.toView())
	}
	var serving *PartyView
	var deadline *int64
	if c.serving != nil {
		v := c.serving.toView()
		serving = &v
		if !c.callDeadline.IsZero() {
			ms := c.callDeadline.UnixMilli()
			deadline = &ms
		}
	}
	return newHostQueueUpdate(queue, serving, c.session.MaxGuests, deadline)
}

func (c *Coordinator) broadcastHostUpdate() {
	c.subs.broadcastHost(c.hostQueueUpdateMessage())
}

// notifyPositions pushes updated position info to every waiting guest
// subscriber and queues pos_2/pos_5 notifications.
func (c *Coordinator) notifyPositions() {
	for i, p := range c.parties {
		ahead := c.aheadCount(i)
		pos := ahead + 1
		c.subs.notifyParty(p.id, newGuestPosition(pos, ahead, c.liveCount(), estimatedWaitMs(ahead)))
		switch pos {
		case 2:
			c.enqueuePush(p.id, models.PushPosition2)
		case 5:
			c.enqueuePush(p.id, models.PushPosition5)
		}
	}
}

func (c *Coordinator) buildSnapshot() Snapshot {
	queue := make([]PartyView, 0, len(c.parties))
	for _, p := range c.parties {
		queue = append(queue, p.toView())
	}
	var serving *PartyView
	var deadline *int64
	if c.serving != nil {
		v := c.serving.toView()
		serving = &v
		if !c.callDeadline.IsZero() {
			ms := c.callDeadline.UnixMilli()
			deadline = &ms
		}
	}
	return Snapshot{
		Queue:        queue,
		NowServing:   serving,
		Closed:       c.closed,
		MaxGuests:    c.session.MaxGuests,
		CallDeadline: deadline,
	}
}

// persistSnapshotAsync writes the current state to the Snapshot Store
// off the actor goroutine — a slow or failing write must never stall a
// mutation.
func (c *Coordinator) persistSnapshotAsync() {
	snap := c.buildSnapshot()
	body, err := json.Marshal(snap)
	if err != nil {
		slog.Error("coordinator: failed to marshal snapshot", "session_id", c.sessionID, "error", err)
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.snapshots.Put(ctx, c.sessionID, body); err != nil {
			slog.Warn("coordinator: failed to persist snapshot", "session_id", c.sessionID, "error", err)
		}
	}()
}
