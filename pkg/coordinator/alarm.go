package coordinator

import (
	"context"
	"log/slog"
	"time"

	"github.com/waitline/queueline/pkg/models"
	"github.com/waitline/queueline/pkg/push"
)

// pushBatchWindow is the coalescing delay for position/called pushes.
const pushBatchWindow = 3 * time.Second

// scheduleAlarm arms the single outstanding timer for this session. Its
// fire time is the earlier of the current call deadline and the next
// periodic lifecycle check.
func (c *Coordinator) scheduleAlarm() {
	if c.alarmTimer != nil {
		c.alarmTimer.Stop()
	}
	if c.closed {
		return
	}
	next := time.Now().Add(models.LifecycleCheckPeriod)
	if c.serving != nil && !c.callDeadline.IsZero() && c.callDeadline.Before(next) {
		next = c.callDeadline
	}
	d := time.Until(next)
	if d < 0 {
		d = 0
	}
	c.alarmTimer = time.AfterFunc(d, c.postAlarm)
}

// postAlarm re-enters the actor goroutine from the timer goroutine so the
// fire is serialized with every other mutation.
func (c *Coordinator) postAlarm() {
	select {
	case c.mailbox <- c.onAlarm:
	case <-c.done:
	}
}

// onAlarm is the scheduler's periodic entry point: no-show check,
// then max-lifetime check, then inactivity check, then reschedule. A fire
// against already-closed or already-changed state is a no-op by
// construction — every check re-reads current fields, never cached ones.
func (c *Coordinator) onAlarm() {
	if c.closed {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	now := time.Now()

	if c.serving != nil && !c.callDeadline.IsZero() && !now.Before(c.callDeadline) {
		c.markNoShow(ctx)
		if _, err := c.advance(ctx, "", ""); err != nil {
			slog.Error("coordinator: auto-advance after no-show failed", "session_id", c.sessionID, "error", err)
		}
		if c.closed {
			return
		}
	}

	if now.Sub(c.session.CreatedAt) >= models.MaxSessionLifetime {
		c.doClose(ctx, "max_lifetime")
		return
	}

	if now.Sub(c.lastActivity) >= models.InactiveTimeout {
		c.doClose(ctx, "inactive")
		return
	}

	c.scheduleAlarm()
}

// enqueuePush records the highest-priority pending push for a party and
// arms the coalescing timer on the first event since the last flush.
func (c *Coordinator) enqueuePush(partyID string, kind models.PushKind) {
	if existing, ok := c.pendingPush[partyID]; ok && pushPriority(existing) >= pushPriority(kind) {
		return
	}
	c.pendingPush[partyID] = kind
	if c.pushBatchTimer == nil {
		c.pushBatchTimer = time.AfterFunc(pushBatchWindow, c.postFlushPush)
	}
}

func pushPriority(k models.PushKind) int {
	switch k {
	case models.PushCalled:
		return 3
	case models.PushPosition2:
		return 2
	case models.PushPosition5:
		return 1
	default:
		return 0
	}
}

func (c *Coordinator) postFlushPush() {
	select {
	case c.mailbox <- c.flushPendingPush:
	case <-c.done:
	}
}

// flushPendingPush hands every coalesced pending push to the shared
// Dispatcher and clears the batch.
func (c *Coordinator) flushPendingPush() {
	c.pushBatchTimer = nil
	if len(c.pendingPush) == 0 {
		return
	}
	now := time.Now()
	for partyID, kind := range c.pendingPush {
		evt := push.Event{SessionID: c.sessionID, PartyID: partyID, Kind: kind, EnqueuedAt: now}
		if kind == models.PushCalled && c.serving != nil && c.serving.id == partyID {
			evt.Deadline = c.callDeadline
		}
		c.dispatch.Enqueue(evt)
	}
	c.pendingPush = make(map[string]models.PushKind)
}
