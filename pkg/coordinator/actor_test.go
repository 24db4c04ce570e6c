package coordinator

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waitline/queueline/pkg/hostauth"
	"github.com/waitline/queueline/pkg/models"
	"github.com/waitline/queueline/pkg/push"
)

// fakeLog is an in-memory durableLog used so the actor's state machine can
// be exercised without a live database.
type fakeLog struct {
	mu       sync.Mutex
	events   []models.Event
	statuses map[string]models.PartyStatus
	sessions map[string]models.SessionStatus
	activity map[string]time.Time
}

func newFakeLog() *fakeLog {
	return &fakeLog{
		statuses: make(map[string]models.PartyStatus),
		sessions: make(map[string]models.SessionStatus),
		activity: make(map[string]time.Time),
	}
}

func (f *fakeLog) JoinParty(ctx context.Context, p models.Party, joined models.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[p.ID] = p.Status
	f.events = append(f.events, joined)
	return nil
}

func (f *fakeLog) SetPartyNearby(ctx context.Context, partyID string) error { return nil }

func (f *fakeLog) UpdatePartyStatus(ctx context.Context, partyID string, status models.PartyStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[partyID] = status
	return nil
}

func (f *fakeLog) AppendEvent(ctx context.Context, e models.Event) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
	return int64(len(f.events)), nil
}

func (f *fakeLog) UpdateSessionStatus(ctx context.Context, sessionID string, status models.SessionStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[sessionID] = status
	return nil
}

func (f *fakeLog) TouchActivity(ctx context.Context, sessionID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activity[sessionID] = at
	return nil
}

func (f *fakeLog) eventCountOfType(t string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

// fakeSnapshots is an in-memory snapshotStore.
type fakeSnapshots struct {
	mu      sync.Mutex
	bodies  map[string][]byte
	deletes int
}

func newFakeSnapshots() *fakeSnapshots {
	return &fakeSnapshots{bodies: make(map[string][]byte)}
}

func (f *fakeSnapshots) Put(ctx context.Context, sessionID string, body []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bodies[sessionID] = body
	return nil
}

func (f *fakeSnapshots) Delete(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.bodies, sessionID)
	f.deletes++
	return nil
}

func newTestCoordinator(t *testing.T, maxGuests int) (*Coordinator, *fakeLog, string) {
	t.Helper()
	issuer, err := hostauth.NewIssuer("test-secret")
	require.NoError(t, err)

	session := models.Session{
		ID:             "sess-1",
		ShortCode:      "ABCDEF",
		EventName:      "Pop-up",
		MaxGuests:      maxGuests,
		Status:         models.SessionActive,
		CreatedAt:      time.Now(),
		LastActivityAt: time.Now(),
	}
	log := newFakeLog()
	dispatch := push.NewDispatcher(noopPushLog{}, push.NoopSender{}, "https://app.example", 1000)

	c := New(session, nil, log, newFakeSnapshots(), dispatch, issuer)
	go c.Run(context.Background())
	t.Cleanup(c.Shutdown)

	cred := issuer.Issue(session.ID)
	return c, log, cred
}

// noopPushLog satisfies whatever the push dispatcher needs without ever
// being exercised in these tests (Run is never driving real sends here).
type noopPushLog struct{}

func (noopPushLog) HasPushSent(ctx context.Context, sessionID, partyID string, kind models.PushKind) (bool, error) {
	return true, nil
}
func (noopPushLog) PushSubscriptionsForParty(ctx context.Context, sessionID, partyID string) ([]models.PushSubscription, error) {
	return nil, nil
}
func (noopPushLog) DeletePushSubscription(ctx context.Context, endpoint string) error { return nil }
func (noopPushLog) RecordPushSent(ctx context.Context, sessionID, partyID string, kind models.PushKind, at time.Time) error {
	return nil
}

func TestJoinAssignsPositionAndEstimatedWait(t *testing.T) {
	c, _, _ := newTestCoordinator(t, 10)
	ctx := context.Background()

	first, err := c.Join(ctx, JoinRequest{Name: "Alice", Size: 2})
	require.NoError(t, err)
	assert.Equal(t, 1, first.Position)
	assert.EqualValues(t, 0, first.EstimatedWaitMs)

	second, err := c.Join(ctx, JoinRequest{Name: "Bob", Size: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, second.Position)
	assert.Greater(t, second.EstimatedWaitMs, int64(0))
	assert.Equal(t, 2, second.QueueLength)
}

func TestJoinAllowsEmptyName(t *testing.T) {
	c, _, _ := newTestCoordinator(t, 10)
	res, err := c.Join(context.Background(), JoinRequest{Name: "", Size: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Position)
}

func TestJoinRejectsOverlongName(t *testing.T) {
	c, _, _ := newTestCoordinator(t, 10)
	longName := make([]byte, 101)
	for i := range longName {
		longName[i] = 'a'
	}
	_, err := c.Join(context.Background(), JoinRequest{Name: string(longName), Size: 1})
	require.Error(t, err)
	assert.True(t, trace.IsBadParameter(err))
}

func TestJoinRejectsOverCapacitySize(t *testing.T) {
	c, _, _ := newTestCoordinator(t, 3)
	_, err := c.Join(context.Background(), JoinRequest{Name: "Big Group", Size: 4})
	require.Error(t, err)
	assert.True(t, trace.IsBadParameter(err))
}

func TestJoinRejectsAtCapacity(t *testing.T) {
	c, _, _ := newTestCoordinator(t, 1)
	ctx := context.Background()
	_, err := c.Join(ctx, JoinRequest{Name: "Alice", Size: 1})
	require.NoError(t, err)

	_, err = c.Join(ctx, JoinRequest{Name: "Bob", Size: 1})
	require.Error(t, err)
	assert.True(t, trace.IsAlreadyExists(err))
}

func TestDefaultsSizeToOne(t *testing.T) {
	c, _, _ := newTestCoordinator(t, 5)
	res, err := c.Join(context.Background(), JoinRequest{Name: "Alice", Size: 0})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Position)

	snap, err := c.HostSnapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Queue, 1)
	assert.Equal(t, 1, snap.Queue[0].Size)
}

func TestLeaveRemovesWaitingParty(t *testing.T) {
	c, log, _ := newTestCoordinator(t, 5)
	ctx := context.Background()
	res, err := c.Join(ctx, JoinRequest{Name: "Alice", Size: 1})
	require.NoError(t, err)

	require.NoError(t, c.Leave(ctx, res.PartyID))

	snap, err := c.HostSnapshot(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap.Queue)
	assert.Equal(t, 1, log.eventCountOfType(models.EventLeft))
}

func TestLeaveUnknownPartyIsNotFound(t *testing.T) {
	c, _, _ := newTestCoordinator(t, 5)
	err := c.Leave(context.Background(), "does-not-exist")
	require.Error(t, err)
	assert.True(t, trace.IsNotFound(err))
}

func TestKickRequiresValidCredential(t *testing.T) {
	c, _, _ := newTestCoordinator(t, 5)
	ctx := context.Background()
	res, err := c.Join(ctx, JoinRequest{Name: "Alice", Size: 1})
	require.NoError(t, err)

	err = c.Kick(ctx, res.PartyID, "bogus-credential")
	require.Error(t, err)
	assert.True(t, trace.IsAccessDenied(err))
}

func TestKickWithValidCredentialRemovesParty(t *testing.T) {
	c, log, cred := newTestCoordinator(t, 5)
	ctx := context.Background()
	res, err := c.Join(ctx, JoinRequest{Name: "Alice", Size: 1})
	require.NoError(t, err)

	require.NoError(t, c.Kick(ctx, res.PartyID, cred))

	snap, err := c.HostSnapshot(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap.Queue)
	assert.Equal(t, models.PartyKicked, log.statuses[res.PartyID])
}

func TestAdvanceRequiresHostCredential(t *testing.T) {
	c, _, _ := newTestCoordinator(t, 5)
	_, err := c.Advance(context.Background(), AdvanceRequest{Credential: "bogus"})
	require.Error(t, err)
	assert.True(t, trace.IsAccessDenied(err))
}

func TestAdvancePromotesHeadOfQueue(t *testing.T) {
	c, _, cred := newTestCoordinator(t, 5)
	ctx := context.Background()
	first, err := c.Join(ctx, JoinRequest{Name: "Alice", Size: 1})
	require.NoError(t, err)
	_, err = c.Join(ctx, JoinRequest{Name: "Bob", Size: 1})
	require.NoError(t, err)

	res, err := c.Advance(ctx, AdvanceRequest{Credential: cred})
	require.NoError(t, err)
	require.NotNil(t, res.NowServing)
	assert.Equal(t, first.PartyID, res.NowServing.ID)
	assert.Equal(t, "called", res.NowServing.Status)
}

func TestAdvanceConfirmingWrongServedPartyIsRejected(t *testing.T) {
	c, _, cred := newTestCoordinator(t, 5)
	ctx := context.Background()
	_, err := c.Join(ctx, JoinRequest{Name: "Alice", Size: 1})
	require.NoError(t, err)
	_, err = c.Advance(ctx, AdvanceRequest{Credential: cred})
	require.NoError(t, err)

	_, err = c.Advance(ctx, AdvanceRequest{Credential: cred, ServedPartyID: "not-the-served-party"})
	require.Error(t, err)
	assert.True(t, trace.IsBadParameter(err))
}

func TestAdvanceEmptyServedPartyIDLeavesOccupantServing(t *testing.T) {
	c, log, cred := newTestCoordinator(t, 5)
	ctx := context.Background()
	first, err := c.Join(ctx, JoinRequest{Name: "Alice", Size: 1})
	require.NoError(t, err)
	_, err = c.Advance(ctx, AdvanceRequest{Credential: cred})
	require.NoError(t, err)

	res, err := c.Advance(ctx, AdvanceRequest{Credential: cred})
	require.NoError(t, err)

	// A bare advance with no servedPartyId and someone still serving is a
	// no-op: called->no_show is driven only by the alarm, never by this call.
	require.NotNil(t, res.NowServing)
	assert.Equal(t, first.PartyID, res.NowServing.ID)
	assert.Equal(t, models.PartyCalled, log.statuses[first.PartyID])
	assert.Equal(t, 0, log.eventCountOfType(models.EventNoShow))
}

func TestAlarmNoShowPromotesQueueHead(t *testing.T) {
	c, log, cred := newTestCoordinator(t, 5)
	ctx := context.Background()
	first, err := c.Join(ctx, JoinRequest{Name: "Alice", Size: 1})
	require.NoError(t, err)
	second, err := c.Join(ctx, JoinRequest{Name: "Bob", Size: 1})
	require.NoError(t, err)
	_, err = c.Advance(ctx, AdvanceRequest{Credential: cred})
	require.NoError(t, err)

	done := make(chan struct{})
	require.NoError(t, c.ask(ctx, func() {
		defer close(done)
		c.callDeadline = time.Now().Add(-time.Minute)
		c.onAlarm()
	}))
	<-done

	assert.Equal(t, models.PartyNoShow, log.statuses[first.PartyID])
	assert.Equal(t, 1, log.eventCountOfType(models.EventNoShow))
	assert.Equal(t, models.PartyCalled, log.statuses[second.PartyID])

	snap, err := c.HostSnapshot(ctx)
	require.NoError(t, err)
	require.NotNil(t, snap.NowServing)
	assert.Equal(t, second.PartyID, snap.NowServing.ID)
}

func TestAdvanceConfirmingServedPartyRecordsServed(t *testing.T) {
	c, log, cred := newTestCoordinator(t, 5)
	ctx := context.Background()
	first, err := c.Join(ctx, JoinRequest{Name: "Alice", Size: 1})
	require.NoError(t, err)
	_, err = c.Advance(ctx, AdvanceRequest{Credential: cred})
	require.NoError(t, err)

	_, err = c.Advance(ctx, AdvanceRequest{Credential: cred, ServedPartyID: first.PartyID})
	require.NoError(t, err)

	assert.Equal(t, models.PartyServed, log.statuses[first.PartyID])
	assert.Equal(t, 1, log.eventCountOfType(models.EventServed))
}

func TestAdvanceWithEmptyQueueLeavesNobodyServing(t *testing.T) {
	c, _, cred := newTestCoordinator(t, 5)
	res, err := c.Advance(context.Background(), AdvanceRequest{Credential: cred})
	require.NoError(t, err)
	assert.Nil(t, res.NowServing)
}

func TestAdvanceExplicitNextPartyIDPromotesOutOfOrder(t *testing.T) {
	c, _, cred := newTestCoordinator(t, 5)
	ctx := context.Background()
	_, err := c.Join(ctx, JoinRequest{Name: "Alice", Size: 1})
	require.NoError(t, err)
	second, err := c.Join(ctx, JoinRequest{Name: "Bob", Size: 1})
	require.NoError(t, err)

	res, err := c.Advance(ctx, AdvanceRequest{Credential: cred, NextPartyID: second.PartyID})
	require.NoError(t, err)
	require.NotNil(t, res.NowServing)
	assert.Equal(t, second.PartyID, res.NowServing.ID)
}

func TestCloseIsIdempotentAndRejectsFurtherMutation(t *testing.T) {
	c, log, cred := newTestCoordinator(t, 5)
	ctx := context.Background()

	require.NoError(t, c.Close(ctx, cred))
	require.NoError(t, c.Close(ctx, cred), "Close must be idempotent")
	assert.Equal(t, 1, log.eventCountOfType(models.EventClosed), "a second Close must not append a second closed event")

	_, err := c.Join(ctx, JoinRequest{Name: "Alice", Size: 1})
	require.Error(t, err)
	assert.True(t, trace.IsAlreadyExists(err))
}

func TestCloseDeletesSnapshot(t *testing.T) {
	issuer, err := hostauth.NewIssuer("test-secret")
	require.NoError(t, err)
	session := models.Session{ID: "sess-2", MaxGuests: 5, Status: models.SessionActive, CreatedAt: time.Now(), LastActivityAt: time.Now()}
	log := newFakeLog()
	snaps := newFakeSnapshots()
	dispatch := push.NewDispatcher(noopPushLog{}, push.NoopSender{}, "https://app.example", 1000)
	c := New(session, nil, log, snaps, dispatch, issuer)
	go c.Run(context.Background())
	t.Cleanup(c.Shutdown)

	cred := issuer.Issue(session.ID)
	require.NoError(t, c.Close(context.Background(), cred))
	assert.Equal(t, 1, snaps.deletes)
}

func TestGuestSnapshotReflectsPositionAndCalledStatus(t *testing.T) {
	c, _, cred := newTestCoordinator(t, 5)
	ctx := context.Background()
	first, err := c.Join(ctx, JoinRequest{Name: "Alice", Size: 1})
	require.NoError(t, err)
	second, err := c.Join(ctx, JoinRequest{Name: "Bob", Size: 1})
	require.NoError(t, err)

	waitingSnap, err := c.GuestSnapshotFor(ctx, second.PartyID)
	require.NoError(t, err)
	assert.Equal(t, "waiting", waitingSnap.Status)
	assert.Equal(t, 2, waitingSnap.Position)

	_, err = c.Advance(ctx, AdvanceRequest{Credential: cred})
	require.NoError(t, err)

	calledSnap, err := c.GuestSnapshotFor(ctx, first.PartyID)
	require.NoError(t, err)
	assert.Equal(t, "called", calledSnap.Status)
	require.NotNil(t, calledSnap.CallDeadline)
}

func TestGuestSnapshotUnknownPartyIsNotFound(t *testing.T) {
	c, _, _ := newTestCoordinator(t, 5)
	_, err := c.GuestSnapshotFor(context.Background(), "ghost")
	require.Error(t, err)
	assert.True(t, trace.IsNotFound(err))
}

func TestSubscribeHostPrimesOutboxWithCurrentState(t *testing.T) {
	c, _, _ := newTestCoordinator(t, 5)
	ctx := context.Background()
	_, err := c.Join(ctx, JoinRequest{Name: "Alice", Size: 1})
	require.NoError(t, err)

	sub, err := c.SubscribeHost(ctx, "conn-1")
	require.NoError(t, err)
	defer c.UnsubscribeHost("conn-1")

	select {
	case data := <-sub.Out:
		var update HostQueueUpdate
		require.NoError(t, json.Unmarshal(data, &update))
		assert.Len(t, update.Queue, 1)
	case <-time.After(time.Second):
		t.Fatal("expected a primed queue_update message")
	}
}

func TestSubscribeGuestRejectsUnknownParty(t *testing.T) {
	c, _, _ := newTestCoordinator(t, 5)
	_, err := c.SubscribeGuest(context.Background(), "conn-1", "ghost")
	require.Error(t, err)
	assert.True(t, trace.IsNotFound(err))
}
