package push

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waitline/queueline/pkg/models"
)

type fakeLog struct {
	mu       sync.Mutex
	sent     map[string]bool
	subs     map[string][]models.PushSubscription
	deleted  []string
	recorded []models.PushKind
}

func newFakeLog() *fakeLog {
	return &fakeLog{
		sent: make(map[string]bool),
		subs: make(map[string][]models.PushSubscription),
	}
}

func dedupKey(sessionID, partyID string, kind models.PushKind) string {
	return sessionID + "|" + partyID + "|" + string(kind)
}

func (f *fakeLog) HasPushSent(ctx context.Context, sessionID, partyID string, kind models.PushKind) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[dedupKey(sessionID, partyID, kind)], nil
}

func (f *fakeLog) PushSubscriptionsForParty(ctx context.Context, sessionID, partyID string) ([]models.PushSubscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subs[sessionID+"|"+partyID], nil
}

func (f *fakeLog) DeletePushSubscription(ctx context.Context, endpoint string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, endpoint)
	return nil
}

func (f *fakeLog) RecordPushSent(ctx context.Context, sessionID, partyID string, kind models.PushKind, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent[dedupKey(sessionID, partyID, kind)] = true
	f.recorded = append(f.recorded, kind)
	return nil
}

type fakeSender struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (s *fakeSender) Send(ctx context.Context, sub models.PushSubscription, payload Payload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.err
}

func (s *fakeSender) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestProcessDeliversAndRecordsDedup(t *testing.T) {
	log := newFakeLog()
	log.subs["sess|party"] = []models.PushSubscription{{Endpoint: "https://push.example/1", SessionID: "sess", PartyID: "party"}}
	sender := &fakeSender{}
	d := NewDispatcher(log, sender, "https://app.example", 1000)

	d.process(context.Background(), Event{SessionID: "sess", PartyID: "party", Kind: models.PushPosition2})

	assert.Equal(t, 1, sender.callCount())
	sent, err := log.HasPushSent(context.Background(), "sess", "party", models.PushPosition2)
	require.NoError(t, err)
	assert.True(t, sent)
}

func TestProcessSkipsAlreadySent(t *testing.T) {
	log := newFakeLog()
	log.sent[dedupKey("sess", "party", models.PushPosition2)] = true
	log.subs["sess|party"] = []models.PushSubscription{{Endpoint: "https://push.example/1"}}
	sender := &fakeSender{}
	d := NewDispatcher(log, sender, "https://app.example", 1000)

	d.process(context.Background(), Event{SessionID: "sess", PartyID: "party", Kind: models.PushPosition2})

	assert.Equal(t, 0, sender.callCount())
}

func TestProcessSkipsWithNoSubscriptions(t *testing.T) {
	log := newFakeLog()
	sender := &fakeSender{}
	d := NewDispatcher(log, sender, "https://app.example", 1000)

	d.process(context.Background(), Event{SessionID: "sess", PartyID: "party", Kind: models.PushCalled, Deadline: time.Now().Add(time.Minute)})

	assert.Equal(t, 0, sender.callCount())
	assert.Empty(t, log.recorded)
}

func TestProcessDeletesGoneSubscriptionPermanently(t *testing.T) {
	log := newFakeLog()
	log.subs["sess|party"] = []models.PushSubscription{{Endpoint: "https://push.example/gone"}}
	sender := &fakeSender{err: ErrSubscriptionGone}
	d := NewDispatcher(log, sender, "https://app.example", 1000)

	d.process(context.Background(), Event{SessionID: "sess", PartyID: "party", Kind: models.PushPosition5})

	assert.Equal(t, []string{"https://push.example/gone"}, log.deleted)
	assert.Empty(t, log.recorded, "a gone subscription must not count as delivered")
	assert.Equal(t, 1, sender.callCount(), "ErrSubscriptionGone is permanent and must not be retried")
}

func TestEnqueueDropsWhenQueueFull(t *testing.T) {
	d := NewDispatcher(newFakeLog(), &fakeSender{}, "https://app.example", 1)
	for i := 0; i < queueDepth; i++ {
		d.Enqueue(Event{SessionID: "sess", PartyID: "party"})
	}
	assert.Equal(t, queueDepth, d.QueueDepth())

	d.Enqueue(Event{SessionID: "sess", PartyID: "overflow"})
	assert.Equal(t, queueDepth, d.QueueDepth(), "dispatcher must drop rather than block when the queue is full")
}

func TestBuildPayloadCalledRoundsUpMinutes(t *testing.T) {
	d := NewDispatcher(newFakeLog(), &fakeSender{}, "https://app.example", 1)
	p := d.buildPayload(Event{Kind: models.PushCalled, Deadline: time.Now().Add(90 * time.Second)})
	assert.Contains(t, p.Body, "2 minute(s)")
}
