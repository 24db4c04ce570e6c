package coordinator

import (
	"time"

	"github.com/waitline/queueline/pkg/models"
)

// party is the actor's in-memory representation of one live roster member.
// Terminal parties are dropped from memory entirely; their history lives
// only in the durable log.
type party struct {
	id       string
	name     string
	size     int
	status   models.PartyStatus
	nearby   bool
	joinedAt time.Time
}

func (p *party) toView() PartyView {
	return PartyView{
		ID:       p.id,
		Name:     p.name,
		Size:     p.size,
		Status:   string(p.status),
		Nearby:   p.nearby,
		JoinedAt: p.joinedAt.UnixMilli(),
	}
}

// --- Wire message shapes ---

// PartyView is the per-party shape embedded in host and restored-snapshot
// views.
type PartyView struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	Size     int    `json:"size,omitempty"`
	Status   string `json:"status"`
	Nearby   bool   `json:"nearby"`
	JoinedAt int64  `json:"joinedAt"`
}

// HostQueueUpdate is sent to host subscribers on subscribe and after every
// mutation.
type HostQueueUpdate struct {
	Type         string      `json:"type"`
	Queue        []PartyView `json:"queue"`
	NowServing   *PartyView  `json:"nowServing"`
	MaxGuests    int         `json:"maxGuests"`
	CallDeadline *int64      `json:"callDeadline"`
}

// ClosedMessage is sent to every subscriber on session termination.
type ClosedMessage struct {
	Type string `json:"type"`
}

// GuestPosition informs a guest subscriber of its current place in line.
type GuestPosition struct {
	Type            string `json:"type"`
	Position        int    `json:"position"`
	AheadCount      int    `json:"aheadCount"`
	QueueLength     int    `json:"queueLength"`
	EstimatedWaitMs int64  `json:"estimatedWaitMs"`
}

// GuestCalled informs a guest subscriber it has been promoted to serving.
type GuestCalled struct {
	Type     string `json:"type"`
	Deadline *int64 `json:"deadline"`
}

// GuestRemoved informs a guest subscriber of a terminal transition.
type GuestRemoved struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// HeartbeatMessage is the periodic keepalive.
type HeartbeatMessage struct {
	Type string `json:"type"`
}

func newHostQueueUpdate(queue []PartyView, serving *PartyView, maxGuests int, deadline *int64) HostQueueUpdate {
	return HostQueueUpdate{Type: "queue_update", Queue: queue, NowServing: serving, MaxGuests: maxGuests, CallDeadline: deadline}
}

func newClosed() ClosedMessage { return ClosedMessage{Type: "closed"} }

func newGuestPosition(position, ahead, length int, waitMs int64) GuestPosition {
	return GuestPosition{Type: "position", Position: position, AheadCount: ahead, QueueLength: length, EstimatedWaitMs: waitMs}
}

func newGuestCalled(deadline *int64) GuestCalled { return GuestCalled{Type: "called", Deadline: deadline} }

func newGuestRemoved(reason string) GuestRemoved { return GuestRemoved{Type: "removed", Reason: reason} }

func newHeartbeat() HeartbeatMessage { return HeartbeatMessage{Type: "ping"} }

// --- Operation inputs/outputs ---

// JoinRequest is the input to Join.
type JoinRequest struct {
	Name string
	Size int
}

// JoinResult is the output of a successful Join.
type JoinResult struct {
	PartyID         string
	Position        int
	QueueLength     int
	EstimatedWaitMs int64
}

// AdvanceRequest is the input to Advance.
type AdvanceRequest struct {
	ServedPartyID string // empty if not confirming a serve
	NextPartyID   string // empty to take the head of the queue
	Credential    string
}

// AdvanceResult is the output of Advance.
type AdvanceResult struct {
	NowServing *PartyView
}

// Snapshot is the serialized state persisted to the Snapshot Store and
// returned by the snapshot operation.
type Snapshot struct {
	Queue          []PartyView `json:"queue"`
	NowServing     *PartyView  `json:"nowServing"`
	Closed         bool        `json:"closed"`
	PendingPartyID string      `json:"pendingPartyId,omitempty"`
	MaxGuests      int         `json:"maxGuests"`
	CallDeadline   *int64      `json:"callDeadline"`
}

// GuestSnapshot is the party-scoped view of a snapshot request.
type GuestSnapshot struct {
	Status          string `json:"status"`
	Position        int    `json:"position,omitempty"`
	AheadCount      int    `json:"aheadCount,omitempty"`
	QueueLength     int    `json:"queueLength,omitempty"`
	EstimatedWaitMs int64  `json:"estimatedWaitMs,omitempty"`
	CallDeadline    *int64 `json:"callDeadline,omitempty"`
}
