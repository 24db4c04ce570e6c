// Package models holds the wire- and storage-level representations of the
// queue domain: sessions, parties, events, and push subscriptions.
package models

import "time"

// SessionStatus represents the lifecycle state of a session.
type SessionStatus string

const (
	SessionActive SessionStatus = "active"
	SessionClosed SessionStatus = "closed"
)

// IsValid reports whether s is a recognized session status.
func (s SessionStatus) IsValid() bool {
	switch s {
	case SessionActive, SessionClosed:
		return true
	default:
		return false
	}
}

// PartyStatus represents the lifecycle state of a party within a session.
type PartyStatus string

const (
	PartyWaiting PartyStatus = "waiting"
	PartyCalled  PartyStatus = "called"
	PartyServed  PartyStatus = "served"
	PartyLeft    PartyStatus = "left"
	PartyKicked  PartyStatus = "kicked"
	PartyNoShow  PartyStatus = "no_show"
)

// IsLive reports whether the status belongs to the live roster.
func (s PartyStatus) IsLive() bool {
	return s == PartyWaiting || s == PartyCalled
}

// IsValid reports whether s is a recognized party status.
func (s PartyStatus) IsValid() bool {
	switch s {
	case PartyWaiting, PartyCalled, PartyServed, PartyLeft, PartyKicked, PartyNoShow:
		return true
	default:
		return false
	}
}

// Session is the durable record of one waitlist session.
type Session struct {
	ID             string
	ShortCode      string
	EventName      string
	MaxGuests      int
	Location       string
	ContactInfo    string
	OpenTime       string // "HH:MM", empty if unset
	CloseTime      string // "HH:MM", empty if unset
	Status         SessionStatus
	CreatedAt      time.Time
	LastActivityAt time.Time
}

// Party is the durable record of one guest or group holding a queue slot.
type Party struct {
	ID        string
	SessionID string
	Name      string
	Size      int
	Status    PartyStatus
	Nearby    bool
	JoinedAt  time.Time // millisecond resolution is the authoritative ordering key
}

// Event is an append-only record used for audit and cold-start restoration.
type Event struct {
	ID        int64
	SessionID string
	PartyID   string // empty if session-scoped
	Type      string
	Timestamp time.Time
	Details   map[string]any
}

// Event type constants recorded to the durable log.
const (
	EventJoined      = "joined"
	EventNudgeAck    = "nudge_ack"
	EventLeft        = "left"
	EventCalled      = "called"
	EventServed      = "served"
	EventNoShow      = "no_show"
	EventClosed      = "closed"
	EventPushSent    = "push_sent"
	EventSessionOpen = "session_opened"
)

// LeftReason values recorded in the "left" event's details map.
const (
	ReasonGuestLeft = "guest_left"
	ReasonKicked    = "kicked"
)

// PushSubscription is a guest's opt-in to out-of-band push notifications.
type PushSubscription struct {
	Endpoint  string
	SessionID string
	PartyID   string
	P256dh    string
	Auth      string
	CreatedAt time.Time
}

// PushKind enumerates the notification kinds the dispatcher can send.
type PushKind string

const (
	PushCalled      PushKind = "called"
	PushPosition2   PushKind = "pos_2"
	PushPosition5   PushKind = "pos_5"
	PushJoinConfirm PushKind = "join_confirm"
	PushTest        PushKind = "test"
)

// PushEventType enumerates the typed event names for queue transitions.
// push_sent dedup events record a PushKind ("called", "pos_2", ...) as
// their "kind", not one of these names.
const (
	PushEventMemberJoined = "QUEUE_MEMBER_JOINED"
	PushEventMemberCalled = "QUEUE_MEMBER_CALLED"
	PushEventPosition2    = "QUEUE_POSITION_2"
	PushEventPosition5    = "QUEUE_POSITION_5"
	PushEventMemberServed = "QUEUE_MEMBER_SERVED"
	PushEventMemberNoShow = "QUEUE_MEMBER_DROPPED"
	PushEventMemberLeft   = "QUEUE_MEMBER_LEFT"
	PushEventMemberKicked = "QUEUE_MEMBER_KICKED"
	PushEventClosed       = "QUEUE_CLOSED"
)

// Lifecycle constants (non-overridable).
const (
	CallWindow           = 120 * time.Second
	InactiveTimeout      = 2 * time.Hour
	MaxSessionLifetime   = 12 * time.Hour
	HeartbeatInterval    = 30 * time.Second
	AverageServiceMins   = 3
	LifecycleCheckPeriod = 15 * time.Minute
)

// ShortCodeAlphabet excludes visually ambiguous characters (0/O, 1/I, etc.)
const ShortCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// ShortCodeLength is the fixed length of a session's human-facing code.
const ShortCodeLength = 6
