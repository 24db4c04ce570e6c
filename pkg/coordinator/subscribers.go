package coordinator

import (
	"encoding/json"
	"log/slog"
)

// outboxSize bounds how far a subscriber may fall behind before it is
// dropped rather than buffered unboundedly.
const outboxSize = 32

// HostSubscriber is a registered host connection. Out delivers marshaled
// JSON frames in production order; the owning websocket handler drains it.
// CloseReason is set before Out is closed and is safe to read only after
// observing Out's close, per Go's memory model (a channel close
// happens-before a receive that returns because of it).
type HostSubscriber struct {
	ID          string
	Out         chan []byte
	CloseReason string
}

// GuestSubscriber is a registered guest connection, scoped to one party.
// See HostSubscriber for the CloseReason visibility rule.
type GuestSubscriber struct {
	ID          string
	PartyID     string
	Out         chan []byte
	CloseReason string
}

// subscriberRegistry tracks connected host and guest subscribers.
// All methods are called only from the owning Coordinator's actor
// goroutine — no internal locking.
type subscriberRegistry struct {
	hosts  map[string]*HostSubscriber
	guests map[string]*GuestSubscriber
}

func newSubscriberRegistry() *subscriberRegistry {
	return &subscriberRegistry{
		hosts:  make(map[string]*HostSubscriber),
		guests: make(map[string]*GuestSubscriber),
	}
}

func (r *subscriberRegistry) addHost(id string) *HostSubscriber {
	sub := &HostSubscriber{ID: id, Out: make(chan []byte, outboxSize)}
	r.hosts[id] = sub
	return sub
}

func (r *subscriberRegistry) removeHost(id string) {
	r.closeHost(id, "")
}

// closeHost removes a host subscriber, stamping reason (if non-empty) for
// the websocket handler to report as the close-frame reason.
func (r *subscriberRegistry) closeHost(id, reason string) {
	if sub, ok := r.hosts[id]; ok {
		sub.CloseReason = reason
		close(sub.Out)
		delete(r.hosts, id)
	}
}

func (r *subscriberRegistry) addGuest(id, partyID string) *GuestSubscriber {
	sub := &GuestSubscriber{ID: id, PartyID: partyID, Out: make(chan []byte, outboxSize)}
	r.guests[id] = sub
	return sub
}

func (r *subscriberRegistry) removeGuest(id string) {
	r.closeGuest(id, "")
}

// closeGuest removes a guest subscriber, stamping reason (if non-empty)
// for the websocket handler to report as the close-frame reason.
func (r *subscriberRegistry) closeGuest(id, reason string) {
	if sub, ok := r.guests[id]; ok {
		sub.CloseReason = reason
		close(sub.Out)
		delete(r.guests, id)
	}
}

// closeGuestsForParty closes every guest subscriber scoped to partyID with
// the given terminal reason.
func (r *subscriberRegistry) closeGuestsForParty(partyID, reason string) {
	for _, sub := range r.guestsForParty(partyID) {
		r.closeGuest(sub.ID, reason)
	}
}

func (r *subscriberRegistry) guestsForParty(partyID string) []*GuestSubscriber {
	var out []*GuestSubscriber
	for _, sub := range r.guests {
		if sub.PartyID == partyID {
			out = append(out, sub)
		}
	}
	return out
}

// sendHost delivers a single message, dropping the subscriber on backpressure
// rather than blocking.
func (r *subscriberRegistry) sendHost(sub *HostSubscriber, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("coordinator: failed to marshal host message", "error", err)
		return
	}
	select {
	case sub.Out <- data:
	default:
		slog.Warn("coordinator: dropping slow host subscriber", "connection_id", sub.ID)
		r.removeHost(sub.ID)
	}
}

func (r *subscriberRegistry) sendGuest(sub *GuestSubscriber, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("coordinator: failed to marshal guest message", "error", err)
		return
	}
	select {
	case sub.Out <- data:
	default:
		slog.Warn("coordinator: dropping slow guest subscriber", "connection_id", sub.ID, "party_id", sub.PartyID)
		r.removeGuest(sub.ID)
	}
}

func (r *subscriberRegistry) broadcastHost(v any) {
	for _, sub := range r.hosts {
		r.sendHost(sub, v)
	}
}

// broadcastAllClosed sends the closed message to every subscriber, then
// closes every connection with reason "closed".
func (r *subscriberRegistry) broadcastAllClosed() {
	msg := newClosed()
	for id, sub := range r.hosts {
		r.sendHost(sub, msg)
		r.closeHost(id, "closed")
	}
	for id, sub := range r.guests {
		r.sendGuest(sub, msg)
		r.closeGuest(id, "closed")
	}
}

func (r *subscriberRegistry) notifyParty(partyID string, v any) {
	for _, sub := range r.guestsForParty(partyID) {
		r.sendGuest(sub, v)
	}
}
