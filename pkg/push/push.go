// Package push implements the out-of-band Push Dispatcher: it
// consumes typed events enqueued by session coordinators, deduplicates per
// (session, party, kind) against the durable log, and invokes a pluggable
// transport sender. It never sits on the hot path of a mutation.
package push

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/waitline/queueline/pkg/models"
)

// Event is one notification-worthy transition enqueued by a Coordinator.
type Event struct {
	SessionID  string
	PartyID    string
	Kind       models.PushKind
	Deadline   time.Time // only meaningful for PushCalled
	EnqueuedAt time.Time
}

// Payload is the transport-agnostic push payload.
type Payload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url"`
	Kind  string `json:"kind"`
}

// ErrSubscriptionGone is returned by a Sender when the transport reports
// the endpoint is permanently invalid (HTTP 404/410), signalling the
// dispatcher to delete the stored subscription.
var ErrSubscriptionGone = errors.New("push: subscription endpoint gone")

// Sender is the pluggable push transport boundary. Implementations wrap
// a real Web Push client; NoopSender is the one this repository provides.
type Sender interface {
	Send(ctx context.Context, sub models.PushSubscription, payload Payload) error
}

// NoopSender discards every send. cmd/queueline wires it in whether or
// not VAPID keys are configured.
type NoopSender struct{}

// Send implements Sender by doing nothing.
func (NoopSender) Send(ctx context.Context, sub models.PushSubscription, payload Payload) error {
	return nil
}

// queueDepth bounds how many pending events the dispatcher buffers before
// Enqueue starts dropping newly submitted events: push failures are
// recovered locally and never fatal to a mutation.
const queueDepth = 1024

// logStore is the slice of store.DurableLog the dispatcher needs for
// dedup and subscription lookups. Scoping it to an interface lets the
// dispatcher's dedup/retry/batching logic be tested without a live
// database.
type logStore interface {
	HasPushSent(ctx context.Context, sessionID, partyID string, kind models.PushKind) (bool, error)
	PushSubscriptionsForParty(ctx context.Context, sessionID, partyID string) ([]models.PushSubscription, error)
	DeletePushSubscription(ctx context.Context, endpoint string) error
	RecordPushSent(ctx context.Context, sessionID, partyID string, kind models.PushKind, at time.Time) error
}

// Dispatcher is the single process-wide consumer of coordinator push
// events.
type Dispatcher struct {
	log        logStore
	sender     Sender
	limiter    *rate.Limiter
	appBaseURL string
	queue      chan Event
}

// NewDispatcher constructs a Dispatcher. ratePerSecond throttles outbound
// sends to the transport.
func NewDispatcher(log logStore, sender Sender, appBaseURL string, ratePerSecond float64) *Dispatcher {
	if sender == nil {
		sender = NoopSender{}
	}
	return &Dispatcher{
		log:        log,
		sender:     sender,
		limiter:    rate.NewLimiter(rate.Limit(ratePerSecond), 1),
		appBaseURL: appBaseURL,
		queue:      make(chan Event, queueDepth),
	}
}

// Enqueue submits an event for delivery. Non-blocking: if the queue is
// full the event is dropped and logged, never blocking the caller's
// session mutation.
func (d *Dispatcher) Enqueue(e Event) {
	select {
	case d.queue <- e:
	default:
		slog.Warn("push dispatcher queue full, dropping event", "session_id", e.SessionID, "party_id", e.PartyID, "kind", e.Kind)
	}
}

// Run consumes the queue until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-d.queue:
			d.process(ctx, e)
		}
	}
}

// QueueDepth reports the number of events awaiting delivery, for health
// reporting.
func (d *Dispatcher) QueueDepth() int {
	return len(d.queue)
}

func (d *Dispatcher) process(ctx context.Context, e Event) {
	sent, err := d.log.HasPushSent(ctx, e.SessionID, e.PartyID, e.Kind)
	if err != nil {
		slog.Error("push dispatcher: dedup check failed", "error", err)
		return
	}
	if sent {
		return
	}

	subs, err := d.log.PushSubscriptionsForParty(ctx, e.SessionID, e.PartyID)
	if err != nil {
		slog.Error("push dispatcher: failed to load subscriptions", "error", err)
		return
	}
	if len(subs) == 0 {
		return
	}

	payload := d.buildPayload(e)

	delivered := false
	for _, sub := range subs {
		if err := d.limiter.Wait(ctx); err != nil {
			return
		}
		if err := d.sendWithRetry(ctx, sub, payload); err != nil {
			if errors.Is(err, ErrSubscriptionGone) {
				if delErr := d.log.DeletePushSubscription(ctx, sub.Endpoint); delErr != nil {
					slog.Error("push dispatcher: failed to delete gone subscription", "error", delErr)
				}
				continue
			}
			slog.Warn("push dispatcher: send failed", "endpoint", sub.Endpoint, "error", err)
			continue
		}
		delivered = true
	}

	if delivered {
		if err := d.log.RecordPushSent(ctx, e.SessionID, e.PartyID, e.Kind, time.Now()); err != nil {
			slog.Error("push dispatcher: failed to record push_sent", "error", err)
		}
	}
}

// sendBackoff bounds retries of a single subscription send; transient
// transport errors are retried briefly, ErrSubscriptionGone is permanent.
func sendBackoff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 2 * time.Second
	return bo
}

func (d *Dispatcher) sendWithRetry(ctx context.Context, sub models.PushSubscription, payload Payload) error {
	op := func() error {
		err := d.sender.Send(ctx, sub, payload)
		if errors.Is(err, ErrSubscriptionGone) {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.Retry(op, backoff.WithContext(sendBackoff(), ctx))
}

func (d *Dispatcher) buildPayload(e Event) Payload {
	switch e.Kind {
	case models.PushCalled:
		remaining := time.Until(e.Deadline)
		minutes := int(math.Ceil(remaining.Minutes()))
		if minutes < 1 {
			minutes = 1
		}
		return Payload{
			Title: "It's your turn",
			Body:  fmt.Sprintf("Please confirm within %d minute(s)", minutes),
			URL:   d.appBaseURL,
			Kind:  string(models.PushCalled),
		}
	case models.PushPosition2:
		return Payload{Title: "Almost there", Body: "You're #2 in line", URL: d.appBaseURL, Kind: string(models.PushPosition2)}
	case models.PushPosition5:
		return Payload{Title: "Getting close", Body: "You're #5 in line", URL: d.appBaseURL, Kind: string(models.PushPosition5)}
	case models.PushJoinConfirm:
		return Payload{Title: "You're in line", Body: "We'll notify you as you move up", URL: d.appBaseURL, Kind: string(models.PushJoinConfirm)}
	default:
		return Payload{Title: "Test notification", Body: "Push notifications are working", URL: d.appBaseURL, Kind: string(models.PushTest)}
	}
}
