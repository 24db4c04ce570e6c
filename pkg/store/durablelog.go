package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gravitational/trace"

	"github.com/waitline/queueline/pkg/models"
)

// DurableLog is the append-only record of sessions, parties, and events.
// It is also the system of record consulted on cold-start restoration and
// for push-dedup lookups.
type DurableLog struct {
	db *sql.DB
}

// NewDurableLog wraps a *Client's connection pool.
func NewDurableLog(c *Client) *DurableLog {
	return &DurableLog{db: c.db}
}

// retryBackoff bounds retries of non-fatal durable-log appends.
// Capped short so a struggling database cannot stall the single-writer
// critical section for long.
func retryBackoff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 5 * time.Second
	return bo
}

// CreateSession persists a newly created session.
func (d *DurableLog) CreateSession(ctx context.Context, s models.Session) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO sessions (id, short_code, status, event_name, max_guests, location, contact_info, open_time, close_time, created_at, last_activity_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		s.ID, s.ShortCode, s.Status, s.EventName, s.MaxGuests, s.Location, s.ContactInfo, s.OpenTime, s.CloseTime, s.CreatedAt, s.LastActivityAt)
	if err != nil {
		return trace.Wrap(err, "create session")
	}
	return nil
}

// ShortCodeTaken reports whether a short code is already assigned.
func (d *DurableLog) ShortCodeTaken(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := d.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM sessions WHERE short_code = $1)`, code).Scan(&exists)
	if err != nil {
		return false, trace.Wrap(err)
	}
	return exists, nil
}

// SessionByShortCode resolves a short code to its session record.
func (d *DurableLog) SessionByShortCode(ctx context.Context, code string) (*models.Session, error) {
	return d.scanSession(d.db.QueryRowContext(ctx, sessionSelect+` WHERE short_code = $1`, code))
}

// SessionByID loads a session by its identity.
func (d *DurableLog) SessionByID(ctx context.Context, id string) (*models.Session, error) {
	return d.scanSession(d.db.QueryRowContext(ctx, sessionSelect+` WHERE id = $1`, id))
}

const sessionSelect = `SELECT id, short_code, status, event_name, max_guests, location, contact_info, open_time, close_time, created_at, last_activity_at FROM sessions`

func (d *DurableLog) scanSession(row *sql.Row) (*models.Session, error) {
	var s models.Session
	var status string
	err := row.Scan(&s.ID, &s.ShortCode, &status, &s.EventName, &s.MaxGuests, &s.Location, &s.ContactInfo, &s.OpenTime, &s.CloseTime, &s.CreatedAt, &s.LastActivityAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, trace.NotFound("session not found")
	}
	if err != nil {
		return nil, trace.Wrap(err)
	}
	s.Status = models.SessionStatus(status)
	return &s, nil
}

// UpdateSessionStatus transitions a session's status (idempotent for close).
func (d *DurableLog) UpdateSessionStatus(ctx context.Context, id string, status models.SessionStatus) error {
	_, err := d.db.ExecContext(ctx, `UPDATE sessions SET status = $2 WHERE id = $1`, id, status)
	return trace.Wrap(err)
}

// TouchActivity updates a session's last-activity timestamp.
func (d *DurableLog) TouchActivity(ctx context.Context, id string, at time.Time) error {
	_, err := d.db.ExecContext(ctx, `UPDATE sessions SET last_activity_at = $2 WHERE id = $1`, id, at)
	return trace.Wrap(err)
}

// JoinParty atomically persists a new party and its "joined" event. This is
// the single durable-log path whose failure is fatal to the caller: both rows commit together, or neither does, and the caller adds
// the party to its in-memory roster only after this returns nil.
func (d *DurableLog) JoinParty(ctx context.Context, p models.Party, joined models.Event) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return trace.Wrap(err, "begin join transaction")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO parties (id, session_id, name, size, joined_at, status, nearby)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		p.ID, p.SessionID, p.Name, p.Size, p.JoinedAt, p.Status, p.Nearby); err != nil {
		return trace.Wrap(err, "insert party")
	}

	if _, err := insertEvent(ctx, tx, joined); err != nil {
		return trace.Wrap(err, "insert joined event")
	}

	if err := tx.Commit(); err != nil {
		return trace.Wrap(err, "commit join transaction")
	}
	return nil
}

// UpdatePartyStatus records a party's terminal or in-progress status
// transition, retried briefly on transient failure (non-fatal).
func (d *DurableLog) UpdatePartyStatus(ctx context.Context, partyID string, status models.PartyStatus) error {
	op := func() error {
		_, err := d.db.ExecContext(ctx, `UPDATE parties SET status = $2 WHERE id = $1`, partyID, status)
		return err
	}
	if err := backoff.Retry(op, backoff.WithContext(retryBackoff(), ctx)); err != nil {
		slog.Warn("durable log: party status update failed after retries", "party_id", partyID, "status", status, "error", err)
		return trace.Wrap(err)
	}
	return nil
}

// SetPartyNearby marks a party's nearby flag (idempotent).
func (d *DurableLog) SetPartyNearby(ctx context.Context, partyID string) error {
	_, err := d.db.ExecContext(ctx, `UPDATE parties SET nearby = TRUE WHERE id = $1`, partyID)
	return trace.Wrap(err)
}

// LiveParties returns all waiting/called parties for a session, oldest
// joined-at first — the restoration source of truth for the roster.
func (d *DurableLog) LiveParties(ctx context.Context, sessionID string) ([]models.Party, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, session_id, name, size, joined_at, status, nearby
		FROM parties
		WHERE session_id = $1 AND status IN ($2, $3)
		ORDER BY joined_at ASC, id ASC`,
		sessionID, models.PartyWaiting, models.PartyCalled)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer rows.Close()

	var parties []models.Party
	for rows.Next() {
		var p models.Party
		var status string
		if err := rows.Scan(&p.ID, &p.SessionID, &p.Name, &p.Size, &p.JoinedAt, &status, &p.Nearby); err != nil {
			return nil, trace.Wrap(err)
		}
		p.Status = models.PartyStatus(status)
		parties = append(parties, p)
	}
	return parties, trace.Wrap(rows.Err())
}

// AppendEvent appends an audit event, retried briefly (non-fatal except on
// the join path, which uses JoinParty instead).
func (d *DurableLog) AppendEvent(ctx context.Context, e models.Event) (int64, error) {
	var id int64
	op := func() error {
		var err error
		id, err = insertEvent(ctx, d.db, e)
		return err
	}
	if err := backoff.Retry(op, backoff.WithContext(retryBackoff(), ctx)); err != nil {
		slog.Warn("durable log: event append failed after retries", "session_id", e.SessionID, "type", e.Type, "error", err)
		return 0, trace.Wrap(err)
	}
	return id, nil
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func insertEvent(ctx context.Context, e execer, evt models.Event) (int64, error) {
	details := evt.Details
	if details == nil {
		details = map[string]any{}
	}
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		return 0, trace.Wrap(err)
	}
	var id int64
	err = e.QueryRowContext(ctx, `
		INSERT INTO events (session_id, party_id, type, ts, details_json)
		VALUES ($1,$2,$3,$4,$5) RETURNING id`,
		evt.SessionID, evt.PartyID, evt.Type, evt.Timestamp, detailsJSON).Scan(&id)
	if err != nil {
		return 0, trace.Wrap(err)
	}
	return id, nil
}

// HasPushSent reports whether a push_sent event already exists for
// (session, party, kind) — the dispatcher's dedup check.
func (d *DurableLog) HasPushSent(ctx context.Context, sessionID, partyID string, kind models.PushKind) (bool, error) {
	var exists bool
	err := d.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM events
			WHERE session_id = $1 AND party_id = $2 AND type = $3 AND details_json->>'kind' = $4
		)`, sessionID, partyID, models.EventPushSent, string(kind)).Scan(&exists)
	if err != nil {
		return false, trace.Wrap(err)
	}
	return exists, nil
}

// RecordPushSent appends the dedup marker after a successful send.
func (d *DurableLog) RecordPushSent(ctx context.Context, sessionID, partyID string, kind models.PushKind, at time.Time) error {
	_, err := d.AppendEvent(ctx, models.Event{
		SessionID: sessionID,
		PartyID:   partyID,
		Type:      models.EventPushSent,
		Timestamp: at,
		Details:   map[string]any{"kind": string(kind)},
	})
	return err
}

// PurgeClosedSessions deletes closed sessions (and their parties, events,
// and push subscriptions, via ON DELETE CASCADE) whose last activity is
// older than olderThan. It is the retention sweep's only write path
// (pkg/cleanup) and returns the number of sessions removed.
func (d *DurableLog) PurgeClosedSessions(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := d.db.ExecContext(ctx, `
		DELETE FROM sessions WHERE status = $1 AND last_activity_at < $2`,
		models.SessionClosed, olderThan)
	if err != nil {
		return 0, trace.Wrap(err, "purge closed sessions")
	}
	n, err := res.RowsAffected()
	return n, trace.Wrap(err)
}

// UpsertPushSubscription creates or replaces a subscription keyed by endpoint.
func (d *DurableLog) UpsertPushSubscription(ctx context.Context, sub models.PushSubscription) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO push_subscriptions (endpoint, session_id, party_id, p256dh, auth, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (endpoint) DO UPDATE SET session_id = $2, party_id = $3, p256dh = $4, auth = $5`,
		sub.Endpoint, sub.SessionID, sub.PartyID, sub.P256dh, sub.Auth, sub.CreatedAt)
	return trace.Wrap(err)
}

// DeletePushSubscription removes a subscription after a 404/410 from the
// push transport.
func (d *DurableLog) DeletePushSubscription(ctx context.Context, endpoint string) error {
	_, err := d.db.ExecContext(ctx, `DELETE FROM push_subscriptions WHERE endpoint = $1`, endpoint)
	return trace.Wrap(err)
}

// PushSubscriptionsForParty returns all subscriptions registered for a party.
func (d *DurableLog) PushSubscriptionsForParty(ctx context.Context, sessionID, partyID string) ([]models.PushSubscription, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT endpoint, session_id, party_id, p256dh, auth, created_at
		FROM push_subscriptions WHERE session_id = $1 AND party_id = $2`, sessionID, partyID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer rows.Close()

	var subs []models.PushSubscription
	for rows.Next() {
		var s models.PushSubscription
		if err := rows.Scan(&s.Endpoint, &s.SessionID, &s.PartyID, &s.P256dh, &s.Auth, &s.CreatedAt); err != nil {
			return nil, trace.Wrap(err)
		}
		subs = append(subs, s)
	}
	return subs, trace.Wrap(rows.Err())
}
