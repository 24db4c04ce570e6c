package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/gravitational/trace"
)

// SnapshotStore is the small key-value cache of the most recent serialized
// queue state per session. Reads favor fast restart and
// polling clients; writes are best-effort.
type SnapshotStore struct {
	db *sql.DB
}

// NewSnapshotStore wraps a *Client's connection pool.
func NewSnapshotStore(c *Client) *SnapshotStore {
	return &SnapshotStore{db: c.db}
}

// Put upserts the serialized snapshot body for a session.
func (s *SnapshotStore) Put(ctx context.Context, sessionID string, body []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO snapshots (session_id, body_json, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (session_id) DO UPDATE SET body_json = $2, updated_at = $3`,
		sessionID, body, time.Now())
	return trace.Wrap(err)
}

// Get returns the last snapshot body for a session, or ok=false if absent.
func (s *SnapshotStore) Get(ctx context.Context, sessionID string) (body []byte, ok bool, err error) {
	row := s.db.QueryRowContext(ctx, `SELECT body_json FROM snapshots WHERE session_id = $1`, sessionID)
	if scanErr := row.Scan(&body); scanErr != nil {
		if errors.Is(scanErr, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, trace.Wrap(scanErr)
	}
	return body, true, nil
}

// Delete removes a session's snapshot, e.g. after a close.
func (s *SnapshotStore) Delete(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE session_id = $1`, sessionID)
	return trace.Wrap(err)
}
