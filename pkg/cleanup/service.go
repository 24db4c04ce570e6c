// Package cleanup provides retention sweeping for closed sessions.
package cleanup

import (
	"context"
	"log/slog"
	"time"
)

// sessionPurger is satisfied by *store.DurableLog; narrowed to an interface
// so the sweep loop can be exercised without a live database in tests.
type sessionPurger interface {
	PurgeClosedSessions(ctx context.Context, olderThan time.Time) (int64, error)
}

// Service periodically purges closed sessions (and their cascaded parties,
// events, push subscriptions, and snapshot) once they are older than
// Retention. All operations are idempotent and safe to run from multiple
// replicas.
type Service struct {
	log       sessionPurger
	retention time.Duration
	interval  time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a new retention sweep service.
func NewService(log sessionPurger, retention, interval time.Duration) *Service {
	return &Service{log: log, retention: retention, interval: interval}
}

// Start launches the background sweep loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("retention sweep started", "retention", s.retention, "interval", s.interval)
}

// Stop signals the sweep loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("retention sweep stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Service) sweep(ctx context.Context) {
	n, err := s.log.PurgeClosedSessions(ctx, time.Now().Add(-s.retention))
	if err != nil {
		slog.Error("retention sweep failed", "error", err)
		return
	}
	if n > 0 {
		slog.Info("retention sweep purged closed sessions", "count", n)
	}
}
