package cleanup

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

type fakePurger struct {
	calls atomic.Int32
}

func (f *fakePurger) PurgeClosedSessions(context.Context, time.Time) (int64, error) {
	f.calls.Add(1)
	return 0, nil
}

func TestService_StartStopIdempotent(t *testing.T) {
	fp := &fakePurger{}
	s := NewService(fp, 48*time.Hour, time.Hour)

	s.Stop() // no-op before Start
	if s.cancel != nil {
		t.Fatal("cancel should remain nil before Start")
	}

	ctx := context.Background()
	s.Start(ctx)
	if s.cancel == nil {
		t.Fatal("expected cancel to be set after Start")
	}

	s.Start(ctx) // second Start is a no-op
	s.Stop()
	s.Stop() // second Stop is a no-op

	if fp.calls.Load() == 0 {
		t.Fatal("expected sweep to run at least once before stop")
	}
}
