package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, nil))
}

func TestScheduler_WaitsForReady(t *testing.T) {
	s := New(testLogger())
	var ticks atomic.Int32
	s.Add("gated", 10*time.Millisecond, func(context.Context) error {
		ticks.Add(1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	time.Sleep(50 * time.Millisecond)
	if ticks.Load() != 0 {
		t.Fatal("task must not tick before Ready")
	}

	s.Ready()
	time.Sleep(50 * time.Millisecond)
	if ticks.Load() == 0 {
		t.Fatal("task must tick after Ready")
	}
	s.Stop(time.Second)
}

func TestScheduler_TasksAreIsolated(t *testing.T) {
	s := New(testLogger())
	var healthy atomic.Int32

	s.Add("panicky", 10*time.Millisecond, func(context.Context) error {
		panic("boom")
	})
	s.Add("failing", 10*time.Millisecond, func(context.Context) error {
		return errors.New("always fails")
	})
	s.Add("healthy", 10*time.Millisecond, func(context.Context) error {
		healthy.Add(1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	s.Ready()

	time.Sleep(80 * time.Millisecond)
	s.Stop(time.Second)

	if healthy.Load() < 3 {
		t.Errorf("healthy task ticked %d times; panics/errors elsewhere must not affect it", healthy.Load())
	}
}

func TestScheduler_NoOverlappingTicks(t *testing.T) {
	s := New(testLogger())
	var concurrent atomic.Int32
	var maxSeen atomic.Int32

	s.Add("slow", 5*time.Millisecond, func(context.Context) error {
		now := concurrent.Add(1)
		if now > maxSeen.Load() {
			maxSeen.Store(now)
		}
		time.Sleep(30 * time.Millisecond)
		concurrent.Add(-1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	s.Ready()

	time.Sleep(100 * time.Millisecond)
	s.Stop(time.Second)

	if maxSeen.Load() > 1 {
		t.Errorf("max concurrent ticks = %d, want 1 (per-task mutex)", maxSeen.Load())
	}
}

func TestScheduler_StatusTracksErrors(t *testing.T) {
	s := New(testLogger())
	s.Add("failing", 10*time.Millisecond, func(context.Context) error {
		return errors.New("tick error")
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	s.Ready()

	time.Sleep(30 * time.Millisecond)
	s.Stop(time.Second)

	status := s.Status()
	if len(status) != 1 {
		t.Fatalf("status entries = %d, want 1", len(status))
	}
	if status[0].Name != "failing" {
		t.Errorf("name = %q", status[0].Name)
	}
	if status[0].LastErr != "tick error" {
		t.Errorf("last error = %q", status[0].LastErr)
	}
	if status[0].LastRun.IsZero() {
		t.Error("last run must be stamped")
	}
}

func TestScheduler_StopCancelsContext(t *testing.T) {
	s := New(testLogger())
	cancelled := make(chan struct{})

	s.Add("blocking", 10*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		close(cancelled)
		return ctx.Err()
	})

	s.Start(context.Background())
	s.Ready()

	time.Sleep(20 * time.Millisecond)
	s.Stop(time.Second)

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("task context was not cancelled on Stop")
	}
}
