package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/spa1teN/tausendsassa/internal/faults"
)

func testFabric(maxRetries int) *Fabric {
	return New(Config{
		MaxRetries: maxRetries,
		BaseDelay:  time.Millisecond,
		MaxDelay:   5 * time.Millisecond,
	})
}

func TestExecute_SucceedsFirstTry(t *testing.T) {
	f := testFabric(3)
	calls := 0

	err := f.Execute(context.Background(), "op", func(context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if f.FailureCount("op") != 0 {
		t.Errorf("FailureCount = %d, want 0", f.FailureCount("op"))
	}
}

func TestExecute_RetriesTransient(t *testing.T) {
	f := testFabric(3)
	calls := 0

	err := f.Execute(context.Background(), "op", func(context.Context) error {
		calls++
		if calls < 3 {
			return faults.New(faults.KindTransient, "op", errors.New("connection refused"))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	// Success resets the streak.
	if f.FailureCount("op") != 0 {
		t.Errorf("FailureCount = %d, want 0", f.FailureCount("op"))
	}
}

func TestExecute_TerminalNotRetried(t *testing.T) {
	f := testFabric(3)
	calls := 0
	terminal := faults.New(faults.KindPermanentSource, "op", errors.New("410 gone"))

	err := f.Execute(context.Background(), "op", func(context.Context) error {
		calls++
		return terminal
	})
	if !errors.Is(err, terminal) {
		t.Fatalf("Execute error = %v, want terminal error", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no retry on terminal)", calls)
	}
	if f.FailureCount("op") != 1 {
		t.Errorf("FailureCount = %d, want 1", f.FailureCount("op"))
	}
}

func TestExecute_GivesUpAfterMaxRetries(t *testing.T) {
	f := testFabric(2)
	calls := 0

	err := f.Execute(context.Background(), "op", func(context.Context) error {
		calls++
		return faults.New(faults.KindTransient, "op", errors.New("timeout"))
	})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	// First attempt plus MaxRetries retries.
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestExecute_ConsecutiveFailuresAccumulate(t *testing.T) {
	f := testFabric(0)
	fail := func(context.Context) error {
		return faults.New(faults.KindPermanentSource, "op", errors.New("bad feed"))
	}

	for i := 1; i <= 3; i++ {
		f.Execute(context.Background(), "poll_feed:x", fail)
		if got := f.FailureCount("poll_feed:x"); got != i {
			t.Fatalf("after %d executions FailureCount = %d, want %d", i, got, i)
		}
	}
	if f.Healthy("poll_feed:x", 3) {
		t.Error("operation with 3 consecutive failures should not be healthy at threshold 3")
	}
}

func TestExecute_ContextCancelled(t *testing.T) {
	f := New(Config{MaxRetries: 5, BaseDelay: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- f.Execute(ctx, "op", func(context.Context) error {
			return faults.New(faults.KindTransient, "op", errors.New("timeout"))
		})
	}()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Execute error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Execute did not return after cancellation")
	}
}

func TestSweep(t *testing.T) {
	f := testFabric(1)
	f.RecordFailure("old", errors.New("x"))
	f.RecordSuccess("fresh")

	// Age the old context by hand.
	f.mu.Lock()
	f.contexts["old"].LastAttempt = time.Now().Add(-25 * time.Hour)
	f.mu.Unlock()

	removed := f.Sweep(24 * time.Hour)
	if removed != 1 {
		t.Errorf("Sweep removed %d, want 1", removed)
	}
	if f.FailureCount("old") != 0 {
		t.Errorf("old context should be gone")
	}
	f.mu.Lock()
	_, freshAlive := f.contexts["fresh"]
	f.mu.Unlock()
	if !freshAlive {
		t.Error("fresh context should survive the sweep")
	}
}
