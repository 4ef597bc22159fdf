// Package retry implements the retry fabric: exponential backoff with jitter,
// per-operation failure counters, and classification of retryable vs terminal
// errors. Operation ids are free-form strings (e.g. "poll_feed:<id>") mapping
// to a tracked context; contexts idle for more than 24 h are swept.
package retry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/spa1teN/tausendsassa/internal/faults"
)

// OpContext tracks attempts and outcomes for one operation id.
type OpContext struct {
	Attempts            int
	ConsecutiveFailures int
	LastError           error
	LastAttempt         time.Time
	LastSuccess         time.Time
}

// Config carries the fabric's knobs from the process configuration.
type Config struct {
	MaxRetries int           // attempts beyond the first (default 3)
	BaseDelay  time.Duration // first backoff interval (default 2s)
	MaxDelay   time.Duration // backoff cap (default 5m)
	Logger     *slog.Logger
}

// Fabric executes operations with retries and tracks their health. Safe for
// concurrent use.
type Fabric struct {
	mu       sync.Mutex
	contexts map[string]*OpContext

	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	logger     *slog.Logger
}

// New creates a Fabric.
func New(cfg Config) *Fabric {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 2 * time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 5 * time.Minute
	}
	return &Fabric{
		contexts:   make(map[string]*OpContext),
		maxRetries: cfg.MaxRetries,
		baseDelay:  cfg.BaseDelay,
		maxDelay:   cfg.MaxDelay,
		logger:     cfg.Logger,
	}
}

func (f *Fabric) getContext(opID string) *OpContext {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.contexts[opID]
	if !ok {
		c = &OpContext{}
		f.contexts[opID] = c
	}
	return c
}

// newBackoff builds the per-execution backoff schedule: base * 2^n with ±25%
// jitter, capped at MaxDelay.
func (f *Fabric) newBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = f.baseDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0.25
	b.MaxInterval = f.maxDelay
	b.MaxElapsedTime = 0 // bounded by attempt count, not wall clock
	b.Reset()
	return b
}

// Execute runs fn, retrying transient failures up to MaxRetries with backoff.
// Terminal failures are returned immediately. The operation's context tracks
// consecutive failures across executions so callers can disable chronically
// failing sources.
func (f *Fabric) Execute(ctx context.Context, opID string, fn func(context.Context) error) error {
	oc := f.getContext(opID)
	bo := f.newBackoff()
	attempt := 0

	for {
		attempt++
		f.mu.Lock()
		oc.Attempts++
		oc.LastAttempt = time.Now()
		f.mu.Unlock()

		err := fn(ctx)
		if err == nil {
			f.RecordSuccess(opID)
			return nil
		}

		f.mu.Lock()
		oc.LastError = err
		oc.ConsecutiveFailures++
		failures := oc.ConsecutiveFailures
		f.mu.Unlock()

		if !faults.IsRetryable(err) || attempt > f.maxRetries {
			if f.logger != nil {
				f.logger.Debug("operation failed terminally",
					slog.String("op", opID),
					slog.Int("attempt", attempt),
					slog.Int("consecutive_failures", failures),
					slog.String("error", err.Error()),
				)
			}
			return err
		}

		delay := bo.NextBackOff()
		if f.logger != nil {
			f.logger.Warn("operation failed, retrying",
				slog.String("op", opID),
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
				slog.String("error", err.Error()),
			)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// RecordFailure bumps the failure counter without executing anything. Used by
// callers that classify outcomes themselves.
func (f *Fabric) RecordFailure(opID string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.contexts[opID]
	if !ok {
		c = &OpContext{}
		f.contexts[opID] = c
	}
	c.ConsecutiveFailures++
	c.LastError = err
	c.LastAttempt = time.Now()
}

// RecordSuccess clears the failure streak for an operation.
func (f *Fabric) RecordSuccess(opID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.contexts[opID]
	if !ok {
		c = &OpContext{}
		f.contexts[opID] = c
	}
	c.ConsecutiveFailures = 0
	c.LastError = nil
	c.LastSuccess = time.Now()
	c.LastAttempt = time.Now()
}

// FailureCount returns the consecutive failure count for an operation.
func (f *Fabric) FailureCount(opID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.contexts[opID]; ok {
		return c.ConsecutiveFailures
	}
	return 0
}

// Healthy reports whether the operation is below the given failure threshold.
func (f *Fabric) Healthy(opID string, threshold int) bool {
	return f.FailureCount(opID) < threshold
}

// Sweep removes contexts whose last attempt is older than maxAge and returns
// how many were dropped. Run periodically by the scheduler.
func (f *Fabric) Sweep(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	f.mu.Lock()
	defer f.mu.Unlock()

	removed := 0
	for id, c := range f.contexts {
		if c.LastAttempt.Before(cutoff) {
			delete(f.contexts, id)
			removed++
		}
	}
	return removed
}
