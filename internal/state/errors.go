package state

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// FailureKind categorizes a failure swallowed by the container.
type FailureKind string

const (
	// KindLoad is a store read failure during hydration or refresh.
	KindLoad FailureKind = "load"

	// KindPersist is an encode or store write failure.
	KindPersist FailureKind = "persist"

	// KindDecode is a stored or broadcast payload that failed to decode.
	KindDecode FailureKind = "decode"

	// KindBroadcast is a channel open, post or close failure.
	KindBroadcast FailureKind = "broadcast"

	// KindDelete is a store delete failure during clear.
	KindDelete FailureKind = "delete"
)

// Failure describes one swallowed error with enough context to diagnose it.
type Failure struct {
	Key  string
	Op   string
	Kind FailureKind
	Err  error
}

// Error implements the error interface.
func (f Failure) Error() string {
	return fmt.Sprintf("%s: %s %q: %v", f.Kind, f.Op, f.Key, f.Err)
}

func (f Failure) Unwrap() error {
	return f.Err
}

// Reporter receives failures the container does not surface to callers.
// Implementations must be safe for concurrent use.
type Reporter interface {
	Report(f Failure)
}

// ReporterFunc allows plain functions to satisfy Reporter.
type ReporterFunc func(f Failure)

func (fn ReporterFunc) Report(f Failure) {
	if fn != nil {
		fn(f)
	}
}

// LogReporter writes failures to a slog.Logger. Broadcast failures are
// logged at debug level since cross-tab sync is best-effort.
type LogReporter struct {
	Logger *slog.Logger
}

func (r LogReporter) Report(f Failure) {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	level := slog.LevelError
	if f.Kind == KindBroadcast {
		level = slog.LevelDebug
	}
	logger.Log(context.Background(), level, "persisted state failure",
		"key", f.Key,
		"op", f.Op,
		"kind", string(f.Kind),
		"error", f.Err,
	)
}

// MultiReporter forwards each failure to every non-nil reporter.
type MultiReporter []Reporter

func (m MultiReporter) Report(f Failure) {
	for _, r := range m {
		if r != nil {
			r.Report(f)
		}
	}
}

// CaptureReporter records failures for assertions in tests.
type CaptureReporter struct {
	mu       sync.Mutex
	failures []Failure
}

func (c *CaptureReporter) Report(f Failure) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = append(c.failures, f)
}

// Failures returns a copy of everything reported so far.
func (c *CaptureReporter) Failures() []Failure {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Failure, len(c.failures))
	copy(out, c.failures)
	return out
}

// Kinds returns the kind of each reported failure, in order.
func (c *CaptureReporter) Kinds() []FailureKind {
	c.mu.Lock()
	defer c.mu.Unlock()
	kinds := make([]FailureKind, len(c.failures))
	for i, f := range c.failures {
		kinds[i] = f.Kind
	}
	return kinds
}
