package engine

import (
	"context"
	"sync"
	"time"
)

// Logger defines the logging interface used across the engine.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// ExecutionReport describes an execution at a suspension point or at its end.
type ExecutionReport struct {
	ExecutionID   string
	MacroID       int
	MacroName     string
	State         State
	Position      int
	ActionsTotal  int
	HandoffDevice int
	Err           error
	StartedAt     time.Time
	At            time.Time
}

// Continuation outcomes passed to Recorder.RecordContinuation.
const (
	ContinuationResumed   = "resumed"
	ContinuationDuplicate = "duplicate"
	ContinuationMissing   = "missing"
	ContinuationResynced  = "resynced"
	ContinuationDropped   = "dropped"
)

// Recorder observes engine activity for metrics and execution history.
// Implementations must be safe for concurrent use and must not block.
type Recorder interface {
	RecordActivation(category EventCategory, macroID int)
	RecordExecution(report ExecutionReport)
	RecordContinuation(macroID int, outcome string)
}

type noopRecorder struct{}

func (noopRecorder) RecordActivation(EventCategory, int) {}
func (noopRecorder) RecordExecution(ExecutionReport)     {}
func (noopRecorder) RecordContinuation(int, string)      {}

// ContinuationLedger remembers which continuation keys have been run.
type ContinuationLedger interface {
	// Claim records key and reports true the first time it is seen.
	Claim(ctx context.Context, key string) (bool, error)
}

// MemoryLedger is an in-process ContinuationLedger. Keys are kept for ttl;
// a zero ttl keeps them for the life of the process.
type MemoryLedger struct {
	ttl time.Duration
	now func() time.Time

	mu   sync.Mutex
	keys map[string]time.Time
}

// NewMemoryLedger creates an empty ledger.
func NewMemoryLedger(ttl time.Duration) *MemoryLedger {
	return &MemoryLedger{ttl: ttl, now: time.Now, keys: make(map[string]time.Time)}
}

// Claim implements ContinuationLedger.
func (l *MemoryLedger) Claim(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if at, ok := l.keys[key]; ok && (l.ttl == 0 || now.Sub(at) < l.ttl) {
		return false, nil
	}
	l.keys[key] = now
	return true, nil
}

// Prune forgets expired keys and returns how many were removed. It is a
// no-op when ttl is zero.
func (l *MemoryLedger) Prune(_ context.Context) (int64, error) {
	if l.ttl == 0 {
		return 0, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	var n int64
	for key, at := range l.keys {
		if now.Sub(at) >= l.ttl {
			delete(l.keys, key)
			n++
		}
	}
	return n, nil
}

// Len returns the number of keys held.
func (l *MemoryLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.keys)
}
