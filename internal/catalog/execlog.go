package catalog

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sinapsi/sinapsi-core/internal/engine"
)

const (
	// execLogQueueSize is the buffer size of the execution record queue.
	execLogQueueSize = 256

	// execLogWriteTimeout bounds a single database write.
	execLogWriteTimeout = 5 * time.Second
)

// ExecutionLog persists execution reports in the background. It implements
// the RecordExecution part of engine.Recorder; activations and
// continuations are ignored.
//
// Thread Safety: all methods are safe for concurrent use. Reports never
// block the engine: when the queue is full the report is dropped.
type ExecutionLog struct {
	repo   Repository
	logger Logger

	queue   chan *Execution
	done    chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
	closeMu sync.RWMutex
	closed  bool

	dropped atomic.Uint64
}

// NewExecutionLog starts the writer goroutine. Call Close to flush and
// stop it.
func NewExecutionLog(repo Repository, logger Logger) *ExecutionLog {
	if logger == nil {
		logger = noopLogger{}
	}
	l := &ExecutionLog{
		repo:   repo,
		logger: logger,
		queue:  make(chan *Execution, execLogQueueSize),
		done:   make(chan struct{}),
	}
	l.wg.Add(1)
	go l.worker()
	return l
}

// RecordActivation implements engine.Recorder.
func (l *ExecutionLog) RecordActivation(engine.EventCategory, int) {}

// RecordContinuation implements engine.Recorder.
func (l *ExecutionLog) RecordContinuation(int, string) {}

// RecordExecution queues report for persistence.
func (l *ExecutionLog) RecordExecution(report engine.ExecutionReport) {
	l.closeMu.RLock()
	defer l.closeMu.RUnlock()
	if l.closed {
		return
	}

	select {
	case l.queue <- executionFromReport(report):
	default:
		l.dropped.Add(1)
		l.logger.Warn("execution log queue full, dropping record",
			"execution_id", report.ExecutionID,
			"macro_id", report.MacroID,
		)
	}
}

// Dropped returns how many reports were discarded because the queue was full.
func (l *ExecutionLog) Dropped() uint64 {
	return l.dropped.Load()
}

// Close stops accepting reports, writes those already queued and waits for
// the writer to exit.
func (l *ExecutionLog) Close() {
	l.once.Do(func() {
		l.closeMu.Lock()
		l.closed = true
		l.closeMu.Unlock()
		close(l.done)
	})
	l.wg.Wait()
}

func (l *ExecutionLog) worker() {
	defer l.wg.Done()
	for {
		select {
		case <-l.done:
			l.drain()
			return
		case exec := <-l.queue:
			l.save(exec)
		}
	}
}

func (l *ExecutionLog) drain() {
	for {
		select {
		case exec := <-l.queue:
			l.save(exec)
		default:
			return
		}
	}
}

func (l *ExecutionLog) save(exec *Execution) {
	ctx, cancel := context.WithTimeout(context.Background(), execLogWriteTimeout)
	defer cancel()
	if err := l.repo.SaveExecution(ctx, exec); err != nil {
		l.logger.Error("failed to save execution", "execution_id", exec.ID, "error", err)
	}
}

// executionFromReport converts an engine report into a stored record.
func executionFromReport(r engine.ExecutionReport) *Execution {
	exec := &Execution{
		ID:           r.ExecutionID,
		MacroID:      r.MacroID,
		State:        string(r.State),
		StartedAt:    r.StartedAt,
		ActionIndex:  r.Position,
		ActionsTotal: r.ActionsTotal,
	}
	if r.State.Terminal() {
		at := r.At
		exec.FinishedAt = &at
	}
	if r.State == engine.StateSuspendedRemote {
		device := r.HandoffDevice
		exec.HandoffDevice = &device
	}
	if r.Err != nil {
		msg := fmt.Sprint(r.Err)
		exec.Error = &msg
	}
	return exec
}
