package telemetry

import (
	"github.com/sinapsi/sinapsi-core/internal/engine"
)

// HistoryWriter stores execution history outside the process.
// *influxdb.Client implements it.
type HistoryWriter interface {
	WriteExecution(report engine.ExecutionReport)
	WriteContinuation(macroID int, outcome string)
}

// Recorder fans engine activity out to every sink. It implements
// engine.Recorder.
type Recorder struct {
	sinks []engine.Recorder
}

// NewRecorder returns a Recorder over the non-nil sinks.
func NewRecorder(sinks ...engine.Recorder) *Recorder {
	r := &Recorder{}
	for _, s := range sinks {
		if s != nil {
			r.sinks = append(r.sinks, s)
		}
	}
	return r
}

// Len reports the number of sinks.
func (r *Recorder) Len() int { return len(r.sinks) }

// RecordActivation implements engine.Recorder.
func (r *Recorder) RecordActivation(category engine.EventCategory, macroID int) {
	for _, s := range r.sinks {
		s.RecordActivation(category, macroID)
	}
}

// RecordExecution implements engine.Recorder.
func (r *Recorder) RecordExecution(report engine.ExecutionReport) {
	for _, s := range r.sinks {
		s.RecordExecution(report)
	}
}

// RecordContinuation implements engine.Recorder.
func (r *Recorder) RecordContinuation(macroID int, outcome string) {
	for _, s := range r.sinks {
		s.RecordContinuation(macroID, outcome)
	}
}

// History adapts a HistoryWriter to engine.Recorder. Activations are not
// written; every activation that runs produces an execution point.
func History(w HistoryWriter) engine.Recorder {
	return historyRecorder{w: w}
}

type historyRecorder struct {
	w HistoryWriter
}

func (historyRecorder) RecordActivation(engine.EventCategory, int) {}

func (h historyRecorder) RecordExecution(report engine.ExecutionReport) {
	h.w.WriteExecution(report)
}

func (h historyRecorder) RecordContinuation(macroID int, outcome string) {
	h.w.WriteContinuation(macroID, outcome)
}
