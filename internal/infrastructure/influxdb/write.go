package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/sinapsi/sinapsi-core/internal/engine"
)

// Measurements written by this package.
const (
	MeasurementExecutions    = "macro_executions"
	MeasurementContinuations = "macro_continuations"
)

// WriteExecution records an execution at a suspension point or at its end.
//
// Tags: macro_id, state, device_id (and handoff_device for SUSPENDED_REMOTE).
// Fields: position, actions_total, duration_ms and error when present.
//
// Example:
//
//	rec := telemetry.NewRecorder(metrics, telemetry.History(client))
//	engine.NewMacroEngine(engine.Deps{Recorder: rec, ...})
func (c *Client) WriteExecution(report engine.ExecutionReport) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(executionPoint(c.deviceID, report))
}

// WriteContinuation records one inbound continuation and what became of it
// (resumed, duplicate, missing, resynced or dropped).
func (c *Client) WriteContinuation(macroID int, outcome string) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(continuationPoint(c.deviceID, macroID, outcome, time.Now()))
}

func executionPoint(deviceID int, r engine.ExecutionReport) *write.Point {
	at := r.At
	if at.IsZero() {
		at = time.Now()
	}

	tags := map[string]string{
		"macro_id":  strconv.Itoa(r.MacroID),
		"state":     string(r.State),
		"device_id": strconv.Itoa(deviceID),
	}
	if r.State == engine.StateSuspendedRemote && r.HandoffDevice != 0 {
		tags["handoff_device"] = strconv.Itoa(r.HandoffDevice)
	}

	fields := map[string]interface{}{
		"execution_id":  r.ExecutionID,
		"position":      r.Position,
		"actions_total": r.ActionsTotal,
	}
	if !r.StartedAt.IsZero() {
		fields["duration_ms"] = at.Sub(r.StartedAt).Milliseconds()
	}
	if r.Err != nil {
		fields["error"] = r.Err.Error()
	}

	return write.NewPoint(MeasurementExecutions, tags, fields, at)
}

func continuationPoint(deviceID, macroID int, outcome string, at time.Time) *write.Point {
	return write.NewPoint(
		MeasurementContinuations,
		map[string]string{
			"macro_id":  strconv.Itoa(macroID),
			"outcome":   outcome,
			"device_id": strconv.Itoa(deviceID),
		},
		map[string]interface{}{"count": 1},
		at,
	)
}
