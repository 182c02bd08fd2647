// Package telemetry observes the macro engine.
//
//	MacroEngine ──▶ Recorder ──┬──▶ Metrics         (Prometheus, /api/v1/metrics)
//	                           ├──▶ History(influx)  (InfluxDB points, optional)
//	                           ├──▶ catalog.ExecutionLog (SQLite history)
//	                           └──▶ api.Hub          (WebSocket broadcast)
//
// Every sink must return quickly: the engine calls the Recorder on the
// goroutine that runs the macro.
package telemetry
