// Package influxdb writes macro execution history to InfluxDB.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, batched non-blocking writes and health monitoring.
//
// # Measurements
//
//	macro_executions     tags: macro_id, state, device_id[, handoff_device]
//	                     fields: execution_id, position, actions_total, duration_ms[, error]
//	macro_continuations  tags: macro_id, outcome, device_id
//	                     fields: count
//
// One macro_executions point is written each time a run suspends or ends,
// so a run that hops across devices leaves one SUSPENDED_REMOTE point on
// every device it left and a terminal point on the device it finished on.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB, cfg.Device.ID)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // run without history
//	}
//	defer client.Close()
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// Write errors arrive asynchronously through SetOnError.
package influxdb
