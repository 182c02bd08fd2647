// Package api implements the HTTP REST API and WebSocket server for a
// Sinapsi device.
//
// This package provides:
//   - Macro catalog endpoints (list, get, put, delete, enable, sync)
//   - Execution history and the device's component descriptors
//   - POST /events to raise a local system event
//   - POST /continuations, the HTTP route for inter-device envelopes
//   - Prompt endpoints answering the dialogs raised by running macros
//   - An audit trail of macro and engine changes
//   - A WebSocket hub broadcasting engine activity
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Routes
//
//	GET    /api/v1/health
//	GET    /api/v1/metrics
//	GET    /api/v1/device
//	POST   /api/v1/engine/pause | /api/v1/engine/resume
//	GET    /api/v1/macros
//	POST   /api/v1/macros/sync
//	GET    /api/v1/macros/{id}
//	PUT    /api/v1/macros/{id}
//	DELETE /api/v1/macros/{id}
//	PUT    /api/v1/macros/{id}/enabled
//	GET    /api/v1/macros/{id}/executions
//	GET    /api/v1/executions/{id}
//	GET    /api/v1/components/triggers | /api/v1/components/actions
//	POST   /api/v1/events
//	POST   /api/v1/continuations
//	GET    /api/v1/prompts
//	POST   /api/v1/prompts/{id}
//	GET    /api/v1/audit
//	GET    /api/v1/ws
//
// # WebSocket
//
// Clients subscribe to channels (activation, execution, continuation,
// prompt.raised, prompt.closed, macro.log). They may also send "envelope"
// messages carrying an inter-device envelope and "answer" messages for
// pending prompts.
//
// # Graceful Degradation
//
// The server runs without MQTT, InfluxDB or execution history; the
// affected endpoints answer 404 or 503.
package api
