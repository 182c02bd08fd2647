// Package continuation moves macro runs between devices.
//
// When a run reaches an action bound to another device, the engine hands a
// RemoteExecutionDescriptor to the Transport, which publishes it in an
// Envelope to the target's inbox. On the target, the Transport feeds the
// inbox to the Dispatcher, which resumes the run in the local engine.
//
//	device 1                      broker                       device 2
//	Execution ──▶ Transport ──▶ sinapsi/device/2/inbox ──▶ Transport ──▶ Dispatcher ──▶ MacroEngine
//
// # Missing Macros
//
// A descriptor can arrive before the target has synced the macro. The
// Dispatcher then syncs the catalog once and retries once; if the macro is
// still unknown the descriptor is dropped. The macro lookup happens before
// the idempotency key is claimed, so the retry is not rejected as a
// duplicate.
//
// # Idempotency
//
// Envelopes travel with QoS 1 and may be delivered twice. Each descriptor
// carries executionId and sequence; the engine claims that key in a
// ContinuationLedger (memory, SQLite or RedisLedger) and ignores repeats.
//
// # Events
//
// EventBridge implements engine.EventSubscriber over
// sinapsi/device/{id}/event/{category}.
package continuation
