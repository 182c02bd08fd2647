// Package adapters provides the platform capabilities macros run against.
//
//	ACTION_SEND_SMS ────────────┐
//	ACTION_WIFI_STATE ──────────┼──▶ CommandSender ──▶ sinapsi/device/{id}/command/{capability}
//	ACTION_SIMPLE_NOTIFICATION ─┘
//	dialog actions ────────────────▶ PromptBroker  ◀── GET/POST /api/v1/prompts, WebSocket
//	ACTION_LOG ────────────────────▶ MacroLog      ──▶ slog
//
// The platform agent on the device subscribes to its command topics and
// performs the operation; the engine does not wait for it.
//
// Install registers a Set on an engine.SystemFacade.
package adapters
