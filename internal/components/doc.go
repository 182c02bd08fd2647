// Package components provides the built-in Sinapsi triggers and actions.
//
// Every component works only through the engine's SystemFacade, so the same
// macro definitions run on any device that provides the capabilities they
// need. A component whose capability is missing is not advertised by the
// factory and fails with engine.ErrCapabilityMissing if run anyway.
//
// # Triggers
//
//   - TRIGGER_WIFI: Wi-Fi connected or disconnected; seeds wifi_ssid
//   - TRIGGER_SMS: incoming text message; seeds sms_sender, sms_message
//   - TRIGGER_SCREEN_POWER: screen on/off; seeds screen_power
//   - TRIGGER_AC_POWER: charger plugged/unplugged; seeds ac_power
//   - TRIGGER_ENGINE_START: fired once when the engine starts
//
// # Actions
//
//   - ACTION_LOG, ACTION_SIMPLE_NOTIFICATION, ACTION_SEND_SMS, ACTION_WIFI_STATE
//   - ACTION_SET_VARIABLE: assigns a LOCAL or GLOBAL variable
//   - ACTION_CONTINUE_CONFIRM_DIALOG, ACTION_STRING_INPUT_DIALOG: suspend the
//     run until the user answers
package components
