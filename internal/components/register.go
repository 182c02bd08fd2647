package components

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sinapsi/sinapsi-core/internal/engine"
)

// Register adds every built-in trigger and action to the factory.
func Register(f *engine.ComponentFactory) error {
	var errs []error
	for _, r := range append(triggerRegistrations(), actionRegistrations()...) {
		if err := f.Register(r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Names returns the names of the built-in components of a kind.
func Names(kind engine.Kind) []string {
	regs := triggerRegistrations()
	if kind == engine.KindAction {
		regs = actionRegistrations()
	}
	names := make([]string, 0, len(regs))
	for _, r := range regs {
		names = append(names, r.Name)
	}
	return names
}

// ExampleSpecs returns the stock macros shipped for a fresh device. All
// components are bound to deviceID. The confirm-dialog example starts
// disabled since it switches Wi-Fi off.
func ExampleSpecs(deviceID int) []engine.MacroSpec {
	return []engine.MacroSpec{
		{
			ID:      1,
			Name:    "Wifi connection",
			Icon:    "ic_macro_default",
			Colour:  "#3333AA",
			Enabled: true,
			Trigger: spec(TriggerWifi, deviceID, map[string]any{"wifi_connection_status": WifiConnected}),
			Actions: []engine.ComponentSpec{
				spec(ActionLog, deviceID, map[string]any{"log_message": "Wifi enabled"}),
				spec(ActionSimpleNotification, deviceID, map[string]any{
					"notification_title":   "Yeah!",
					"notification_message": "Connected to @{wifi_ssid}.",
				}),
			},
		},
		{
			ID:      2,
			Name:    "Screen Log",
			Icon:    "ic_macro_default",
			Colour:  "#33AA33",
			Enabled: true,
			Trigger: spec(TriggerScreenPower, deviceID, nil),
			Actions: []engine.ComponentSpec{
				spec(ActionLog, deviceID, map[string]any{"log_message": "Screen is @{screen_power}"}),
				spec(ActionSetVariable, deviceID, map[string]any{
					"var_name":  "screen_power",
					"var_scope": string(engine.ScopeLocal),
					"var_type":  string(engine.TypeString),
					"var_value": "@{screen_power} @{screen_power}",
				}),
				spec(ActionLog, deviceID, map[string]any{"log_message": "Screen is @{screen_power}"}),
			},
		},
		{
			ID:      3,
			Name:    "Confirm then Wi-Fi off",
			Icon:    "ic_macro_default",
			Colour:  "#AA3333",
			Enabled: false,
			Trigger: spec(TriggerWifi, deviceID, map[string]any{"wifi_connection_status": WifiConnected}),
			Actions: []engine.ComponentSpec{
				spec(ActionContinueConfirmDialog, deviceID, map[string]any{
					"dialog_title":   "Continue?",
					"dialog_message": "Switch Wi-Fi off?",
				}),
				spec(ActionWifiState, deviceID, map[string]any{"wifi_switch": false}),
				spec(ActionLog, deviceID, map[string]any{"log_message": "Wi-Fi is off"}),
			},
		},
	}
}

// spec builds a component spec in the wrapped {"parameters": {...}} form.
func spec(name string, deviceID int, params map[string]any) engine.ComponentSpec {
	cs := engine.ComponentSpec{Name: name, DeviceID: deviceID}
	if params == nil {
		return cs
	}
	raw, err := json.Marshal(map[string]any{"parameters": params})
	if err != nil {
		panic(fmt.Sprintf("components: encoding %s parameters: %v", name, err))
	}
	cs.Parameters = raw
	return cs
}
