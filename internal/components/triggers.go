package components

import (
	"strings"

	"github.com/sinapsi/sinapsi-core/internal/engine"
)

// Trigger component names.
const (
	TriggerWifi        = "TRIGGER_WIFI"
	TriggerSMS         = "TRIGGER_SMS"
	TriggerScreenPower = "TRIGGER_SCREEN_POWER"
	TriggerACPower     = "TRIGGER_AC_POWER"
	TriggerEngineStart = "TRIGGER_ENGINE_START"
)

// Wi-Fi connection states carried by WIFI events.
const (
	WifiConnected    = "CONNECTED"
	WifiDisconnected = "DISCONNECTED"
)

func triggerRegistrations() []engine.ComponentRegistration {
	return []engine.ComponentRegistration{
		{
			Kind:       engine.KindTrigger,
			Name:       TriggerWifi,
			MinVersion: 1,
			Formal: []engine.FormalParameter{
				{Name: "wifi_connection_status", Type: engine.ParamChoice, Optional: true, Choices: []string{WifiConnected, WifiDisconnected}},
			},
			NewTrigger: func(p engine.Params, m *engine.Macro, device int) (engine.Trigger, error) {
				return engine.NewTriggerBase(TriggerWifi, engine.CategoryWifi, p, m, device), nil
			},
		},
		{
			Kind:       engine.KindTrigger,
			Name:       TriggerSMS,
			MinVersion: 1,
			Requires:   engine.CapabilitySMS,
			Formal: []engine.FormalParameter{
				{Name: "sender_number", Type: engine.ParamString, Optional: true},
			},
			NewTrigger: func(p engine.Params, m *engine.Macro, device int) (engine.Trigger, error) {
				return &smsTrigger{TriggerBase: engine.NewTriggerBase(TriggerSMS, engine.CategorySMS, p, m, device)}, nil
			},
		},
		{
			Kind:       engine.KindTrigger,
			Name:       TriggerScreenPower,
			MinVersion: 1,
			Formal: []engine.FormalParameter{
				{Name: "screen_power", Type: engine.ParamBool, Optional: true},
			},
			NewTrigger: func(p engine.Params, m *engine.Macro, device int) (engine.Trigger, error) {
				return &powerTrigger{TriggerBase: engine.NewTriggerBase(TriggerScreenPower, engine.CategoryScreenPower, p, m, device), key: "screen_power"}, nil
			},
		},
		{
			Kind:       engine.KindTrigger,
			Name:       TriggerACPower,
			MinVersion: 1,
			Formal: []engine.FormalParameter{
				{Name: "ac_power", Type: engine.ParamBool, Optional: true},
			},
			NewTrigger: func(p engine.Params, m *engine.Macro, device int) (engine.Trigger, error) {
				return &powerTrigger{TriggerBase: engine.NewTriggerBase(TriggerACPower, engine.CategoryACPower, p, m, device), key: "ac_power"}, nil
			},
		},
		{
			Kind:       engine.KindTrigger,
			Name:       TriggerEngineStart,
			MinVersion: 1,
			NewTrigger: func(p engine.Params, m *engine.Macro, device int) (engine.Trigger, error) {
				return engine.NewTriggerBase(TriggerEngineStart, engine.CategoryEngineStart, p, m, device), nil
			},
		},
	}
}

// smsTrigger fires on incoming messages, optionally only from one sender.
// SMS events carry sms_sender and sms_message.
type smsTrigger struct {
	*engine.TriggerBase
}

func (t *smsTrigger) Matches(ev engine.Event) bool {
	if ev.Category != engine.CategorySMS {
		return false
	}
	want := t.Params().String("sender_number")
	if want == "" {
		return true
	}
	got, _ := ev.Params["sms_sender"].(string)
	return normalizeNumber(got) == normalizeNumber(want)
}

func normalizeNumber(n string) string {
	return strings.NewReplacer(" ", "", "-", "", "(", "", ")", "").Replace(n)
}

// powerTrigger matches an on/off state. Events may report it as a bool,
// "true"/"false" or "ON"/"OFF".
type powerTrigger struct {
	*engine.TriggerBase
	key string
}

func (t *powerTrigger) Matches(ev engine.Event) bool {
	if ev.Category != t.Category() {
		return false
	}
	want, ok := t.Params()[t.key]
	if !ok {
		return true
	}
	w, wok := onOff(want)
	g, gok := onOff(ev.Params[t.key])
	return wok && gok && w == g
}

func onOff(v any) (bool, bool) {
	switch x := v.(type) {
	case bool:
		return x, true
	case string:
		switch strings.ToUpper(strings.TrimSpace(x)) {
		case "TRUE", "ON", "1":
			return true, true
		case "FALSE", "OFF", "0":
			return false, true
		}
	}
	return false, false
}
