package engine

import (
	"encoding/json"
	"errors"
	"testing"
)

func testFactory(t *testing.T) *ComponentFactory {
	t.Helper()
	facade := NewSystemFacade()
	f := NewComponentFactory(1, facade)

	regs := []ComponentRegistration{
		{
			Kind:   KindTrigger,
			Name:   "TRIGGER_WIFI",
			Formal: []FormalParameter{{Name: "wifi_connection_status", Type: ParamChoice, Optional: true, Choices: []string{"CONNECTED", "DISCONNECTED"}}},
			NewTrigger: func(p Params, m *Macro, device int) (Trigger, error) {
				return NewTriggerBase("TRIGGER_WIFI", CategoryWifi, p, m, device), nil
			},
		},
		{
			Kind:   KindAction,
			Name:   "ACTION_LOG",
			Formal: []FormalParameter{{Name: "log_message", Type: ParamString}},
			NewAction: func(p Params, device int) (Action, error) {
				return newFuncAction("ACTION_LOG", device, p, nil), nil
			},
		},
		{
			Kind:     KindAction,
			Name:     "ACTION_SEND_SMS",
			Requires: CapabilitySMS,
			NewAction: func(p Params, device int) (Action, error) {
				return newFuncAction("ACTION_SEND_SMS", device, p, nil), nil
			},
		},
		{
			Kind: KindAction,
			Name: "ACTION_PANICS",
			NewAction: func(Params, int) (Action, error) {
				panic("bad constructor")
			},
		},
	}
	for _, r := range regs {
		if err := f.Register(r); err != nil {
			t.Fatalf("Register(%s) error = %v", r.Name, err)
		}
	}
	return f
}

func TestFactory_RegisterDuplicate(t *testing.T) {
	f := testFactory(t)
	err := f.Register(ComponentRegistration{Kind: KindAction, Name: "ACTION_LOG", NewAction: func(Params, int) (Action, error) { return nil, nil }})
	if !errors.Is(err, ErrComponentExists) {
		t.Errorf("Register() error = %v, want ErrComponentExists", err)
	}
	if err := f.Register(ComponentRegistration{Kind: KindAction, Name: "NO_CTOR"}); err == nil {
		t.Error("Register() without constructor error = nil")
	}
}

func TestFactory_NewAction(t *testing.T) {
	f := testFactory(t)

	tests := []struct {
		name    string
		comp    string
		params  string
		device  int
		wantErr error
	}{
		{"wrapped params", "ACTION_LOG", `{"parameters":{"log_message":"hi"}}`, 1, nil},
		{"bare params", "ACTION_LOG", `{"log_message":"hi"}`, 1, nil},
		{"missing required", "ACTION_LOG", `{}`, 1, ErrInvalidParameters},
		{"unknown parameter", "ACTION_LOG", `{"log_message":"x","extra":1}`, 1, ErrInvalidParameters},
		{"malformed json", "ACTION_LOG", `{"log_message":`, 1, ErrInvalidParameters},
		{"unknown local", "ACTION_NOPE", `{}`, 1, ErrUnknownComponent},
		{"trigger as action", "TRIGGER_WIFI", `{}`, 1, ErrWrongComponentKind},
		{"constructor panic", "ACTION_PANICS", `{}`, 1, ErrInvalidParameters},
		{"unknown remote", "ACTION_ONLY_ON_PHONE", `{"anything":true}`, 2, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := f.NewAction(tt.comp, []byte(tt.params), tt.device)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("NewAction() error = %v, want %v", err, tt.wantErr)
				}
				var ce *ComponentError
				if !errors.As(err, &ce) || ce.Name != tt.comp {
					t.Errorf("error %v is not a *ComponentError for %s", err, tt.comp)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewAction() error = %v", err)
			}
			if a.Name() != tt.comp || a.Device() != tt.device {
				t.Errorf("action = %s@%d, want %s@%d", a.Name(), a.Device(), tt.comp, tt.device)
			}
		})
	}
}

func TestFactory_NewTrigger(t *testing.T) {
	f := testFactory(t)
	m := &Macro{ID: 1}

	tr, err := f.NewTrigger("TRIGGER_WIFI", []byte(`{"wifi_connection_status":"CONNECTED"}`), m, 1)
	if err != nil {
		t.Fatal(err)
	}
	if tr.Macro() != m || tr.Category() != CategoryWifi {
		t.Errorf("trigger = %+v", tr)
	}

	if _, err := f.NewTrigger("TRIGGER_WIFI", []byte(`{"wifi_connection_status":"MAYBE"}`), m, 1); !errors.Is(err, ErrInvalidParameters) {
		t.Errorf("bad choice error = %v, want ErrInvalidParameters", err)
	}

	remote, err := f.NewTrigger("TRIGGER_ON_PHONE", nil, m, 2)
	if err != nil {
		t.Fatalf("remote trigger error = %v", err)
	}
	if remote.Matches(Event{Category: ""}) {
		t.Error("remote placeholder trigger matched locally")
	}
}

func TestFactory_BuildMacro(t *testing.T) {
	f := testFactory(t)
	spec := MacroSpec{
		ID:      1,
		Name:    "Wifi connection",
		Enabled: true,
		Trigger: ComponentSpec{Name: "TRIGGER_WIFI", DeviceID: 1, Parameters: json.RawMessage(`{"parameters":{"wifi_connection_status":"CONNECTED"}}`)},
		Actions: []ComponentSpec{
			{Name: "ACTION_LOG", DeviceID: 1, Parameters: json.RawMessage(`{"log_message":"Wifi enabled"}`)},
			{Name: "ACTION_GONE", DeviceID: 1},
			{Name: "ACTION_LOG", DeviceID: 1, Parameters: json.RawMessage(`{"log_message":"done"}`)},
		},
	}

	m, skipped, err := f.BuildMacro(spec)
	if err != nil {
		t.Fatalf("BuildMacro() error = %v", err)
	}
	if len(skipped) != 1 || !errors.Is(skipped[0], ErrUnknownComponent) {
		t.Errorf("skipped = %v, want one ErrUnknownComponent", skipped)
	}
	if len(m.Actions) != 2 {
		t.Errorf("actions = %d, want 2", len(m.Actions))
	}
	if m.Trigger.Macro() != m {
		t.Error("trigger not bound to its macro")
	}

	back, err := SpecOf(m)
	if err != nil {
		t.Fatal(err)
	}
	if back.Trigger.Name != "TRIGGER_WIFI" || len(back.Actions) != 2 || back.Actions[1].Name != "ACTION_LOG" {
		t.Errorf("SpecOf() = %+v", back)
	}

	spec.Trigger.Name = "TRIGGER_GONE"
	if _, _, err := f.BuildMacro(spec); !errors.Is(err, ErrUnknownComponent) {
		t.Errorf("bad trigger error = %v, want ErrUnknownComponent", err)
	}
}

func TestFactory_DescriptorsFilteredByFacade(t *testing.T) {
	f := testFactory(t)
	names := func() []string {
		var out []string
		for _, d := range f.Descriptors(KindAction) {
			out = append(out, d.Name)
		}
		return out
	}

	got := names()
	for _, n := range got {
		if n == "ACTION_SEND_SMS" {
			t.Errorf("ACTION_SEND_SMS advertised without the sms capability: %v", got)
		}
	}

	f.facade.AddCapability(CapabilitySMS, struct{}{})
	got = names()
	want := []string{"ACTION_LOG", "ACTION_PANICS", "ACTION_SEND_SMS"}
	if len(got) != len(want) {
		t.Fatalf("Descriptors() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Descriptors()[%d] = %s, want %s", i, got[i], want[i])
		}
	}

	f.facade.SetRequirement(CapabilitySMS, false)
	if len(names()) != 2 {
		t.Error("explicit requirement override ignored")
	}
}

func TestAvailability(t *testing.T) {
	phone := NewAvailability(2,
		[]ComponentDescriptor{{Name: "TRIGGER_SMS", MinVersion: 2}},
		[]ComponentDescriptor{{Name: "ACTION_SEND_SMS"}, {Name: "ACTION_LOG"}},
	)
	desktop := NewAvailability(1, nil, []ComponentDescriptor{{Name: "ACTION_LOG"}})

	if !phone.Supports(KindTrigger, "TRIGGER_SMS", 2) || phone.Supports(KindTrigger, "TRIGGER_SMS", 1) {
		t.Error("minVersion not honoured")
	}
	if phone.Supports(KindAction, "ACTION_WIFI_STATE", 9) {
		t.Error("unsupported action reported as supported")
	}
	if got := phone.Common(desktop); len(got) != 1 || got[0] != "ACTION_LOG" {
		t.Errorf("Common() = %v", got)
	}
}
