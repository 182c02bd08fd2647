package engine

import (
	"context"
	"sort"
)

// Kind tags a component as a trigger or an action.
type Kind int

const (
	KindTrigger Kind = iota + 1
	KindAction
)

func (k Kind) String() string {
	switch k {
	case KindTrigger:
		return "trigger"
	case KindAction:
		return "action"
	default:
		return "component"
	}
}

// EventCategory names a stream of system events triggers can subscribe to.
type EventCategory string

const (
	CategoryWifi        EventCategory = "WIFI"
	CategorySMS         EventCategory = "SMS"
	CategoryScreenPower EventCategory = "SCREEN_POWER"
	CategoryACPower     EventCategory = "AC_POWER"
	CategoryEngineStart EventCategory = "ENGINE_START"
)

// Event is one observation from the device, e.g. Wi-Fi connected.
type Event struct {
	Category EventCategory  `json:"category"`
	Params   map[string]any `json:"params,omitempty"`
}

// Component is what triggers and actions have in common.
type Component interface {
	// Name is the stable component identifier, e.g. "ACTION_LOG".
	Name() string
	// Params are the validated actual parameters.
	Params() Params
	// Device is the id of the device this component runs on.
	Device() int
}

// Trigger activates its macro when a matching event arrives.
type Trigger interface {
	Component
	Category() EventCategory
	Macro() *Macro
	// Matches reports whether the event fires this trigger.
	Matches(ev Event) bool
	// Extract returns the event values seeded as LOCAL variables of the run.
	Extract(ev Event) map[string]string
}

// Action performs one step of a macro. params have placeholders resolved.
type Action interface {
	Component
	Activate(ctx context.Context, ex *ExecutionInterface, params Params) error
}

// ComponentBase carries the identity shared by every component. Concrete
// components embed it.
type ComponentBase struct {
	name   string
	params Params
	device int
}

// NewComponentBase builds the common part of a component.
func NewComponentBase(name string, params Params, device int) ComponentBase {
	if params == nil {
		params = Params{}
	}
	return ComponentBase{name: name, params: params, device: device}
}

func (c ComponentBase) Name() string   { return c.name }
func (c ComponentBase) Params() Params { return c.params }
func (c ComponentBase) Device() int    { return c.device }

// TriggerBase implements Trigger with exact-equality matching. Concrete
// triggers embed it and override Matches or Extract only when needed.
type TriggerBase struct {
	ComponentBase
	category EventCategory
	macro    *Macro
}

// NewTriggerBase builds a trigger bound to its macro.
func NewTriggerBase(name string, category EventCategory, params Params, macro *Macro, device int) *TriggerBase {
	return &TriggerBase{
		ComponentBase: NewComponentBase(name, params, device),
		category:      category,
		macro:         macro,
	}
}

func (t *TriggerBase) Category() EventCategory { return t.category }
func (t *TriggerBase) Macro() *Macro           { return t.macro }

// Matches fires when the category matches and every declared parameter
// equals the event's value. Parameters the trigger does not declare are
// wildcards.
func (t *TriggerBase) Matches(ev Event) bool {
	if ev.Category != t.category {
		return false
	}
	for name, want := range t.params {
		got, ok := ev.Params[name]
		if !ok || stringify(got) != stringify(want) {
			return false
		}
	}
	return true
}

// Extract returns every event parameter as text.
func (t *TriggerBase) Extract(ev Event) map[string]string {
	out := make(map[string]string, len(ev.Params))
	for k, v := range ev.Params {
		if v == nil {
			continue
		}
		out[k] = stringify(v)
	}
	return out
}

// remoteComponent stands in for a component type this device does not
// know, bound to another device. It exists so a macro spanning devices can
// be loaded; it never runs here.
type remoteComponent struct {
	ComponentBase
}

func (r *remoteComponent) Activate(context.Context, *ExecutionInterface, Params) error {
	return ErrRemoteOnly
}

type remoteTrigger struct {
	*TriggerBase
}

func (r *remoteTrigger) Matches(Event) bool { return false }

// ComponentDescriptor advertises a component type a device supports.
type ComponentDescriptor struct {
	Name             string            `json:"name"`
	Kind             string            `json:"kind"`
	MinVersion       int               `json:"minVersion"`
	FormalParameters []FormalParameter `json:"formalParameters"`
}

// Availability is the set of component types one device advertises.
type Availability struct {
	DeviceID int                            `json:"device_id"`
	Triggers map[string]ComponentDescriptor `json:"triggers"`
	Actions  map[string]ComponentDescriptor `json:"actions"`
}

// NewAvailability indexes descriptors by kind and name.
func NewAvailability(deviceID int, triggers, actions []ComponentDescriptor) Availability {
	a := Availability{
		DeviceID: deviceID,
		Triggers: make(map[string]ComponentDescriptor, len(triggers)),
		Actions:  make(map[string]ComponentDescriptor, len(actions)),
	}
	for _, d := range triggers {
		a.Triggers[d.Name] = d
	}
	for _, d := range actions {
		a.Actions[d.Name] = d
	}
	return a
}

// Supports reports whether the device offers the component at the given
// client version. A version below the descriptor's minVersion is refused.
func (a Availability) Supports(kind Kind, name string, version int) bool {
	var d ComponentDescriptor
	var ok bool
	switch kind {
	case KindTrigger:
		d, ok = a.Triggers[name]
	case KindAction:
		d, ok = a.Actions[name]
	}
	return ok && version >= d.MinVersion
}

// Common returns the action names both devices support, sorted.
func (a Availability) Common(other Availability) []string {
	var names []string
	for name := range a.Actions {
		if _, ok := other.Actions[name]; ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
