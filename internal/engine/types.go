package engine

import (
	"encoding/json"
	"fmt"
)

// Device identifies one of the user's devices.
type Device struct {
	ID      int    `json:"id"`
	Name    string `json:"name"`
	Model   string `json:"model"`
	Type    string `json:"type"`
	Version int    `json:"version"`
	User    string `json:"user,omitempty"`
}

// Macro is a user rule: exactly one trigger plus an ordered sequence of actions.
//
// Action order is significant; AddAction preserves it.
type Macro struct {
	ID      int
	Name    string
	Icon    string
	Colour  string
	Enabled bool

	Trigger Trigger
	Actions []Action
}

// AddAction appends an action to the end of the macro.
func (m *Macro) AddAction(a Action) {
	m.Actions = append(m.Actions, a)
}

// TriggerDevice returns the id of the device that must register the trigger,
// or 0 if the macro has no trigger.
func (m *Macro) TriggerDevice() int {
	if m.Trigger == nil {
		return 0
	}
	return m.Trigger.Device()
}

// Validate checks the structural invariants of a macro.
func (m *Macro) Validate() error {
	if m == nil {
		return fmt.Errorf("%w: nil macro", ErrInvalidMacro)
	}
	if m.ID <= 0 {
		return fmt.Errorf("%w: id must be positive, got %d", ErrInvalidMacro, m.ID)
	}
	if m.Trigger == nil {
		return fmt.Errorf("%w: macro %d has no trigger", ErrInvalidMacro, m.ID)
	}
	return nil
}

// snapshot returns a copy that shares components but not the action slice.
func (m *Macro) snapshot() *Macro {
	cpy := *m
	cpy.Actions = append([]Action(nil), m.Actions...)
	return &cpy
}

// ComponentSpec is the stored form of a trigger or action.
type ComponentSpec struct {
	Name       string          `json:"name"`
	DeviceID   int             `json:"device_id"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
}

// MacroSpec is the stored and exchanged form of a macro.
type MacroSpec struct {
	ID      int             `json:"id"`
	Name    string          `json:"name"`
	Icon    string          `json:"icon,omitempty"`
	Colour  string          `json:"colour,omitempty"`
	Enabled bool            `json:"enabled"`
	Trigger ComponentSpec   `json:"trigger"`
	Actions []ComponentSpec `json:"actions"`
}

// SpecOf converts a built macro back into its stored form.
func SpecOf(m *Macro) (MacroSpec, error) {
	spec := MacroSpec{
		ID:      m.ID,
		Name:    m.Name,
		Icon:    m.Icon,
		Colour:  m.Colour,
		Enabled: m.Enabled,
		Actions: make([]ComponentSpec, 0, len(m.Actions)),
	}
	if m.Trigger != nil {
		cs, err := specOf(m.Trigger)
		if err != nil {
			return MacroSpec{}, err
		}
		spec.Trigger = cs
	}
	for _, a := range m.Actions {
		cs, err := specOf(a)
		if err != nil {
			return MacroSpec{}, err
		}
		spec.Actions = append(spec.Actions, cs)
	}
	return spec, nil
}

func specOf(c Component) (ComponentSpec, error) {
	raw, err := c.Params().MarshalJSON()
	if err != nil {
		return ComponentSpec{}, fmt.Errorf("marshalling %s parameters: %w", c.Name(), err)
	}
	return ComponentSpec{Name: c.Name(), DeviceID: c.Device(), Parameters: raw}, nil
}
