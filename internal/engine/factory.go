package engine

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// TriggerConstructor builds a trigger from validated params.
type TriggerConstructor func(params Params, macro *Macro, device int) (Trigger, error)

// ActionConstructor builds an action from validated params.
type ActionConstructor func(params Params, device int) (Action, error)

// ComponentRegistration is one entry of the factory registry. Exactly one of
// NewTrigger or NewAction is set, matching Kind.
type ComponentRegistration struct {
	Kind       Kind
	Name       string
	MinVersion int
	Formal     []FormalParameter
	// Requires is a SystemFacade requirement key; when set and unsatisfied,
	// the component is not advertised by Descriptors.
	Requires   string
	NewTrigger TriggerConstructor
	NewAction  ActionConstructor
}

// Descriptor returns the advertised form of the registration.
func (r ComponentRegistration) Descriptor() ComponentDescriptor {
	formal := r.Formal
	if formal == nil {
		formal = []FormalParameter{}
	}
	return ComponentDescriptor{
		Name:             r.Name,
		Kind:             r.Kind.String(),
		MinVersion:       r.MinVersion,
		FormalParameters: formal,
	}
}

// ComponentFactory maps stable component names to constructors.
//
// Construction never panics toward the caller: every failure comes back as
// a *ComponentError.
//
// Thread Safety: all methods are safe for concurrent use.
type ComponentFactory struct {
	deviceID int
	facade   *SystemFacade

	mu    sync.RWMutex
	comps map[string]ComponentRegistration
}

// NewComponentFactory creates an empty factory for the local device.
// facade may be nil, in which case every component is advertised.
func NewComponentFactory(deviceID int, facade *SystemFacade) *ComponentFactory {
	return &ComponentFactory{
		deviceID: deviceID,
		facade:   facade,
		comps:    make(map[string]ComponentRegistration),
	}
}

// Register adds a component type.
func (f *ComponentFactory) Register(r ComponentRegistration) error {
	switch {
	case r.Name == "":
		return fmt.Errorf("registering component: empty name")
	case r.Kind == KindTrigger && r.NewTrigger == nil,
		r.Kind == KindAction && r.NewAction == nil:
		return fmt.Errorf("registering %s %s: missing constructor", r.Kind, r.Name)
	case r.Kind != KindTrigger && r.Kind != KindAction:
		return fmt.Errorf("registering %s: unknown kind %d", r.Name, r.Kind)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.comps[r.Name]; exists {
		return fmt.Errorf("%w: %s", ErrComponentExists, r.Name)
	}
	f.comps[r.Name] = r
	return nil
}

// Lookup returns the registration for a component name.
func (f *ComponentFactory) Lookup(name string) (ComponentRegistration, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	r, ok := f.comps[name]
	return r, ok
}

// NewTrigger builds a trigger from a JSON parameter blob.
//
// A name that is not registered but is bound to another device yields a
// placeholder that never matches locally.
func (f *ComponentFactory) NewTrigger(name string, paramsJSON []byte, macro *Macro, device int) (Trigger, error) {
	params, reg, err := f.prepare(KindTrigger, name, paramsJSON, device)
	if err != nil {
		return nil, err
	}
	if reg == nil {
		return &remoteTrigger{TriggerBase: NewTriggerBase(name, "", params, macro, device)}, nil
	}
	return callTrigger(reg, params, macro, device)
}

// NewAction builds an action from a JSON parameter blob.
//
// A name that is not registered but is bound to another device yields a
// placeholder that only causes a hand-off.
func (f *ComponentFactory) NewAction(name string, paramsJSON []byte, device int) (Action, error) {
	params, reg, err := f.prepare(KindAction, name, paramsJSON, device)
	if err != nil {
		return nil, err
	}
	if reg == nil {
		return &remoteComponent{ComponentBase: NewComponentBase(name, params, device)}, nil
	}
	return callAction(reg, params, device)
}

// prepare parses and validates params. A nil registration with a nil
// error means the component is foreign and bound to another device.
func (f *ComponentFactory) prepare(kind Kind, name string, paramsJSON []byte, device int) (Params, *ComponentRegistration, error) {
	fail := func(err error) (Params, *ComponentRegistration, error) {
		return nil, nil, &ComponentError{Name: name, Kind: kind, Err: err}
	}

	params, err := ParseParams(paramsJSON)
	if err != nil {
		return fail(err)
	}

	reg, ok := f.Lookup(name)
	if !ok {
		if device != f.deviceID {
			return params, nil, nil
		}
		return fail(ErrUnknownComponent)
	}
	if reg.Kind != kind {
		return fail(fmt.Errorf("%w: %s is a %s", ErrWrongComponentKind, name, reg.Kind))
	}
	if err := ValidateParams(reg.Formal, params); err != nil {
		return fail(err)
	}
	return params, &reg, nil
}

func callTrigger(reg *ComponentRegistration, params Params, macro *Macro, device int) (t Trigger, err error) {
	defer func() {
		if r := recover(); r != nil {
			t, err = nil, &ComponentError{Name: reg.Name, Kind: KindTrigger, Err: fmt.Errorf("%w: constructor panic: %v", ErrInvalidParameters, r)}
		}
	}()
	t, err = reg.NewTrigger(params, macro, device)
	if err != nil {
		return nil, &ComponentError{Name: reg.Name, Kind: KindTrigger, Err: wrapInvalid(err)}
	}
	return t, nil
}

func callAction(reg *ComponentRegistration, params Params, device int) (a Action, err error) {
	defer func() {
		if r := recover(); r != nil {
			a, err = nil, &ComponentError{Name: reg.Name, Kind: KindAction, Err: fmt.Errorf("%w: constructor panic: %v", ErrInvalidParameters, r)}
		}
	}()
	a, err = reg.NewAction(params, device)
	if err != nil {
		return nil, &ComponentError{Name: reg.Name, Kind: KindAction, Err: wrapInvalid(err)}
	}
	return a, nil
}

func wrapInvalid(err error) error {
	if errors.Is(err, ErrInvalidParameters) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrInvalidParameters, err)
}

// BuildMacro builds a macro from its stored form.
//
// An action that fails to build is skipped and reported in skipped; the
// rest of the macro still loads. A trigger that fails to build fails the
// whole macro, since a macro needs exactly one trigger.
func (f *ComponentFactory) BuildMacro(spec MacroSpec) (m *Macro, skipped []error, err error) {
	m = &Macro{
		ID:      spec.ID,
		Name:    spec.Name,
		Icon:    spec.Icon,
		Colour:  spec.Colour,
		Enabled: spec.Enabled,
	}

	t, err := f.NewTrigger(spec.Trigger.Name, spec.Trigger.Parameters, m, spec.Trigger.DeviceID)
	if err != nil {
		return nil, nil, fmt.Errorf("macro %d (%s): %w", spec.ID, spec.Name, err)
	}
	m.Trigger = t

	for i, as := range spec.Actions {
		a, aerr := f.NewAction(as.Name, as.Parameters, as.DeviceID)
		if aerr != nil {
			skipped = append(skipped, fmt.Errorf("macro %d action %d: %w", spec.ID, i, aerr))
			continue
		}
		m.AddAction(a)
	}

	if err := m.Validate(); err != nil {
		return nil, skipped, err
	}
	return m, skipped, nil
}

// Descriptors returns the advertised components of a kind, sorted by name.
// Components whose requirement the SystemFacade does not satisfy are left out.
func (f *ComponentFactory) Descriptors(kind Kind) []ComponentDescriptor {
	f.mu.RLock()
	out := make([]ComponentDescriptor, 0, len(f.comps))
	for _, r := range f.comps {
		if r.Kind != kind {
			continue
		}
		if r.Requires != "" && f.facade != nil && !f.facade.Requirement(r.Requires) {
			continue
		}
		out = append(out, r.Descriptor())
	}
	f.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Availability returns what the local device advertises.
func (f *ComponentFactory) Availability() Availability {
	return NewAvailability(f.deviceID, f.Descriptors(KindTrigger), f.Descriptors(KindAction))
}
