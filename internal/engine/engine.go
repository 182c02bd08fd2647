package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Deps holds the dependencies of a MacroEngine.
type Deps struct {
	Device     Device
	Facade     *SystemFacade
	Factory    *ComponentFactory
	Subscriber EventSubscriber
	Remote     RemoteExecutor
	Ledger     ContinuationLedger
	Recorder   Recorder
	Logger     Logger
	Globals    *VariableManager
}

// MacroEngine owns the local macro set, the activation manager and the
// execution template. It starts runs for local events and resumes runs
// handed off by other devices.
//
// Thread Safety: all methods are safe for concurrent use.
type MacroEngine struct {
	device   Device
	factory  *ComponentFactory
	ledger   ContinuationLedger
	recorder Recorder
	logger   Logger

	template  *ExecutionInterface
	activator *ActivationManager

	remoteMu sync.RWMutex
	remote   RemoteExecutor

	mu     sync.RWMutex
	macros map[int]*Macro
}

// NewMacroEngine creates a stopped engine with no macros.
func NewMacroEngine(deps Deps) *MacroEngine {
	if deps.Logger == nil {
		deps.Logger = noopLogger{}
	}
	if deps.Recorder == nil {
		deps.Recorder = noopRecorder{}
	}
	if deps.Facade == nil {
		deps.Facade = NewSystemFacade()
	}
	if deps.Factory == nil {
		deps.Factory = NewComponentFactory(deps.Device.ID, deps.Facade)
	}
	if deps.Ledger == nil {
		deps.Ledger = NewMemoryLedger(0)
	}
	if deps.Globals == nil {
		deps.Globals = NewVariableManager(ScopeGlobal)
	}

	e := &MacroEngine{
		device:   deps.Device,
		factory:  deps.Factory,
		ledger:   deps.Ledger,
		recorder: deps.Recorder,
		logger:   deps.Logger,
		remote:   deps.Remote,
		macros:   make(map[int]*Macro),
	}
	e.template = NewExecutionInterface(ExecutionDeps{
		Device:   deps.Device,
		Facade:   deps.Facade,
		Globals:  deps.Globals,
		Remote:   e,
		Recorder: deps.Recorder,
		Logger:   deps.Logger,
	})
	e.activator = NewActivationManager(e.template, deps.Subscriber, deps.Recorder, deps.Logger)
	return e
}

// SetRemoteExecutor replaces the transport used for hand-offs. Transports
// that also deliver continuations to the engine are built after it.
func (e *MacroEngine) SetRemoteExecutor(r RemoteExecutor) {
	e.remoteMu.Lock()
	e.remote = r
	e.remoteMu.Unlock()
}

// ContinueExecutionOnDevice implements RemoteExecutor by forwarding to the
// configured transport.
func (e *MacroEngine) ContinueExecutionOnDevice(ctx context.Context, d RemoteExecutionDescriptor, deviceID int) error {
	e.remoteMu.RLock()
	r := e.remote
	e.remoteMu.RUnlock()
	if r == nil {
		return errors.New("no remote executor configured")
	}
	return r.ContinueExecutionOnDevice(ctx, d, deviceID)
}

// AddMacro adds or replaces a macro. Its trigger is registered when the
// macro is enabled and the trigger is bound to this device.
func (e *MacroEngine) AddMacro(m *Macro) error {
	if err := m.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.addLocked(m)
}

func (e *MacroEngine) addLocked(m *Macro) error {
	// The old trigger's category is released only after the new trigger is
	// in, so replacing a macro in place keeps its subscription.
	if prev, ok := e.activator.remove(m.ID); ok {
		defer e.activator.syncSubscription(prev)
	}
	e.macros[m.ID] = m
	if m.Enabled && m.TriggerDevice() == e.device.ID {
		if err := e.activator.Register(m.Trigger); err != nil {
			return fmt.Errorf("registering trigger of macro %d: %w", m.ID, err)
		}
	}
	return nil
}

// AddMacros adds each macro. Invalid macros are skipped and reported
// together in the returned error.
func (e *MacroEngine) AddMacros(ms []*Macro) error {
	var errs []error
	for _, m := range ms {
		if err := e.AddMacro(m); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ReloadMacros replaces the whole macro set. Runs in flight keep the
// actions they were started with.
func (e *MacroEngine) ReloadMacros(ms []*Macro) error {
	var errs []error
	e.mu.Lock()
	released := make(map[EventCategory]bool)
	for id := range e.macros {
		if category, ok := e.activator.remove(id); ok {
			released[category] = true
		}
	}
	e.macros = make(map[int]*Macro, len(ms))
	for _, m := range ms {
		if err := m.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		if err := e.addLocked(m); err != nil {
			errs = append(errs, err)
		}
	}
	for category := range released {
		e.activator.syncSubscription(category)
	}
	n := len(e.macros)
	e.mu.Unlock()

	e.logger.Info("macros reloaded", "count", n, "triggers", e.activator.Count())
	return errors.Join(errs...)
}

// RemoveMacro removes a macro and its trigger.
func (e *MacroEngine) RemoveMacro(id int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.macros[id]; !ok {
		return false
	}
	delete(e.macros, id)
	e.activator.Unregister(id)
	return true
}

// SetMacroEnabled enables or disables a macro's trigger. The stored macro
// is replaced by a copy, so macros handed out earlier are never mutated.
func (e *MacroEngine) SetMacroEnabled(id int, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.macros[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrMissingMacro, id)
	}
	cpy := m.snapshot()
	cpy.Enabled = enabled
	return e.addLocked(cpy)
}

// Macro returns a copy of the macro with the given id.
func (e *MacroEngine) Macro(id int) (*Macro, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	m, ok := e.macros[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrMissingMacro, id)
	}
	return m.snapshot(), nil
}

// Macros returns copies of all macros ordered by id.
func (e *MacroEngine) Macros() []*Macro {
	e.mu.RLock()
	out := make([]*Macro, 0, len(e.macros))
	for _, m := range e.macros {
		out = append(out, m.snapshot())
	}
	e.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// StartEngine enables event handling and fires ENGINE_START triggers.
func (e *MacroEngine) StartEngine(ctx context.Context) {
	e.activator.SetEnabled(true)
	e.logger.Info("macro engine started", "device_id", e.device.ID, "triggers", e.activator.Count())
	e.activator.ActivateForOnEngineStart(ctx)
}

// PauseEngine stops handling events. Runs in flight continue.
func (e *MacroEngine) PauseEngine() {
	e.activator.SetEnabled(false)
	e.logger.Info("macro engine paused")
}

// ResumeEngine handles events again without firing ENGINE_START.
func (e *MacroEngine) ResumeEngine() {
	e.activator.SetEnabled(true)
	e.logger.Info("macro engine resumed")
}

// Running reports whether events are being handled.
func (e *MacroEngine) Running() bool {
	return e.activator.Enabled()
}

// HandleEvent delivers a local event to the activation manager.
func (e *MacroEngine) HandleEvent(ctx context.Context, ev Event) int {
	return e.activator.HandleEvent(ctx, ev)
}

// ContinueMacro resumes a run handed off by another device.
//
// Parameters:
//   - ctx: Context passed to the resumed actions
//   - d: The descriptor received from the sending device
//
// Returns:
//   - error: nil once the run reached a suspension point or ended, or:
//   - ErrInvalidDescriptor if d is malformed
//   - ErrMissingMacro if the macro is not in the local catalog
//   - ErrDuplicateContinuation if d was already run here
//   - the run's failure if an action failed
//
// A missing macro does not claim the idempotency key, so the same
// descriptor can be retried after the catalog is refreshed.
func (e *MacroEngine) ContinueMacro(ctx context.Context, d RemoteExecutionDescriptor) error {
	if err := d.Validate(); err != nil {
		return err
	}

	e.mu.RLock()
	m, ok := e.macros[d.MacroID]
	e.mu.RUnlock()
	if !ok {
		e.recorder.RecordContinuation(d.MacroID, ContinuationMissing)
		return fmt.Errorf("%w: %d", ErrMissingMacro, d.MacroID)
	}

	// The key is claimed only once the descriptor fits the local macro, so a
	// retry after a resync is not taken for a duplicate.
	run := e.template.CloneInstance()
	if err := run.ContinueExecutionFromRemote(m, d.LocalVariables, d.Stack); err != nil {
		return err
	}
	run.adoptIdentity(d.ExecutionID, d.Sequence)

	if key := d.IdempotencyKey(); key != "" {
		first, err := e.ledger.Claim(ctx, key)
		if err != nil {
			return fmt.Errorf("claiming continuation %s: %w", key, err)
		}
		if !first {
			e.recorder.RecordContinuation(d.MacroID, ContinuationDuplicate)
			e.logger.Warn("duplicate continuation ignored", "macro_id", d.MacroID, "key", key)
			return fmt.Errorf("%w: %s", ErrDuplicateContinuation, key)
		}
	}

	e.recorder.RecordContinuation(d.MacroID, ContinuationResumed)
	e.logger.Info("continuing macro from remote",
		"execution_id", run.ID(),
		"macro_id", m.ID,
		"position", d.Position(),
	)
	return run.Execute(ctx)
}

// ComponentFactory returns the factory used to build this engine's macros.
func (e *MacroEngine) ComponentFactory() *ComponentFactory { return e.factory }

// Activator returns the activation manager.
func (e *MacroEngine) Activator() *ActivationManager { return e.activator }

// Device returns the local device.
func (e *MacroEngine) Device() Device { return e.device }

// Globals returns the GLOBAL variables shared by every run.
func (e *MacroEngine) Globals() *VariableManager { return e.template.Globals() }

// Facade returns the local system facade.
func (e *MacroEngine) Facade() *SystemFacade { return e.template.Facade() }
