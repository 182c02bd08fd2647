package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle state of one macro run.
type State string

const (
	StateCreated            State = "CREATED"
	StateRunning            State = "RUNNING"
	StateSuspendedUserInput State = "SUSPENDED_USER_INPUT"
	StateSuspendedRemote    State = "SUSPENDED_REMOTE"
	StateCompleted          State = "COMPLETED"
	StateFailed             State = "FAILED"
)

// Terminal reports whether no further transition can happen on this device.
// SUSPENDED_REMOTE counts: the run continues elsewhere from a descriptor.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateSuspendedRemote
}

// RemoteExecutor delivers a continuation to another device.
type RemoteExecutor interface {
	ContinueExecutionOnDevice(ctx context.Context, d RemoteExecutionDescriptor, deviceID int) error
}

type inputOutcome int

const (
	inputNone inputOutcome = iota
	inputResume
	inputStop
)

// ExecutionDeps is the construction-time wiring shared by an execution
// template and every clone made from it.
type ExecutionDeps struct {
	Device   Device
	Facade   *SystemFacade
	Globals  *VariableManager
	Remote   RemoteExecutor
	Recorder Recorder
	Logger   Logger
}

// ExecutionInterface is the context of one macro run: its LOCAL variables,
// its position in the action sequence and its state.
//
// A template is built once with NewExecutionInterface; each activation or
// remote continuation works on a CloneInstance of it.
//
// Thread Safety: state transitions are guarded, so input callbacks may
// arrive on any goroutine. Only one goroutine advances a run at a time.
type ExecutionInterface struct {
	deps ExecutionDeps

	mu         sync.Mutex
	id         string
	sequence   int
	macro      *Macro
	actions    []Action
	locals     *VariableManager
	position   int
	state      State
	err        error
	startedAt  time.Time
	handoffTo  int
	activating bool
	pending    inputOutcome
}

// NewExecutionInterface creates a template with no macro bound.
func NewExecutionInterface(deps ExecutionDeps) *ExecutionInterface {
	if deps.Facade == nil {
		deps.Facade = NewSystemFacade()
	}
	if deps.Globals == nil {
		deps.Globals = NewVariableManager(ScopeGlobal)
	}
	if deps.Recorder == nil {
		deps.Recorder = noopRecorder{}
	}
	if deps.Logger == nil {
		deps.Logger = noopLogger{}
	}
	return &ExecutionInterface{
		deps:   deps,
		id:     uuid.NewString(),
		locals: NewVariableManager(ScopeLocal),
		state:  StateCreated,
	}
}

// CloneInstance returns a fresh run sharing this one's wiring but none of
// its run state.
func (x *ExecutionInterface) CloneInstance() *ExecutionInterface {
	return NewExecutionInterface(x.deps)
}

// Bind attaches the macro to run. Only allowed in CREATED.
func (x *ExecutionInterface) Bind(m *Macro) error {
	if err := m.Validate(); err != nil {
		return err
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.state != StateCreated || x.macro != nil {
		return fmt.Errorf("%w: bind in %s", ErrInvalidState, x.state)
	}
	x.macro = m
	x.actions = append([]Action(nil), m.Actions...)
	return nil
}

// SeedLocals stores values as STRING LOCAL variables.
func (x *ExecutionInterface) SeedLocals(values map[string]string) {
	for name, value := range values {
		x.locals.Set(name, TypeString, value) //nolint:errcheck // STRING values always validate
	}
}

// ContinueExecutionFromRemote rehydrates a clone from a descriptor's
// contents. The caller then calls Execute to resume at the recorded position.
func (x *ExecutionInterface) ContinueExecutionFromRemote(m *Macro, localVariables map[string]string, stack []int) error {
	if len(stack) == 0 {
		return fmt.Errorf("%w: empty stack", ErrInvalidDescriptor)
	}
	pos := stack[len(stack)-1]
	if pos < 0 || pos > len(m.Actions) {
		return fmt.Errorf("%w: position %d outside macro %d with %d actions", ErrInvalidDescriptor, pos, m.ID, len(m.Actions))
	}
	if err := x.Bind(m); err != nil {
		return err
	}
	x.locals.Restore(localVariables)
	x.mu.Lock()
	x.position = pos
	x.mu.Unlock()
	return nil
}

// adoptIdentity keeps the run id of a continued run so its idempotency key
// stays stable across hops.
func (x *ExecutionInterface) adoptIdentity(id string, sequence int) {
	if id == "" {
		return
	}
	x.mu.Lock()
	x.id = id
	x.sequence = sequence
	x.mu.Unlock()
}

// Execute runs the bound macro from the current position until it
// completes, fails, or suspends. A returned error means the run FAILED.
func (x *ExecutionInterface) Execute(ctx context.Context) error {
	x.mu.Lock()
	if x.macro == nil {
		x.mu.Unlock()
		return fmt.Errorf("%w: no macro bound", ErrInvalidState)
	}
	if x.state != StateCreated {
		state := x.state
		x.mu.Unlock()
		return fmt.Errorf("%w: execute in %s", ErrInvalidState, state)
	}
	x.state = StateRunning
	x.startedAt = time.Now().UTC()
	x.mu.Unlock()

	x.deps.Logger.Debug("macro execution started",
		"execution_id", x.ID(),
		"macro_id", x.macro.ID,
		"position", x.Position(),
	)
	return x.run(ctx)
}

func (x *ExecutionInterface) run(ctx context.Context) error {
	for {
		x.mu.Lock()
		if x.state != StateRunning {
			x.mu.Unlock()
			return nil
		}
		if x.position >= len(x.actions) {
			x.state = StateCompleted
			x.mu.Unlock()
			x.deps.Logger.Info("macro execution completed", "execution_id", x.ID(), "macro_id", x.macro.ID)
			x.report()
			return nil
		}
		idx := x.position
		action := x.actions[idx]
		x.mu.Unlock()

		if action.Device() != x.deps.Device.ID {
			return x.handOff(ctx, idx, action.Device())
		}

		params := ResolveParams(action.Params(), x.Lookup)

		x.mu.Lock()
		x.activating = true
		x.mu.Unlock()

		err := x.invoke(ctx, action, params)

		x.mu.Lock()
		x.activating = false
		if err != nil {
			x.state = StateFailed
			x.err = err
			x.mu.Unlock()
			x.deps.Logger.Error("macro action failed",
				"execution_id", x.ID(),
				"macro_id", x.macro.ID,
				"action", action.Name(),
				"action_index", idx,
				"error", err,
			)
			x.report()
			return fmt.Errorf("macro %d action %d (%s): %w", x.macro.ID, idx, action.Name(), err)
		}
		x.position = idx + 1
		if x.state == StateSuspendedUserInput {
			switch x.pending {
			case inputResume:
				x.state = StateRunning
			case inputStop:
				x.state = StateCompleted
			}
			x.pending = inputNone
		}
		state := x.state
		x.mu.Unlock()

		switch state {
		case StateSuspendedUserInput:
			x.deps.Logger.Info("macro awaiting user input", "execution_id", x.ID(), "macro_id", x.macro.ID, "action", action.Name())
			x.report()
			return nil
		case StateCompleted:
			x.deps.Logger.Info("macro stopped by user", "execution_id", x.ID(), "macro_id", x.macro.ID)
			x.report()
			return nil
		}
	}
}

func (x *ExecutionInterface) invoke(ctx context.Context, a Action, params Params) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("action panicked: %v", r)
		}
	}()
	return a.Activate(ctx, x, params)
}

// handOff freezes the run into a descriptor and gives it to the remote
// executor. The run never resumes here. SUSPENDED_REMOTE is reported before
// delivery since the receiving device may finish the run first.
func (x *ExecutionInterface) handOff(ctx context.Context, idx, target int) error {
	x.mu.Lock()
	x.sequence++
	d := RemoteExecutionDescriptor{
		MacroID:        x.macro.ID,
		LocalVariables: x.locals.Snapshot(),
		Stack:          []int{idx},
		ExecutionID:    x.id,
		Sequence:       x.sequence,
	}
	x.state = StateSuspendedRemote
	x.handoffTo = target
	x.mu.Unlock()

	x.deps.Logger.Info("macro handed off",
		"execution_id", d.ExecutionID,
		"macro_id", d.MacroID,
		"target_device", target,
		"position", idx,
	)

	x.report()

	var err error
	if x.deps.Remote == nil {
		err = fmt.Errorf("%w: no remote executor configured", ErrHandoffFailed)
	} else if sendErr := x.deps.Remote.ContinueExecutionOnDevice(ctx, d, target); sendErr != nil {
		err = fmt.Errorf("%w: device %d: %v", ErrHandoffFailed, target, sendErr)
	}

	if err != nil {
		x.mu.Lock()
		x.state = StateFailed
		x.err = err
		x.mu.Unlock()
		x.deps.Logger.Error("macro hand-off failed",
			"execution_id", d.ExecutionID,
			"macro_id", d.MacroID,
			"target_device", target,
			"error", err,
		)
		x.report()
	}
	return err
}

// AwaitUserInput suspends the run after the current action returns. The
// action must arrange for ResumeAfterInput or StopAfterInput to be called.
func (x *ExecutionInterface) AwaitUserInput() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.state != StateRunning {
		return fmt.Errorf("%w: await input in %s", ErrInvalidState, x.state)
	}
	x.state = StateSuspendedUserInput
	return nil
}

// ResumeAfterInput continues a run suspended for user input from the next
// action. If the action that suspended is still running, the resume is
// applied when it returns.
func (x *ExecutionInterface) ResumeAfterInput(ctx context.Context) error {
	x.mu.Lock()
	if x.state != StateSuspendedUserInput || x.pending != inputNone {
		state := x.state
		x.mu.Unlock()
		return fmt.Errorf("%w: resume in %s", ErrInvalidState, state)
	}
	if x.activating {
		x.pending = inputResume
		x.mu.Unlock()
		return nil
	}
	x.state = StateRunning
	x.mu.Unlock()
	return x.run(ctx)
}

// StopAfterInput ends a run suspended for user input as COMPLETED; the
// user declined to continue.
func (x *ExecutionInterface) StopAfterInput() error {
	x.mu.Lock()
	if x.state != StateSuspendedUserInput || x.pending != inputNone {
		state := x.state
		x.mu.Unlock()
		return fmt.Errorf("%w: stop in %s", ErrInvalidState, state)
	}
	if x.activating {
		x.pending = inputStop
		x.mu.Unlock()
		return nil
	}
	x.state = StateCompleted
	x.mu.Unlock()
	x.deps.Logger.Info("macro stopped by user", "execution_id", x.ID(), "macro_id", x.macro.ID)
	x.report()
	return nil
}

// Snapshot captures the run as a descriptor at its current position.
func (x *ExecutionInterface) Snapshot() RemoteExecutionDescriptor {
	x.mu.Lock()
	defer x.mu.Unlock()
	d := RemoteExecutionDescriptor{
		LocalVariables: x.locals.Snapshot(),
		Stack:          []int{x.position},
		ExecutionID:    x.id,
		Sequence:       x.sequence,
	}
	if x.macro != nil {
		d.MacroID = x.macro.ID
	}
	return d
}

// Lookup resolves a variable name against LOCAL then GLOBAL scope.
func (x *ExecutionInterface) Lookup(name string) (string, bool) {
	if v, ok := x.locals.Value(name); ok {
		return v, true
	}
	return x.deps.Globals.Value(name)
}

// AssignVariable resolves template and stores it in the given scope. For
// GLOBAL variables the read of the old value and the write happen under
// the variable's lock, so "@{x} @{x}" cannot interleave with another run.
func (x *ExecutionInterface) AssignVariable(scope Scope, name string, t VarType, template string) error {
	if scope == ScopeLocal {
		return x.locals.Set(name, t, Resolve(template, x.Lookup))
	}
	return x.deps.Globals.Update(name, func(cur Variable, exists bool) (Variable, error) {
		value := Resolve(template, func(n string) (string, bool) {
			if v, ok := x.locals.Value(n); ok {
				return v, true
			}
			if n == name {
				return cur.Value, exists
			}
			return x.deps.Globals.Value(n)
		})
		return Variable{Type: t, Value: value}, nil
	})
}

// Prompt builds a user prompt tagged with this run.
func (x *ExecutionInterface) Prompt(title, message string) Prompt {
	x.mu.Lock()
	defer x.mu.Unlock()
	p := Prompt{ExecutionID: x.id, Title: title, Message: message}
	if x.macro != nil {
		p.MacroID = x.macro.ID
		p.MacroName = x.macro.Name
	}
	return p
}

func (x *ExecutionInterface) report() {
	x.mu.Lock()
	r := ExecutionReport{
		ExecutionID:   x.id,
		State:         x.state,
		Position:      x.position,
		ActionsTotal:  len(x.actions),
		HandoffDevice: x.handoffTo,
		Err:           x.err,
		StartedAt:     x.startedAt,
		At:            time.Now().UTC(),
	}
	if x.macro != nil {
		r.MacroID = x.macro.ID
		r.MacroName = x.macro.Name
	}
	x.mu.Unlock()
	x.deps.Recorder.RecordExecution(r)
}

// ID returns the run id. Continued runs keep the id of the original run.
func (x *ExecutionInterface) ID() string {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.id
}

// State returns the current state.
func (x *ExecutionInterface) State() State {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.state
}

// Position returns the index of the next action to run.
func (x *ExecutionInterface) Position() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.position
}

// Err returns the failure cause of a FAILED run.
func (x *ExecutionInterface) Err() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.err
}

// Macro returns the bound macro, or nil.
func (x *ExecutionInterface) Macro() *Macro {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.macro
}

func (x *ExecutionInterface) Locals() *VariableManager  { return x.locals }
func (x *ExecutionInterface) Globals() *VariableManager { return x.deps.Globals }
func (x *ExecutionInterface) Facade() *SystemFacade     { return x.deps.Facade }
func (x *ExecutionInterface) Device() Device            { return x.deps.Device }
func (x *ExecutionInterface) Logger() Logger            { return x.deps.Logger }
