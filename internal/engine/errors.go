package engine

import "errors"

// Domain errors for the engine package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, engine.ErrMissingMacro) {
//	    // resync the catalog and retry once
//	}
var (
	// ErrMissingMacro is returned when a macro id is not in the local catalog.
	ErrMissingMacro = errors.New("engine: macro not found")

	// ErrInvalidMacro is returned when a macro has no trigger or no id.
	ErrInvalidMacro = errors.New("engine: invalid macro")

	// ErrDuplicateContinuation is returned when a continuation with an
	// already claimed idempotency key is delivered again.
	ErrDuplicateContinuation = errors.New("engine: duplicate continuation")

	// ErrInvalidDescriptor is returned when a remote execution descriptor is malformed.
	ErrInvalidDescriptor = errors.New("engine: invalid remote execution descriptor")

	// ErrUnknownComponent is returned when a component name is not registered.
	ErrUnknownComponent = errors.New("engine: unknown component")

	// ErrComponentExists is returned when registering a component name twice.
	ErrComponentExists = errors.New("engine: component already registered")

	// ErrWrongComponentKind is returned when a trigger name is used as an action or vice versa.
	ErrWrongComponentKind = errors.New("engine: wrong component kind")

	// ErrInvalidParameters is returned when actual parameters do not satisfy
	// the component's formal parameters.
	ErrInvalidParameters = errors.New("engine: invalid parameters")

	// ErrTriggerRegistered is returned when a macro already has a registered trigger.
	ErrTriggerRegistered = errors.New("engine: trigger already registered for macro")

	// ErrInvalidState is returned when an execution operation is not allowed
	// in the execution's current state.
	ErrInvalidState = errors.New("engine: invalid execution state")

	// ErrCapabilityMissing is returned when an action needs a capability the
	// device does not provide.
	ErrCapabilityMissing = errors.New("engine: capability missing")

	// ErrHandoffFailed is returned when a remote continuation could not be delivered.
	ErrHandoffFailed = errors.New("engine: remote hand-off failed")

	// ErrRemoteOnly is returned when a placeholder for a component that only
	// exists on another device is asked to run locally.
	ErrRemoteOnly = errors.New("engine: component only runs on its own device")

	// ErrInvalidVariable is returned when a variable value does not match its type.
	ErrInvalidVariable = errors.New("engine: invalid variable value")
)

// ComponentError describes why a trigger or action could not be built.
// It wraps one of ErrUnknownComponent, ErrWrongComponentKind or ErrInvalidParameters.
type ComponentError struct {
	Name string
	Kind Kind
	Err  error
}

func (e *ComponentError) Error() string {
	return "engine: building " + e.Kind.String() + " " + e.Name + ": " + e.Err.Error()
}

func (e *ComponentError) Unwrap() error {
	return e.Err
}
