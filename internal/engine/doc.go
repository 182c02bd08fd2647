// Package engine provides the Sinapsi macro execution engine.
//
// A macro is one trigger plus an ordered list of actions. Each trigger and
// action is bound to one of the user's devices. When a local event matches
// a trigger, the engine runs the macro's actions in order on this device
// until it meets an action bound elsewhere; the run is then frozen into a
// RemoteExecutionDescriptor and handed to that device, which resumes it.
//
// Architecture:
//
//	┌───────────────────────────────────────────────────────┐
//	│                MacroEngine (engine.go)                 │
//	│  ┌───────────────────┐    ┌──────────────────────┐    │
//	│  │ ComponentFactory  │    │  ActivationManager   │    │
//	│  │   (factory.go)    │    │   (activation.go)    │    │
//	│  └───────────────────┘    └──────────────────────┘    │
//	│            │                         │                 │
//	│            ▼                         ▼                 │
//	│  ┌──────────────────────────────────────────────┐     │
//	│  │  ExecutionInterface (execution.go)            │     │
//	│  │  CREATED → RUNNING → COMPLETED | FAILED       │     │
//	│  │             │  ▲                              │     │
//	│  │             ▼  │                              │     │
//	│  │   SUSPENDED_USER_INPUT   SUSPENDED_REMOTE ───────▶ RemoteExecutor
//	│  └──────────────────────────────────────────────┘     │
//	└───────────────────────────────────────────────────────┘
//
// # Key Types
//
//   - Macro: trigger plus ordered actions
//   - ComponentFactory: name → constructor registry with parameter validation
//   - ActivationManager: triggers indexed by event category
//   - ExecutionInterface: one run's state, position and LOCAL variables
//   - VariableManager: typed variables of one scope
//   - RemoteExecutionDescriptor: continuation token exchanged between devices
//
// # Variables
//
// Action parameters may reference variables as @{name}. Names resolve
// against the run's LOCAL scope first, then GLOBAL. Unknown names are left
// as written.
//
// # Thread Safety
//
// MacroEngine, ActivationManager, ComponentFactory and VariableManager are
// safe for concurrent use. Runs execute synchronously on the goroutine that
// delivered the event or continuation.
//
// # Usage
//
//	facade := engine.NewSystemFacade()
//	factory := engine.NewComponentFactory(device.ID, facade)
//	components.Register(factory)
//
//	eng := engine.NewMacroEngine(engine.Deps{
//	    Device:  device,
//	    Facade:  facade,
//	    Factory: factory,
//	    Logger:  log,
//	})
//	eng.AddMacros(macros)
//	eng.StartEngine(ctx)
package engine
