// Package catalog persists Sinapsi macros and loads them into the engine.
//
// Architecture:
//
//	┌─────────────────────────────────────────────────────┐
//	│                Catalog (catalog.go)                  │
//	│   ┌──────────────────┐       ┌──────────────────┐   │
//	│   │    Repository    │──────▶│ ComponentFactory │   │
//	│   │ (repository.go)  │ specs │   (engine pkg)   │   │
//	│   └──────────────────┘       └──────────────────┘   │
//	│            ▲                          │ macros      │
//	│            │                          ▼             │
//	│   ┌──────────────────┐       ┌──────────────────┐   │
//	│   │   ExecutionLog   │◀──────│   MacroEngine    │   │
//	│   │  (execlog.go)    │reports│   (MacroSink)    │   │
//	│   └──────────────────┘       └──────────────────┘   │
//	└─────────────────────────────────────────────────────┘
//
// # Key Types
//
//   - Repository: SQLite storage for macro definitions and execution records
//   - Catalog: keeps stored definitions and the engine's macro set in step
//   - ExecutionLog: background writer of execution reports
//   - SQLiteLedger: continuation ledger that survives restarts
//
// # Loading Policy
//
// Sync loads definitions with skip-and-log: an action the factory cannot
// build is dropped from its macro, a trigger it cannot build drops the
// whole macro. AddOrUpdateMacro refuses either.
//
// # Thread Safety
//
// Catalog, ExecutionLog and SQLiteLedger are safe for concurrent use.
package catalog
