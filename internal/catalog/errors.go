package catalog

import "errors"

// Domain errors for the catalog package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, catalog.ErrMacroNotFound) {
//	    // handle not found case
//	}
var (
	// ErrMacroNotFound is returned when a macro ID does not exist.
	ErrMacroNotFound = errors.New("catalog: macro not found")

	// ErrMacroExists is returned when a macro name is already taken.
	ErrMacroExists = errors.New("catalog: macro already exists")

	// ErrInvalidMacro is returned when a macro definition cannot be built.
	ErrInvalidMacro = errors.New("catalog: invalid macro")

	// ErrExecutionNotFound is returned when an execution ID does not exist.
	ErrExecutionNotFound = errors.New("catalog: execution not found")
)
