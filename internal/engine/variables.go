package engine

import (
	"fmt"
	"sort"
	"strconv"
	"sync"
)

// Scope says where a variable lives.
type Scope string

const (
	// ScopeGlobal variables persist across runs and are shared by every macro on a device.
	ScopeGlobal Scope = "GLOBAL"
	// ScopeLocal variables live for one execution run only.
	ScopeLocal Scope = "LOCAL"
)

// ParseScope converts a case-sensitive scope name. Empty means LOCAL.
func ParseScope(s string) (Scope, error) {
	switch Scope(s) {
	case ScopeGlobal:
		return ScopeGlobal, nil
	case ScopeLocal, "":
		return ScopeLocal, nil
	}
	return "", fmt.Errorf("%w: unknown scope %q", ErrInvalidVariable, s)
}

// VarType is the declared type of a variable. Values are always stored as text.
type VarType string

const (
	TypeString VarType = "STRING"
	TypeNumber VarType = "NUMBER"
	TypeBool   VarType = "BOOL"
)

// ParseVarType converts a type name. Empty means STRING.
func ParseVarType(s string) (VarType, error) {
	switch VarType(s) {
	case TypeString, "":
		return TypeString, nil
	case TypeNumber:
		return TypeNumber, nil
	case TypeBool:
		return TypeBool, nil
	}
	return "", fmt.Errorf("%w: unknown type %q", ErrInvalidVariable, s)
}

// Variable is one named, typed value.
type Variable struct {
	Name  string  `json:"name"`
	Scope Scope   `json:"scope"`
	Type  VarType `json:"type"`
	Value string  `json:"value"`
}

func checkValue(t VarType, value string) error {
	switch t {
	case TypeNumber:
		if _, err := strconv.ParseFloat(value, 64); err != nil {
			return fmt.Errorf("%w: %q is not a number", ErrInvalidVariable, value)
		}
	case TypeBool:
		if _, err := strconv.ParseBool(value); err != nil {
			return fmt.Errorf("%w: %q is not a boolean", ErrInvalidVariable, value)
		}
	}
	return nil
}

// VariableManager is a typed key/value store for one scope.
//
// Thread Safety: all methods are safe for concurrent use. Writes to the same
// name are serialised, and Update holds the name for its whole
// read-modify-write so concurrent runs cannot interleave on a GLOBAL variable.
type VariableManager struct {
	scope Scope

	mu   sync.RWMutex
	vars map[string]Variable

	namesMu sync.Mutex
	names   map[string]*sync.Mutex
}

// NewVariableManager creates an empty store for the given scope.
func NewVariableManager(scope Scope) *VariableManager {
	return &VariableManager{
		scope: scope,
		vars:  make(map[string]Variable),
		names: make(map[string]*sync.Mutex),
	}
}

// Scope returns the scope this manager stores.
func (v *VariableManager) Scope() Scope {
	return v.scope
}

func (v *VariableManager) nameLock(name string) *sync.Mutex {
	v.namesMu.Lock()
	defer v.namesMu.Unlock()
	l, ok := v.names[name]
	if !ok {
		l = &sync.Mutex{}
		v.names[name] = l
	}
	return l
}

// Set stores a value, validating it against the type.
func (v *VariableManager) Set(name string, t VarType, value string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidVariable)
	}
	if err := checkValue(t, value); err != nil {
		return err
	}
	l := v.nameLock(name)
	l.Lock()
	defer l.Unlock()
	v.store(Variable{Name: name, Scope: v.scope, Type: t, Value: value})
	return nil
}

func (v *VariableManager) store(variable Variable) {
	v.mu.Lock()
	v.vars[variable.Name] = variable
	v.mu.Unlock()
}

// Get returns the variable with the given name.
func (v *VariableManager) Get(name string) (Variable, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	variable, ok := v.vars[name]
	return variable, ok
}

// Value returns just the value of a variable.
func (v *VariableManager) Value(name string) (string, bool) {
	variable, ok := v.Get(name)
	return variable.Value, ok
}

// Update performs an atomic read-modify-write of one variable. fn receives
// the current variable (ok is false if it does not exist yet) and returns the
// new one. fn may read other variables of the same manager.
func (v *VariableManager) Update(name string, fn func(cur Variable, ok bool) (Variable, error)) error {
	l := v.nameLock(name)
	l.Lock()
	defer l.Unlock()

	cur, ok := v.Get(name)
	next, err := fn(cur, ok)
	if err != nil {
		return err
	}
	next.Name = name
	next.Scope = v.scope
	if next.Type == "" {
		next.Type = TypeString
	}
	if err := checkValue(next.Type, next.Value); err != nil {
		return err
	}
	v.store(next)
	return nil
}

// Delete removes a variable. Deleting a missing name is a no-op.
func (v *VariableManager) Delete(name string) {
	l := v.nameLock(name)
	l.Lock()
	defer l.Unlock()
	v.mu.Lock()
	delete(v.vars, name)
	v.mu.Unlock()
}

// Names returns all variable names in sorted order.
func (v *VariableManager) Names() []string {
	v.mu.RLock()
	names := make([]string, 0, len(v.vars))
	for n := range v.vars {
		names = append(names, n)
	}
	v.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Len returns the number of variables.
func (v *VariableManager) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.vars)
}

// All returns a copy of every variable, sorted by name.
func (v *VariableManager) All() []Variable {
	v.mu.RLock()
	out := make([]Variable, 0, len(v.vars))
	for _, variable := range v.vars {
		out = append(out, variable)
	}
	v.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Snapshot returns name → value for every variable. Types are not carried;
// this is the wire form used by remote execution descriptors.
func (v *VariableManager) Snapshot() map[string]string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make(map[string]string, len(v.vars))
	for n, variable := range v.vars {
		out[n] = variable.Value
	}
	return out
}

// Restore replaces the contents with the given values, all typed STRING.
func (v *VariableManager) Restore(values map[string]string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.vars = make(map[string]Variable, len(values))
	for n, val := range values {
		v.vars[n] = Variable{Name: n, Scope: v.scope, Type: TypeString, Value: val}
	}
}
