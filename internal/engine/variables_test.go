package engine

import (
	"errors"
	"testing"
)

func TestVariableManager_SetGet(t *testing.T) {
	vm := NewVariableManager(ScopeGlobal)

	if err := vm.Set("n", TypeNumber, "4.5"); err != nil {
		t.Fatal(err)
	}
	v, ok := vm.Get("n")
	if !ok || v.Value != "4.5" || v.Type != TypeNumber || v.Scope != ScopeGlobal {
		t.Errorf("Get(n) = %+v, %v", v, ok)
	}

	tests := []struct {
		name  string
		typ   VarType
		value string
	}{
		{"", TypeString, "x"},
		{"n", TypeNumber, "four"},
		{"b", TypeBool, "yes please"},
	}
	for _, tt := range tests {
		if err := vm.Set(tt.name, tt.typ, tt.value); !errors.Is(err, ErrInvalidVariable) {
			t.Errorf("Set(%q, %s, %q) error = %v, want ErrInvalidVariable", tt.name, tt.typ, tt.value, err)
		}
	}
	if v, _ := vm.Value("n"); v != "4.5" {
		t.Errorf("failed Set overwrote n: %q", v)
	}
}

func TestVariableManager_Update(t *testing.T) {
	vm := NewVariableManager(ScopeLocal)

	err := vm.Update("count", func(cur Variable, ok bool) (Variable, error) {
		if ok {
			t.Error("ok = true for new variable")
		}
		return Variable{Type: TypeNumber, Value: "1"}, nil
	})
	if err != nil {
		t.Fatal(err)
	}

	boom := errors.New("boom")
	if err := vm.Update("count", func(Variable, bool) (Variable, error) { return Variable{}, boom }); !errors.Is(err, boom) {
		t.Errorf("Update() error = %v, want boom", err)
	}
	if v, _ := vm.Value("count"); v != "1" {
		t.Errorf("failed Update changed value to %q", v)
	}
}

func TestVariableManager_SnapshotRestore(t *testing.T) {
	vm := NewVariableManager(ScopeLocal)
	_ = vm.Set("a", TypeNumber, "1")
	_ = vm.Set("b", TypeBool, "true")

	snap := vm.Snapshot()
	if snap["a"] != "1" || snap["b"] != "true" {
		t.Errorf("Snapshot() = %v", snap)
	}

	other := NewVariableManager(ScopeLocal)
	_ = other.Set("stale", TypeString, "x")
	other.Restore(snap)

	if got := other.Names(); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("Names() after Restore = %v", got)
	}
	for _, v := range other.All() {
		if v.Type != TypeString {
			t.Errorf("restored %s has type %s, want STRING", v.Name, v.Type)
		}
	}

	other.Delete("a")
	if other.Len() != 1 {
		t.Errorf("Len() after Delete = %d", other.Len())
	}
}

func TestParseScopeAndType(t *testing.T) {
	if s, err := ParseScope(""); err != nil || s != ScopeLocal {
		t.Errorf("ParseScope(\"\") = %s, %v", s, err)
	}
	if _, err := ParseScope("global"); !errors.Is(err, ErrInvalidVariable) {
		t.Errorf("ParseScope(global) error = %v, want case-sensitive rejection", err)
	}
	if ty, err := ParseVarType(""); err != nil || ty != TypeString {
		t.Errorf("ParseVarType(\"\") = %s, %v", ty, err)
	}
	if _, err := ParseVarType("DATE"); !errors.Is(err, ErrInvalidVariable) {
		t.Errorf("ParseVarType(DATE) error = %v", err)
	}
}
