package engine

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
)

func newTestRun(t *testing.T, deviceID int, m *Macro) (*ExecutionInterface, *mockRecorder) {
	t.Helper()
	rec := &mockRecorder{}
	run := NewExecutionInterface(ExecutionDeps{Device: Device{ID: deviceID}, Recorder: rec, Remote: &mockRemote{}})
	if m != nil {
		if err := run.Bind(m); err != nil {
			t.Fatalf("Bind() error = %v", err)
		}
	}
	return run, rec
}

func TestExecution_CompletesInOrder(t *testing.T) {
	log := &callLog{}
	m := newTestMacro(1, CategoryWifi, nil, 1,
		loggingAction(log, "a", 1, nil),
		loggingAction(log, "b", 1, nil),
	)
	run, _ := newTestRun(t, 1, m)

	if run.State() != StateCreated {
		t.Fatalf("initial state = %s, want CREATED", run.State())
	}
	if err := run.Execute(context.Background()); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if run.State() != StateCompleted || run.Position() != 2 {
		t.Errorf("state = %s position = %d, want COMPLETED at 2", run.State(), run.Position())
	}
	if got := log.all(); !reflect.DeepEqual(got, []string{"a@1", "b@1"}) {
		t.Errorf("calls = %v", got)
	}
}

func TestExecution_ExecuteTwice(t *testing.T) {
	run, _ := newTestRun(t, 1, newTestMacro(1, CategoryWifi, nil, 1))
	_ = run.Execute(context.Background())
	if err := run.Execute(context.Background()); !errors.Is(err, ErrInvalidState) {
		t.Errorf("second Execute() error = %v, want ErrInvalidState", err)
	}
}

func TestExecution_ExecuteUnbound(t *testing.T) {
	run, _ := newTestRun(t, 1, nil)
	if err := run.Execute(context.Background()); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Execute() error = %v, want ErrInvalidState", err)
	}
}

func TestExecution_BindTwice(t *testing.T) {
	run, _ := newTestRun(t, 1, newTestMacro(1, CategoryWifi, nil, 1))
	if err := run.Bind(newTestMacro(2, CategoryWifi, nil, 1)); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Bind() error = %v, want ErrInvalidState", err)
	}
}

func TestExecution_CloneIsIndependent(t *testing.T) {
	tmpl, _ := newTestRun(t, 1, nil)
	a := tmpl.CloneInstance()
	b := tmpl.CloneInstance()

	a.SeedLocals(map[string]string{"x": "1"})
	if _, ok := b.Locals().Get("x"); ok {
		t.Error("LOCAL variable leaked between clones")
	}
	if a.ID() == b.ID() {
		t.Error("clones share an execution id")
	}
	if a.Globals() != b.Globals() {
		t.Error("clones do not share GLOBAL variables")
	}
}

func TestExecution_LookupPrefersLocal(t *testing.T) {
	run, _ := newTestRun(t, 1, nil)
	_ = run.Globals().Set("name", TypeString, "global")
	_ = run.Globals().Set("only_global", TypeString, "g")
	run.SeedLocals(map[string]string{"name": "local"})

	if v, _ := run.Lookup("name"); v != "local" {
		t.Errorf("Lookup(name) = %q, want local", v)
	}
	if v, _ := run.Lookup("only_global"); v != "g" {
		t.Errorf("Lookup(only_global) = %q, want g", v)
	}
	if _, ok := run.Lookup("nope"); ok {
		t.Error("Lookup(nope) ok = true")
	}
}

// ─── User input ─────────────────────────────────────────────────────────────

// suspendingAction asks for input and hands the answer back later.
func suspendingAction(held chan<- *ExecutionInterface) *funcAction {
	return newFuncAction("ASK", 1, nil, func(_ context.Context, ex *ExecutionInterface, _ Params) error {
		if err := ex.AwaitUserInput(); err != nil {
			return err
		}
		held <- ex
		return nil
	})
}

func TestExecution_UserInput_ResumeLater(t *testing.T) {
	log := &callLog{}
	held := make(chan *ExecutionInterface, 1)
	m := newTestMacro(1, CategoryWifi, nil, 1, suspendingAction(held), loggingAction(log, "after", 1, nil))
	run, rec := newTestRun(t, 1, m)

	if err := run.Execute(context.Background()); err != nil {
		t.Fatal(err)
	}
	if run.State() != StateSuspendedUserInput {
		t.Fatalf("state = %s, want SUSPENDED_USER_INPUT", run.State())
	}
	if got := rec.lastExecution(t).State; got != StateSuspendedUserInput {
		t.Errorf("reported state = %s", got)
	}
	if len(log.all()) != 0 {
		t.Error("action after prompt ran before the answer")
	}

	if err := (<-held).ResumeAfterInput(context.Background()); err != nil {
		t.Fatalf("ResumeAfterInput() error = %v", err)
	}
	if run.State() != StateCompleted {
		t.Errorf("state = %s, want COMPLETED", run.State())
	}
	if got := log.all(); !reflect.DeepEqual(got, []string{"after@1"}) {
		t.Errorf("calls = %v", got)
	}
	if err := run.ResumeAfterInput(context.Background()); !errors.Is(err, ErrInvalidState) {
		t.Errorf("resume after completion error = %v, want ErrInvalidState", err)
	}
}

func TestExecution_UserInput_Stop(t *testing.T) {
	log := &callLog{}
	held := make(chan *ExecutionInterface, 1)
	m := newTestMacro(1, CategoryWifi, nil, 1, suspendingAction(held), loggingAction(log, "after", 1, nil))
	run, _ := newTestRun(t, 1, m)

	_ = run.Execute(context.Background())
	if err := (<-held).StopAfterInput(); err != nil {
		t.Fatalf("StopAfterInput() error = %v", err)
	}
	if run.State() != StateCompleted {
		t.Errorf("state = %s, want COMPLETED", run.State())
	}
	if len(log.all()) != 0 {
		t.Errorf("calls after decline = %v", log.all())
	}
}

func TestExecution_UserInput_AnsweredDuringActivation(t *testing.T) {
	tests := []struct {
		name      string
		confirm   bool
		wantCalls []string
	}{
		{"confirmed", true, []string{"after@1"}},
		{"declined", false, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log := &callLog{}
			ask := newFuncAction("ASK", 1, nil, func(ctx context.Context, ex *ExecutionInterface, _ Params) error {
				if err := ex.AwaitUserInput(); err != nil {
					return err
				}
				if tt.confirm {
					return ex.ResumeAfterInput(ctx)
				}
				return ex.StopAfterInput()
			})
			m := newTestMacro(1, CategoryWifi, nil, 1, ask, loggingAction(log, "after", 1, nil))
			run, _ := newTestRun(t, 1, m)

			if err := run.Execute(context.Background()); err != nil {
				t.Fatal(err)
			}
			if run.State() != StateCompleted {
				t.Errorf("state = %s, want COMPLETED", run.State())
			}
			if got := log.all(); !reflect.DeepEqual(got, tt.wantCalls) {
				t.Errorf("calls = %v, want %v", got, tt.wantCalls)
			}
		})
	}
}

func TestExecution_AwaitUserInputOutsideRun(t *testing.T) {
	run, _ := newTestRun(t, 1, newTestMacro(1, CategoryWifi, nil, 1))
	if err := run.AwaitUserInput(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("AwaitUserInput() in CREATED error = %v, want ErrInvalidState", err)
	}
	if err := run.StopAfterInput(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("StopAfterInput() in CREATED error = %v, want ErrInvalidState", err)
	}
}

// ─── Variables ──────────────────────────────────────────────────────────────

func TestExecution_AssignVariable(t *testing.T) {
	run, _ := newTestRun(t, 1, nil)
	run.SeedLocals(map[string]string{"ssid": "home"})

	if err := run.AssignVariable(ScopeGlobal, "last_ssid", TypeString, "@{ssid}"); err != nil {
		t.Fatal(err)
	}
	if v, _ := run.Globals().Value("last_ssid"); v != "home" {
		t.Errorf("GLOBAL last_ssid = %q, want home", v)
	}
	if err := run.AssignVariable(ScopeLocal, "count", TypeNumber, "abc"); !errors.Is(err, ErrInvalidVariable) {
		t.Errorf("NUMBER abc error = %v, want ErrInvalidVariable", err)
	}
	if err := run.AssignVariable(ScopeGlobal, "flag", TypeBool, "true"); err != nil {
		t.Errorf("BOOL true error = %v", err)
	}
}

func TestExecution_AssignGlobalIsAtomic(t *testing.T) {
	tmpl, _ := newTestRun(t, 1, nil)
	_ = tmpl.Globals().Set("acc", TypeString, "")

	const runs = 50
	var wg sync.WaitGroup
	for i := 0; i < runs; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			run := tmpl.CloneInstance()
			if err := run.AssignVariable(ScopeGlobal, "acc", TypeString, "@{acc}x"); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	v, _ := tmpl.Globals().Value("acc")
	if v != strings.Repeat("x", runs) {
		t.Errorf("acc has %d marks, want %d", len(v), runs)
	}
}

func TestExecution_SnapshotAndContinue(t *testing.T) {
	m := newTestMacro(3, CategoryWifi, nil, 1, newFuncAction("a", 1, nil, nil), newFuncAction("b", 1, nil, nil))
	run, _ := newTestRun(t, 1, m)
	run.SeedLocals(map[string]string{"k": "v"})

	d := run.Snapshot()
	if d.MacroID != 3 || !reflect.DeepEqual(d.Stack, []int{0}) || d.LocalVariables["k"] != "v" {
		t.Errorf("Snapshot() = %+v", d)
	}

	next := run.CloneInstance()
	if err := next.ContinueExecutionFromRemote(m, map[string]string{"k": "w"}, []int{1}); err != nil {
		t.Fatal(err)
	}
	if next.Position() != 1 {
		t.Errorf("Position() = %d, want 1", next.Position())
	}
	if v, _ := next.Locals().Get("k"); v.Value != "w" || v.Type != TypeString {
		t.Errorf("restored k = %+v, want STRING w", v)
	}
	if err := next.CloneInstance().ContinueExecutionFromRemote(m, nil, []int{3}); !errors.Is(err, ErrInvalidDescriptor) {
		t.Errorf("position 3 error = %v, want ErrInvalidDescriptor", err)
	}
}

func TestExecution_RemoteOnlyPlaceholderFailsLocally(t *testing.T) {
	m := newTestMacro(1, CategoryWifi, nil, 1, &remoteComponent{ComponentBase: NewComponentBase("X", nil, 1)})
	run, _ := newTestRun(t, 1, m)
	if err := run.Execute(context.Background()); !errors.Is(err, ErrRemoteOnly) {
		t.Errorf("Execute() error = %v, want ErrRemoteOnly", err)
	}
	if run.State() != StateFailed {
		t.Errorf("state = %s, want FAILED", run.State())
	}
}

func TestExecution_Prompt(t *testing.T) {
	m := newTestMacro(4, CategoryWifi, nil, 1)
	run, _ := newTestRun(t, 1, m)
	p := run.Prompt("Continue?", "really")
	if p.ExecutionID != run.ID() || p.MacroID != 4 || p.MacroName != "macro-4" || p.Title != "Continue?" {
		t.Errorf("Prompt() = %+v", p)
	}
}
