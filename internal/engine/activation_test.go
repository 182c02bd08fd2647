package engine

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
)

// mockSubscriber records subscriptions and lets tests publish events.
type mockSubscriber struct {
	mu       sync.Mutex
	handlers map[EventCategory][]func(context.Context, Event)
	calls    int
	unsubs   int
	err      error
}

func newMockSubscriber() *mockSubscriber {
	return &mockSubscriber{handlers: make(map[EventCategory][]func(context.Context, Event))}
}

func (m *mockSubscriber) Subscribe(category EventCategory, handle func(context.Context, Event)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return m.err
	}
	m.handlers[category] = append(m.handlers[category], handle)
	return nil
}

func (m *mockSubscriber) Unsubscribe(category EventCategory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unsubs++
	delete(m.handlers, category)
	return nil
}

func (m *mockSubscriber) subscribed(category EventCategory) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.handlers[category]) > 0
}

func (m *mockSubscriber) publish(ctx context.Context, ev Event) {
	m.mu.Lock()
	hs := slices.Clone(m.handlers[ev.Category])
	m.mu.Unlock()
	for _, h := range hs {
		h(ctx, ev)
	}
}

func newTestActivator(sub EventSubscriber) *ActivationManager {
	tmpl := NewExecutionInterface(ExecutionDeps{Device: Device{ID: 1}})
	a := NewActivationManager(tmpl, sub, nil, nil)
	a.SetEnabled(true)
	return a
}

func TestActivation_RegisterTwice(t *testing.T) {
	a := newTestActivator(nil)
	m := newTestMacro(1, CategoryWifi, nil, 1)

	if err := a.Register(m.Trigger); err != nil {
		t.Fatal(err)
	}
	other := NewTriggerBase("TRIGGER_OTHER", CategorySMS, nil, m, 1)
	if err := a.Register(other); !errors.Is(err, ErrTriggerRegistered) {
		t.Errorf("second Register() error = %v, want ErrTriggerRegistered", err)
	}
	if a.Count() != 1 {
		t.Errorf("Count() = %d, want 1", a.Count())
	}
}

func TestActivation_RegisterWithoutMacro(t *testing.T) {
	a := newTestActivator(nil)
	if err := a.Register(NewTriggerBase("T", CategoryWifi, nil, nil, 1)); !errors.Is(err, ErrInvalidMacro) {
		t.Errorf("Register() error = %v, want ErrInvalidMacro", err)
	}
}

func TestActivation_SubscribesOncePerCategory(t *testing.T) {
	sub := newMockSubscriber()
	a := newTestActivator(sub)
	log := &callLog{}

	_ = a.Register(newTestMacro(1, CategoryWifi, nil, 1, loggingAction(log, "one", 1, nil)).Trigger)
	_ = a.Register(newTestMacro(2, CategoryWifi, nil, 1, loggingAction(log, "two", 1, nil)).Trigger)
	_ = a.Register(newTestMacro(3, CategoryEngineStart, nil, 1).Trigger)

	if sub.calls != 1 {
		t.Errorf("Subscribe() calls = %d, want 1", sub.calls)
	}

	sub.publish(context.Background(), Event{Category: CategoryWifi})
	got := log.all()
	if len(got) != 2 || got[0] != "one@1" || got[1] != "two@1" {
		t.Errorf("calls = %v, want [one@1 two@1]", got)
	}
}

func TestActivation_SubscribeFailureRetriedOnNextRegister(t *testing.T) {
	sub := newMockSubscriber()
	sub.err = errors.New("not connected")
	a := newTestActivator(sub)

	if err := a.Register(newTestMacro(1, CategorySMS, nil, 1).Trigger); err != nil {
		t.Fatalf("Register() error = %v, want registration kept", err)
	}
	sub.err = nil
	_ = a.Register(newTestMacro(2, CategorySMS, nil, 1).Trigger)
	if sub.calls != 2 {
		t.Errorf("Subscribe() calls = %d, want 2", sub.calls)
	}
}

func TestActivation_Unregister(t *testing.T) {
	a := newTestActivator(nil)
	_ = a.Register(newTestMacro(1, CategoryWifi, nil, 1).Trigger)

	if !a.Unregister(1) {
		t.Error("Unregister(1) = false")
	}
	if a.Registered(1) || a.Count() != 0 {
		t.Error("trigger still registered")
	}
	if a.Unregister(1) {
		t.Error("second Unregister(1) = true")
	}
}

func TestActivation_UnregisterDropsEmptyCategory(t *testing.T) {
	sub := newMockSubscriber()
	a := newTestActivator(sub)
	_ = a.Register(newTestMacro(1, CategoryWifi, nil, 1).Trigger)
	_ = a.Register(newTestMacro(2, CategoryWifi, nil, 1).Trigger)

	a.Unregister(1)
	if sub.unsubs != 0 || !sub.subscribed(CategoryWifi) {
		t.Fatal("category dropped while macro 2 still listens")
	}

	a.Unregister(2)
	if sub.unsubs != 1 {
		t.Errorf("Unsubscribe() calls = %d, want 1", sub.unsubs)
	}
	if sub.subscribed(CategoryWifi) {
		t.Error("handler still installed after last trigger left")
	}

	_ = a.Register(newTestMacro(3, CategoryWifi, nil, 1).Trigger)
	if sub.calls != 2 || !sub.subscribed(CategoryWifi) {
		t.Errorf("Subscribe() calls = %d, want resubscribe on new trigger", sub.calls)
	}
}

func TestEngine_ReplacingMacroKeepsSubscription(t *testing.T) {
	sub := newMockSubscriber()
	eng := NewMacroEngine(Deps{Device: Device{ID: 1}, Subscriber: sub})

	if err := eng.AddMacro(newTestMacro(1, CategorySMS, nil, 1)); err != nil {
		t.Fatal(err)
	}
	if err := eng.AddMacro(newTestMacro(1, CategorySMS, nil, 1)); err != nil {
		t.Fatal(err)
	}
	if err := eng.ReloadMacros([]*Macro{newTestMacro(1, CategorySMS, nil, 1)}); err != nil {
		t.Fatal(err)
	}
	if sub.calls != 1 || sub.unsubs != 0 {
		t.Errorf("Subscribe/Unsubscribe calls = %d/%d, want 1/0", sub.calls, sub.unsubs)
	}

	if err := eng.SetMacroEnabled(1, false); err != nil {
		t.Fatal(err)
	}
	if sub.unsubs != 1 {
		t.Errorf("Unsubscribe() calls after disable = %d, want 1", sub.unsubs)
	}
	if err := eng.ReloadMacros(nil); err != nil {
		t.Fatal(err)
	}
	if sub.unsubs != 1 {
		t.Errorf("Unsubscribe() calls after empty reload = %d, want 1", sub.unsubs)
	}
}

func TestActivation_TriggerParameterMatching(t *testing.T) {
	tests := []struct {
		name   string
		params Params
		event  map[string]any
		want   bool
	}{
		{"wildcard", nil, map[string]any{"ac_power": true}, true},
		{"equal bool", Params{"ac_power": true}, map[string]any{"ac_power": true}, true},
		{"bool vs text", Params{"ac_power": "true"}, map[string]any{"ac_power": true}, true},
		{"different", Params{"ac_power": false}, map[string]any{"ac_power": true}, false},
		{"missing in event", Params{"ac_power": true}, map[string]any{}, false},
		{"number", Params{"level": float64(3)}, map[string]any{"level": "3"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTriggerBase("T", CategoryACPower, tt.params, nil, 1)
			if got := tr.Matches(Event{Category: CategoryACPower, Params: tt.event}); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}

	tr := NewTriggerBase("T", CategoryACPower, nil, nil, 1)
	if tr.Matches(Event{Category: CategorySMS}) {
		t.Error("trigger matched another category")
	}
}

func TestActivation_ExtractStringifies(t *testing.T) {
	tr := NewTriggerBase("T", CategorySMS, nil, nil, 1)
	got := tr.Extract(Event{Category: CategorySMS, Params: map[string]any{
		"sender": "+391234", "unread": float64(2), "flag": false, "gone": nil,
	}})
	want := map[string]string{"sender": "+391234", "unread": "2", "flag": "false"}
	if len(got) != len(want) {
		t.Fatalf("Extract() = %v, want %v", got, want)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("Extract()[%s] = %q, want %q", k, got[k], v)
		}
	}
}
