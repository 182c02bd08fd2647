package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// EventSubscriber delivers system events of one category to a handler.
type EventSubscriber interface {
	Subscribe(category EventCategory, handle func(ctx context.Context, ev Event)) error
}

// EventUnsubscriber is implemented by subscribers that can drop a category
// once no registered trigger listens to it.
type EventUnsubscriber interface {
	Unsubscribe(category EventCategory) error
}

// ActivationManager indexes registered triggers by event category and
// starts a run for each trigger that matches an incoming event.
//
// Thread Safety: all methods are safe for concurrent use. Runs started by
// HandleEvent execute on the caller's goroutine, in ascending macro id order.
type ActivationManager struct {
	template   *ExecutionInterface
	subscriber EventSubscriber
	recorder   Recorder
	logger     Logger

	// subMu serializes calls into subscriber so subscribed follows the
	// order in which categories gain and lose their triggers.
	subMu sync.Mutex

	mu         sync.RWMutex
	enabled    bool
	triggers   map[EventCategory]map[int]Trigger
	subscribed map[EventCategory]bool
}

// NewActivationManager creates a disabled manager. subscriber may be nil
// when events are only pushed through HandleEvent.
func NewActivationManager(template *ExecutionInterface, subscriber EventSubscriber, recorder Recorder, logger Logger) *ActivationManager {
	if recorder == nil {
		recorder = noopRecorder{}
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &ActivationManager{
		template:   template,
		subscriber: subscriber,
		recorder:   recorder,
		logger:     logger,
		triggers:   make(map[EventCategory]map[int]Trigger),
		subscribed: make(map[EventCategory]bool),
	}
}

// Register adds the macro's trigger. A macro has at most one registered
// trigger; registering a second returns ErrTriggerRegistered.
func (a *ActivationManager) Register(t Trigger) error {
	m := t.Macro()
	if m == nil {
		return fmt.Errorf("%w: trigger %s has no macro", ErrInvalidMacro, t.Name())
	}
	category := t.Category()

	a.mu.Lock()
	for _, byMacro := range a.triggers {
		if _, ok := byMacro[m.ID]; ok {
			a.mu.Unlock()
			return fmt.Errorf("%w: macro %d", ErrTriggerRegistered, m.ID)
		}
	}
	byMacro, ok := a.triggers[category]
	if !ok {
		byMacro = make(map[int]Trigger)
		a.triggers[category] = byMacro
	}
	byMacro[m.ID] = t
	a.mu.Unlock()

	a.syncSubscription(category)
	a.logger.Debug("trigger registered", "macro_id", m.ID, "trigger", t.Name(), "category", category)
	return nil
}

// Unregister removes the macro's trigger, if any. When the category has no
// triggers left the subscriber is asked to drop it.
func (a *ActivationManager) Unregister(macroID int) bool {
	category, found := a.remove(macroID)
	if found {
		a.syncSubscription(category)
	}
	return found
}

// remove drops the macro's trigger without touching subscriptions and
// returns the category it was registered under.
func (a *ActivationManager) remove(macroID int) (EventCategory, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for category, byMacro := range a.triggers {
		if _, ok := byMacro[macroID]; ok {
			delete(byMacro, macroID)
			if len(byMacro) == 0 {
				delete(a.triggers, category)
			}
			return category, true
		}
	}
	return "", false
}

// syncSubscription subscribes to category while it has triggers and
// unsubscribes once it has none.
func (a *ActivationManager) syncSubscription(category EventCategory) {
	if a.subscriber == nil || category == CategoryEngineStart {
		return
	}
	a.subMu.Lock()
	defer a.subMu.Unlock()

	a.mu.RLock()
	want := len(a.triggers[category]) > 0
	have := a.subscribed[category]
	a.mu.RUnlock()

	switch {
	case want && !have:
		err := a.subscriber.Subscribe(category, func(ctx context.Context, ev Event) {
			a.HandleEvent(ctx, ev)
		})
		if err != nil {
			a.logger.Warn("subscribing to event category failed", "category", category, "error", err)
			return
		}
		a.setSubscribed(category, true)
	case !want && have:
		unsub, ok := a.subscriber.(EventUnsubscriber)
		if !ok {
			return
		}
		if err := unsub.Unsubscribe(category); err != nil {
			a.logger.Warn("unsubscribing from event category failed", "category", category, "error", err)
			return
		}
		a.setSubscribed(category, false)
		a.logger.Debug("event category dropped", "category", category)
	}
}

func (a *ActivationManager) setSubscribed(category EventCategory, on bool) {
	a.mu.Lock()
	if on {
		a.subscribed[category] = true
	} else {
		delete(a.subscribed, category)
	}
	a.mu.Unlock()
}

// Registered reports whether the macro has a registered trigger.
func (a *ActivationManager) Registered(macroID int) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, byMacro := range a.triggers {
		if _, ok := byMacro[macroID]; ok {
			return true
		}
	}
	return false
}

// Count returns the number of registered triggers.
func (a *ActivationManager) Count() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	n := 0
	for _, byMacro := range a.triggers {
		n += len(byMacro)
	}
	return n
}

// SetEnabled turns event handling on or off. Registrations are kept.
func (a *ActivationManager) SetEnabled(enabled bool) {
	a.mu.Lock()
	a.enabled = enabled
	a.mu.Unlock()
}

// Enabled reports whether events are being handled.
func (a *ActivationManager) Enabled() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.enabled
}

// ActivateForOnEngineStart fires every ENGINE_START trigger.
func (a *ActivationManager) ActivateForOnEngineStart(ctx context.Context) int {
	return a.HandleEvent(ctx, Event{Category: CategoryEngineStart})
}

// HandleEvent runs every macro whose registered trigger matches ev and
// returns how many runs were started. Disabled macros are never registered. A failed run does not stop the others.
func (a *ActivationManager) HandleEvent(ctx context.Context, ev Event) int {
	a.mu.RLock()
	if !a.enabled {
		a.mu.RUnlock()
		return 0
	}
	candidates := make([]Trigger, 0, len(a.triggers[ev.Category]))
	for _, t := range a.triggers[ev.Category] {
		candidates = append(candidates, t)
	}
	a.mu.RUnlock()

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Macro().ID < candidates[j].Macro().ID
	})

	started := 0
	for _, t := range candidates {
		if !t.Matches(ev) {
			continue
		}
		started++
		a.activate(ctx, t, ev)
	}
	return started
}

func (a *ActivationManager) activate(ctx context.Context, t Trigger, ev Event) {
	m := t.Macro()
	run := a.template.CloneInstance()
	if err := run.Bind(m); err != nil {
		a.logger.Error("binding macro failed", "macro_id", m.ID, "error", err)
		return
	}
	run.SeedLocals(t.Extract(ev))
	a.recorder.RecordActivation(ev.Category, m.ID)
	a.logger.Info("macro activated",
		"execution_id", run.ID(),
		"macro_id", m.ID,
		"macro", m.Name,
		"category", ev.Category,
	)
	if err := run.Execute(ctx); err != nil {
		a.logger.Debug("macro run ended with error", "execution_id", run.ID(), "macro_id", m.ID, "error", err)
	}
}
