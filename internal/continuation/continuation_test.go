package continuation

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	backend "github.com/redis/go-redis/v9"

	"github.com/sinapsi/sinapsi-core/internal/components"
	"github.com/sinapsi/sinapsi-core/internal/engine"
	"github.com/sinapsi/sinapsi-core/internal/infrastructure/mqtt"
)

// ─── Mock Dependencies ──────────────────────────────────────────────────────

// fakeBroker delivers publishes synchronously to exact-topic subscribers.
type fakeBroker struct {
	mu        sync.Mutex
	handlers  map[string][]mqtt.MessageHandler
	published []string
	failNext  int
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{handlers: make(map[string][]mqtt.MessageHandler)}
}

func (b *fakeBroker) Publish(topic string, payload []byte, _ byte, _ bool) error {
	b.mu.Lock()
	if b.failNext > 0 {
		b.failNext--
		b.mu.Unlock()
		return mqtt.ErrNotConnected
	}
	b.published = append(b.published, topic)
	handlers := append([]mqtt.MessageHandler(nil), b.handlers[topic]...)
	b.mu.Unlock()

	for _, h := range handlers {
		_ = h(topic, payload) //nolint:errcheck // mirrors the client, which only logs
	}
	return nil
}

func (b *fakeBroker) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = append(b.handlers[topic], handler)
	return nil
}

func (b *fakeBroker) Unsubscribe(topic string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, topic)
	return nil
}

func (b *fakeBroker) hasHandler(topic string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.handlers[topic]) > 0
}

func (b *fakeBroker) getPublished() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.published...)
}

// fakeContinuer returns queued errors from ContinueMacro.
type fakeContinuer struct {
	mu    sync.Mutex
	errs  []error
	calls int
}

func (c *fakeContinuer) ContinueMacro(context.Context, engine.RemoteExecutionDescriptor) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if len(c.errs) == 0 {
		return nil
	}
	err := c.errs[0]
	c.errs = c.errs[1:]
	return err
}

// fakeSyncer counts syncs and runs an optional hook.
type fakeSyncer struct {
	calls atomic.Int32
	err   error
	hook  func()
}

func (s *fakeSyncer) Sync(context.Context) error {
	s.calls.Add(1)
	if s.hook != nil {
		s.hook()
	}
	return s.err
}

type mockRecorder struct {
	mu       sync.Mutex
	outcomes []string
}

func (r *mockRecorder) RecordActivation(engine.EventCategory, int) {}
func (r *mockRecorder) RecordExecution(engine.ExecutionReport)     {}
func (r *mockRecorder) RecordContinuation(_ int, outcome string) {
	r.mu.Lock()
	r.outcomes = append(r.outcomes, outcome)
	r.mu.Unlock()
}

func (r *mockRecorder) getOutcomes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.outcomes...)
}

// deviceLog is a LogAdapter shared by the simulated devices.
type deviceLog struct {
	mu    sync.Mutex
	lines []string
}

func (l *deviceLog) Log(_, message string) {
	l.mu.Lock()
	l.lines = append(l.lines, message)
	l.mu.Unlock()
}

func (l *deviceLog) get() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.lines...)
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func component(t *testing.T, name string, deviceID int, params map[string]any) engine.ComponentSpec {
	t.Helper()
	cs := engine.ComponentSpec{Name: name, DeviceID: deviceID}
	if params != nil {
		raw, err := json.Marshal(map[string]any{"parameters": params})
		if err != nil {
			t.Fatal(err)
		}
		cs.Parameters = raw
	}
	return cs
}

// relaySpec logs on device 1, then device 2, then device 1 again.
func relaySpec(t *testing.T) engine.MacroSpec {
	return engine.MacroSpec{
		ID:      5,
		Name:    "Relay",
		Enabled: true,
		Trigger: component(t, components.TriggerWifi, 1, map[string]any{"wifi_connection_status": components.WifiConnected}),
		Actions: []engine.ComponentSpec{
			component(t, components.ActionLog, 1, map[string]any{"log_message": "one @{wifi_ssid}"}),
			component(t, components.ActionLog, 2, map[string]any{"log_message": "two @{wifi_ssid}"}),
			component(t, components.ActionLog, 1, map[string]any{"log_message": "three"}),
		},
	}
}

type device struct {
	engine    *engine.MacroEngine
	transport *Transport
	syncer    *fakeSyncer
	recorder  *mockRecorder
}

// newDevice wires an engine to the broker the way cmd/sinapsi does.
func newDevice(t *testing.T, id int, broker *fakeBroker, log *deviceLog, specs ...engine.MacroSpec) *device {
	t.Helper()
	facade := engine.NewSystemFacade()
	facade.AddCapability(engine.CapabilityLog, engine.LogAdapter(log))
	factory := engine.NewComponentFactory(id, facade)
	if err := components.Register(factory); err != nil {
		t.Fatal(err)
	}

	rec := &mockRecorder{}
	eng := engine.NewMacroEngine(engine.Deps{Device: engine.Device{ID: id}, Facade: facade, Factory: factory, Recorder: rec})
	for _, s := range specs {
		m, _, err := factory.BuildMacro(s)
		if err != nil {
			t.Fatal(err)
		}
		if err := eng.AddMacro(m); err != nil {
			t.Fatal(err)
		}
	}

	syncer := &fakeSyncer{}
	dispatcher := NewDispatcher(eng, syncer, rec, nil)
	transport := NewTransport(broker, id, dispatcher, TransportOptions{Attempts: 3}, nil)
	transport.sleep = func(context.Context, time.Duration) error { return nil }
	eng.SetRemoteExecutor(transport)
	if err := transport.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	eng.StartEngine(context.Background())
	return &device{engine: eng, transport: transport, syncer: syncer, recorder: rec}
}

func descriptorEnvelope(t *testing.T, d engine.RemoteExecutionDescriptor) []byte {
	t.Helper()
	raw, err := EncodeDescriptor(d)
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

// ─── Envelope ───────────────────────────────────────────────────────────────

func TestEnvelope_Descriptor(t *testing.T) {
	d := engine.RemoteExecutionDescriptor{
		MacroID:        3,
		LocalVariables: map[string]string{"screen_power": "ON"},
		Stack:          []int{2},
		ExecutionID:    "exec-1",
		Sequence:       1,
	}
	raw := descriptorEnvelope(t, d)

	env, err := DecodeEnvelope(raw)
	if err != nil {
		t.Fatalf("DecodeEnvelope() error = %v", err)
	}
	if env.MsgType != MsgRemoteExecutionDescriptor {
		t.Errorf("MsgType = %q", env.MsgType)
	}
	got, err := engine.DecodeDescriptor(env.Data)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, d) {
		t.Errorf("descriptor = %+v, want %+v", got, d)
	}
}

func TestEnvelope_Malformed(t *testing.T) {
	for _, raw := range []string{`not json`, `{}`, `{"data":{}}`} {
		if _, err := DecodeEnvelope([]byte(raw)); !errors.Is(err, ErrMalformedEnvelope) {
			t.Errorf("DecodeEnvelope(%s) error = %v, want ErrMalformedEnvelope", raw, err)
		}
	}
}

// ─── Dispatcher ─────────────────────────────────────────────────────────────

func TestDispatcher_HandleMessage(t *testing.T) {
	cont := &fakeContinuer{}
	syncer := &fakeSyncer{}
	d := NewDispatcher(cont, syncer, nil, nil)
	ctx := context.Background()

	if err := d.HandleMessage(ctx, descriptorEnvelope(t, engine.RemoteExecutionDescriptor{MacroID: 1, Stack: []int{0}})); err != nil {
		t.Errorf("descriptor error = %v", err)
	}
	if cont.calls != 1 {
		t.Errorf("ContinueMacro calls = %d, want 1", cont.calls)
	}

	if err := d.HandleMessage(ctx, EncodeModelUpdated()); err != nil {
		t.Errorf("model update error = %v", err)
	}
	if syncer.calls.Load() != 1 {
		t.Errorf("syncs = %d, want 1", syncer.calls.Load())
	}

	if err := d.HandleMessage(ctx, []byte(`{"msgType":"PING"}`)); !errors.Is(err, ErrUnknownMessageType) {
		t.Errorf("unknown type error = %v", err)
	}
	bad := []byte(`{"msgType":"REMOTE_EXECUTION_DESCRIPTOR","data":{"idMacro":1,"stack":[]}}`)
	if err := d.HandleMessage(ctx, bad); !errors.Is(err, engine.ErrInvalidDescriptor) {
		t.Errorf("invalid descriptor error = %v", err)
	}
}

func TestDispatcher_MissingMacro(t *testing.T) {
	desc := engine.RemoteExecutionDescriptor{MacroID: 9, Stack: []int{1}, ExecutionID: "e", Sequence: 1}

	tests := []struct {
		name         string
		errs         []error
		syncErr      error
		wantErr      error
		wantCalls    int
		wantOutcomes []string
	}{
		{
			name:         "found after sync",
			errs:         []error{engine.ErrMissingMacro},
			wantCalls:    2,
			wantOutcomes: []string{engine.ContinuationResynced},
		},
		{
			name:         "still missing",
			errs:         []error{engine.ErrMissingMacro, engine.ErrMissingMacro},
			wantErr:      engine.ErrMissingMacro,
			wantCalls:    2,
			wantOutcomes: []string{engine.ContinuationResynced, engine.ContinuationDropped},
		},
		{
			name:         "sync fails",
			errs:         []error{engine.ErrMissingMacro},
			syncErr:      errors.New("server unreachable"),
			wantErr:      errors.New("server unreachable"),
			wantCalls:    1,
			wantOutcomes: []string{engine.ContinuationDropped},
		},
		{
			name:      "duplicate is dropped quietly",
			errs:      []error{engine.ErrDuplicateContinuation},
			wantCalls: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cont := &fakeContinuer{errs: tt.errs}
			rec := &mockRecorder{}
			d := NewDispatcher(cont, &fakeSyncer{err: tt.syncErr}, rec, nil)

			err := d.OnContinuationReceived(context.Background(), desc)
			switch {
			case tt.wantErr == nil && err != nil:
				t.Errorf("error = %v, want nil", err)
			case tt.wantErr != nil && err == nil:
				t.Errorf("error = nil, want %v", tt.wantErr)
			case errors.Is(tt.wantErr, engine.ErrMissingMacro) && !errors.Is(err, engine.ErrMissingMacro):
				t.Errorf("error = %v, want ErrMissingMacro", err)
			}
			if cont.calls != tt.wantCalls {
				t.Errorf("ContinueMacro calls = %d, want %d", cont.calls, tt.wantCalls)
			}
			if got := rec.getOutcomes(); !reflect.DeepEqual(got, tt.wantOutcomes) && (len(got) > 0 || len(tt.wantOutcomes) > 0) {
				t.Errorf("outcomes = %v, want %v", got, tt.wantOutcomes)
			}
		})
	}
}

func TestDispatcher_CollapsesConcurrentSyncs(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	syncer := &fakeSyncer{hook: func() {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
	}}
	d := NewDispatcher(&fakeContinuer{}, syncer, nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = d.OnCatalogInvalidated(context.Background()) //nolint:errcheck // counted below
		}()
	}
	<-entered
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := syncer.calls.Load(); got != 1 {
		t.Errorf("syncs = %d, want 1", got)
	}
}

// ─── Transport ──────────────────────────────────────────────────────────────

func TestTransport_RetriesWithBackoff(t *testing.T) {
	broker := newFakeBroker()
	broker.failNext = 2
	tr := NewTransport(broker, 1, nil, TransportOptions{Attempts: 3, Backoff: 10 * time.Millisecond}, nil)
	var waits []time.Duration
	tr.sleep = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}

	d := engine.RemoteExecutionDescriptor{MacroID: 1, Stack: []int{1}}
	if err := tr.ContinueExecutionOnDevice(context.Background(), d, 2); err != nil {
		t.Fatalf("ContinueExecutionOnDevice() error = %v", err)
	}
	if want := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}; !reflect.DeepEqual(waits, want) {
		t.Errorf("backoff = %v, want %v", waits, want)
	}
	if got := broker.getPublished(); !reflect.DeepEqual(got, []string{"sinapsi/device/2/inbox"}) {
		t.Errorf("published = %v", got)
	}
}

func TestTransport_GivesUp(t *testing.T) {
	broker := newFakeBroker()
	broker.failNext = 10
	tr := NewTransport(broker, 1, nil, TransportOptions{Attempts: 2}, nil)
	tr.sleep = func(context.Context, time.Duration) error { return nil }

	err := tr.ContinueExecutionOnDevice(context.Background(), engine.RemoteExecutionDescriptor{MacroID: 1, Stack: []int{1}}, 2)
	if !errors.Is(err, ErrDeliveryFailed) || !errors.Is(err, mqtt.ErrNotConnected) {
		t.Errorf("error = %v, want ErrDeliveryFailed wrapping ErrNotConnected", err)
	}
	if broker.failNext != 8 {
		t.Errorf("attempts = %d, want 2", 10-broker.failNext)
	}
}

func TestTransport_StopsOnContextEnd(t *testing.T) {
	broker := newFakeBroker()
	broker.failNext = 10
	tr := NewTransport(broker, 1, nil, TransportOptions{Attempts: 5, Backoff: time.Hour}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := tr.ContinueExecutionOnDevice(ctx, engine.RemoteExecutionDescriptor{MacroID: 1, Stack: []int{1}}, 2)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestTransport_NotifyModelUpdated(t *testing.T) {
	broker := newFakeBroker()
	log := &deviceLog{}
	devs := map[int]*device{}
	for _, id := range []int{1, 2, 3} {
		devs[id] = newDevice(t, id, broker, log)
	}

	if err := devs[1].transport.NotifyModelUpdated(context.Background(), []int{1, 2, 3}); err != nil {
		t.Fatalf("NotifyModelUpdated() error = %v", err)
	}
	want := map[int]int32{1: 0, 2: 1, 3: 1}
	for id, n := range want {
		if got := devs[id].syncer.calls.Load(); got != n {
			t.Errorf("device %d syncs = %d, want %d", id, got, n)
		}
	}
}

// ─── Cross-device runs ──────────────────────────────────────────────────────

func TestHandoff_RoundTrip(t *testing.T) {
	broker := newFakeBroker()
	log := &deviceLog{}
	dev1 := newDevice(t, 1, broker, log, relaySpec(t))
	dev2 := newDevice(t, 2, broker, log, relaySpec(t))

	dev1.engine.HandleEvent(context.Background(), engine.Event{Category: engine.CategoryWifi, Params: map[string]any{
		"wifi_connection_status": components.WifiConnected,
		"wifi_ssid":              "home",
	}})

	want := []string{"one home", "two home", "three"}
	if got := log.get(); !reflect.DeepEqual(got, want) {
		t.Errorf("log = %v, want %v", got, want)
	}
	wantTopics := []string{"sinapsi/device/2/inbox", "sinapsi/device/1/inbox"}
	if got := broker.getPublished(); !reflect.DeepEqual(got, wantTopics) {
		t.Errorf("published = %v, want %v", got, wantTopics)
	}
	if got := dev2.recorder.getOutcomes(); !reflect.DeepEqual(got, []string{engine.ContinuationResumed}) {
		t.Errorf("device 2 outcomes = %v", got)
	}
}

func TestHandoff_RedeliveryRunsOnce(t *testing.T) {
	broker := newFakeBroker()
	log := &deviceLog{}
	newDevice(t, 2, broker, log, relaySpec(t))

	env := descriptorEnvelope(t, engine.RemoteExecutionDescriptor{
		MacroID:        5,
		LocalVariables: map[string]string{"wifi_ssid": "cafe"},
		Stack:          []int{1},
		ExecutionID:    "exec-42",
		Sequence:       1,
	})
	// Device 1 is not listening, so the hand-off back goes nowhere.
	for i := 0; i < 2; i++ {
		if err := broker.Publish(mqtt.Topics{}.DeviceInbox(2), env, 1, false); err != nil {
			t.Fatal(err)
		}
	}

	if got := log.get(); !reflect.DeepEqual(got, []string{"two cafe"}) {
		t.Errorf("log = %v, want the action once", got)
	}
}

func TestHandoff_MissingMacroResyncs(t *testing.T) {
	broker := newFakeBroker()
	log := &deviceLog{}
	dev2 := newDevice(t, 2, broker, log)

	dev2.syncer.hook = func() {
		m, _, err := dev2.engine.ComponentFactory().BuildMacro(relaySpec(t))
		if err != nil {
			t.Error(err)
			return
		}
		if err := dev2.engine.AddMacro(m); err != nil {
			t.Error(err)
		}
	}

	env := descriptorEnvelope(t, engine.RemoteExecutionDescriptor{
		MacroID: 5, Stack: []int{1}, ExecutionID: "exec-7", Sequence: 1,
		LocalVariables: map[string]string{"wifi_ssid": "office"},
	})
	if err := broker.Publish(mqtt.Topics{}.DeviceInbox(2), env, 1, false); err != nil {
		t.Fatal(err)
	}

	if dev2.syncer.calls.Load() != 1 {
		t.Errorf("syncs = %d, want 1", dev2.syncer.calls.Load())
	}
	if got := log.get(); !reflect.DeepEqual(got, []string{"two office"}) {
		t.Errorf("log = %v", got)
	}
	want := []string{engine.ContinuationMissing, engine.ContinuationResynced, engine.ContinuationResumed}
	if got := dev2.recorder.getOutcomes(); !reflect.DeepEqual(got, want) {
		t.Errorf("outcomes = %v, want %v", got, want)
	}
}

// ─── Event bridge ───────────────────────────────────────────────────────────

func TestEventBridge_DeliversEvents(t *testing.T) {
	broker := newFakeBroker()
	bridge := NewEventBridge(context.Background(), broker, 1, nil)

	var got []engine.Event
	if err := bridge.Subscribe(engine.CategoryScreenPower, func(_ context.Context, ev engine.Event) {
		got = append(got, ev)
	}); err != nil {
		t.Fatal(err)
	}

	if err := bridge.Publish(engine.Event{Category: engine.CategoryScreenPower, Params: map[string]any{"screen_power": "ON"}}); err != nil {
		t.Fatal(err)
	}
	if err := broker.Publish(mqtt.Topics{}.DeviceEvent(1, "SCREEN_POWER"), nil, 0, false); err != nil {
		t.Fatal(err)
	}
	if err := broker.Publish(mqtt.Topics{}.DeviceEvent(1, "SCREEN_POWER"), []byte(`[1,2]`), 0, false); err != nil {
		t.Fatal(err)
	}

	if len(got) != 2 {
		t.Fatalf("events = %d, want 2 (the malformed one is rejected)", len(got))
	}
	if got[0].Params["screen_power"] != "ON" || got[0].Category != engine.CategoryScreenPower {
		t.Errorf("event = %+v", got[0])
	}
	if got[1].Params == nil {
		t.Error("empty payload produced nil params")
	}
}

func TestEventBridge_DrivesEngine(t *testing.T) {
	broker := newFakeBroker()
	bridge := NewEventBridge(context.Background(), broker, 1, nil)
	log := &deviceLog{}

	facade := engine.NewSystemFacade()
	facade.AddCapability(engine.CapabilityLog, engine.LogAdapter(log))
	factory := engine.NewComponentFactory(1, facade)
	if err := components.Register(factory); err != nil {
		t.Fatal(err)
	}
	eng := engine.NewMacroEngine(engine.Deps{Device: engine.Device{ID: 1}, Facade: facade, Factory: factory, Subscriber: bridge})

	spec := engine.MacroSpec{
		ID: 1, Name: "Screen", Enabled: true,
		Trigger: component(t, components.TriggerScreenPower, 1, nil),
		Actions: []engine.ComponentSpec{component(t, components.ActionLog, 1, map[string]any{"log_message": "screen @{screen_power}"})},
	}
	m, _, err := factory.BuildMacro(spec)
	if err != nil {
		t.Fatal(err)
	}
	if err := eng.AddMacro(m); err != nil {
		t.Fatal(err)
	}
	eng.StartEngine(context.Background())

	if err := bridge.Publish(engine.Event{Category: engine.CategoryScreenPower, Params: map[string]any{"screen_power": "OFF"}}); err != nil {
		t.Fatal(err)
	}
	if got := log.get(); !reflect.DeepEqual(got, []string{"screen OFF"}) {
		t.Errorf("log = %v", got)
	}
}

func TestEventBridge_UnsubscribesWhenLastTriggerRemoved(t *testing.T) {
	broker := newFakeBroker()
	bridge := NewEventBridge(context.Background(), broker, 1, nil)
	eng := engine.NewMacroEngine(engine.Deps{Device: engine.Device{ID: 1}, Subscriber: bridge})
	topic := mqtt.Topics{}.DeviceEvent(1, string(engine.CategorySMS))

	m := &engine.Macro{ID: 1, Name: "SMS", Enabled: true}
	m.Trigger = engine.NewTriggerBase("TRIGGER_SMS", engine.CategorySMS, nil, m, 1)
	if err := eng.AddMacro(m); err != nil {
		t.Fatal(err)
	}
	if !broker.hasHandler(topic) {
		t.Fatalf("no subscription on %s", topic)
	}

	if !eng.RemoveMacro(1) {
		t.Fatal("RemoveMacro(1) = false")
	}
	if broker.hasHandler(topic) {
		t.Errorf("subscription on %s kept after last trigger removed", topic)
	}
}

// ─── Redis ledger ───────────────────────────────────────────────────────────

func TestRedisLedger_Claim(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	defer mr.Close()

	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	l := NewRedisLedger(client, "", time.Minute)
	if err := l.Ping(ctx); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}

	if first, err := l.Claim(ctx, "exec-1:1"); err != nil || !first {
		t.Fatalf("first Claim() = %v, %v", first, err)
	}
	if first, _ := l.Claim(ctx, "exec-1:1"); first {
		t.Error("second Claim() = true")
	}
	if !mr.Exists(DefaultLedgerPrefix + "exec-1:1") {
		t.Error("key not stored under the default prefix")
	}

	mr.FastForward(2 * time.Minute)
	if first, _ := l.Claim(ctx, "exec-1:1"); !first {
		t.Error("expired key not claimable")
	}
}

func TestRedisLedger_GuardsEngine(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatal(err)
	}
	defer mr.Close()
	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	defer client.Close()

	log := &deviceLog{}
	facade := engine.NewSystemFacade()
	facade.AddCapability(engine.CapabilityLog, engine.LogAdapter(log))
	factory := engine.NewComponentFactory(2, facade)
	if err := components.Register(factory); err != nil {
		t.Fatal(err)
	}

	// Two engine processes of the same device share the ledger.
	var engines []*engine.MacroEngine
	for i := 0; i < 2; i++ {
		eng := engine.NewMacroEngine(engine.Deps{
			Device: engine.Device{ID: 2}, Facade: facade, Factory: factory,
			Ledger: NewRedisLedger(client, "", time.Hour),
		})
		m, _, err := factory.BuildMacro(relaySpec(t))
		if err != nil {
			t.Fatal(err)
		}
		if err := eng.AddMacro(m); err != nil {
			t.Fatal(err)
		}
		eng.SetRemoteExecutor(&nopRemote{})
		engines = append(engines, eng)
	}

	d := engine.RemoteExecutionDescriptor{MacroID: 5, Stack: []int{1}, ExecutionID: "exec-9", Sequence: 1}
	if err := engines[0].ContinueMacro(context.Background(), d); err != nil {
		t.Fatal(err)
	}
	if err := engines[1].ContinueMacro(context.Background(), d); !errors.Is(err, engine.ErrDuplicateContinuation) {
		t.Errorf("second process error = %v, want ErrDuplicateContinuation", err)
	}
	if got := log.get(); len(got) != 1 {
		t.Errorf("log = %v, want one line", got)
	}
}

// nopRemote swallows hand-offs.
type nopRemote struct{}

func (*nopRemote) ContinueExecutionOnDevice(context.Context, engine.RemoteExecutionDescriptor, int) error {
	return nil
}
