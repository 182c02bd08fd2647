package influxdb

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/sinapsi/sinapsi-core/internal/engine"
	"github.com/sinapsi/sinapsi-core/internal/infrastructure/config"
)

// fakeServer answers /ping and collects line protocol from /api/v2/write.
type fakeServer struct {
	*httptest.Server

	mu     sync.Mutex
	lines  []string
	status int
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	f := &fakeServer{status: http.StatusNoContent}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ping":
			f.mu.Lock()
			status := f.status
			f.mu.Unlock()
			w.WriteHeader(status)
		case "/api/v2/write":
			body, _ := io.ReadAll(r.Body)
			f.mu.Lock()
			for _, line := range strings.Split(strings.TrimSpace(string(body)), "\n") {
				if line != "" {
					f.lines = append(f.lines, line)
				}
			}
			f.mu.Unlock()
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(f.Close)
	return f
}

func (f *fakeServer) written() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.lines...)
}

func testConfig(url string) config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           url,
		Token:         "sinapsi-test-token",
		Org:           "sinapsi",
		Bucket:        "executions",
		BatchSize:     1,
		FlushInterval: 1,
	}
}

// ─── Connect ────────────────────────────────────────────────────────

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:8086")
	cfg.Enabled = false

	if _, err := Connect(cfg, 1); !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	if _, err := Connect(testConfig("http://127.0.0.1:59999"), 1); !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestConnect_Unhealthy(t *testing.T) {
	srv := newFakeServer(t)
	srv.status = http.StatusServiceUnavailable

	if _, err := Connect(testConfig(srv.URL), 1); !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestConnect_DefaultBatchSettings(t *testing.T) {
	srv := newFakeServer(t)
	cfg := testConfig(srv.URL)
	cfg.BatchSize = -5
	cfg.FlushInterval = 0

	client, err := Connect(cfg, 1)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	if !client.IsConnected() {
		t.Error("IsConnected() = false after Connect()")
	}
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

// ─── Writes ─────────────────────────────────────────────────────────

func TestWriteExecution(t *testing.T) {
	srv := newFakeServer(t)
	client, err := Connect(testConfig(srv.URL), 2)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	client.WriteExecution(engine.ExecutionReport{
		ExecutionID:   "exec-1",
		MacroID:       5,
		State:         engine.StateSuspendedRemote,
		Position:      1,
		ActionsTotal:  3,
		HandoffDevice: 1,
		StartedAt:     start,
		At:            start.Add(1500 * time.Millisecond),
	})
	client.WriteContinuation(5, engine.ContinuationResumed)
	client.Flush()

	lines := srv.written()
	if len(lines) != 2 {
		t.Fatalf("written %d lines, want 2: %v", len(lines), lines)
	}
	for _, want := range []string{
		"macro_executions,", "device_id=2", "handoff_device=1", "macro_id=5",
		"state=SUSPENDED_REMOTE", "duration_ms=1500i", "position=1i", `execution_id="exec-1"`,
	} {
		if !strings.Contains(lines[0], want) {
			t.Errorf("execution line %q missing %q", lines[0], want)
		}
	}
	if !strings.HasPrefix(lines[1], "macro_continuations,") || !strings.Contains(lines[1], "outcome=resumed") {
		t.Errorf("continuation line = %q", lines[1])
	}
}

func TestWritesAfterCloseAreIgnored(t *testing.T) {
	srv := newFakeServer(t)
	client, err := Connect(testConfig(srv.URL), 1)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	if err := client.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := client.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	client.WriteExecution(engine.ExecutionReport{MacroID: 1, State: engine.StateCompleted})
	client.WriteContinuation(1, "resumed")
	client.Flush()

	if got := srv.written(); len(got) != 0 {
		t.Errorf("written after Close: %v", got)
	}
	if err := client.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
}

func TestClose_Nil(t *testing.T) {
	var client *Client
	if err := client.Close(); err != nil {
		t.Errorf("Close() on nil client error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() on nil client = true")
	}
}

// ─── Points ─────────────────────────────────────────────────────────

func TestExecutionPoint(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		report  engine.ExecutionReport
		want    []string
		wantNot []string
	}{
		{
			name:    "completed",
			report:  engine.ExecutionReport{MacroID: 3, State: engine.StateCompleted, Position: 2, ActionsTotal: 2, At: at},
			want:    []string{"state=COMPLETED", "actions_total=2i"},
			wantNot: []string{"handoff_device", "duration_ms", "error="},
		},
		{
			name:   "failed",
			report: engine.ExecutionReport{MacroID: 3, State: engine.StateFailed, Err: errors.New("no such capability"), At: at},
			want:   []string{"state=FAILED", `error="no such capability"`},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			line := write.PointToLineProtocol(executionPoint(1, tt.report), time.Nanosecond)
			for _, w := range tt.want {
				if !strings.Contains(line, w) {
					t.Errorf("line %q missing %q", line, w)
				}
			}
			for _, w := range tt.wantNot {
				if strings.Contains(line, w) {
					t.Errorf("line %q has %q", line, w)
				}
			}
		})
	}
}
