package influxdb_test

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

	"github.com/nerrad567/plcwatch-core/internal/bridges/modbus"
	"github.com/nerrad567/plcwatch-core/internal/infrastructure/config"
	"github.com/nerrad567/plcwatch-core/internal/infrastructure/influxdb"
)

// fakeInflux answers /ping and records line protocol posted to
// /api/v2/write.
type fakeInflux struct {
	*httptest.Server

	mu        sync.Mutex
	lines     []string
	query     string
	writeCode int
	pingCode  int
}

func newFakeInflux(t *testing.T) *fakeInflux {
	t.Helper()
	f := &fakeInflux{writeCode: http.StatusNoContent, pingCode: http.StatusNoContent}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		switch r.URL.Path {
		case "/ping":
			w.WriteHeader(f.pingCode)
		case "/api/v2/write":
			body, _ := io.ReadAll(r.Body)
			f.lines = append(f.lines, strings.Split(strings.TrimSpace(string(body)), "\n")...)
			f.query = r.URL.RawQuery
			if f.writeCode >= http.StatusBadRequest {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(f.writeCode)
				io.WriteString(w, `{"code":"invalid","message":"rejected by test"}`) //nolint:errcheck // test server
				return
			}
			w.WriteHeader(f.writeCode)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(f.Close)
	return f
}

func (f *fakeInflux) received() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.lines...)
}

func (f *fakeInflux) config() config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           f.URL,
		Token:         "test-token",
		Org:           "plant",
		Bucket:        "polls",
		BatchSize:     10,
		FlushInterval: 60,
	}
}

// ─── Connection ────────────────────────────────────────────────────

func TestConnect(t *testing.T) {
	fake := newFakeInflux(t)

	client, err := influxdb.Connect(fake.config())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close() //nolint:errcheck // test cleanup

	if !client.IsConnected() {
		t.Error("IsConnected() = false after Connect")
	}
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestConnect_Errors(t *testing.T) {
	fake := newFakeInflux(t)
	fake.pingCode = http.StatusServiceUnavailable

	tests := []struct {
		name string
		cfg  func() config.InfluxDBConfig
		want error
	}{
		{"disabled", func() config.InfluxDBConfig {
			c := fake.config()
			c.Enabled = false
			return c
		}, influxdb.ErrDisabled},
		{"unhealthy server", fake.config, influxdb.ErrConnectionFailed},
		{"nothing listening", func() config.InfluxDBConfig {
			c := fake.config()
			c.URL = "http://127.0.0.1:1"
			return c
		}, influxdb.ErrConnectionFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := influxdb.Connect(tt.cfg()); !errors.Is(err, tt.want) {
				t.Errorf("Connect() error = %v, want %v", err, tt.want)
			}
		})
	}
}

// ─── Writes ────────────────────────────────────────────────────────

func TestPollRecorder_WritesLineProtocol(t *testing.T) {
	fake := newFakeInflux(t)
	client, err := influxdb.Connect(fake.config())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	influxdb.NewPollRecorder(client).ObservePoll(modbus.PollResult{
		ControllerID: "plc-7",
		Outcome:      modbus.PollOK,
		Connected:    true,
		Requested:    4,
		Succeeded:    3,
		Duration:     25 * time.Millisecond,
		Timestamp:    time.Unix(1_700_000_000, 0),
	})
	if err := client.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	lines := fake.received()
	if len(lines) != 1 {
		t.Fatalf("received %d lines, want 1: %q", len(lines), lines)
	}
	line := lines[0]
	for _, want := range []string{
		influxdb.PollMeasurement + ",",
		"controller_id=plc-7",
		"outcome=" + string(modbus.PollOK),
		"connected=true",
		"requested=4i",
		"succeeded=3i",
		"failed=1i",
		"duration_ms=25",
		" 1700000000000000000",
	} {
		if !strings.Contains(line, want) {
			t.Errorf("line %q missing %q", line, want)
		}
	}

	fake.mu.Lock()
	query := fake.query
	fake.mu.Unlock()
	if !strings.Contains(query, "org=plant") || !strings.Contains(query, "bucket=polls") {
		t.Errorf("write query = %q", query)
	}
}

func TestClient_WriteErrorCallback(t *testing.T) {
	fake := newFakeInflux(t)
	fake.writeCode = http.StatusBadRequest

	client, err := influxdb.Connect(fake.config())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close() //nolint:errcheck // test cleanup

	got := make(chan error, 1)
	client.SetOnError(func(err error) {
		select {
		case got <- err:
		default:
		}
	})

	client.WritePollResult(modbus.PollResult{ControllerID: "plc-1", Outcome: modbus.PollOK, Timestamp: time.Now()})
	client.Flush()

	select {
	case err := <-got:
		if err == nil {
			t.Error("callback received nil error")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("write error never reached the callback")
	}
}

func TestClient_AfterClose(t *testing.T) {
	fake := newFakeInflux(t)
	client, err := influxdb.Connect(fake.config())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close")
	}

	client.WritePollResult(modbus.PollResult{ControllerID: "plc-late"})
	client.Flush()
	if err := client.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if err := client.HealthCheck(context.Background()); !errors.Is(err, influxdb.ErrNotConnected) {
		t.Errorf("HealthCheck() after Close = %v, want ErrNotConnected", err)
	}
	if n := len(fake.received()); n != 0 {
		t.Errorf("%d lines written after Close", n)
	}
}

func TestNilClient(t *testing.T) {
	var client *influxdb.Client
	if client.IsConnected() {
		t.Error("nil client IsConnected() = true")
	}
	influxdb.NewPollRecorder(nil).ObservePoll(modbus.PollResult{ControllerID: "plc-1"})
}
