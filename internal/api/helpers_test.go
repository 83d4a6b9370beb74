package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/plcwatch-core/internal/audit"
	"github.com/nerrad567/plcwatch-core/internal/auth"
	"github.com/nerrad567/plcwatch-core/internal/bridges/modbus"
	"github.com/nerrad567/plcwatch-core/internal/infrastructure/config"
	"github.com/nerrad567/plcwatch-core/internal/infrastructure/database"
	"github.com/nerrad567/plcwatch-core/internal/infrastructure/logging"
	"github.com/nerrad567/plcwatch-core/internal/plc"
	_ "github.com/nerrad567/plcwatch-core/migrations" // registers the schema
)

const (
	testSecret   = "test-secret-that-is-long-enough-for-hs256"
	testPassword = "correct-horse-battery"
)

// testEnv is a fully wired server over an in-memory database and a
// simulated-only engine.
type testEnv struct {
	srv       *Server
	handler   http.Handler
	db        *database.DB
	catalogue *plc.Service
	registry  *modbus.Registry
	monitor   *modbus.Monitor
	bus       *modbus.UpdateBus
	users     *auth.SQLiteUserRepository
	promReg   *prometheus.Registry

	// Bearer tokens per role, for accounts "owner", "admin" and "operator".
	tokens map[auth.Role]string
	ids    map[auth.Role]string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := database.Open(database.Config{Path: database.MemoryPath, BusyTimeout: 1})
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("migrating test database: %v", err)
	}

	catalogue := plc.NewService(plc.NewControllerRepository(db), plc.NewRegisterRepository(db))
	registry := modbus.NewRegistry(modbus.RegistryConfig{
		ConnectTimeout: 500 * time.Millisecond,
		RequestTimeout: 500 * time.Millisecond,
		SimulationTick: time.Hour,
	})
	bus := modbus.NewUpdateBus(16)
	monitor := modbus.NewMonitor(modbus.MonitorConfig{Interval: 20 * time.Millisecond, Backoff: 50 * time.Millisecond},
		registry, catalogue, bus)
	catalogue.SetEngine(registry, monitor)

	promReg := prometheus.NewRegistry()
	metrics, err := modbus.NewMetrics(promReg)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	monitor.SetMetrics(metrics)

	t.Cleanup(func() {
		monitor.Close()
		registry.Close()
		bus.Close()
	})

	users := auth.NewUserRepository(db.DB)
	logger := logging.NewWithWriter(config.LoggingConfig{Level: "error", Format: "json"}, "test", io.Discard)

	srv, err := New(Deps{
		WS:        config.WebSocketConfig{Path: "/ws", MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10},
		Security:  config.SecurityConfig{JWT: config.JWTConfig{Secret: testSecret, AccessTokenTTL: 15}},
		Logger:    logger,
		Catalogue: catalogue,
		Registry:  registry,
		Monitor:   monitor,
		Bus:       bus,
		Users:     users,
		DB:        db,
		Gatherer:  promReg,
		Audit:     audit.NewRecorder(audit.NewRepository(db), logger),
		Version:   "test",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	env := &testEnv{
		srv:       srv,
		handler:   srv.buildRouter(),
		db:        db,
		catalogue: catalogue,
		registry:  registry,
		monitor:   monitor,
		bus:       bus,
		users:     users,
		promReg:   promReg,
		tokens:    make(map[auth.Role]string),
		ids:       make(map[auth.Role]string),
	}

	for role, name := range map[auth.Role]string{
		auth.RoleOwner: "owner",
		auth.RoleAdmin: "admin",
		auth.RoleUser:  "operator",
	} {
		user := env.createUser(t, name, role, true)
		token, err := auth.GenerateAccessToken(user, testSecret, time.Minute)
		if err != nil {
			t.Fatalf("GenerateAccessToken: %v", err)
		}
		env.tokens[role] = token
		env.ids[role] = user.ID
	}

	return env
}

// startBackground runs the hub and snapshot relay for the test's lifetime.
func (e *testEnv) startBackground(t *testing.T) {
	t.Helper()
	e.srv.startBackground(context.Background())
	t.Cleanup(func() { e.srv.Close() }) //nolint:errcheck // test cleanup
}

func (e *testEnv) createUser(t *testing.T, username string, role auth.Role, active bool) *auth.User {
	t.Helper()
	hash, err := auth.HashPassword(testPassword)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	user := &auth.User{
		Username:     username,
		DisplayName:  username,
		PasswordHash: hash,
		Role:         role,
		IsActive:     active,
	}
	if err := e.users.Create(context.Background(), user); err != nil {
		t.Fatalf("creating user %s: %v", username, err)
	}
	return user
}

// do sends a request through the router. body may be nil, a string, or
// any value to JSON-encode.
func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

// createController posts a controller as admin and returns it.
func (e *testEnv) createController(t *testing.T, name string, simulated bool) plc.Controller {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/v1/controllers", e.tokens[auth.RoleAdmin], map[string]any{
		"name":      name,
		"host":      "192.168.1.50",
		"simulated": simulated,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create controller: status %d, body %s", rec.Code, rec.Body.String())
	}
	var c plc.Controller
	decodeBody(t, rec, &c)
	return c
}

// createRegister posts a register as admin and returns it.
func (e *testEnv) createRegister(t *testing.T, controllerID string, body map[string]any) plc.Register {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/v1/controllers/"+controllerID+"/registers", e.tokens[auth.RoleAdmin], body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create register: status %d, body %s", rec.Code, rec.Body.String())
	}
	var r plc.Register
	decodeBody(t, rec, &r)
	return r
}

func newRequest(method, path string) *http.Request {
	return httptest.NewRequest(method, path, nil)
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decoding body %q: %v", rec.Body.String(), err)
	}
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, want, rec.Body.String())
	}
}

func expectErrorCode(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	expectStatus(t, rec, status)
	var e Error
	decodeBody(t, rec, &e)
	if e.Code != code {
		t.Errorf("error code = %q, want %q (message %q)", e.Code, code, e.Message)
	}
}
