package plc

import (
	"context"
	"testing"

	"github.com/nerrad567/plcwatch-core/internal/bridges/modbus"
	"github.com/nerrad567/plcwatch-core/internal/infrastructure/database"
	_ "github.com/nerrad567/plcwatch-core/migrations" // registers the schema
)

// setupTestDB creates an in-memory SQLite database with the full schema applied.
func setupTestDB(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.Open(database.Config{Path: database.MemoryPath, BusyTimeout: 1})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() {
		db.Close() //nolint:errcheck // test cleanup
	})

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db
}

// newTestService wires a Service over fresh repositories.
func newTestService(t *testing.T) *Service {
	t.Helper()
	db := setupTestDB(t)
	return NewService(NewControllerRepository(db), NewRegisterRepository(db))
}

// mustCreateController stores a controller through the service.
func mustCreateController(t *testing.T, svc *Service, name string, simulated bool) *Controller {
	t.Helper()
	c := &Controller{Name: name, Host: "192.168.1.50", UnitID: DefaultUnitID, Simulated: simulated}
	if err := svc.CreateController(context.Background(), c); err != nil {
		t.Fatalf("CreateController(%q): %v", name, err)
	}
	return c
}

// mustCreateRegister stores a monitored register through the service.
func mustCreateRegister(t *testing.T, svc *Service, controllerID, name string, address int, dt modbus.DataType) *Register {
	t.Helper()
	r := &Register{
		ControllerID: controllerID,
		Name:         name,
		Address:      address,
		DataType:     dt,
		Monitored:    true,
	}
	if err := svc.CreateRegister(context.Background(), r); err != nil {
		t.Fatalf("CreateRegister(%q): %v", name, err)
	}
	return r
}

func floatPtr(v float64) *float64 {
	return &v
}
