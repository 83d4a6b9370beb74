package plc

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/nerrad567/plcwatch-core/internal/infrastructure/database"
)

// ControllerRepository defines the interface for controller persistence.
type ControllerRepository interface {
	// GetByID retrieves a controller. Returns ErrControllerNotFound if absent.
	GetByID(ctx context.Context, id string) (*Controller, error)

	// List retrieves all controllers ordered by name.
	List(ctx context.Context) ([]Controller, error)

	// Create inserts a new controller. Returns ErrControllerExists on a name clash.
	Create(ctx context.Context, c *Controller) error

	// Update modifies a controller's configuration fields.
	Update(ctx context.Context, c *Controller) error

	// Delete removes a controller and its registers.
	Delete(ctx context.Context, id string) error

	// UpdateConnection records the last observed link state. lastSeen is
	// stored only when connected is true.
	UpdateConnection(ctx context.Context, id string, connected bool, lastSeen time.Time) error
}

// SQLiteControllerRepository implements ControllerRepository using SQLite.
type SQLiteControllerRepository struct {
	db *database.DB
}

// NewControllerRepository creates a SQLite-backed controller repository.
func NewControllerRepository(db *database.DB) *SQLiteControllerRepository {
	return &SQLiteControllerRepository{db: db}
}

const controllerColumns = `id, name, host, port, unit_id, description, simulated,
	is_connected, last_seen, created_at, updated_at`

// GetByID retrieves a controller by ID.
func (r *SQLiteControllerRepository) GetByID(ctx context.Context, id string) (*Controller, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+controllerColumns+" FROM controllers WHERE id = ?", id)
	c, err := scanController(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrControllerNotFound
		}
		return nil, fmt.Errorf("querying controller by id: %w", err)
	}
	return c, nil
}

// List retrieves all controllers ordered by name.
func (r *SQLiteControllerRepository) List(ctx context.Context) ([]Controller, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+controllerColumns+" FROM controllers ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("listing controllers: %w", err)
	}
	defer rows.Close()

	controllers := []Controller{}
	for rows.Next() {
		c, err := scanController(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning controller: %w", err)
		}
		controllers = append(controllers, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating controllers: %w", err)
	}
	return controllers, nil
}

// Create inserts a new controller. The caller assigns the ID.
func (r *SQLiteControllerRepository) Create(ctx context.Context, c *Controller) error {
	now := nowUTC()
	c.CreatedAt = now
	c.UpdatedAt = now

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO controllers (id, name, host, port, unit_id, description, simulated,
			is_connected, last_seen, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.Host, c.Port, c.UnitID, c.Description, boolToInt(c.Simulated),
		boolToInt(c.IsConnected), formatNullTime(c.LastSeen), formatTime(now), formatTime(now),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrControllerExists, c.Name)
		}
		return fmt.Errorf("creating controller: %w", err)
	}
	return nil
}

// Update modifies a controller's configuration. Connection state is left alone.
func (r *SQLiteControllerRepository) Update(ctx context.Context, c *Controller) error {
	now := nowUTC()
	c.UpdatedAt = now

	result, err := r.db.ExecContext(ctx,
		`UPDATE controllers SET name = ?, host = ?, port = ?, unit_id = ?, description = ?,
			simulated = ?, updated_at = ?
		 WHERE id = ?`,
		c.Name, c.Host, c.Port, c.UnitID, c.Description, boolToInt(c.Simulated), formatTime(now), c.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrControllerExists, c.Name)
		}
		return fmt.Errorf("updating controller: %w", err)
	}
	return expectAffected(result, ErrControllerNotFound)
}

// Delete removes a controller and its registers in one transaction.
func (r *SQLiteControllerRepository) Delete(ctx context.Context, id string) error {
	return r.db.Transact(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM registers WHERE controller_id = ?", id); err != nil {
			return fmt.Errorf("deleting controller registers: %w", err)
		}
		result, err := tx.ExecContext(ctx, "DELETE FROM controllers WHERE id = ?", id)
		if err != nil {
			return fmt.Errorf("deleting controller: %w", err)
		}
		return expectAffected(result, ErrControllerNotFound)
	})
}

// UpdateConnection records the link state observed by the poll loop.
func (r *SQLiteControllerRepository) UpdateConnection(ctx context.Context, id string, connected bool, lastSeen time.Time) error {
	var (
		result sql.Result
		err    error
	)
	if connected {
		result, err = r.db.ExecContext(ctx,
			"UPDATE controllers SET is_connected = 1, last_seen = ? WHERE id = ?",
			formatTime(lastSeen.UTC()), id)
	} else {
		result, err = r.db.ExecContext(ctx,
			"UPDATE controllers SET is_connected = 0 WHERE id = ?", id)
	}
	if err != nil {
		return fmt.Errorf("updating controller connection: %w", err)
	}
	return expectAffected(result, ErrControllerNotFound)
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanController(s scanner) (*Controller, error) {
	var (
		c                    Controller
		simulated, connected int
		lastSeen             sql.NullString
		createdAt, updatedAt string
	)
	if err := s.Scan(&c.ID, &c.Name, &c.Host, &c.Port, &c.UnitID, &c.Description,
		&simulated, &connected, &lastSeen, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	c.Simulated = simulated != 0
	c.IsConnected = connected != 0
	c.CreatedAt = parseTime(createdAt)
	c.UpdatedAt = parseTime(updatedAt)
	if lastSeen.Valid {
		t := parseTime(lastSeen.String)
		c.LastSeen = &t
	}
	return &c, nil
}

// ─── helpers shared with the register repository ───────────────────

func nowUTC() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatNullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s) //nolint:errcheck // format is controlled
	return t
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func expectAffected(result sql.Result, notFound error) error {
	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return notFound
	}
	return nil
}

// isUniqueViolation reports whether err is a SQLite UNIQUE or PRIMARY KEY violation.
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}
