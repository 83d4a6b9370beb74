package plc

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/nerrad567/plcwatch-core/internal/bridges/modbus"
	"github.com/nerrad567/plcwatch-core/internal/infrastructure/database"
)

// RegisterRepository defines the interface for register persistence.
//
// Create and Update run the overlap check and the write in one
// transaction, so two concurrent definitions cannot both claim a word.
type RegisterRepository interface {
	GetByID(ctx context.Context, controllerID, id string) (*Register, error)
	ListByController(ctx context.Context, controllerID string) ([]Register, error)
	ListMonitored(ctx context.Context, controllerID string) ([]Register, error)
	Create(ctx context.Context, r *Register) error
	Update(ctx context.Context, r *Register) error
	Delete(ctx context.Context, controllerID, id string) error
}

// SQLiteRegisterRepository implements RegisterRepository using SQLite.
type SQLiteRegisterRepository struct {
	db *database.DB
}

// NewRegisterRepository creates a SQLite-backed register repository.
func NewRegisterRepository(db *database.DB) *SQLiteRegisterRepository {
	return &SQLiteRegisterRepository{db: db}
}

const registerColumns = `id, controller_id, name, address, data_type, scaling_factor,
	unit, description, monitored, min_value, max_value, created_at, updated_at`

// queryer is satisfied by *sql.DB, *database.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// GetByID retrieves a register scoped to its controller.
func (r *SQLiteRegisterRepository) GetByID(ctx context.Context, controllerID, id string) (*Register, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+registerColumns+" FROM registers WHERE controller_id = ? AND id = ?",
		controllerID, id)
	reg, err := scanRegister(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRegisterNotFound
		}
		return nil, fmt.Errorf("querying register by id: %w", err)
	}
	return reg, nil
}

// ListByController returns a controller's registers ordered by address.
func (r *SQLiteRegisterRepository) ListByController(ctx context.Context, controllerID string) ([]Register, error) {
	return listRegisters(ctx, r.db,
		"SELECT "+registerColumns+" FROM registers WHERE controller_id = ? ORDER BY address, name",
		controllerID)
}

// ListMonitored returns only the registers included in each poll.
func (r *SQLiteRegisterRepository) ListMonitored(ctx context.Context, controllerID string) ([]Register, error) {
	return listRegisters(ctx, r.db,
		"SELECT "+registerColumns+" FROM registers WHERE controller_id = ? AND monitored = 1 ORDER BY address, name",
		controllerID)
}

// Create inserts a register after checking its controller exists and that
// it does not overlap another monitored register.
func (r *SQLiteRegisterRepository) Create(ctx context.Context, reg *Register) error {
	now := nowUTC()

	return r.db.Transact(ctx, func(tx *sql.Tx) error {
		if err := requireController(ctx, tx, reg.ControllerID); err != nil {
			return err
		}
		if err := checkOverlapTx(ctx, tx, reg); err != nil {
			return err
		}

		_, err := tx.ExecContext(ctx,
			`INSERT INTO registers (id, controller_id, name, address, data_type, scaling_factor,
				unit, description, monitored, min_value, max_value, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			reg.ID, reg.ControllerID, reg.Name, reg.Address, string(reg.DataType), reg.ScalingFactor,
			reg.Unit, reg.Description, boolToInt(reg.Monitored), nullFloat(reg.Min), nullFloat(reg.Max),
			formatTime(now), formatTime(now),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: %s", ErrRegisterExists, reg.ID)
			}
			return fmt.Errorf("creating register: %w", err)
		}

		reg.CreatedAt = now
		reg.UpdatedAt = now
		return nil
	})
}

// Update rewrites a register's definition. CreatedAt is preserved.
func (r *SQLiteRegisterRepository) Update(ctx context.Context, reg *Register) error {
	now := nowUTC()

	return r.db.Transact(ctx, func(tx *sql.Tx) error {
		if err := checkOverlapTx(ctx, tx, reg); err != nil {
			return err
		}

		result, err := tx.ExecContext(ctx,
			`UPDATE registers SET name = ?, address = ?, data_type = ?, scaling_factor = ?,
				unit = ?, description = ?, monitored = ?, min_value = ?, max_value = ?, updated_at = ?
			 WHERE controller_id = ? AND id = ?`,
			reg.Name, reg.Address, string(reg.DataType), reg.ScalingFactor,
			reg.Unit, reg.Description, boolToInt(reg.Monitored), nullFloat(reg.Min), nullFloat(reg.Max),
			formatTime(now), reg.ControllerID, reg.ID,
		)
		if err != nil {
			return fmt.Errorf("updating register: %w", err)
		}
		if err := expectAffected(result, ErrRegisterNotFound); err != nil {
			return err
		}

		reg.UpdatedAt = now
		return nil
	})
}

// Delete removes a register from its controller.
func (r *SQLiteRegisterRepository) Delete(ctx context.Context, controllerID, id string) error {
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM registers WHERE controller_id = ? AND id = ?", controllerID, id)
	if err != nil {
		return fmt.Errorf("deleting register: %w", err)
	}
	return expectAffected(result, ErrRegisterNotFound)
}

func requireController(ctx context.Context, tx *sql.Tx, controllerID string) error {
	var one int
	err := tx.QueryRowContext(ctx, "SELECT 1 FROM controllers WHERE id = ?", controllerID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrControllerNotFound
	}
	if err != nil {
		return fmt.Errorf("checking controller: %w", err)
	}
	return nil
}

func checkOverlapTx(ctx context.Context, tx *sql.Tx, reg *Register) error {
	if !reg.Monitored {
		return nil
	}
	existing, err := listRegisters(ctx, tx,
		"SELECT "+registerColumns+" FROM registers WHERE controller_id = ? AND monitored = 1",
		reg.ControllerID)
	if err != nil {
		return err
	}
	return CheckOverlap(existing, reg)
}

func listRegisters(ctx context.Context, q queryer, query string, args ...any) ([]Register, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing registers: %w", err)
	}
	defer rows.Close()

	registers := []Register{}
	for rows.Next() {
		reg, err := scanRegister(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning register: %w", err)
		}
		registers = append(registers, *reg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating registers: %w", err)
	}
	return registers, nil
}

func scanRegister(s scanner) (*Register, error) {
	var (
		reg                  Register
		dataType             string
		monitored            int
		minValue, maxValue   sql.NullFloat64
		createdAt, updatedAt string
	)
	if err := s.Scan(&reg.ID, &reg.ControllerID, &reg.Name, &reg.Address, &dataType,
		&reg.ScalingFactor, &reg.Unit, &reg.Description, &monitored,
		&minValue, &maxValue, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	reg.DataType = modbus.DataType(dataType)
	reg.Monitored = monitored != 0
	reg.CreatedAt = parseTime(createdAt)
	reg.UpdatedAt = parseTime(updatedAt)
	if minValue.Valid {
		v := minValue.Float64
		reg.Min = &v
	}
	if maxValue.Valid {
		v := maxValue.Float64
		reg.Max = &v
	}
	return &reg, nil
}
