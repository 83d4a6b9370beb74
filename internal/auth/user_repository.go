package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
)

// UserRepository persists login accounts.
type UserRepository interface {
	Create(ctx context.Context, user *User) error
	GetByID(ctx context.Context, id string) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	List(ctx context.Context) ([]User, error)
	Update(ctx context.Context, user *User) error
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
}

// SQLiteUserRepository stores accounts in the users table.
type SQLiteUserRepository struct {
	db *sql.DB
}

// NewUserRepository wraps db.
func NewUserRepository(db *sql.DB) *SQLiteUserRepository {
	return &SQLiteUserRepository{db: db}
}

const (
	userIDPrefix = "usr-"

	selectUser = `SELECT id, username, display_name, email, password_hash, role,
		is_active, created_by, created_at, updated_at FROM users`
)

// Create inserts user, assigning an ID when it has none. A taken
// username yields ErrUsernameExists.
func (r *SQLiteUserRepository) Create(ctx context.Context, user *User) error {
	if user.ID == "" {
		user.ID = userIDPrefix + uuid.NewString()[:8]
	}
	user.CreatedAt = stamp()
	user.UpdatedAt = user.CreatedAt

	_, err := r.db.ExecContext(ctx, `INSERT INTO users
		(id, username, display_name, email, password_hash, role, is_active, created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID, user.Username, user.DisplayName, optional(user.Email),
		user.PasswordHash, string(user.Role), user.IsActive, optional(user.CreatedBy),
		formatTime(user.CreatedAt), formatTime(user.UpdatedAt),
	)
	var sqliteErr sqlite3.Error
	switch {
	case err == nil:
		return nil
	case errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique:
		return ErrUsernameExists
	default:
		return fmt.Errorf("inserting user %s: %w", user.Username, err)
	}
}

func (r *SQLiteUserRepository) GetByID(ctx context.Context, id string) (*User, error) {
	return r.one(ctx, selectUser+" WHERE id = ?", id)
}

func (r *SQLiteUserRepository) GetByUsername(ctx context.Context, username string) (*User, error) {
	return r.one(ctx, selectUser+" WHERE username = ?", username)
}

// List returns every account, oldest first. An empty table gives an
// empty, non-nil slice.
func (r *SQLiteUserRepository) List(ctx context.Context) ([]User, error) {
	rows, err := r.db.QueryContext(ctx, selectUser+" ORDER BY created_at, username")
	if err != nil {
		return nil, fmt.Errorf("querying users: %w", err)
	}
	defer rows.Close()

	out := make([]User, 0)
	for rows.Next() {
		var u User
		if err := readUser(rows, &u); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// Update saves display name, email, role and active flag. Username and
// password are changed elsewhere.
func (r *SQLiteUserRepository) Update(ctx context.Context, user *User) error {
	user.UpdatedAt = stamp()
	return r.exec(ctx, "updating user",
		`UPDATE users SET display_name = ?, email = ?, role = ?, is_active = ?, updated_at = ? WHERE id = ?`,
		user.DisplayName, optional(user.Email), string(user.Role), user.IsActive,
		formatTime(user.UpdatedAt), user.ID)
}

func (r *SQLiteUserRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	return r.exec(ctx, "changing password",
		"UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?",
		passwordHash, formatTime(stamp()), id)
}

func (r *SQLiteUserRepository) Delete(ctx context.Context, id string) error {
	return r.exec(ctx, "deleting user", "DELETE FROM users WHERE id = ?", id)
}

func (r *SQLiteUserRepository) Count(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting users: %w", err)
	}
	return n, nil
}

// ─── Helpers ───────────────────────────────────────────────────────

func (r *SQLiteUserRepository) one(ctx context.Context, query string, arg any) (*User, error) {
	var u User
	err := readUser(r.db.QueryRowContext(ctx, query, arg), &u)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// exec runs a single-row statement and maps "no row touched" to
// ErrUserNotFound.
func (r *SQLiteUserRepository) exec(ctx context.Context, op, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrUserNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func readUser(row rowScanner, u *User) error {
	var (
		email, createdBy sql.NullString
		created, updated string
		role             string
	)
	err := row.Scan(&u.ID, &u.Username, &u.DisplayName, &email, &u.PasswordHash,
		&role, &u.IsActive, &createdBy, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return err
	}
	if err != nil {
		return fmt.Errorf("reading user row: %w", err)
	}

	u.Role = Role(role)
	u.Email = email.String
	u.CreatedBy = createdBy.String
	u.CreatedAt, _ = time.Parse(time.RFC3339, created) //nolint:errcheck // written by formatTime
	u.UpdatedAt, _ = time.Parse(time.RFC3339, updated) //nolint:errcheck // written by formatTime
	return nil
}

func stamp() time.Time { return time.Now().UTC().Truncate(time.Second) }

func formatTime(t time.Time) string { return t.Format(time.RFC3339) }

// optional stores empty strings as NULL.
func optional(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
