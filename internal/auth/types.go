package auth

import (
	"errors"
	"regexp"
	"time"
)

// Role is an account's authorisation tier. See permissions.go for what
// each tier may do.
type Role string

const (
	RoleUser  Role = "user"  // operator: reads registers, writes values, runs monitoring
	RoleAdmin Role = "admin" // also configures controllers, registers and non-owner accounts
	RoleOwner Role = "owner" // also manages owner accounts
)

// IsValidUserRole reports whether r is one of the three account roles.
func IsValidUserRole(r Role) bool {
	switch r {
	case RoleUser, RoleAdmin, RoleOwner:
		return true
	}
	return false
}

// MinPasswordLength is the shortest password accepted for an account.
const MinPasswordLength = 8

// Usernames are 1-64 characters of letters, digits, '.', '_' and '-'.
var usernameRE = regexp.MustCompile(`^[A-Za-z0-9._-]{1,64}$`)

// IsValidUsername reports whether name is an acceptable login name.
func IsValidUsername(name string) bool {
	return usernameRE.MatchString(name)
}

// User is a login account. PasswordHash never leaves the process.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	DisplayName  string    `json:"display_name"`
	Email        string    `json:"email,omitempty"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	IsActive     bool      `json:"is_active"`
	CreatedBy    string    `json:"created_by,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

var (
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrUserInactive       = errors.New("auth: account disabled")
	ErrUserNotFound       = errors.New("auth: user not found")
	ErrUsernameExists     = errors.New("auth: username already taken")
	ErrInvalidUser        = errors.New("auth: invalid user")
	ErrTokenInvalid       = errors.New("auth: invalid token")
)
