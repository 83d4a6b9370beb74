package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

const (
	seedUsername      = "owner"
	seedPasswordBytes = 16
)

// SeedLogger is what SeedOwner logs through.
type SeedLogger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// SeedOwner bootstraps an empty user table with a single owner account
// and a random password, which is logged once at warn level.
//
// Returns:
//   - string: The generated password, or "" when accounts already exist
//   - error: Storage or hashing failure
func SeedOwner(ctx context.Context, repo UserRepository, logger SeedLogger) (string, error) {
	n, err := repo.Count(ctx)
	if err != nil {
		return "", fmt.Errorf("seed: %w", err)
	}
	if n > 0 {
		logger.Info("accounts present, owner seed skipped", "count", n)
		return "", nil
	}

	raw := make([]byte, seedPasswordBytes)
	if _, err = rand.Read(raw); err != nil {
		return "", fmt.Errorf("seed: generating password: %w", err)
	}
	password := hex.EncodeToString(raw)

	hash, err := HashPassword(password)
	if err != nil {
		return "", fmt.Errorf("seed: %w", err)
	}
	err = repo.Create(ctx, &User{
		Username:     seedUsername,
		DisplayName:  "Plant Owner",
		PasswordHash: hash,
		Role:         RoleOwner,
		IsActive:     true,
	})
	if err != nil {
		return "", fmt.Errorf("seed: %w", err)
	}

	logger.Warn("owner account created; log in and change the password now",
		"username", seedUsername, "password", password)
	return password, nil
}
