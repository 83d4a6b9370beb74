package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// ErrHashFormat is returned by VerifyPassword for a stored hash that is
// not an argon2id PHC string.
var ErrHashFormat = errors.New("auth: unrecognised password hash")

// argon2id cost used for new hashes. Stored hashes carry their own cost,
// so raising these does not invalidate existing accounts.
var defaultCost = argonCost{memory: 64 * 1024, time: 3, threads: 1}

const (
	saltBytes = 16
	keyBytes  = 32
)

type argonCost struct {
	memory  uint32 // KiB
	time    uint32
	threads uint8
}

// phcHash is a decoded $argon2id$v=19$m=..,t=..,p=..$salt$key string.
type phcHash struct {
	cost argonCost
	salt []byte
	key  []byte
}

func (h phcHash) String() string {
	enc := base64.RawStdEncoding
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, h.cost.memory, h.cost.time, h.cost.threads,
		enc.EncodeToString(h.salt), enc.EncodeToString(h.key))
}

func parsePHC(s string) (phcHash, error) {
	// Leading "$" yields an empty first field.
	f := strings.Split(s, "$")
	if len(f) != 6 || f[0] != "" {
		return phcHash{}, ErrHashFormat
	}
	if f[1] != "argon2id" {
		return phcHash{}, fmt.Errorf("%w: algorithm %q", ErrHashFormat, f[1])
	}
	if f[2] != fmt.Sprintf("v=%d", argon2.Version) {
		return phcHash{}, fmt.Errorf("%w: version %q", ErrHashFormat, f[2])
	}

	var h phcHash
	if _, err := fmt.Sscanf(f[3], "m=%d,t=%d,p=%d", &h.cost.memory, &h.cost.time, &h.cost.threads); err != nil {
		return phcHash{}, fmt.Errorf("%w: cost %q", ErrHashFormat, f[3])
	}

	var err error
	if h.salt, err = base64.RawStdEncoding.DecodeString(f[4]); err != nil {
		return phcHash{}, fmt.Errorf("%w: salt: %w", ErrHashFormat, err)
	}
	if h.key, err = base64.RawStdEncoding.DecodeString(f[5]); err != nil || len(h.key) == 0 {
		return phcHash{}, fmt.Errorf("%w: key", ErrHashFormat)
	}
	return h, nil
}

func derive(password string, salt []byte, cost argonCost, keyLen int) []byte {
	return argon2.IDKey([]byte(password), salt, cost.time, cost.memory, cost.threads, uint32(keyLen)) //nolint:gosec // key length is small
}

// HashPassword returns an argon2id PHC string for password.
func HashPassword(password string) (string, error) {
	salt := make([]byte, saltBytes)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}
	return phcHash{
		cost: defaultCost,
		salt: salt,
		key:  derive(password, salt, defaultCost, keyBytes),
	}.String(), nil
}

// VerifyPassword reports whether password matches the stored PHC hash.
// The comparison is constant time.
func VerifyPassword(password, stored string) (bool, error) {
	h, err := parsePHC(stored)
	if err != nil {
		return false, err
	}
	candidate := derive(password, h.salt, h.cost, len(h.key))
	return subtle.ConstantTimeCompare(candidate, h.key) == 1, nil
}

// ValidatePassword enforces MinPasswordLength.
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", ErrInvalidUser, MinPasswordLength)
	}
	return nil
}
