package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultAccessTokenTTL is used when the caller passes no lifetime.
const DefaultAccessTokenTTL = 15 * time.Minute

var signingMethod = jwt.SigningMethodHS256

// CustomClaims is the payload of a plcwatch access token. Subject carries
// the user ID.
type CustomClaims struct {
	jwt.RegisteredClaims
	Role      Role   `json:"role"`
	SessionID string `json:"sid"`
}

// validate checks the fields jwt does not know about.
func (c *CustomClaims) validate() error {
	if c.Subject == "" {
		return errors.New("no subject")
	}
	if !IsValidUserRole(c.Role) {
		return fmt.Errorf("role %q", c.Role)
	}
	return nil
}

// GenerateAccessToken signs an HS256 token for user that expires after
// ttl (DefaultAccessTokenTTL when ttl <= 0). Tokens are verified by
// signature alone; the account is not looked up again until it is used.
func GenerateAccessToken(user *User, secret string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = DefaultAccessTokenTTL
	}
	issued := time.Now()

	tok := jwt.NewWithClaims(signingMethod, &CustomClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(issued.Add(ttl)),
		},
		Role:      user.Role,
		SessionID: uuid.NewString(),
	})
	s, err := tok.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}
	return s, nil
}

// ParseToken verifies the signature and expiry of raw and returns its
// claims. Every failure wraps ErrTokenInvalid.
func ParseToken(raw, secret string) (*CustomClaims, error) {
	var claims CustomClaims
	_, err := jwt.ParseWithClaims(raw, &claims,
		func(*jwt.Token) (any, error) { return []byte(secret), nil },
		jwt.WithValidMethods([]string{signingMethod.Alg()}),
	)
	if err == nil {
		err = claims.validate()
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}
	return &claims, nil
}
