package auth

import (
	"errors"
	"strings"
	"testing"
)

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("correct-horse-battery-staple")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$v=19$m=65536,t=3,p=1$") {
		t.Errorf("hash = %q, want argon2id PHC with default cost", hash)
	}

	tests := []struct {
		name     string
		password string
		want     bool
	}{
		{"matching", "correct-horse-battery-staple", true},
		{"wrong", "correct-horse-battery-stapler", false},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := VerifyPassword(tt.password, hash)
			if err != nil {
				t.Fatalf("VerifyPassword() error = %v", err)
			}
			if ok != tt.want {
				t.Errorf("VerifyPassword() = %v, want %v", ok, tt.want)
			}
		})
	}
}

func TestHashPassword_SaltsDiffer(t *testing.T) {
	a, err := HashPassword("same-password")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	b, err := HashPassword("same-password")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	if a == b {
		t.Error("hashes of the same password should differ by salt")
	}
}

func TestVerifyPassword_StoredCost(t *testing.T) {
	// A hash produced with a cheaper cost still verifies.
	cheap := argonCost{memory: 1024, time: 1, threads: 1}
	salt := []byte("0123456789abcdef")
	stored := phcHash{cost: cheap, salt: salt, key: derive("plc-operator", salt, cheap, keyBytes)}.String()

	ok, err := VerifyPassword("plc-operator", stored)
	if err != nil || !ok {
		t.Errorf("VerifyPassword() = %v, %v; want true", ok, err)
	}
}

func TestVerifyPassword_BadHash(t *testing.T) {
	tests := []struct {
		name string
		hash string
	}{
		{"empty", ""},
		{"plaintext", "plaintext"},
		{"bcrypt", "$2a$10$abcdefghijklmnopqrstuv"},
		{"wrong algorithm", "$argon2i$v=19$m=65536,t=3,p=1$c2FsdA$a2V5"},
		{"old version", "$argon2id$v=16$m=65536,t=3,p=1$c2FsdA$a2V5"},
		{"missing key", "$argon2id$v=19$m=65536,t=3,p=1$c2FsdA"},
		{"bad cost", "$argon2id$v=19$m=x,t=3,p=1$c2FsdA$a2V5"},
		{"bad salt", "$argon2id$v=19$m=65536,t=3,p=1$!!!$a2V5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := VerifyPassword("password", tt.hash); !errors.Is(err, ErrHashFormat) {
				t.Errorf("VerifyPassword() error = %v, want ErrHashFormat", err)
			}
		})
	}
}

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		password string
		wantErr  bool
	}{
		{"short", true},
		{"1234567", true},
		{"12345678", false},
		{"long-enough-passphrase", false},
	}
	for _, tt := range tests {
		t.Run(tt.password, func(t *testing.T) {
			err := ValidatePassword(tt.password)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePassword() = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidUser) {
				t.Errorf("error = %v, want ErrInvalidUser", err)
			}
		})
	}
}
