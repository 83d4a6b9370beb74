package auth

import (
	"testing"
	"time"
)

const benchPassword = "correct-horse-battery-staple"

// Argon2id is deliberately expensive; these track the login cost.
func BenchmarkHashPassword(b *testing.B) {
	for b.Loop() {
		HashPassword(benchPassword) //nolint:errcheck // benchmark
	}
}

func BenchmarkVerifyPassword(b *testing.B) {
	hash, err := HashPassword(benchPassword)
	if err != nil {
		b.Fatal(err)
	}
	for b.Loop() {
		VerifyPassword(benchPassword, hash) //nolint:errcheck // benchmark
	}
}

// Every authenticated request parses a token.
func BenchmarkParseToken(b *testing.B) {
	token, err := GenerateAccessToken(&User{ID: "usr-bench", Role: RoleAdmin}, testSecret, time.Hour)
	if err != nil {
		b.Fatal(err)
	}
	for b.Loop() {
		ParseToken(token, testSecret) //nolint:errcheck // benchmark
	}
}
