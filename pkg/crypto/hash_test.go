package crypto

import (
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestHashPassword(t *testing.T) {
	hash, err := HashPassword("operator-pass", bcrypt.MinCost)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if !strings.HasPrefix(hash, "$2a$") {
		t.Errorf("unexpected hash format: %s", hash)
	}
	if !IsValidHash(hash) {
		t.Error("IsValidHash = false for fresh hash")
	}
}

func TestHashPassword_Errors(t *testing.T) {
	tests := []struct {
		name     string
		password string
		wantErr  error
	}{
		{"empty", "", ErrEmptyPassword},
		{"too long", strings.Repeat("a", MaxPasswordLength+1), ErrPasswordTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := HashPassword(tt.password, bcrypt.MinCost); !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestHashPassword_CostClamped(t *testing.T) {
	hash, err := HashPassword("pw", 1)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	cost, err := bcrypt.Cost([]byte(hash))
	if err != nil || cost != bcrypt.MinCost {
		t.Errorf("cost = %d (%v), want %d", cost, err, bcrypt.MinCost)
	}
}

func TestVerifyPassword(t *testing.T) {
	hash, _ := HashPassword("correct", bcrypt.MinCost)

	tests := []struct {
		name     string
		password string
		hash     string
		wantErr  error
	}{
		{"match", "correct", hash, nil},
		{"mismatch", "wrong", hash, ErrPasswordMismatch},
		{"empty password", "", hash, ErrEmptyPassword},
		{"empty hash", "correct", "", ErrInvalidHash},
		{"garbage hash", "correct", "not-a-bcrypt-hash", ErrInvalidHash},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := VerifyPassword(tt.password, tt.hash)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("VerifyPassword err = %v, want %v", err, tt.wantErr)
			}
			if CheckPasswordMatch(tt.password, tt.hash) != (tt.wantErr == nil) {
				t.Error("CheckPasswordMatch disagrees with VerifyPassword")
			}
		})
	}
}

func TestIsValidHash(t *testing.T) {
	if IsValidHash("") || IsValidHash("plain") {
		t.Error("IsValidHash accepted non-bcrypt input")
	}
}
