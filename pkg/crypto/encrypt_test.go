package crypto

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	tests := []struct {
		name      string
		plaintext string
	}{
		{"api key", "ak_live_9f8e7d6c5b4a"},
		{"empty", ""},
		{"unicode", "ключ-доступа"},
		{"long", strings.Repeat("x", 4096)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encrypted, err := Encrypt(tt.plaintext, testKey)
			if err != nil {
				t.Fatalf("Encrypt: %v", err)
			}
			if encrypted == tt.plaintext && tt.plaintext != "" {
				t.Error("ciphertext equals plaintext")
			}

			decrypted, err := Decrypt(encrypted, testKey)
			if err != nil {
				t.Fatalf("Decrypt: %v", err)
			}
			if decrypted != tt.plaintext {
				t.Errorf("Decrypt = %q, want %q", decrypted, tt.plaintext)
			}
		})
	}
}

func TestEncrypt_RandomNonce(t *testing.T) {
	a, _ := Encrypt("same", testKey)
	b, _ := Encrypt("same", testKey)
	if a == b {
		t.Error("two encryptions of the same plaintext must differ")
	}
}

func TestDecrypt_Errors(t *testing.T) {
	valid, err := Encrypt("secret", testKey)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	raw, _ := base64.StdEncoding.DecodeString(valid)
	raw[len(raw)-1] ^= 0xFF
	tampered := base64.StdEncoding.EncodeToString(raw)

	otherKey := []byte("fedcba9876543210fedcba9876543210")

	tests := []struct {
		name    string
		input   string
		key     []byte
		wantErr error
	}{
		{"short key", valid, []byte("short"), ErrInvalidKeyLength},
		{"not base64", "%%%not-base64%%%", testKey, ErrInvalidCiphertext},
		{"too short", base64.StdEncoding.EncodeToString([]byte("abc")), testKey, ErrCiphertextTooShort},
		{"tampered", tampered, testKey, ErrDecryptionFailed},
		{"wrong key", valid, otherKey, ErrDecryptionFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decrypt(tt.input, tt.key)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Decrypt err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestEncrypt_InvalidKey(t *testing.T) {
	if _, err := Encrypt("x", make([]byte, 16)); !errors.Is(err, ErrInvalidKeyLength) {
		t.Errorf("err = %v, want ErrInvalidKeyLength", err)
	}
}

func TestParseKey(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantLen int
		wantErr bool
	}{
		{"raw 32 bytes", string(testKey), 32, false},
		{"hex 64 chars", strings.Repeat("ab", 32), 32, false},
		{"bad hex", strings.Repeat("zz", 32), 0, true},
		{"too short", "abc", 0, true},
		{"empty", "", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := ParseKey(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseKey err = %v, wantErr %v", err, tt.wantErr)
			}
			if len(key) != tt.wantLen {
				t.Errorf("len = %d, want %d", len(key), tt.wantLen)
			}
		})
	}
}

func BenchmarkDecrypt(b *testing.B) {
	encrypted, _ := Encrypt("ak_live_9f8e7d6c5b4a", testKey)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = Decrypt(encrypted, testKey)
	}
}
