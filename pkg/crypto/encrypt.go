package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"io"
)

// encrypt.go - AES-256-GCM для API-ключей торговых аккаунтов
//
// В таблице trading_accounts ключ хранится как base64(nonce || ciphertext || tag).
// Расшифровка выполняется один раз при старте сервиса.

// KeySize - длина ключа AES-256
const KeySize = 32

var (
	ErrInvalidKeyLength   = errors.New("encryption key must be exactly 32 bytes for AES-256")
	ErrInvalidCiphertext  = errors.New("invalid ciphertext")
	ErrCiphertextTooShort = errors.New("ciphertext too short")
	ErrDecryptionFailed   = errors.New("decryption failed: authentication error")
)

// ParseKey приводит ключ из конфигурации к 32 байтам.
// Принимает сырую строку из 32 байт или hex из 64 символов.
func ParseKey(s string) ([]byte, error) {
	switch len(s) {
	case KeySize:
		return []byte(s), nil
	case KeySize * 2:
		key, err := hex.DecodeString(s)
		if err != nil {
			return nil, ErrInvalidKeyLength
		}
		return key, nil
	default:
		return nil, ErrInvalidKeyLength
	}
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeyLength
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Encrypt шифрует plaintext и возвращает base64-строку со случайным nonce в начале
func Encrypt(plaintext string, key []byte) (string, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt - обратная операция к Encrypt. Подмена данных даёт ErrDecryptionFailed.
func Decrypt(ciphertextBase64 string, key []byte) (string, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	raw, err := base64.StdEncoding.DecodeString(ciphertextBase64)
	if err != nil {
		return "", ErrInvalidCiphertext
	}

	nonceSize := gcm.NonceSize()
	if len(raw) < nonceSize+gcm.Overhead() {
		return "", ErrCiphertextTooShort
	}

	plaintext, err := gcm.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}
