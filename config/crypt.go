package config

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"
)

// Decrypt decrypts small messages
// golang.org/x/crypto/nacl/secretbox
func Decrypt(message, secret []byte) ([]byte, error) {
	if len(message) < 24 {
		return nil, fmt.Errorf("decryption error: message too short")
	}
	var nonce [24]byte
	var secretKey = sha256.Sum256(secret)
	copy(nonce[:], message[:24])
	decrypted, ok := secretbox.Open(nil, message[24:], &nonce, &secretKey)
	if !ok {
		return nil, fmt.Errorf("decryption error")
	}
	return decrypted, nil
}

// Encrypt encrypts small messages
// golang.org/x/crypto/nacl/secretbox
func Encrypt(message, secret []byte) ([]byte, error) {
	var nonce [24]byte
	var secretKey = sha256.Sum256(secret)
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, err
	}
	return secretbox.Seal(nonce[:], message, &nonce, &secretKey), nil
}

// EncryptSecret returns versioned hex form of encrypted value
// if the key is set in SecKeyEnv, otherwise the value as is
func EncryptSecret(value string) (string, error) {
	s := os.Getenv(SecKeyEnv)
	if s == "" || value == "" {
		return value, nil
	}
	encrypted, err := Encrypt([]byte(value), []byte(s))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s%x", SecVerPrefix, encrypted), nil
}

// DecryptSecret reverts EncryptSecret
func DecryptSecret(value string) (string, error) {
	if !strings.HasPrefix(value, SecVerPrefix) {
		return value, nil
	}
	s := os.Getenv(SecKeyEnv)
	if s == "" {
		return "", fmt.Errorf("unmarshaler error: %s SecKeyEnv is empty", SecVerPrefix)
	}
	var encrypted []byte
	if _, err := fmt.Sscanf(value, SecVerPrefix+"%x", &encrypted); err != nil {
		return "", err
	}
	decrypted, err := Decrypt(encrypted, []byte(s))
	if err != nil {
		return "", err
	}
	return string(decrypted), nil
}
