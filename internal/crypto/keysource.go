package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/zalando/go-keyring"
	"golang.org/x/crypto/pbkdf2"
)

const (
	keyringService = "nanoclaw"
	keyringUser    = "store-secret"

	// pbkdf2 parameters for stretching the machine secret into an AES key.
	kdfIterations = 100_000
	kdfSalt       = "nanoclaw-token-store-v1"
)

// MachineKey returns the 32-byte encryption key for the token store,
// derived from a random secret held outside the process: the OS keyring
// when available, otherwise a key file under dataDir. The secret never
// appears in the encrypted store file, so the ciphertext is useless when
// copied to another host.
func MachineKey(dataDir string) ([]byte, error) {
	secret, err := keyring.Get(keyringService, keyringUser)
	if err == nil {
		return stretch(secret), nil
	}
	if err != keyring.ErrNotFound {
		slog.Warn("security.keyring_unavailable, falling back to key file", "error", err)
		return fileKey(dataDir)
	}

	// First run: generate and store a fresh secret.
	secret, genErr := randomSecret()
	if genErr != nil {
		return nil, genErr
	}
	if err := keyring.Set(keyringService, keyringUser, secret); err != nil {
		slog.Warn("security.keyring_unavailable, falling back to key file", "error", err)
		return fileKey(dataDir)
	}
	return stretch(secret), nil
}

// fileKey reads or creates the fallback key file (0600) under dataDir.
func fileKey(dataDir string) ([]byte, error) {
	path := filepath.Join(dataDir, "store.key")
	if data, err := os.ReadFile(path); err == nil {
		return stretch(string(data)), nil
	}

	secret, err := randomSecret()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(secret), 0600); err != nil {
		return nil, fmt.Errorf("write key file: %w", err)
	}
	return stretch(secret), nil
}

func randomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func stretch(secret string) []byte {
	return pbkdf2.Key([]byte(secret), []byte(kdfSalt), kdfIterations, 32, sha256.New)
}
