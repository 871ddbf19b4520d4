package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	"github.com/zalando/go-keyring"
)

var (
	// ErrImportNotFound means neither import source exists.
	ErrImportNotFound = errors.New("no importable credentials found")
	// ErrImportParse means a source exists but is malformed. This is
	// reported, never treated as absent: an unparseable credential could
	// mask tampering.
	ErrImportParse = errors.New("importable credentials are malformed")
)

const (
	claudeKeyringService = "Claude Code-credentials"
	claudeCredentialFile = ".claude/.credentials.json"

	// accountHashLen truncates the hashed local identifier used as the
	// keyring account name. The hash is one-way: the account name leaks
	// nothing about the user.
	accountHashLen = 12
)

// Importer reads Claude Code's credential storage and normalizes it into a
// TokenSet. Sources are tried in priority order: the OS keyring entry
// first, the well-known JSON file second. The two sources are structurally
// different and parsed independently.
type Importer struct {
	// keyringGet and readFile are swapped out by tests.
	keyringGet func(service, account string) (string, error)
	readFile   func(path string) ([]byte, error)

	account  string
	filePath string
}

// NewImporter creates an importer bound to the current OS user's Claude
// Code storage locations.
func NewImporter() *Importer {
	account := ""
	if u, err := user.Current(); err == nil {
		account = hashedAccount(u.Username)
	}
	filePath := ""
	if home, err := os.UserHomeDir(); err == nil {
		filePath = filepath.Join(home, claudeCredentialFile)
	}
	return &Importer{
		keyringGet: keyring.Get,
		readFile:   os.ReadFile,
		account:    account,
		filePath:   filePath,
	}
}

// keyringPayload is the flat shape Claude Code stores in the OS keyring.
type keyringPayload struct {
	AccessToken  string   `json:"accessToken"`
	RefreshToken string   `json:"refreshToken"`
	ExpiresAt    int64    `json:"expiresAt"` // unix millis
	Scopes       []string `json:"scopes"`
}

// credentialFile is the wrapper shape of ~/.claude/.credentials.json.
type credentialFile struct {
	ClaudeAiOauth *struct {
		AccessToken  string   `json:"accessToken"`
		RefreshToken string   `json:"refreshToken"`
		ExpiresAt    int64    `json:"expiresAt"` // unix millis
		Scopes       []string `json:"scopes"`
	} `json:"claudeAiOauth"`
}

// Import attempts both sources in priority order and returns a normalized
// token set. ErrImportNotFound if neither source exists; ErrImportParse if
// a source exists but cannot be decoded.
func (i *Importer) Import() (*TokenSet, error) {
	ts, err := i.trySecureStore()
	if err == nil {
		slog.Info("credentials imported", "source", "keyring")
		return ts, nil
	}
	if !errors.Is(err, ErrImportNotFound) {
		return nil, err
	}

	ts, err = i.tryFile()
	if err == nil {
		slog.Info("credentials imported", "source", "file", "path", i.filePath)
		return ts, nil
	}
	return nil, err
}

// trySecureStore reads the keyring entry keyed by the hashed local user.
func (i *Importer) trySecureStore() (*TokenSet, error) {
	if i.account == "" {
		return nil, ErrImportNotFound
	}
	raw, err := i.keyringGet(claudeKeyringService, i.account)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, ErrImportNotFound
		}
		// Keyring backend unavailable counts as source-absent, not
		// malformed: nothing was read.
		slog.Warn("keyring unavailable for import", "error", err)
		return nil, ErrImportNotFound
	}

	var p keyringPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("keyring entry: %w", ErrImportParse)
	}
	if p.AccessToken == "" {
		return nil, fmt.Errorf("keyring entry has no access token: %w", ErrImportParse)
	}
	return normalizeImported(p.AccessToken, p.RefreshToken, p.ExpiresAt, p.Scopes), nil
}

// tryFile reads the well-known JSON credential file.
func (i *Importer) tryFile() (*TokenSet, error) {
	if i.filePath == "" {
		return nil, ErrImportNotFound
	}
	data, err := i.readFile(i.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrImportNotFound
		}
		return nil, fmt.Errorf("read %s: %w", i.filePath, err)
	}

	var f credentialFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%s: %w", i.filePath, ErrImportParse)
	}
	if f.ClaudeAiOauth == nil || f.ClaudeAiOauth.AccessToken == "" {
		return nil, fmt.Errorf("%s has no usable credentials: %w", i.filePath, ErrImportParse)
	}
	c := f.ClaudeAiOauth
	return normalizeImported(c.AccessToken, c.RefreshToken, c.ExpiresAt, c.Scopes), nil
}

// normalizeImported maps source fields into the common TokenSet shape.
// Sources without expiry information get the assumed lifetime, same policy
// as the interactive flow.
func normalizeImported(access, refresh string, expiresAtMillis int64, scopes []string) *TokenSet {
	expiry := time.Time{}
	if expiresAtMillis > 0 {
		expiry = time.UnixMilli(expiresAtMillis)
	}
	return &TokenSet{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    normalizeExpiry(expiry),
		Provider:     "anthropic",
		Scope:        strings.Join(scopes, " "),
	}
}

// hashedAccount derives the non-reversible keyring account name from a
// local identifier.
func hashedAccount(username string) string {
	sum := sha256.Sum256([]byte(username))
	return hex.EncodeToString(sum[:])[:accountHashLen]
}
