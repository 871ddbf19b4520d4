package auth

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/nextlevelbuilder/nanoclaw/internal/crypto"
)

// Store persists provider token sets encrypted with AES-256-GCM. The backing
// file is an opaque sealed blob; it is never written in plaintext, even
// transiently (temp file + atomic rename). A corrupt or undecryptable file
// loads as an empty store: losing cached credentials is recoverable,
// crashing the agent is not.
type Store struct {
	path string
	key  []byte

	mu     sync.Mutex
	tokens map[string]TokenSet
}

// NewStore opens (or initializes) the encrypted token store at path using
// the given 32-byte key.
func NewStore(path string, key []byte) *Store {
	s := &Store{
		path:   path,
		key:    key,
		tokens: make(map[string]TokenSet),
	}
	s.load()
	return s
}

// Get returns the token set for a provider.
func (s *Store) Get(provider string) (TokenSet, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[provider]
	return t, ok
}

// Set stores a token set and persists the store.
func (s *Store) Set(provider string, token TokenSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	token.Provider = provider
	s.tokens[provider] = token
	return s.save()
}

// Remove deletes a provider's tokens. Returns whether an entry existed.
func (s *Store) Remove(provider string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tokens[provider]; !ok {
		return false, nil
	}
	delete(s.tokens, provider)
	return true, s.save()
}

// Providers returns the providers with stored credentials, sorted.
func (s *Store) Providers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.tokens))
	for name := range s.tokens {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns a copy of the provider→token mapping.
func (s *Store) All() map[string]TokenSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]TokenSet, len(s.tokens))
	for k, v := range s.tokens {
		out[k] = v
	}
	return out
}

// load reads and decrypts the backing file. Any failure degrades to an
// empty store with a warning; callers re-authenticate instead of crashing.
func (s *Store) load() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return // no store yet
	}

	plaintext, err := crypto.Open(data, s.key)
	if err != nil {
		slog.Warn("security.token_store_undecryptable, starting empty",
			"path", s.path, "error", err)
		return
	}

	var tokens map[string]TokenSet
	if err := json.Unmarshal(plaintext, &tokens); err != nil {
		slog.Warn("security.token_store_malformed, starting empty",
			"path", s.path, "error", err)
		return
	}
	s.tokens = tokens
}

// save seals the mapping and writes it atomically. Caller holds s.mu.
func (s *Store) save() error {
	plaintext, err := json.Marshal(s.tokens)
	if err != nil {
		return fmt.Errorf("marshal token store: %w", err)
	}

	sealed, err := crypto.Seal(plaintext, s.key)
	if err != nil {
		return fmt.Errorf("seal token store: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create store dir: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, sealed, 0600); err != nil {
		return fmt.Errorf("write token store: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace token store: %w", err)
	}
	return nil
}
