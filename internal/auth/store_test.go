package auth

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func storeKey() []byte {
	return []byte("0123456789abcdef0123456789abcdef")
}

func TestStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.enc")

	s := NewStore(path, storeKey())
	want := TokenSet{
		AccessToken:  "sk-access",
		RefreshToken: "sk-refresh",
		ExpiresAt:    time.Now().Add(time.Hour).UTC().Truncate(time.Second),
		Scope:        "inference",
	}
	if err := s.Set("anthropic", want); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.Set("openai", TokenSet{AccessToken: "sk-2", ExpiresAt: want.ExpiresAt}); err != nil {
		t.Fatalf("set: %v", err)
	}

	// Fresh store instance reads the same mapping back.
	s2 := NewStore(path, storeKey())
	got, ok := s2.Get("anthropic")
	if !ok {
		t.Fatal("anthropic entry missing after reload")
	}
	if got.AccessToken != want.AccessToken || got.RefreshToken != want.RefreshToken {
		t.Errorf("got %+v, want %+v", got, want)
	}
	if !got.ExpiresAt.Equal(want.ExpiresAt) {
		t.Errorf("expiry drift: got %v want %v", got.ExpiresAt, want.ExpiresAt)
	}
	if names := s2.Providers(); len(names) != 2 || names[0] != "anthropic" || names[1] != "openai" {
		t.Errorf("providers = %v", names)
	}
}

func TestStoreFileIsOpaque(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.enc")

	s := NewStore(path, storeKey())
	if err := s.Set("anthropic", TokenSet{AccessToken: "sk-very-secret"}); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Contains(data, []byte("sk-very-secret")) {
		t.Error("token store written in plaintext")
	}
	if bytes.Contains(data, []byte("access_token")) {
		t.Error("token store structure visible on disk")
	}
}

func TestStoreCorruptFileLoadsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.enc")

	s := NewStore(path, storeKey())
	if err := s.Set("anthropic", TokenSet{AccessToken: "sk-x"}); err != nil {
		t.Fatal(err)
	}

	// Flip bytes in the middle of the file.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	for i := len(data) / 2; i < len(data)/2+4 && i < len(data); i++ {
		data[i] ^= 0xff
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatal(err)
	}

	// Must not panic; must load empty.
	s2 := NewStore(path, storeKey())
	if _, ok := s2.Get("anthropic"); ok {
		t.Error("corrupt store should load empty")
	}
	if len(s2.Providers()) != 0 {
		t.Error("corrupt store should have no providers")
	}

	// And the store stays usable.
	if err := s2.Set("anthropic", TokenSet{AccessToken: "sk-new"}); err != nil {
		t.Errorf("set after corruption: %v", err)
	}
}

func TestStoreWrongKeyLoadsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.enc")

	s := NewStore(path, storeKey())
	if err := s.Set("anthropic", TokenSet{AccessToken: "sk-x"}); err != nil {
		t.Fatal(err)
	}

	other := NewStore(path, []byte("fedcba9876543210fedcba9876543210"))
	if len(other.Providers()) != 0 {
		t.Error("store decrypted with wrong key")
	}
}

func TestStoreRemove(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "tokens.enc"), storeKey())
	if err := s.Set("anthropic", TokenSet{AccessToken: "sk"}); err != nil {
		t.Fatal(err)
	}

	existed, err := s.Remove("anthropic")
	if err != nil || !existed {
		t.Errorf("remove = (%v, %v), want (true, nil)", existed, err)
	}
	existed, err = s.Remove("anthropic")
	if err != nil || existed {
		t.Errorf("second remove = (%v, %v), want (false, nil)", existed, err)
	}
}

func TestTokenSetNeedsRefresh(t *testing.T) {
	fresh := TokenSet{ExpiresAt: time.Now().Add(time.Hour)}
	if fresh.NeedsRefresh() {
		t.Error("hour-fresh token should not need refresh")
	}
	if fresh.Expired() {
		t.Error("hour-fresh token should not be expired")
	}

	closing := TokenSet{ExpiresAt: time.Now().Add(30 * time.Second)}
	if !closing.NeedsRefresh() {
		t.Error("token inside the skew window should need refresh")
	}
	if closing.Expired() {
		t.Error("token inside the skew window is not yet expired")
	}

	dead := TokenSet{ExpiresAt: time.Now().Add(-time.Second)}
	if !dead.Expired() {
		t.Error("past-expiry token should be expired")
	}
}
