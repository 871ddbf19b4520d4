package auth

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"
	"time"
)

// fakeProvider is a minimal OAuth token endpoint for exercising the flow.
type fakeProvider struct {
	srv *httptest.Server

	// lastVerifier/lastCode record what the token endpoint received.
	lastVerifier string
	lastCode     string
	lastGrant    string

	rejectExchange bool
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()
	p := &fakeProvider{}
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		p.lastGrant = r.PostFormValue("grant_type")
		p.lastCode = r.PostFormValue("code")
		p.lastVerifier = r.PostFormValue("code_verifier")

		if p.rejectExchange {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token":  "at-" + p.lastGrant,
			"refresh_token": "rt-new",
			"token_type":    "Bearer",
			"expires_in":    3600,
			"scope":         "inference",
		})
	})
	p.srv = httptest.NewServer(mux)
	t.Cleanup(p.srv.Close)
	return p
}

func (p *fakeProvider) config() ProviderConfig {
	return ProviderConfig{
		Name:     "testprov",
		AuthURL:  p.srv.URL + "/authorize",
		TokenURL: p.srv.URL + "/token",
		ClientID: "test-client",
		Scopes:   []string{"inference"},
	}
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "tokens.enc"), storeKey())
}

// approve simulates the user authorizing in the browser: it parses the
// authorization URL and immediately hits the loopback callback. mutate may
// rewrite the callback query before it is sent.
func approve(t *testing.T, mutate func(q url.Values)) func(string) error {
	t.Helper()
	return func(authURL string) error {
		u, err := url.Parse(authURL)
		if err != nil {
			return err
		}
		q := u.Query()
		redirect := q.Get("redirect_uri")

		cb := url.Values{}
		cb.Set("code", "auth-code-1")
		cb.Set("state", q.Get("state"))
		if mutate != nil {
			mutate(cb)
		}

		go http.Get(redirect + "?" + cb.Encode())
		return nil
	}
}

func TestLoginSuccess(t *testing.T) {
	provider := newFakeProvider(t)
	store := newTestStore(t)

	var challenge string
	flow := NewFlow(provider.config(), store)
	flow.Timeout = 5 * time.Second
	inner := approve(t, nil)
	flow.OpenURL = func(authURL string) error {
		u, _ := url.Parse(authURL)
		challenge = u.Query().Get("code_challenge")
		if m := u.Query().Get("code_challenge_method"); m != "S256" {
			t.Errorf("code_challenge_method = %q, want S256", m)
		}
		return inner(authURL)
	}

	ts, err := flow.Login(context.Background())
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if ts.AccessToken != "at-authorization_code" {
		t.Errorf("access token = %q", ts.AccessToken)
	}
	if ts.RefreshToken != "rt-new" {
		t.Errorf("refresh token = %q", ts.RefreshToken)
	}
	if ts.ExpiresAt.Before(time.Now().Add(50 * time.Minute)) {
		t.Errorf("expiry too soon: %v", ts.ExpiresAt)
	}

	// The exchange must send the verifier, and it must hash to the
	// challenge embedded in the authorization URL.
	if provider.lastCode != "auth-code-1" {
		t.Errorf("provider saw code %q", provider.lastCode)
	}
	sum := sha256.Sum256([]byte(provider.lastVerifier))
	if got := base64.RawURLEncoding.EncodeToString(sum[:]); got != challenge {
		t.Errorf("S256(verifier) = %q, challenge was %q", got, challenge)
	}

	// Persisted before the attempt counts as complete.
	if stored, ok := store.Get("testprov"); !ok || stored.AccessToken != ts.AccessToken {
		t.Error("token set not persisted")
	}
}

func TestLoginStateMismatch(t *testing.T) {
	provider := newFakeProvider(t)
	store := newTestStore(t)

	flow := NewFlow(provider.config(), store)
	flow.Timeout = 5 * time.Second
	flow.OpenURL = approve(t, func(q url.Values) {
		q.Set("state", "forged-state")
	})

	_, err := flow.Login(context.Background())
	if !errors.Is(err, ErrStateMismatch) {
		t.Fatalf("login = %v, want ErrStateMismatch", err)
	}
	// The exchange must never have happened.
	if provider.lastCode != "" {
		t.Error("token exchange proceeded despite state mismatch")
	}
	if _, ok := store.Get("testprov"); ok {
		t.Error("nothing should be persisted on abort")
	}
}

func TestLoginProviderRejected(t *testing.T) {
	provider := newFakeProvider(t)
	store := newTestStore(t)

	flow := NewFlow(provider.config(), store)
	flow.Timeout = 5 * time.Second
	flow.OpenURL = approve(t, func(q url.Values) {
		q.Del("code")
		q.Set("error", "access_denied")
		q.Set("error_description", "user said no")
	})

	_, err := flow.Login(context.Background())
	if !errors.Is(err, ErrProviderRejected) {
		t.Fatalf("login = %v, want ErrProviderRejected", err)
	}
}

func TestLoginTimeout(t *testing.T) {
	provider := newFakeProvider(t)
	store := newTestStore(t)

	flow := NewFlow(provider.config(), store)
	flow.Timeout = 50 * time.Millisecond
	flow.OpenURL = func(string) error { return nil } // user never responds

	_, err := flow.Login(context.Background())
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("login = %v, want ErrTimeout", err)
	}
}

func TestLoginCancelled(t *testing.T) {
	provider := newFakeProvider(t)
	store := newTestStore(t)

	flow := NewFlow(provider.config(), store)
	flow.Timeout = 5 * time.Second
	flow.OpenURL = func(string) error { return nil }

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := flow.Login(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("login = %v, want context.Canceled", err)
	}
}

func TestLoginExchangeFailure(t *testing.T) {
	provider := newFakeProvider(t)
	provider.rejectExchange = true
	store := newTestStore(t)

	flow := NewFlow(provider.config(), store)
	flow.Timeout = 5 * time.Second
	flow.OpenURL = approve(t, nil)

	if _, err := flow.Login(context.Background()); err == nil {
		t.Fatal("expected exchange failure")
	}
	if _, ok := store.Get("testprov"); ok {
		t.Error("nothing should be persisted on exchange failure")
	}
}

func TestRefresh(t *testing.T) {
	provider := newFakeProvider(t)
	store := newTestStore(t)

	if err := store.Set("testprov", TokenSet{
		AccessToken:  "at-old",
		RefreshToken: "rt-old",
		ExpiresAt:    time.Now().Add(30 * time.Second),
		Scope:        "inference",
	}); err != nil {
		t.Fatal(err)
	}

	flow := NewFlow(provider.config(), store)
	ts, err := flow.Refresh(context.Background())
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if provider.lastGrant != "refresh_token" {
		t.Errorf("grant type = %q", provider.lastGrant)
	}
	if ts.AccessToken != "at-refresh_token" {
		t.Errorf("access token = %q", ts.AccessToken)
	}

	stored, _ := store.Get("testprov")
	if stored.AccessToken != ts.AccessToken {
		t.Error("refreshed token not persisted")
	}
}

func TestRefreshWithoutRefreshToken(t *testing.T) {
	provider := newFakeProvider(t)
	store := newTestStore(t)

	if err := store.Set("testprov", TokenSet{AccessToken: "at"}); err != nil {
		t.Fatal(err)
	}

	flow := NewFlow(provider.config(), store)
	if _, err := flow.Refresh(context.Background()); !errors.Is(err, ErrNoRefreshToken) {
		t.Fatalf("refresh = %v, want ErrNoRefreshToken", err)
	}
}
