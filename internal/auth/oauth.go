package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/pkg/browser"
	"golang.org/x/oauth2"
)

// DefaultLoginTimeout bounds the wait for the provider callback.
const DefaultLoginTimeout = 5 * time.Minute

var (
	// ErrTimeout means the user did not complete authorization in time.
	ErrTimeout = errors.New("authorization timed out")
	// ErrStateMismatch means the callback carried a state parameter that
	// does not match this attempt; the code is discarded untouched.
	ErrStateMismatch = errors.New("oauth state mismatch")
	// ErrProviderRejected means the provider returned an error on the
	// callback (user denied, bad client, ...).
	ErrProviderRejected = errors.New("provider rejected authorization")
	// ErrNoRefreshToken means a refresh was requested for a token set that
	// has no refresh token.
	ErrNoRefreshToken = errors.New("no refresh token available")
)

// ProviderConfig describes one OAuth provider. Immutable, supplied by
// configuration.
type ProviderConfig struct {
	Name     string   `json:"name"`
	AuthURL  string   `json:"auth_url"`
	TokenURL string   `json:"token_url"`
	ClientID string   `json:"client_id"`
	Scopes   []string `json:"scopes"`
}

// Flow runs the OAuth 2.0 authorization-code + PKCE flow for one provider
// against a loopback callback listener, persisting the result in the store.
type Flow struct {
	Provider ProviderConfig
	Store    *Store
	Timeout  time.Duration

	// OpenURL presents the authorization URL to the user. Defaults to
	// opening the system browser; tests inject their own.
	OpenURL func(url string) error
}

// NewFlow creates a login flow for the given provider.
func NewFlow(provider ProviderConfig, store *Store) *Flow {
	return &Flow{
		Provider: provider,
		Store:    store,
		Timeout:  DefaultLoginTimeout,
		OpenURL:  browser.OpenURL,
	}
}

// callbackResult is what the loopback listener hands back to the flow.
type callbackResult struct {
	code  string
	state string
	err   error
}

// Login runs one interactive authorization attempt. The PKCE verifier is
// held in memory only and never logged. The loopback listener is released
// on every exit path: success, provider error, timeout, or cancellation
// via ctx.
func (f *Flow) Login(ctx context.Context) (*TokenSet, error) {
	verifier := oauth2.GenerateVerifier()
	state, err := randomState()
	if err != nil {
		return nil, err
	}

	// Loopback-only listener on an OS-assigned port. Binding failure is
	// fatal to this attempt only; the caller may retry.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("bind callback listener: %w", err)
	}

	conf := &oauth2.Config{
		ClientID:    f.Provider.ClientID,
		RedirectURL: fmt.Sprintf("http://%s/callback", ln.Addr().String()),
		Scopes:      f.Provider.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  f.Provider.AuthURL,
			TokenURL: f.Provider.TokenURL,
		},
	}

	results := make(chan callbackResult, 1)
	srv := &http.Server{Handler: callbackHandler(results)}
	go srv.Serve(ln)
	defer srv.Close()

	authURL := conf.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.S256ChallengeOption(verifier),
	)
	openURL := f.OpenURL
	if openURL == nil {
		openURL = browser.OpenURL
	}
	if err := openURL(authURL); err != nil {
		slog.Warn("could not open browser, authorize manually", "url", authURL, "error", err)
	}

	timeout := f.Timeout
	if timeout <= 0 {
		timeout = DefaultLoginTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	// Single suspension point: first of callback, timeout, or cancellation.
	var res callbackResult
	select {
	case res = <-results:
	case <-timer.C:
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if res.err != nil {
		return nil, res.err
	}

	if subtle.ConstantTimeCompare([]byte(res.state), []byte(state)) != 1 {
		slog.Warn("security.oauth_state_mismatch", "provider", f.Provider.Name)
		return nil, ErrStateMismatch
	}

	// Exchange the single-use code with the verifier (not the challenge).
	// Network errors are reported, never retried: the code is consumed.
	tok, err := conf.Exchange(ctx, res.code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("token exchange: %w", err)
	}

	scope, _ := tok.Extra("scope").(string)
	ts := TokenSet{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    normalizeExpiry(tok.Expiry),
		Provider:     f.Provider.Name,
		Scope:        scope,
	}

	if err := f.Store.Set(f.Provider.Name, ts); err != nil {
		return nil, fmt.Errorf("persist credentials: %w", err)
	}

	slog.Info("authorization complete", "provider", f.Provider.Name, "expires_at", ts.ExpiresAt)
	return &ts, nil
}

// Refresh exchanges the stored refresh token for a fresh access token and
// persists the result. Non-interactive.
func (f *Flow) Refresh(ctx context.Context) (*TokenSet, error) {
	current, ok := f.Store.Get(f.Provider.Name)
	if !ok {
		return nil, fmt.Errorf("no credentials for provider %s", f.Provider.Name)
	}
	if current.RefreshToken == "" {
		return nil, ErrNoRefreshToken
	}

	conf := &oauth2.Config{
		ClientID: f.Provider.ClientID,
		Scopes:   f.Provider.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  f.Provider.AuthURL,
			TokenURL: f.Provider.TokenURL,
		},
	}

	src := conf.TokenSource(ctx, &oauth2.Token{
		RefreshToken: current.RefreshToken,
		Expiry:       time.Now().Add(-time.Minute), // force refresh
	})
	tok, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("refresh token: %w", err)
	}

	ts := TokenSet{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    normalizeExpiry(tok.Expiry),
		Provider:     f.Provider.Name,
		Scope:        current.Scope,
	}
	if ts.RefreshToken == "" {
		// Providers that rotate refresh tokens return a new one; those
		// that don't expect the old one to keep working.
		ts.RefreshToken = current.RefreshToken
	}

	if err := f.Store.Set(f.Provider.Name, ts); err != nil {
		return nil, fmt.Errorf("persist credentials: %w", err)
	}
	return &ts, nil
}

// callbackHandler accepts exactly one real callback request and reports it
// on results. Favicon probes and the like are answered 404 without
// consuming the attempt.
func callbackHandler(results chan<- callbackResult) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if errCode := q.Get("error"); errCode != "" {
			desc := q.Get("error_description")
			select {
			case results <- callbackResult{err: fmt.Errorf("%w: %s %s", ErrProviderRejected, errCode, desc)}:
			default:
			}
			http.Error(w, "Authorization failed. You can close this window.", http.StatusBadRequest)
			return
		}

		code := q.Get("code")
		if code == "" {
			http.Error(w, "missing authorization code", http.StatusBadRequest)
			return
		}

		select {
		case results <- callbackResult{code: code, state: q.Get("state")}:
		default:
			// A second callback for the same attempt is ignored.
		}
		fmt.Fprintln(w, "Authorization received. You can close this window.")
	})
	return mux
}

func randomState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
