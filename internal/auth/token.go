// Package auth manages long-lived provider credentials: the OAuth 2.0 + PKCE
// login flow, import from foreign tools, and encrypted at-rest storage.
package auth

import "time"

const (
	// AssumedTokenLifetime is assigned to tokens whose provider reported no
	// expiry. One hour is a heuristic: better to refresh too early than to
	// present a dead token.
	AssumedTokenLifetime = time.Hour

	// RefreshSkew is how long before expiry a token counts as needing
	// refresh, absorbing provider clock skew.
	RefreshSkew = 60 * time.Second
)

// TokenSet is one provider's OAuth credentials. expires_at is always UTC.
type TokenSet struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	Provider     string    `json:"provider"`
	Scope        string    `json:"scope,omitempty"`
}

// Expired reports whether the access token is past its expiry.
func (t TokenSet) Expired() bool {
	return !t.ExpiresAt.After(time.Now())
}

// NeedsRefresh reports whether the token expires within RefreshSkew and
// should be refreshed before use.
func (t TokenSet) NeedsRefresh() bool {
	return !t.ExpiresAt.After(time.Now().Add(RefreshSkew))
}

// normalizeExpiry maps a provider-reported expiry to the token's clock
// domain; a zero expiry gets the conservative assumed lifetime.
func normalizeExpiry(expiry time.Time) time.Time {
	if expiry.IsZero() {
		return time.Now().Add(AssumedTokenLifetime).UTC()
	}
	return expiry.UTC()
}
