package gateway

import (
	"context"
	"time"

	"github.com/nextlevelbuilder/nanoclaw/pkg/protocol"
)

// handleCredentialsList reports which providers have stored credentials and
// their expiry. Token values never leave the store.
func (r *MethodRouter) handleCredentialsList(ctx context.Context, client *Client, req *protocol.RequestFrame) {
	all := r.server.tokens.All()
	out := make([]map[string]any, 0, len(all))
	for _, provider := range r.server.tokens.Providers() {
		tok := all[provider]
		out = append(out, map[string]any{
			"provider":    provider,
			"expires_at":  tok.ExpiresAt.UTC().Format(time.RFC3339),
			"expired":     tok.Expired(),
			"refreshable": tok.RefreshToken != "",
		})
	}
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{
		"credentials": out,
	}))
}
