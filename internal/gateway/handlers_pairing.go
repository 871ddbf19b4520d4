package gateway

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/nextlevelbuilder/nanoclaw/internal/pairing"
	"github.com/nextlevelbuilder/nanoclaw/pkg/protocol"
)

// Pairing handlers. Generate/list/revoke are operator-only; redeem is also
// reachable by unauthenticated clients through the connect handshake.

func (r *MethodRouter) handlePairGenerate(ctx context.Context, client *Client, req *protocol.RequestFrame) {
	code, err := r.server.pairing.GenerateCode()
	if err != nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInternal, "generate code: "+err.Error()))
		return
	}
	slog.Info("pairing code generated", "client", client.id)
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{
		"code":       code,
		"expires_in": int(pairing.CodeTTL.Seconds()),
	}))
}

func (r *MethodRouter) handlePairRedeem(ctx context.Context, client *Client, req *protocol.RequestFrame) {
	var params struct {
		Code       string `json:"code"`
		DeviceName string `json:"device_name"`
	}
	if req.Params != nil {
		json.Unmarshal(req.Params, &params)
	}
	if params.Code == "" || params.DeviceName == "" {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "code and device_name are required"))
		return
	}

	if !r.server.redeemLimiter.Allow(client.remoteAddr) {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrRateLimited, "too many pairing attempts"))
		return
	}

	dev, token, err := r.server.pairing.Redeem(params.Code, params.DeviceName, client.remoteAddr)
	if err != nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, pairingErrorCode(err), err.Error()))
		return
	}
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{
		"device":       dev.Name,
		"device_token": token,
	}))
}

func (r *MethodRouter) handlePairList(ctx context.Context, client *Client, req *protocol.RequestFrame) {
	devices := r.server.pairing.ListDevices()
	out := make([]map[string]any, 0, len(devices))
	for _, d := range devices {
		out = append(out, map[string]any{
			"name":      d.Name,
			"paired_at": d.PairedAt,
			"last_seen": d.LastSeen,
		})
	}

	codes := r.server.pairing.ListCodes()
	pending := make([]map[string]any, 0, len(codes))
	for _, c := range codes {
		pending = append(pending, map[string]any{
			"code":       c.Code,
			"created_at": c.CreatedAt,
			"expires_at": c.ExpiresAt,
		})
	}

	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{
		"devices": out,
		"pending": pending,
	}))
}

func (r *MethodRouter) handlePairRevoke(ctx context.Context, client *Client, req *protocol.RequestFrame) {
	var params struct {
		Name string `json:"name"`
	}
	if req.Params != nil {
		json.Unmarshal(req.Params, &params)
	}
	if params.Name == "" {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "name is required"))
		return
	}

	revoked := r.server.pairing.Revoke(params.Name)
	if revoked {
		// Kick any live connection authenticated as this device.
		r.server.DisconnectDevice(params.Name)
		slog.Info("device revoked", "device", params.Name)
	}
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{
		"revoked": revoked,
	}))
}
