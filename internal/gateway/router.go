package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/nextlevelbuilder/nanoclaw/internal/pairing"
	"github.com/nextlevelbuilder/nanoclaw/pkg/protocol"
)

// MethodHandler processes a single RPC method request.
type MethodHandler func(ctx context.Context, client *Client, req *protocol.RequestFrame)

// MethodRouter maps method names to handlers.
type MethodRouter struct {
	handlers map[string]MethodHandler
	server   *Server
}

func NewMethodRouter(server *Server) *MethodRouter {
	r := &MethodRouter{
		handlers: make(map[string]MethodHandler),
		server:   server,
	}
	r.registerDefaults()
	return r
}

// Register adds a method handler.
func (r *MethodRouter) Register(method string, handler MethodHandler) {
	r.handlers[method] = handler
}

// Handle dispatches a request to the appropriate handler.
func (r *MethodRouter) Handle(ctx context.Context, client *Client, req *protocol.RequestFrame) {
	handler, ok := r.handlers[req.Method]
	if !ok {
		slog.Warn("unknown method", "method", req.Method, "client", client.id)
		client.SendResponse(protocol.NewErrorResponse(
			req.ID,
			protocol.ErrInvalidRequest,
			"unknown method: "+req.Method,
		))
		return
	}

	// Role check: skip for connect and health (usable before authentication)
	if req.Method != protocol.MethodConnect && req.Method != protocol.MethodHealth {
		role := client.Role()
		if !canAccess(role, req.Method) {
			slog.Warn("permission denied", "method", req.Method, "role", role, "client", client.id)
			client.SendResponse(protocol.NewErrorResponse(
				req.ID,
				protocol.ErrUnauthorized,
				"permission denied: insufficient role for "+req.Method,
			))
			return
		}
	}

	slog.Debug("handling method", "method", req.Method, "client", client.id, "req_id", req.ID)
	handler(ctx, client, req)
}

// registerDefaults registers the built-in method handlers.
func (r *MethodRouter) registerDefaults() {
	// System
	r.Register(protocol.MethodConnect, r.handleConnect)
	r.Register(protocol.MethodHealth, r.handleHealth)

	// Device pairing
	r.Register(protocol.MethodPairGenerate, r.handlePairGenerate)
	r.Register(protocol.MethodPairRedeem, r.handlePairRedeem)
	r.Register(protocol.MethodPairList, r.handlePairList)
	r.Register(protocol.MethodPairRevoke, r.handlePairRevoke)

	// Sandbox checks
	r.Register(protocol.MethodSandboxCheckPath, r.handleSandboxCheckPath)
	r.Register(protocol.MethodSandboxCheckCommand, r.handleSandboxCheckCommand)
	r.Register(protocol.MethodSandboxCheckMounts, r.handleSandboxCheckMounts)

	// Credentials
	r.Register(protocol.MethodCredentialsList, r.handleCredentialsList)
}

// --- Built-in handlers ---

func (r *MethodRouter) handleConnect(ctx context.Context, client *Client, req *protocol.RequestFrame) {
	var params struct {
		Token       string `json:"token"`        // operator token from config
		DeviceToken string `json:"device_token"` // bearer token issued at pairing
		PairingCode string `json:"pairing_code"` // fresh pairing code to redeem inline
		DeviceName  string `json:"device_name"`
	}
	if req.Params != nil {
		json.Unmarshal(req.Params, &params)
	}

	configToken := r.server.cfg.Gateway.Token

	// Path 1: Operator token → full access
	if configToken != "" && params.Token != "" &&
		subtle.ConstantTimeCompare([]byte(params.Token), []byte(configToken)) == 1 {
		client.setIdentity(RoleOperator, "")
		r.sendConnectResponse(client, req.ID, nil)
		return
	}

	ps := r.server.pairing

	// Path 2: Previously issued device token
	if params.DeviceToken != "" {
		if dev, ok := ps.Authenticate(params.DeviceToken); ok {
			client.setIdentity(RoleDevice, dev.Name)
			slog.Info("device authenticated", "device", dev.Name, "client", client.id)
			r.sendConnectResponse(client, req.ID, nil)
			return
		}
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrUnauthorized, "device token not recognized"))
		return
	}

	// Path 3: Inline pairing code redemption
	if params.PairingCode != "" {
		if params.DeviceName == "" {
			client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "device_name is required with pairing_code"))
			return
		}
		if !r.server.redeemLimiter.Allow(client.remoteAddr) {
			client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrRateLimited, "too many pairing attempts"))
			return
		}
		dev, token, err := ps.Redeem(params.PairingCode, params.DeviceName, client.remoteAddr)
		if err != nil {
			client.SendResponse(protocol.NewErrorResponse(req.ID, pairingErrorCode(err), err.Error()))
			return
		}
		client.setIdentity(RoleDevice, dev.Name)
		slog.Info("device paired", "device", dev.Name, "client", client.id)
		r.sendConnectResponse(client, req.ID, map[string]any{"device_token": token})
		return
	}

	// Path 4: Nothing usable presented
	client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrUnauthorized, "connect requires token, device_token or pairing_code"))
}

func (r *MethodRouter) sendConnectResponse(client *Client, reqID string, extra map[string]any) {
	result := map[string]any{
		"protocol": protocol.ProtocolVersion,
		"role":     string(client.Role()),
		"server": map[string]any{
			"name":    "nanoclaw",
			"version": "0.1.0",
		},
	}
	if device := client.DeviceName(); device != "" {
		result["device"] = device
	}
	for k, v := range extra {
		result[k] = v
	}
	client.SendResponse(protocol.NewOKResponse(reqID, result))
}

func (r *MethodRouter) handleHealth(ctx context.Context, client *Client, req *protocol.RequestFrame) {
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{
		"status": "ok",
	}))
}

// pairingErrorCode maps pairing service errors to protocol error codes.
func pairingErrorCode(err error) string {
	switch {
	case errors.Is(err, pairing.ErrLockedOut):
		return protocol.ErrLockedOut
	case errors.Is(err, pairing.ErrExpired):
		return protocol.ErrExpired
	case errors.Is(err, pairing.ErrNotFound):
		return protocol.ErrNotFound
	default:
		return protocol.ErrInternal
	}
}
