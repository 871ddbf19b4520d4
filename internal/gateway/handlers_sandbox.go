package gateway

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/nextlevelbuilder/nanoclaw/internal/sandbox"
	"github.com/nextlevelbuilder/nanoclaw/pkg/protocol"
)

// Sandbox check handlers. A denial is a policy decision, not a failure, so
// it is reported with the POLICY_VIOLATION code rather than INTERNAL.

func (r *MethodRouter) handleSandboxCheckPath(ctx context.Context, client *Client, req *protocol.RequestFrame) {
	var params struct {
		Path string `json:"path"`
	}
	if req.Params != nil {
		json.Unmarshal(req.Params, &params)
	}
	if params.Path == "" {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "path is required"))
		return
	}

	resolved, err := r.server.guard.CheckPath(params.Path)
	if err != nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, sandboxErrorCode(err), err.Error()))
		return
	}
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{
		"allowed":  true,
		"resolved": resolved,
	}))
}

func (r *MethodRouter) handleSandboxCheckCommand(ctx context.Context, client *Client, req *protocol.RequestFrame) {
	var params struct {
		Command string `json:"command"`
	}
	if req.Params != nil {
		json.Unmarshal(req.Params, &params)
	}
	if params.Command == "" {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "command is required"))
		return
	}

	if err := r.server.guard.CheckCommand(params.Command); err != nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, sandboxErrorCode(err), err.Error()))
		return
	}
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{
		"allowed": true,
	}))
}

func (r *MethodRouter) handleSandboxCheckMounts(ctx context.Context, client *Client, req *protocol.RequestFrame) {
	var params struct {
		Mounts []string `json:"mounts"`
	}
	if req.Params != nil {
		json.Unmarshal(req.Params, &params)
	}

	if err := r.server.guard.CheckExtraMounts(params.Mounts); err != nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, sandboxErrorCode(err), err.Error()))
		return
	}
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{
		"allowed": true,
		"mounts":  len(params.Mounts),
	}))
}

// sandboxErrorCode maps guard errors to protocol error codes.
func sandboxErrorCode(err error) string {
	if errors.Is(err, sandbox.ErrEscape) || errors.Is(err, sandbox.ErrBlocked) {
		return protocol.ErrPolicyViolation
	}
	return protocol.ErrInternal
}
