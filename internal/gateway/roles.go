package gateway

import "github.com/nextlevelbuilder/nanoclaw/pkg/protocol"

// Role is the permission level of a connected client.
type Role string

const (
	// RoleOperator is the local operator (gateway token): full access.
	RoleOperator Role = "operator"
	// RoleDevice is a paired device: may run sandbox checks and health,
	// but cannot mint codes, revoke devices, or read credential state.
	RoleDevice Role = "device"
	// RoleNone is an unauthenticated connection: connect only.
	RoleNone Role = ""
)

// deviceMethods are the methods a paired device may call.
var deviceMethods = map[string]bool{
	protocol.MethodHealth:              true,
	protocol.MethodSandboxCheckPath:    true,
	protocol.MethodSandboxCheckCommand: true,
	protocol.MethodSandboxCheckMounts:  true,
}

// canAccess reports whether role may invoke method. Connect is handled
// before this check.
func canAccess(role Role, method string) bool {
	switch role {
	case RoleOperator:
		return true
	case RoleDevice:
		return deviceMethods[method]
	default:
		return false
	}
}
