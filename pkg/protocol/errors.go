package protocol

// Error codes returned in response frames.
const (
	ErrInvalidRequest = "INVALID_REQUEST"
	ErrUnauthorized   = "UNAUTHORIZED"
	ErrNotFound       = "NOT_FOUND"
	ErrExpired        = "EXPIRED"
	ErrLockedOut      = "LOCKED_OUT"
	ErrRateLimited    = "RATE_LIMITED"
	ErrInternal       = "INTERNAL"

	// ErrPolicyViolation marks a sandbox denial. It is distinct from
	// ErrInternal so callers can tell "not allowed" from "failed".
	ErrPolicyViolation = "POLICY_VIOLATION"
)
