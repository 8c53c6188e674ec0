package auth

import "errors"

// Sentinel errors returned by the auth package. Callers should use errors.Is
// for comparison.
var (
	// ErrTokenExpired is returned when a JWT has expired.
	ErrTokenExpired = errors.New("auth: token expired")

	// ErrTokenInvalid is returned when a token cannot be parsed or verified.
	ErrTokenInvalid = errors.New("auth: token invalid")

	// ErrUnknownToken is returned when a bearer token matches none of the
	// configured allowlists.
	ErrUnknownToken = errors.New("auth: token not recognized")

	// ErrRoleUnavailable names the case of a requested role whose allowlist
	// is empty. Service.Exchange does not return it: an empty requested-role
	// allowlist yields ErrUnknownToken like any other unmatched token.
	ErrRoleUnavailable = errors.New("auth: requested role has no configured tokens")
)
