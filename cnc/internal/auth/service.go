package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"time"

	"github.com/woly-io/woly/shared/types"
)

// Allowlists holds the three static bearer-token sets the service trusts.
// A token may appear in more than one list; the highest matching role wins.
type Allowlists struct {
	NodeTokens     []string
	OperatorTokens []string
	AdminTokens    []string
}

// Service exchanges a static bearer token for a short-lived JWT. There is no
// user store: the token IS the identity, and its role is whichever allowlist
// it appears in.
type Service struct {
	allow      Allowlists
	jwtManager *JWTManager
}

// NewService returns a Service backed by allow and jwtManager.
func NewService(allow Allowlists, jwtManager *JWTManager) *Service {
	return &Service{allow: allow, jwtManager: jwtManager}
}

// Exchange matches token against the allowlists, highest-privilege first,
// and issues a JWT carrying the matched role. Returns ErrUnknownToken if
// token matches none of them.
//
// requestedRole, if non-empty, restricts the match to that specific role's
// allowlist — requesting "admin" with an operator-only token returns
// ErrUnknownToken rather than silently downgrading, so callers cannot probe
// which allowlist a token belongs to by trying roles one at a time without
// the response leaking that information beyond a uniform failure.
func (s *Service) Exchange(token string, requestedRole types.Role) (string, types.Role, time.Time, error) {
	role, ok := s.matchRole(token, requestedRole)
	if !ok {
		return "", "", time.Time{}, ErrUnknownToken
	}
	signed, expiresAt, err := s.jwtManager.IssueToken(tokenSubject(token), role)
	if err != nil {
		return "", "", time.Time{}, err
	}
	return signed, role, expiresAt, nil
}

// matchRole reports the role token is entitled to. If requestedRole is set,
// only that role's allowlist is checked; otherwise the highest-privilege
// matching allowlist wins (admin > operator > node).
func (s *Service) matchRole(token string, requestedRole types.Role) (types.Role, bool) {
	check := func(role types.Role, list []string) (types.Role, bool) {
		return role, constantTimeContains(list, token)
	}

	if requestedRole != "" {
		switch requestedRole {
		case types.RoleAdmin:
			return check(types.RoleAdmin, s.allow.AdminTokens)
		case types.RoleOperator:
			return check(types.RoleOperator, s.allow.OperatorTokens)
		case types.RolePublic:
			return check(types.RolePublic, s.allow.NodeTokens)
		default:
			return "", false
		}
	}

	if ok := constantTimeContains(s.allow.AdminTokens, token); ok {
		return types.RoleAdmin, true
	}
	if ok := constantTimeContains(s.allow.OperatorTokens, token); ok {
		return types.RoleOperator, true
	}
	if ok := constantTimeContains(s.allow.NodeTokens, token); ok {
		return types.RolePublic, true
	}
	return "", false
}

// ContainsToken reports whether token is present in list, in constant time.
// Exposed for callers outside the exchange flow, such as the WebSocket
// upgrade handler, that need the same static-token check.
func ContainsToken(list []string, token string) bool {
	return constantTimeContains(list, token)
}

// constantTimeContains reports whether token is present in list, comparing
// every entry in constant time so the match does not leak which prefix of
// the allowlist it hit via timing.
func constantTimeContains(list []string, token string) bool {
	found := false
	for _, candidate := range list {
		if len(candidate) == len(token) && subtle.ConstantTimeCompare([]byte(candidate), []byte(token)) == 1 {
			found = true
		}
	}
	return found
}

// tokenSubject derives a stable, non-reversible subject claim from a raw
// bearer token so issued JWTs never carry the token itself.
func tokenSubject(token string) string {
	sum := sha256.Sum256([]byte(token))
	return "tok_" + hex.EncodeToString(sum[:8])
}

// ValidateAccessToken parses and verifies a JWT access token issued by Exchange.
func (s *Service) ValidateAccessToken(tokenString string) (*Claims, error) {
	return s.jwtManager.ValidateAccessToken(tokenString)
}

// JWTManager returns the underlying JWTManager, for middleware that needs to
// validate tokens directly rather than through the Service.
func (s *Service) JWTManager() *JWTManager {
	return s.jwtManager
}

// Allowlists returns the static bearer-token allowlists the service was
// constructed with, for callers outside the exchange flow — such as the
// WebSocket upgrade handler — that need to check the node allowlist directly.
func (s *Service) Allowlists() Allowlists {
	return s.allow
}
