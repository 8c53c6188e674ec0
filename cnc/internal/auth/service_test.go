package auth

import (
	"testing"
	"time"

	"github.com/woly-io/woly/shared/types"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	jwtMgr, err := NewJWTManager("test-secret", "woly-cnc", "woly-api", time.Minute)
	if err != nil {
		t.Fatalf("NewJWTManager: %v", err)
	}
	return NewService(Allowlists{
		NodeTokens:     []string{"node-token"},
		OperatorTokens: []string{"operator-token"},
		AdminTokens:    []string{"admin-token"},
	}, jwtMgr)
}

func TestExchange_MatchesHighestPrivilegeRole(t *testing.T) {
	s := newTestService(t)

	_, role, _, err := s.Exchange("admin-token", "")
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	if role != types.RoleAdmin {
		t.Errorf("role = %q, want %q", role, types.RoleAdmin)
	}
}

func TestExchange_UnknownTokenRejected(t *testing.T) {
	s := newTestService(t)

	if _, _, _, err := s.Exchange("not-a-real-token", ""); err != ErrUnknownToken {
		t.Errorf("Exchange with unknown token: err = %v, want %v", err, ErrUnknownToken)
	}
}

func TestExchange_RequestedRoleDoesNotDowngrade(t *testing.T) {
	s := newTestService(t)

	// An operator token requesting the admin role must fail rather than
	// silently being issued an operator-scoped JWT instead.
	if _, _, _, err := s.Exchange("operator-token", types.RoleAdmin); err != ErrUnknownToken {
		t.Errorf("operator token requesting admin role: err = %v, want %v", err, ErrUnknownToken)
	}
}

func TestExchange_IssuesValidatableToken(t *testing.T) {
	s := newTestService(t)

	signed, role, _, err := s.Exchange("operator-token", "")
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	claims, err := s.ValidateAccessToken(signed)
	if err != nil {
		t.Fatalf("ValidateAccessToken: %v", err)
	}
	if claims.Role != string(role) {
		t.Errorf("claims.Role = %q, want %q", claims.Role, role)
	}
}

func TestContainsToken(t *testing.T) {
	list := []string{"a", "bb", "ccc"}
	if !ContainsToken(list, "bb") {
		t.Error("expected list to contain \"bb\"")
	}
	if ContainsToken(list, "missing") {
		t.Error("list should not contain \"missing\"")
	}
}
