// Package auth issues and verifies the short-lived HS256 JWTs that gate the
// HTTP API. There is no user database: identity is a bearer token checked
// against one of three static allowlists (node, operator, admin), and the
// token-exchange endpoint trades that bearer token for a JWT carrying the
// matched role.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/woly-io/woly/shared/types"
)

// Claims holds the custom JWT claims embedded in every issued access token.
type Claims struct {
	jwt.RegisteredClaims

	// Role is the single role this token was issued for.
	Role string `json:"role"`

	// Roles mirrors Role as a one-element slice for clients that expect a
	// role list rather than a scalar.
	Roles []string `json:"roles"`
}

// JWTManager handles HS256 signing and verification of access tokens issued
// by the token-exchange endpoint.
type JWTManager struct {
	secret   []byte
	issuer   string
	audience string
	ttl      time.Duration
}

// NewJWTManager returns a JWTManager signing with secret and the given
// issuer/audience/ttl. secret must be non-empty.
func NewJWTManager(secret, issuer, audience string, ttl time.Duration) (*JWTManager, error) {
	if secret == "" {
		return nil, errors.New("auth: JWT secret must not be empty")
	}
	return &JWTManager{
		secret:   []byte(secret),
		issuer:   issuer,
		audience: audience,
		ttl:      ttl,
	}, nil
}

// IssueToken creates a signed HS256 JWT for subject with the given role.
func (m *JWTManager) IssueToken(subject string, role types.Role) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(m.ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Audience:  jwt.ClaimStrings{m.audience},
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
		Role:  string(role),
		Roles: []string{string(role)},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: signing access token: %w", err)
	}
	return signed, expiresAt, nil
}

// ValidateAccessToken parses and verifies a JWT string, rejecting anything
// not signed with HS256 to block algorithm-confusion attacks.
func (m *JWTManager) ValidateAccessToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenString,
		&Claims{},
		func(t *jwt.Token) (any, error) {
			if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", t.Header["alg"])
			}
			return m.secret, nil
		},
		jwt.WithIssuer(m.issuer),
		jwt.WithAudience(m.audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}
