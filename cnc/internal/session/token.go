package session

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrSessionTokenInvalid is returned when a session token fails signature
// verification against every configured secret, or fails to parse.
var ErrSessionTokenInvalid = errors.New("session: token invalid")

// ErrSessionTokenExpired is returned when a session token's exp has passed.
var ErrSessionTokenExpired = errors.New("session: token expired")

// sessionTokenClaims is the payload of a session token, HMAC-signed and
// base64url-encoded alongside its signature as "<payload>.<sig>". Session
// tokens are not JWTs: they are short-lived (default 60s), single-purpose
// credentials minted by a node's own /token exchange and presented only
// during the WebSocket upgrade, so a minimal hand-rolled envelope is enough
// and avoids pulling the jwt library into a second, stricter parse path.
type sessionTokenClaims struct {
	Issuer   string `json:"iss"`
	Audience string `json:"aud"`
	Subject  string `json:"sub"`
	IssuedAt int64  `json:"iat"`
	Expiry   int64  `json:"exp"`
}

// TokenIssuer mints and verifies WebSocket session tokens. It supports
// secret rotation: Sign always uses the first secret, Verify tries every
// configured secret so tokens signed before a rotation remain valid until
// they expire naturally.
type TokenIssuer struct {
	secrets  [][]byte
	issuer   string
	audience string
	ttl      time.Duration
}

// NewTokenIssuer returns a TokenIssuer. secrets must be non-empty; the first
// entry is the active signing key, the rest are accepted for verification
// only (the rotation window).
func NewTokenIssuer(secrets []string, issuer, audience string, ttl time.Duration) (*TokenIssuer, error) {
	if len(secrets) == 0 {
		return nil, errors.New("session: at least one session token secret is required")
	}
	keys := make([][]byte, len(secrets))
	for i, s := range secrets {
		keys[i] = []byte(s)
	}
	return &TokenIssuer{secrets: keys, issuer: issuer, audience: audience, ttl: ttl}, nil
}

// Sign mints a new session token for subject (the node's claimed location/id).
func (t *TokenIssuer) Sign(subject string) (string, error) {
	now := time.Now()
	claims := sessionTokenClaims{
		Issuer:   t.issuer,
		Audience: t.audience,
		Subject:  subject,
		IssuedAt: now.Unix(),
		Expiry:   now.Add(t.ttl).Unix(),
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("session: marshal claims: %w", err)
	}
	encodedPayload := base64.RawURLEncoding.EncodeToString(payload)
	sig := sign(t.secrets[0], encodedPayload)
	return encodedPayload + "." + base64.RawURLEncoding.EncodeToString(sig), nil
}

// Verify checks tok's signature against every configured secret and returns
// the embedded subject on success.
func (t *TokenIssuer) Verify(tok string) (subject string, err error) {
	dot := -1
	for i := len(tok) - 1; i >= 0; i-- {
		if tok[i] == '.' {
			dot = i
			break
		}
	}
	if dot < 0 {
		return "", ErrSessionTokenInvalid
	}
	encodedPayload, encodedSig := tok[:dot], tok[dot+1:]

	sig, err := base64.RawURLEncoding.DecodeString(encodedSig)
	if err != nil {
		return "", ErrSessionTokenInvalid
	}

	verified := false
	for _, secret := range t.secrets {
		want := sign(secret, encodedPayload)
		if subtle.ConstantTimeCompare(want, sig) == 1 {
			verified = true
			break
		}
	}
	if !verified {
		return "", ErrSessionTokenInvalid
	}

	payload, err := base64.RawURLEncoding.DecodeString(encodedPayload)
	if err != nil {
		return "", ErrSessionTokenInvalid
	}
	var claims sessionTokenClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return "", ErrSessionTokenInvalid
	}
	if claims.Issuer != t.issuer || claims.Audience != t.audience {
		return "", ErrSessionTokenInvalid
	}
	if time.Now().Unix() > claims.Expiry {
		return "", ErrSessionTokenExpired
	}
	return claims.Subject, nil
}

func sign(secret []byte, data string) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(data))
	return mac.Sum(nil)
}
