package api

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/woly-io/woly/cnc/internal/auth"
	"github.com/woly-io/woly/shared/types"
)

// AuthHandler exchanges a static bearer token for a short-lived JWT.
type AuthHandler struct {
	svc    *auth.Service
	logger *zap.Logger
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(svc *auth.Service, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		svc:    svc,
		logger: logger.Named("auth_handler"),
	}
}

// exchangeRequest is the JSON body expected by POST /api/auth/token.
// Role is optional — when set, the token must match that specific
// allowlist or the exchange fails, rather than matching the highest
// privilege allowlist the token happens to appear in.
type exchangeRequest struct {
	Token string `json:"token"`
	Role  string `json:"role,omitempty"`
}

// exchangeResponse is the JSON body returned on successful exchange.
type exchangeResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

// Exchange handles POST /api/auth/token.
// Trades a static bearer token (node, operator, or admin) for a short-lived
// JWT. There is no user store — the bearer token is the credential.
func (h *AuthHandler) Exchange(w http.ResponseWriter, r *http.Request) {
	var req exchangeRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if req.Token == "" {
		ErrBadRequest(w, "token is required")
		return
	}

	signed, role, expiresAt, err := h.svc.Exchange(req.Token, types.Role(req.Role))
	if err != nil {
		if errors.Is(err, auth.ErrUnknownToken) {
			ErrUnauthorized(w)
			return
		}
		h.logger.Error("token exchange failed", zap.Error(err))
		ErrInternal(w)
		return
	}

	Ok(w, exchangeResponse{
		AccessToken: signed,
		Role:        string(role),
		ExpiresAt:   expiresAt.UTC().Format(httpTimeFormat),
	})
}

const httpTimeFormat = "2006-01-02T15:04:05Z07:00"
