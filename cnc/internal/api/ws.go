package api

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/woly-io/woly/cnc/internal/auth"
	"github.com/woly-io/woly/cnc/internal/session"
)

// WSHandler handles the node upgrade endpoint GET /ws. It authenticates the
// upgrade request before handing off to session.Upgrade, then runs the
// connection's read/write pumps for the life of the socket.
type WSHandler struct {
	sessions        *session.Manager
	tokens          *session.TokenIssuer
	nodeAuthTokens  []string
	allowQueryToken bool
	logger          *zap.Logger
}

// NewWSHandler creates a new WSHandler. tokens verifies short-lived session
// tokens; nodeAuthTokens is the static allowlist accepted alongside them.
func NewWSHandler(sessions *session.Manager, tokens *session.TokenIssuer, nodeAuthTokens []string, allowQueryToken bool, logger *zap.Logger) *WSHandler {
	return &WSHandler{
		sessions:        sessions,
		tokens:          tokens,
		nodeAuthTokens:  nodeAuthTokens,
		allowQueryToken: allowQueryToken,
		logger:          logger.Named("ws_handler"),
	}
}

// ServeWS handles GET /ws.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	token, ok := h.extractToken(r)
	if !ok {
		http.Error(w, "missing credentials", http.StatusUnauthorized)
		return
	}
	if !h.authenticate(token) {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	remoteIP := clientIP(r)
	if !h.sessions.TryAcceptFromIP(remoteIP) {
		http.Error(w, "too many connections from this address", http.StatusTooManyRequests)
		return
	}

	conn, err := session.Upgrade(h.sessions, w, r, h.logger)
	if err != nil {
		h.sessions.ReleaseIP(remoteIP)
		h.logger.Warn("websocket upgrade failed", zap.Error(err), zap.String("remoteIP", remoteIP))
		return
	}
	defer h.sessions.ReleaseIP(remoteIP)

	conn.Run()
}

// authenticate accepts token if it matches either the static node auth
// allowlist or a currently-valid session token.
func (h *WSHandler) authenticate(token string) bool {
	if auth.ContainsToken(h.nodeAuthTokens, token) {
		return true
	}
	if h.tokens != nil {
		if _, err := h.tokens.Verify(token); err == nil {
			return true
		}
	}
	return false
}

// extractToken tries, in order: the Authorization header, a "bearer,<token>"
// or "bearer.<token>" Sec-WebSocket-Protocol entry, and (if enabled) the
// "token" query parameter.
func (h *WSHandler) extractToken(r *http.Request) (string, bool) {
	if hdr := r.Header.Get("Authorization"); hdr != "" {
		const prefix = "Bearer "
		if strings.HasPrefix(hdr, prefix) {
			return strings.TrimPrefix(hdr, prefix), true
		}
	}

	protos := websocketProtocols(r)
	for i, proto := range protos {
		proto = strings.TrimSpace(proto)
		// "bearer,<token>" arrives as two comma-separated header entries.
		if proto == "bearer" && i+1 < len(protos) {
			return strings.TrimSpace(protos[i+1]), true
		}
		if strings.HasPrefix(proto, "bearer.") {
			return proto[len("bearer."):], true
		}
	}

	if h.allowQueryToken {
		if tok := r.URL.Query().Get("token"); tok != "" {
			return tok, true
		}
	}

	return "", false
}

func websocketProtocols(r *http.Request) []string {
	header := r.Header.Get("Sec-WebSocket-Protocol")
	if header == "" {
		return nil
	}
	return strings.Split(header, ",")
}
