// Package session manages the lifecycle of a node's WebSocket connection to
// the C&C service: the HTTP upgrade and its auth, the per-connection
// read/write pumps, identity binding, heartbeat tracking, and the registry
// of currently connected nodes.
package session

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/woly-io/woly/shared/protocol"
)

const (
	// writeWait is the maximum time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// pongWait is how long the server waits for a pong reply after sending a
	// ping before declaring the connection dead.
	pongWait = 60 * time.Second

	// pingPeriod is how often the server sends a ping frame to the node.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize caps a single inbound frame. Host event frames are the
	// largest payloads a node sends; 64KiB leaves headroom for a sizeable
	// batch without letting a misbehaving node exhaust server memory.
	maxMessageSize = 64 * 1024

	// sendBufferSize is the capacity of the per-connection outbound buffer.
	// A connection whose buffer fills is considered too slow and is closed.
	sendBufferSize = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// Node connections are not browser clients; there is no Origin
		// header to police. Authentication happens via the upgrade token.
		return true
	},
}

// state is the lifecycle stage of a single connection.
type state int

const (
	stateOpened state = iota // upgraded, no register frame received yet
	stateBound                // register frame accepted, identity fixed
	stateClosed
)

// Conn wraps a single node's WebSocket connection. It owns the wire-level
// read/write pumps; the Manager owns what a frame means.
type Conn struct {
	manager *Manager
	wsConn  *websocket.Conn
	logger  *zap.Logger

	send chan protocol.Frame

	state state

	// NodeID and Location are populated once the register frame is accepted.
	// Every later frame's own nodeId field is informational only — identity
	// is fixed at bind time and never re-derived from an inbound frame, so a
	// compromised or buggy node cannot impersonate another by forging the
	// nodeId field in a heartbeat.
	NodeID   string
	Location string

	limiter *slidingWindowLimiter

	lastHeartbeat time.Time
}

// Upgrade performs the HTTP->WebSocket handshake and returns an opened,
// unbound Conn. The caller must have already authenticated the upgrade
// request (bearer/subprotocol/query token) before calling this.
func Upgrade(m *Manager, w http.ResponseWriter, r *http.Request, logger *zap.Logger) (*Conn, error) {
	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return &Conn{
		manager: m,
		wsConn:  wsConn,
		logger:  logger.With(zap.String("remote_addr", r.RemoteAddr)),
		send:    make(chan protocol.Frame, sendBufferSize),
		state:   stateOpened,
		limiter: newSlidingWindowLimiter(m.cfg.MessageRateLimitPerSec),
	}, nil
}

// Run starts the read and write pumps and blocks until the connection closes.
func (c *Conn) Run() {
	go c.writePump()
	c.readPump()
}

// Send enqueues frame for delivery. Non-blocking: if the buffer is full the
// connection is considered too slow and is force-closed.
func (c *Conn) Send(frame protocol.Frame) {
	select {
	case c.send <- frame:
	default:
		c.logger.Warn("session: send buffer full, dropping connection", zap.String("nodeId", c.NodeID))
		c.closeWithCode(CloseNormal, "send buffer full")
	}
}

// Close terminates the connection with the given close code and reason.
func (c *Conn) Close(code int, reason string) {
	c.closeWithCode(code, reason)
}

func (c *Conn) closeWithCode(code int, reason string) {
	deadline := time.Now().Add(writeWait)
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.wsConn.WriteControl(websocket.CloseMessage, msg, deadline)
	_ = c.wsConn.Close()
}

func (c *Conn) readPump() {
	defer func() {
		c.manager.onDisconnect(c)
		_ = c.wsConn.Close()
	}()

	c.wsConn.SetReadLimit(maxMessageSize)
	_ = c.wsConn.SetReadDeadline(time.Now().Add(pongWait))
	c.wsConn.SetPongHandler(func(string) error {
		return c.wsConn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.wsConn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseNoStatusReceived,
			) {
				c.logger.Warn("session: unexpected close", zap.Error(err))
			}
			return
		}

		if !c.limiter.Allow() {
			c.closeWithCode(CloseRateLimited, "message rate exceeded")
			return
		}

		var frame protocol.Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			// The dispatcher must survive an unknown or malformed frame: drop
			// it and keep reading rather than tearing down the connection.
			c.manager.metrics.InvalidMessage("unknown", "inbound")
			continue
		}

		payload, err := protocol.Validate(frame, protocol.DirectionInbound)
		if err != nil {
			c.manager.metrics.InvalidMessage(frame.Type, "inbound")
			continue
		}

		if closeCode, reason, ok := c.manager.dispatch(c, frame, payload); !ok {
			c.closeWithCode(closeCode, reason)
			return
		}
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.wsConn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.wsConn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.wsConn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.wsConn.WriteJSON(frame); err != nil {
				c.logger.Warn("session: write error", zap.Error(err))
				return
			}

		case <-ticker.C:
			_ = c.wsConn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.wsConn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Warn("session: ping error", zap.Error(err))
				return
			}
		}
	}
}
