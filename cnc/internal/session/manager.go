package session

import (
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/woly-io/woly/shared/protocol"
)

// Config holds the session manager's tunables, sourced from the C&C service's
// environment configuration.
type Config struct {
	MessageRateLimitPerSec int
	MaxConnectionsPerIP    int
	HeartbeatInterval      time.Duration
	NodeTimeout            time.Duration
}

// Metrics receives counters the session manager emits. Implemented by the
// metrics package.
type Metrics interface {
	InvalidMessage(frameType, direction string)
	ConnectionOpened()
	ConnectionClosed()
	NodesOnline(n int)
	ProtocolSpoof()
}

// Handler receives validated, identity-bound node events. The nodemanager,
// hostagg, and command packages each implement the slice of this interface
// relevant to them; main wires a single struct satisfying all of it.
type Handler interface {
	// OnRegister is called once per connection, before binding. Returning an
	// error rejects the connection with CloseAuthFailed.
	OnRegister(conn *Conn, data protocol.RegisterData) error
	OnHeartbeat(conn *Conn, data protocol.HeartbeatData)
	OnHostDiscovered(conn *Conn, data protocol.HostEventData)
	OnHostUpdated(conn *Conn, data protocol.HostEventData)
	OnHostRemoved(conn *Conn, data protocol.HostRemovedData)
	OnScanComplete(conn *Conn, data protocol.ScanCompleteData)
	OnCommandResult(conn *Conn, data protocol.CommandResultData)
	OnDisconnect(location string)
}

// Manager is the registry of currently connected nodes, keyed by location
// (the human-assigned identity a node registers with). It enforces the
// Opened -> Bound state machine, per-IP connection caps, and heartbeat-based
// liveness, and routes inbound frames to Handler.
//
// Mutations to the registry happen both from readPump goroutines (one per
// connection) and from the heartbeat sweep timer, so the registry itself is
// guarded by a mutex rather than funnelled through a single event loop —
// unlike the pub/sub hub this replaces, there is no shared fan-out state
// that benefits from single-writer serialisation here.
type Manager struct {
	cfg     Config
	handler Handler
	metrics Metrics
	logger  *zap.Logger

	mu          sync.RWMutex
	byLocation  map[string]*Conn
	connsPerIP  map[string]int

	stopSweep chan struct{}
}

// NewManager returns an idle Manager. Call StartHeartbeatSweep to begin
// evicting stale connections.
func NewManager(cfg Config, handler Handler, metrics Metrics, logger *zap.Logger) *Manager {
	return &Manager{
		cfg:        cfg,
		handler:    handler,
		metrics:    metrics,
		logger:     logger,
		byLocation: make(map[string]*Conn),
		connsPerIP: make(map[string]int),
		stopSweep:  make(chan struct{}),
	}
}

// TryAcceptFromIP reserves a connection slot for remoteIP, enforcing
// MaxConnectionsPerIP. Call before Upgrade; call ReleaseIP on any exit path
// that does not reach a successful Run.
func (m *Manager) TryAcceptFromIP(remoteIP string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.connsPerIP[remoteIP] >= m.cfg.MaxConnectionsPerIP {
		return false
	}
	m.connsPerIP[remoteIP]++
	return true
}

// ReleaseIP releases a slot reserved by TryAcceptFromIP.
func (m *Manager) ReleaseIP(remoteIP string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connsPerIP[remoteIP]--
	if m.connsPerIP[remoteIP] <= 0 {
		delete(m.connsPerIP, remoteIP)
	}
}

// dispatch handles one validated inbound frame. It returns ok=false with a
// close code/reason when the frame cannot be processed (unbound connection
// sending anything but register, or a rejected register).
func (m *Manager) dispatch(c *Conn, frame protocol.Frame, payload any) (closeCode int, reason string, ok bool) {
	if frame.Type == protocol.TypeRegister {
		data, _ := payload.(*protocol.RegisterData)
		return m.handleRegister(c, data)
	}

	if c.state != stateBound {
		return CloseUnauthenticated, "register frame required first", false
	}

	switch frame.Type {
	case protocol.TypeHeartbeat:
		data, _ := payload.(*protocol.HeartbeatData)
		if data.NodeID != "" && data.NodeID != c.NodeID {
			// The bound connection identity is authoritative; a heartbeat
			// claiming a different nodeId is either a bug or an attempted
			// impersonation. The heartbeat itself still counts as liveness
			// for the bound node — only the spoofed field is rejected.
			m.metrics.ProtocolSpoof()
			m.logger.Warn("session: heartbeat nodeId does not match bound identity",
				zap.String("bound_node_id", c.NodeID), zap.String("payload_node_id", data.NodeID))
		}
		c.lastHeartbeat = time.Now()
		m.handler.OnHeartbeat(c, *data)
	case protocol.TypeHostDiscovered:
		data, _ := payload.(*protocol.HostEventData)
		m.handler.OnHostDiscovered(c, *data)
	case protocol.TypeHostUpdated:
		data, _ := payload.(*protocol.HostEventData)
		m.handler.OnHostUpdated(c, *data)
	case protocol.TypeHostRemoved:
		data, _ := payload.(*protocol.HostRemovedData)
		m.handler.OnHostRemoved(c, *data)
	case protocol.TypeScanComplete:
		data, _ := payload.(*protocol.ScanCompleteData)
		m.handler.OnScanComplete(c, *data)
	case protocol.TypeCommandResult:
		data, _ := payload.(*protocol.CommandResultData)
		m.handler.OnCommandResult(c, *data)
	default:
		return CloseBadFrame, "unhandled frame type", false
	}
	return 0, "", true
}

func (m *Manager) handleRegister(c *Conn, data *protocol.RegisterData) (int, string, bool) {
	if c.state == stateBound {
		return CloseBadFrame, "already registered", false
	}

	version := data.ProtocolVersion
	if version == "" {
		version = protocol.SupportedProtocolVersions[0]
	}
	if !protocol.IsSupportedVersion(version) {
		return CloseUnsupportedVersion, "unsupported_protocol_version", false
	}
	if protocol.IsKnownOlderVersion(version) {
		m.logger.Warn("session: node registering with older protocol version",
			zap.String("location", data.Location), zap.String("version", version))
	}

	if err := m.handler.OnRegister(c, *data); err != nil {
		return CloseAuthFailed, err.Error(), false
	}

	c.NodeID = data.NodeID
	c.Location = data.Location
	c.state = stateBound
	c.lastHeartbeat = time.Now()

	m.mu.Lock()
	if existing, found := m.byLocation[data.Location]; found {
		// A new connection for the same identity supersedes the old one.
		m.mu.Unlock()
		existing.Close(CloseSuperseded, "superseded by new connection")
		m.mu.Lock()
	}
	m.byLocation[data.Location] = c
	online := len(m.byLocation)
	m.mu.Unlock()

	m.metrics.ConnectionOpened()
	m.metrics.NodesOnline(online)

	registered, _ := json.Marshal(protocol.RegisteredData{
		NodeID:            data.NodeID,
		HeartbeatInterval: m.cfg.HeartbeatInterval.Milliseconds(),
		ProtocolVersion:   version,
	})
	c.Send(protocol.Frame{Type: protocol.TypeRegistered, Data: registered})

	return 0, "", true
}

// onDisconnect removes c from the registry if it was bound there, and
// notifies Handler so higher layers can mark the node offline.
func (m *Manager) onDisconnect(c *Conn) {
	if c.Location == "" {
		return
	}

	m.mu.Lock()
	if current, ok := m.byLocation[c.Location]; ok && current == c {
		delete(m.byLocation, c.Location)
	}
	online := len(m.byLocation)
	m.mu.Unlock()

	c.state = stateClosed
	m.metrics.ConnectionClosed()
	m.metrics.NodesOnline(online)
	m.handler.OnDisconnect(c.Location)
}

// Get returns the currently bound connection for location, if any.
func (m *Manager) Get(location string) (*Conn, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.byLocation[location]
	return c, ok
}

// OnlineLocations returns the locations of every currently bound node.
func (m *Manager) OnlineLocations() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.byLocation))
	for loc := range m.byLocation {
		out = append(out, loc)
	}
	return out
}

// StartHeartbeatSweep runs a periodic scan that closes connections whose
// last heartbeat is older than NodeTimeout, in its own goroutine. Stop with
// StopHeartbeatSweep.
func (m *Manager) StartHeartbeatSweep() {
	go func() {
		ticker := time.NewTicker(m.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.sweepStale()
			case <-m.stopSweep:
				return
			}
		}
	}()
}

// StopHeartbeatSweep stops the sweep goroutine started by StartHeartbeatSweep.
func (m *Manager) StopHeartbeatSweep() {
	close(m.stopSweep)
}

func (m *Manager) sweepStale() {
	cutoff := time.Now().Add(-m.cfg.NodeTimeout)

	m.mu.RLock()
	var stale []*Conn
	for _, c := range m.byLocation {
		if c.lastHeartbeat.Before(cutoff) {
			stale = append(stale, c)
		}
	}
	m.mu.RUnlock()

	for _, c := range stale {
		m.logger.Warn("session: node heartbeat timeout, closing connection", zap.String("location", c.Location))
		c.Close(CloseNormal, "heartbeat timeout")
	}
}
