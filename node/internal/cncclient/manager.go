// Package cncclient manages the node agent's persistent WebSocket connection
// to the C&C service. It handles:
//   - Auth mode selection (static token vs minted session token) and refresh
//   - Registration and the heartbeat loop
//   - Inbound command dispatch (wake, scan, host CRUD, power commands)
//   - Outbound host lifecycle events forwarded from the discovery pipeline
//   - Automatic reconnection with exponential backoff and jitter
//
// State persistence: the node's own generated ID and any minted session
// token are written to <state-dir>/node-state.json after every change, via
// atomic temp-file-then-rename, so a restart does not re-register from
// scratch while a session token is still valid.
package cncclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/woly-io/woly/node/internal/discovery"
	"github.com/woly-io/woly/node/internal/localdb"
	"github.com/woly-io/woly/node/internal/metrics"
	"github.com/woly-io/woly/shared/protocol"
)

const (
	backoffInitial = 1 * time.Second
	backoffMax     = 60 * time.Second
	backoffFactor  = 2.0
	// jitterFraction adds up to +/-20% random jitter to each backoff interval
	// to avoid a thundering herd when many nodes reconnect at once.
	jitterFraction = 0.2

	// refreshBufferSeconds is how far ahead of expiry a session token is
	// renewed, so an in-flight connection attempt never presents one that
	// expires mid-handshake.
	refreshBufferSeconds = 30

	writeTimeout = 10 * time.Second
)

// Config holds everything needed to connect to C&C and identify this node.
type Config struct {
	// ServerURL is the ws:// or wss:// URL of the C&C upgrade endpoint.
	ServerURL string
	// StaticToken is the node auth token, used directly when SessionTokenURL
	// is empty and as the bearer presented when minting a session token.
	StaticToken string
	// SessionTokenURL, if set, is the HTTP endpoint that mints short-lived
	// session tokens from StaticToken. Preferred over presenting the static
	// token on every connection.
	SessionTokenURL string

	Name     string
	Location string
	Version  string

	StateDir string

	// ReconnectInterval is the base reconnect delay; actual delay backs off
	// exponentially from here up to backoffMax, with jitter applied.
	ReconnectInterval time.Duration
	// MaxReconnectAttempts caps consecutive failed attempts; 0 means retry
	// forever.
	MaxReconnectAttempts int
}

// nodeState is persisted to disk across restarts.
type nodeState struct {
	NodeID                string    `json:"nodeId"`
	SessionToken          string    `json:"sessionToken,omitempty"`
	SessionTokenExpiresAt time.Time `json:"sessionTokenExpiresAt,omitempty"`
}

func stateFilePath(stateDir string) string {
	return filepath.Join(stateDir, "node-state.json")
}

func loadState(stateDir string) (nodeState, error) {
	data, err := os.ReadFile(stateFilePath(stateDir))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nodeState{}, nil
		}
		return nodeState{}, fmt.Errorf("cncclient: read state file: %w", err)
	}
	var s nodeState
	if err := json.Unmarshal(data, &s); err != nil {
		return nodeState{}, fmt.Errorf("cncclient: corrupted state file: %w", err)
	}
	return s, nil
}

func saveState(stateDir string, s nodeState) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("cncclient: marshal state: %w", err)
	}
	if err := os.MkdirAll(stateDir, 0750); err != nil {
		return fmt.Errorf("cncclient: create state dir: %w", err)
	}
	tmp, err := os.CreateTemp(stateDir, "node-state.*.tmp")
	if err != nil {
		return fmt.Errorf("cncclient: create temp state file: %w", err)
	}
	tmpPath := tmp.Name()
	ok := false
	defer func() {
		if !ok {
			os.Remove(tmpPath)
		}
	}()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("cncclient: write state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("cncclient: close temp state file: %w", err)
	}
	if err := os.Rename(tmpPath, stateFilePath(stateDir)); err != nil {
		return fmt.Errorf("cncclient: rename state file: %w", err)
	}
	ok = true
	return nil
}

// Manager maintains the persistent WebSocket connection to C&C. It
// implements discovery.Emitter so the discovery pipeline can forward host
// lifecycle events without knowing about the transport.
type Manager struct {
	cfg    Config
	hosts  localdb.HostRepository
	logger *zap.Logger

	mu          sync.RWMutex
	conn        *websocket.Conn
	writeMu     sync.Mutex
	state       nodeState
	authRevoked bool
	scanner     scanTrigger
}

// New creates a Manager. Call Run to start the connection loop.
func New(cfg Config, hosts localdb.HostRepository, logger *zap.Logger) (*Manager, error) {
	state, err := loadState(cfg.StateDir)
	if err != nil {
		logger.Warn("failed to load node state, starting fresh", zap.Error(err))
	}
	if state.NodeID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return nil, fmt.Errorf("cncclient: generate node id: %w", err)
		}
		state.NodeID = id.String()
		if err := saveState(cfg.StateDir, state); err != nil {
			logger.Warn("failed to persist new node id", zap.Error(err))
		}
	}

	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = backoffInitial
	}

	return &Manager{
		cfg:    cfg,
		hosts:  hosts,
		logger: logger.Named("cncclient"),
		state:  state,
	}, nil
}

// Run starts the connection loop. It connects, registers, and runs the
// heartbeat and read pump. On any error it reconnects with exponential
// backoff. Blocks until ctx is cancelled, the server permanently revokes
// this node's credentials, or MaxReconnectAttempts (when > 0) consecutive
// connection attempts have failed.
func (m *Manager) Run(ctx context.Context) {
	backoff := m.cfg.ReconnectInterval
	attempts := 0

	for {
		if ctx.Err() != nil {
			m.logger.Info("cncclient stopped")
			return
		}
		m.mu.RLock()
		revoked := m.authRevoked
		m.mu.RUnlock()
		if revoked {
			m.logger.Error("credentials revoked by server, not reconnecting")
			return
		}

		m.logger.Info("connecting to C&C", zap.String("url", m.cfg.ServerURL))

		refreshSession, err := m.connect(ctx)
		if err != nil {
			attempts++
			if m.cfg.MaxReconnectAttempts > 0 && attempts >= m.cfg.MaxReconnectAttempts {
				m.logger.Error("max reconnect attempts reached, giving up", zap.Int("attempts", attempts))
				return
			}
			m.logger.Warn("connection failed, retrying", zap.Error(err), zap.Duration("backoff", backoff))
			select {
			case <-ctx.Done():
				return
			case <-time.After(jitter(backoff)):
			}
			backoff = nextBackoff(backoff)
			continue
		}

		attempts = 0
		backoff = m.cfg.ReconnectInterval
		if refreshSession {
			m.mu.Lock()
			m.state.SessionToken = ""
			m.state.SessionTokenExpiresAt = time.Time{}
			m.mu.Unlock()
		}
	}
}

// connect establishes one session: dial, register, run heartbeat + read pump
// until the session ends. The bool return reports whether the caller should
// force a session-token refresh before the next attempt (close code 4001).
func (m *Manager) connect(ctx context.Context) (bool, error) {
	token, err := m.resolveToken(ctx)
	if err != nil {
		return false, fmt.Errorf("resolve auth token: %w", err)
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, m.cfg.ServerURL, header)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	m.mu.Lock()
	m.conn = conn
	m.mu.Unlock()

	if err := m.register(conn); err != nil {
		return false, fmt.Errorf("register: %w", err)
	}

	heartbeatCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	readErr := make(chan error, 1)
	go func() { readErr <- m.readPump(heartbeatCtx, conn) }()

	select {
	case err := <-readErr:
		refresh := websocket.IsCloseError(err, 4001)
		return refresh, err
	case <-ctx.Done():
		return false, nil
	}
}

// resolveToken returns the static token directly, or mints/reuses a session
// token when SessionTokenURL is configured.
func (m *Manager) resolveToken(ctx context.Context) (string, error) {
	if m.cfg.SessionTokenURL == "" {
		return m.cfg.StaticToken, nil
	}

	m.mu.RLock()
	token := m.state.SessionToken
	expiresAt := m.state.SessionTokenExpiresAt
	m.mu.RUnlock()

	if token != "" && time.Until(expiresAt) > refreshBufferSeconds*time.Second {
		return token, nil
	}

	return m.mintSessionToken(ctx)
}

type sessionTokenResponse struct {
	Token             string `json:"token"`
	ExpiresInSeconds  int    `json:"expiresInSeconds"`
}

func (m *Manager) mintSessionToken(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.SessionTokenURL, bytes.NewReader([]byte("{}")))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+m.cfg.StaticToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		m.logger.Warn("session token endpoint unreachable", zap.Error(err))
		return "", fmt.Errorf("auth-unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		m.mu.Lock()
		m.authRevoked = true
		m.mu.Unlock()
		m.logger.Error("session token request rejected, credentials revoked", zap.Int("status", resp.StatusCode))
		return "", errors.New("auth-revoked")
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("auth-unavailable: unexpected status %d", resp.StatusCode)
	}

	var body sessionTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("auth-unavailable: decode response: %w", err)
	}

	m.mu.Lock()
	m.state.SessionToken = body.Token
	m.state.SessionTokenExpiresAt = time.Now().Add(time.Duration(body.ExpiresInSeconds) * time.Second)
	state := m.state
	m.mu.Unlock()

	if err := saveState(m.cfg.StateDir, state); err != nil {
		m.logger.Warn("failed to persist session token", zap.Error(err))
	}

	return body.Token, nil
}

// register sends the register frame and waits for the registered reply,
// which carries the heartbeat interval to use for the rest of the session.
func (m *Manager) register(conn *websocket.Conn) error {
	m.mu.RLock()
	nodeID := m.state.NodeID
	m.mu.RUnlock()

	data := protocol.RegisterData{
		NodeID:          nodeID,
		Name:            m.cfg.Name,
		Location:        m.cfg.Location,
		ProtocolVersion: protocol.SupportedProtocolVersions[len(protocol.SupportedProtocolVersions)-1],
		Metadata: protocol.RegisterMetadata{
			Version:     m.cfg.Version,
			Platform:    runtime.GOOS + "/" + runtime.GOARCH,
			NetworkInfo: localNetworkInfo(),
		},
	}
	if err := m.sendFrame(conn, protocol.TypeRegister, "", data); err != nil {
		return err
	}

	var frame protocol.Frame
	if err := conn.ReadJSON(&frame); err != nil {
		return fmt.Errorf("read registered reply: %w", err)
	}
	if frame.Type == protocol.TypeErrorFrame {
		var errData protocol.ErrorData
		json.Unmarshal(frame.Data, &errData)
		return fmt.Errorf("registration rejected: %s: %s", errData.Code, errData.Message)
	}
	if frame.Type != protocol.TypeRegistered {
		return fmt.Errorf("expected registered frame, got %q", frame.Type)
	}

	var registered protocol.RegisteredData
	if err := json.Unmarshal(frame.Data, &registered); err != nil {
		return fmt.Errorf("decode registered frame: %w", err)
	}

	interval := time.Duration(registered.HeartbeatInterval) * time.Millisecond
	if interval <= 0 {
		interval = 30 * time.Second
	}
	go m.heartbeatLoop(context.Background(), conn, interval)

	m.logger.Info("registered with C&C", zap.String("node_id", nodeID), zap.Duration("heartbeat_interval", interval))
	return nil
}

func (m *Manager) heartbeatLoop(ctx context.Context, conn *websocket.Conn, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := metrics.Collect(ctx)
			data := protocol.HeartbeatData{
				Timestamp:   time.Now().UnixMilli(),
				CPUPercent:  snap.CPUPercent,
				MemPercent:  snap.MemPercent,
				DiskPercent: snap.DiskPercent,
			}
			if err := m.sendFrame(conn, protocol.TypeHeartbeat, "", data); err != nil {
				m.logger.Warn("heartbeat send failed", zap.Error(err))
				return
			}
		}
	}
}

// readPump processes inbound command frames until the connection closes.
func (m *Manager) readPump(ctx context.Context, conn *websocket.Conn) error {
	for {
		var frame protocol.Frame
		if err := conn.ReadJSON(&frame); err != nil {
			return err
		}

		payload, err := protocol.Validate(frame, protocol.DirectionOutbound)
		if err != nil {
			m.logger.Warn("dropping invalid inbound frame", zap.String("type", frame.Type), zap.Error(err))
			continue
		}

		m.dispatchCommand(ctx, conn, frame, payload)
	}
}

func (m *Manager) dispatchCommand(ctx context.Context, conn *websocket.Conn, frame protocol.Frame, payload any) {
	switch frame.Type {
	case protocol.TypePing:
		m.sendFrame(conn, protocol.TypePing, "", protocol.PingData{})
		return
	case protocol.TypeErrorFrame:
		data := payload.(*protocol.ErrorData)
		m.logger.Warn("error frame from C&C", zap.String("code", data.Code), zap.String("message", data.Message))
		return
	}

	result := m.runCommand(ctx, frame.Type, payload)
	result.CommandID = frame.CommandID
	result.Timestamp = time.Now().UnixMilli()
	if err := m.sendFrame(conn, protocol.TypeCommandResult, "", result); err != nil {
		m.logger.Warn("failed to send command result", zap.String("command_id", frame.CommandID), zap.Error(err))
	}
}

func (m *Manager) runCommand(ctx context.Context, frameType string, payload any) protocol.CommandResultData {
	switch frameType {
	case protocol.TypeWake:
		return m.handleWake(ctx, payload.(*protocol.WakeData))
	case protocol.TypeScan:
		return m.handleScan(ctx, payload.(*protocol.ScanData))
	case protocol.TypeUpdateHost:
		return m.handleUpdateHost(ctx, payload.(*protocol.UpdateHostData))
	case protocol.TypeDeleteHost:
		return m.handleDeleteHost(ctx, payload.(*protocol.DeleteHostData))
	case protocol.TypeScanHostPorts:
		return m.handleScanHostPorts(ctx, payload.(*protocol.ScanHostPortsData))
	case protocol.TypePingHost:
		return m.handlePingHost(ctx, payload.(*protocol.HostTargetData))
	case protocol.TypeSleepHost:
		return m.handleSleepHost(ctx, payload.(*protocol.HostTargetData))
	case protocol.TypeShutdownHost:
		return m.handleShutdownHost(ctx, payload.(*protocol.HostTargetData))
	default:
		return notImplemented()
	}
}

func notImplemented() protocol.CommandResultData {
	return protocol.CommandResultData{Success: false, Error: "not_implemented"}
}

func (m *Manager) handleWake(ctx context.Context, data *protocol.WakeData) protocol.CommandResultData {
	port := 9
	if host, err := m.hosts.GetByName(ctx, data.HostName); err == nil && host.WOLPort > 0 {
		port = host.WOLPort
	}
	if err := discovery.SendMagicPacket(data.MAC, port); err != nil {
		return protocol.CommandResultData{Success: false, Error: err.Error()}
	}
	return protocol.CommandResultData{Success: true, Message: "magic packet sent"}
}

// scanTrigger is satisfied by *discovery.Scanner; set via SetScanner once the
// scanner exists, breaking the cncclient<->discovery construction cycle the
// same way the C&C session manager and node manager break theirs.
type scanTrigger interface {
	TriggerScan(ctx context.Context)
}

func (m *Manager) handleScan(ctx context.Context, data *protocol.ScanData) protocol.CommandResultData {
	m.mu.RLock()
	scanner := m.scanner
	m.mu.RUnlock()
	if scanner == nil {
		return protocol.CommandResultData{Success: false, Error: "scanner not ready"}
	}

	if data.Immediate {
		scanner.TriggerScan(ctx)
		return protocol.CommandResultData{Success: true, Message: "scan complete"}
	}

	go scanner.TriggerScan(context.Background())
	return protocol.CommandResultData{Success: true, Message: "scan scheduled"}
}

func (m *Manager) handleUpdateHost(ctx context.Context, data *protocol.UpdateHostData) protocol.CommandResultData {
	lookupName := data.CurrentName
	if lookupName == "" {
		lookupName = data.Name
	}
	host, err := m.hosts.GetByName(ctx, lookupName)
	if err != nil {
		return protocol.CommandResultData{Success: false, Error: err.Error()}
	}

	host.Name = data.Name
	if data.MAC != nil {
		host.MAC = discovery.NormalizeMAC(*data.MAC)
	}
	if data.IP != nil {
		host.IP = *data.IP
	}
	if data.Status != nil {
		host.Status = *data.Status
	}

	if err := m.hosts.UpsertByMAC(ctx, host); err != nil {
		return protocol.CommandResultData{Success: false, Error: err.Error()}
	}
	return protocol.CommandResultData{Success: true}
}

func (m *Manager) handleDeleteHost(ctx context.Context, data *protocol.DeleteHostData) protocol.CommandResultData {
	if err := m.hosts.Delete(ctx, data.Name); err != nil {
		return protocol.CommandResultData{Success: false, Error: err.Error()}
	}
	return protocol.CommandResultData{Success: true}
}

var defaultScanPorts = []int{22, 80, 443, 3389, 5900, 8080, 9100}

func (m *Manager) handleScanHostPorts(ctx context.Context, data *protocol.ScanHostPortsData) protocol.CommandResultData {
	host, err := m.hosts.GetByName(ctx, data.Name)
	if err != nil {
		return protocol.CommandResultData{Success: false, Error: err.Error()}
	}

	ports := data.Ports
	if len(ports) == 0 {
		ports = defaultScanPorts
	}

	var open []string
	for _, port := range ports {
		addr := fmt.Sprintf("%s:%d", host.IP, port)
		conn, err := net.DialTimeout("tcp", addr, 800*time.Millisecond)
		if err != nil {
			continue
		}
		conn.Close()
		open = append(open, fmt.Sprintf("%d", port))
	}

	return protocol.CommandResultData{Success: true, Message: strings.Join(open, ",")}
}

func (m *Manager) handlePingHost(ctx context.Context, data *protocol.HostTargetData) protocol.CommandResultData {
	host, err := m.hosts.GetByName(ctx, data.Name)
	if err != nil {
		return protocol.CommandResultData{Success: false, Error: err.Error()}
	}
	if discovery.PingHost(ctx, host.IP) {
		return protocol.CommandResultData{Success: true, Message: "responsive"}
	}
	return protocol.CommandResultData{Success: true, Message: "unresponsive"}
}

func (m *Manager) handleSleepHost(ctx context.Context, data *protocol.HostTargetData) protocol.CommandResultData {
	// Sleep only makes sense for this node's own machine, not a remote host
	// on the LAN, since the agent has no remote-exec channel to it.
	if !m.isLocalTarget(data.Name) {
		return notImplemented()
	}
	if err := runPowerCommand(sleepCommand()); err != nil {
		return protocol.CommandResultData{Success: false, Error: err.Error()}
	}
	return protocol.CommandResultData{Success: true}
}

func (m *Manager) handleShutdownHost(ctx context.Context, data *protocol.HostTargetData) protocol.CommandResultData {
	if !m.isLocalTarget(data.Name) {
		return notImplemented()
	}
	if err := runPowerCommand(shutdownCommand()); err != nil {
		return protocol.CommandResultData{Success: false, Error: err.Error()}
	}
	return protocol.CommandResultData{Success: true}
}

func (m *Manager) isLocalTarget(name string) bool {
	hostname, err := os.Hostname()
	return err == nil && strings.EqualFold(hostname, name)
}

// SetScanner wires the discovery scanner in after construction, breaking the
// Manager<->Scanner circular dependency (Scanner needs an Emitter, which is
// this Manager; the scan command handler needs the Scanner).
func (m *Manager) SetScanner(s scanTrigger) {
	m.mu.Lock()
	m.scanner = s
	m.mu.Unlock()
}

func (m *Manager) sendFrame(conn *websocket.Conn, frameType, commandID string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("cncclient: marshal %s frame: %w", frameType, err)
	}
	frame := protocol.Frame{Type: frameType, Data: raw, CommandID: commandID}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(frame)
}

// --- discovery.Emitter ---

func (m *Manager) HostDiscovered(ctx context.Context, host discovery.HostSnapshot) {
	m.emitHostEvent(protocol.TypeHostDiscovered, host)
}

func (m *Manager) HostUpdated(ctx context.Context, host discovery.HostSnapshot) {
	m.emitHostEvent(protocol.TypeHostUpdated, host)
}

func (m *Manager) HostRemoved(ctx context.Context, name string) {
	m.withConn(func(conn *websocket.Conn) {
		m.sendFrame(conn, protocol.TypeHostRemoved, "", protocol.HostRemovedData{Name: name})
	})
}

func (m *Manager) ScanComplete(ctx context.Context, hostsFound int, duration time.Duration) {
	m.withConn(func(conn *websocket.Conn) {
		m.sendFrame(conn, protocol.TypeScanComplete, "", protocol.ScanCompleteData{
			HostsFound: hostsFound,
			DurationMS: duration.Milliseconds(),
		})
	})
}

func (m *Manager) emitHostEvent(frameType string, host discovery.HostSnapshot) {
	var responsive *int
	if host.PingResponsive != nil {
		v := 0
		if *host.PingResponsive {
			v = 1
		}
		responsive = &v
	}
	m.withConn(func(conn *websocket.Conn) {
		m.sendFrame(conn, frameType, "", protocol.HostEventData{
			Name:           host.Name,
			MAC:            host.MAC,
			IP:             host.IP,
			Status:         host.Status,
			PingResponsive: responsive,
			Discovered:     host.Discovered,
		})
	})
}

func (m *Manager) withConn(fn func(conn *websocket.Conn)) {
	m.mu.RLock()
	conn := m.conn
	m.mu.RUnlock()
	if conn == nil {
		m.logger.Debug("dropping outbound event, not connected")
		return
	}
	fn(conn)
}

func localNetworkInfo() protocol.NetworkInfo {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return protocol.NetworkInfo{}
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() || ipNet.IP.To4() == nil {
			continue
		}
		return protocol.NetworkInfo{Subnet: ipNet.String()}
	}
	return protocol.NetworkInfo{}
}

func nextBackoff(current time.Duration) time.Duration {
	next := time.Duration(float64(current) * backoffFactor)
	if next > backoffMax {
		return backoffMax
	}
	return next
}

func jitter(d time.Duration) time.Duration {
	delta := float64(d) * jitterFraction
	offset := (rand.Float64()*2 - 1) * delta
	return time.Duration(float64(d) + offset)
}
