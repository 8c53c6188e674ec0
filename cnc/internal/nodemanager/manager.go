// Package nodemanager owns the node lifecycle: persisting Node records,
// reacting to register/heartbeat/disconnect events from the session layer,
// and giving the rest of the service a way to look up whether a node is
// online and to dispatch frames to it.
package nodemanager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/woly-io/woly/cnc/internal/db"
	"github.com/woly-io/woly/cnc/internal/repositories"
	"github.com/woly-io/woly/cnc/internal/session"
	"github.com/woly-io/woly/shared/protocol"
)

// ErrNotConnected is returned by Dispatch when the target node has no open
// connection.
var ErrNotConnected = errors.New("nodemanager: node is not connected")

// Manager bridges the session layer (raw connections, keyed by location) with
// the persistent Node record. It implements session.Handler.
type Manager struct {
	nodes   repositories.NodeRepository
	session *session.Manager
	logger  *zap.Logger
}

// New returns a Manager. Call SetSessionManager once the session.Manager is
// constructed — the two have a circular dependency (the session manager needs
// a Handler, the handler needs to look up connections) broken by this setter.
func New(nodes repositories.NodeRepository, logger *zap.Logger) *Manager {
	return &Manager{nodes: nodes, logger: logger.Named("nodemanager")}
}

// SetSessionManager wires the session.Manager this Manager dispatches
// through. Must be called before any connection reaches OnRegister.
func (m *Manager) SetSessionManager(s *session.Manager) {
	m.session = s
}

// OnRegister persists or updates the Node record for a freshly authenticated
// connection. It never rejects a connection solely because the node is new —
// registration is how nodes first appear in the system.
func (m *Manager) OnRegister(conn *session.Conn, data protocol.RegisterData) error {
	ctx := context.Background()

	node, err := m.nodes.GetByLocation(ctx, data.Location)
	if err != nil {
		if !errors.Is(err, repositories.ErrNotFound) {
			return fmt.Errorf("nodemanager: lookup node: %w", err)
		}
		node = &db.Node{Location: data.Location}
	}

	node.Name = data.Name
	node.Status = string(nodeStatusOnline)
	node.ProtocolVersion = data.ProtocolVersion
	node.MetadataVersion = data.Metadata.Version
	node.MetadataPlatform = data.Metadata.Platform
	node.NetworkSubnet = data.Metadata.NetworkInfo.Subnet
	node.NetworkGateway = data.Metadata.NetworkInfo.Gateway

	caps, _ := json.Marshal(data.Capabilities)
	node.Capabilities = string(caps)

	now := time.Now()
	node.LastHeartbeatAt = &now

	if node.ID == uuid.Nil {
		if err := m.nodes.Create(ctx, node); err != nil {
			return fmt.Errorf("nodemanager: create node: %w", err)
		}
	} else {
		if err := m.nodes.Update(ctx, node); err != nil {
			return fmt.Errorf("nodemanager: update node: %w", err)
		}
	}

	m.logger.Info("node registered", zap.String("location", data.Location), zap.String("nodeId", node.ID.String()))
	return nil
}

type nodeStatus string

const (
	nodeStatusOnline  nodeStatus = "online"
	nodeStatusOffline nodeStatus = "offline"
)

// OnHeartbeat updates the node's last-heartbeat timestamp. CPU/mem/disk
// percentages in data are forwarded to the host aggregator's metrics sink by
// a separate Handler composed alongside this one; this Manager only tracks
// liveness.
func (m *Manager) OnHeartbeat(conn *session.Conn, data protocol.HeartbeatData) {
	ctx := context.Background()
	node, err := m.nodes.GetByLocation(ctx, conn.Location)
	if err != nil {
		m.logger.Warn("nodemanager: heartbeat for unknown location", zap.String("location", conn.Location))
		return
	}
	now := time.Now()
	if err := m.nodes.UpdateStatus(ctx, node.ID, string(nodeStatusOnline), &now); err != nil {
		m.logger.Warn("nodemanager: update heartbeat status", zap.Error(err))
	}
}

// OnDisconnect marks the node offline. The connection's lastHeartbeat time
// is preserved as the historical record of when the node was last seen.
func (m *Manager) OnDisconnect(location string) {
	ctx := context.Background()
	node, err := m.nodes.GetByLocation(ctx, location)
	if err != nil {
		return
	}
	if err := m.nodes.UpdateStatus(ctx, node.ID, string(nodeStatusOffline), node.LastHeartbeatAt); err != nil {
		m.logger.Warn("nodemanager: update disconnect status", zap.Error(err))
	}
	m.logger.Info("node disconnected", zap.String("location", location))
}

// IsOnline reports whether location currently has a bound connection.
func (m *Manager) IsOnline(location string) bool {
	_, ok := m.session.Get(location)
	return ok
}

// Dispatch sends frame to the node at location. Returns ErrNotConnected if no
// connection is bound for that location.
func (m *Manager) Dispatch(location string, frame protocol.Frame) error {
	conn, ok := m.session.Get(location)
	if !ok {
		return ErrNotConnected
	}
	conn.Send(frame)
	return nil
}

// GetByID returns the persisted Node record for id.
func (m *Manager) GetByID(ctx context.Context, id uuid.UUID) (*db.Node, error) {
	return m.nodes.GetByID(ctx, id)
}

// GetByLocation returns the persisted Node record for location.
func (m *Manager) GetByLocation(ctx context.Context, location string) (*db.Node, error) {
	return m.nodes.GetByLocation(ctx, location)
}

// List returns a paginated list of nodes, annotating each with live
// connection status from the session layer (the DB status column can lag by
// up to one heartbeat interval after an ungraceful disconnect).
func (m *Manager) List(ctx context.Context, opts repositories.ListOptions) ([]db.Node, int64, error) {
	nodes, total, err := m.nodes.List(ctx, opts)
	if err != nil {
		return nil, 0, err
	}
	for i := range nodes {
		if m.IsOnline(nodes[i].Location) {
			nodes[i].Status = string(nodeStatusOnline)
		} else {
			nodes[i].Status = string(nodeStatusOffline)
		}
	}
	return nodes, total, nil
}
