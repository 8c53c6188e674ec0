package api

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/woly-io/woly/cnc/internal/db"
	"github.com/woly-io/woly/cnc/internal/hostagg"
	"github.com/woly-io/woly/cnc/internal/nodemanager"
	"github.com/woly-io/woly/cnc/internal/repositories"
)

// NodeHandler groups the node management HTTP handlers. Nodes register
// themselves over the WebSocket connection — this handler only exposes the
// resulting records for operators, plus deletion for decommissioning.
type NodeHandler struct {
	nodes  *nodemanager.Manager
	hosts  *hostagg.Aggregator
	repo   repositories.NodeRepository
	logger *zap.Logger
}

// NewNodeHandler creates a new NodeHandler.
func NewNodeHandler(nodes *nodemanager.Manager, hosts *hostagg.Aggregator, repo repositories.NodeRepository, logger *zap.Logger) *NodeHandler {
	return &NodeHandler{
		nodes:  nodes,
		hosts:  hosts,
		repo:   repo,
		logger: logger.Named("node_handler"),
	}
}

// nodeResponse is the JSON representation of a node.
type nodeResponse struct {
	ID                string  `json:"id"`
	Name              string  `json:"name"`
	Location          string  `json:"location"`
	Status            string  `json:"status"`
	LastHeartbeatAt   *string `json:"last_heartbeat_at"`
	ProtocolVersion   string  `json:"protocol_version"`
	MetadataVersion   string  `json:"metadata_version"`
	MetadataPlatform  string  `json:"metadata_platform"`
	NetworkSubnet     string  `json:"network_subnet"`
	NetworkGateway    string  `json:"network_gateway"`
	Capabilities      string  `json:"capabilities"`
	CreatedAt         string  `json:"created_at"`
}

func nodeToResponse(n *db.Node) nodeResponse {
	resp := nodeResponse{
		ID:               n.ID.String(),
		Name:             n.Name,
		Location:         n.Location,
		Status:           n.Status,
		ProtocolVersion:  n.ProtocolVersion,
		MetadataVersion:  n.MetadataVersion,
		MetadataPlatform: n.MetadataPlatform,
		NetworkSubnet:    n.NetworkSubnet,
		NetworkGateway:   n.NetworkGateway,
		Capabilities:     n.Capabilities,
		CreatedAt:        n.CreatedAt.UTC().Format(httpTimeFormat),
	}
	if n.LastHeartbeatAt != nil {
		s := n.LastHeartbeatAt.UTC().Format(httpTimeFormat)
		resp.LastHeartbeatAt = &s
	}
	return resp
}

type listNodesResponse struct {
	Items []nodeResponse `json:"items"`
	Total int64          `json:"total"`
}

// List handles GET /api/nodes.
func (h *NodeHandler) List(w http.ResponseWriter, r *http.Request) {
	nodes, total, err := h.nodes.List(r.Context(), paginationOpts(r))
	if err != nil {
		h.logger.Error("failed to list nodes", zap.Error(err))
		ErrInternal(w)
		return
	}

	items := make([]nodeResponse, len(nodes))
	for i := range nodes {
		items[i] = nodeToResponse(&nodes[i])
	}

	Ok(w, listNodesResponse{Items: items, Total: total})
}

// GetByID handles GET /api/nodes/{id}.
func (h *NodeHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, "id")
	if !ok {
		return
	}

	node, err := h.nodes.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("failed to get node", zap.String("id", id.String()), zap.Error(err))
		ErrInternal(w)
		return
	}

	Ok(w, nodeToResponse(node))
}

type nodeHealthResponse struct {
	ID              string  `json:"id"`
	Online          bool    `json:"online"`
	Status          string  `json:"status"`
	LastHeartbeatAt *string `json:"last_heartbeat_at"`
}

// Health handles GET /api/nodes/{id}/health. Reports the session manager's
// live view of the node, which can be more current than the stored Status
// column between heartbeats and the periodic offline sweep.
func (h *NodeHandler) Health(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, "id")
	if !ok {
		return
	}

	node, err := h.nodes.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("failed to get node for health check", zap.String("id", id.String()), zap.Error(err))
		ErrInternal(w)
		return
	}

	resp := nodeHealthResponse{
		ID:     node.ID.String(),
		Online: h.nodes.IsOnline(node.Location),
		Status: node.Status,
	}
	if node.LastHeartbeatAt != nil {
		s := node.LastHeartbeatAt.UTC().Format(httpTimeFormat)
		resp.LastHeartbeatAt = &s
	}

	Ok(w, resp)
}

// Delete handles DELETE /api/nodes/{id}.
// Removes the node record along with every host it reported, both from
// storage and from the in-memory aggregation projection.
func (h *NodeHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, "id")
	if !ok {
		return
	}

	node, err := h.nodes.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("failed to get node for delete", zap.String("id", id.String()), zap.Error(err))
		ErrInternal(w)
		return
	}

	if err := h.hosts.RemoveByNode(r.Context(), node.ID, node.Location); err != nil {
		h.logger.Warn("failed to remove hosts for node", zap.String("id", id.String()), zap.Error(err))
	}

	if err := h.repo.Delete(r.Context(), id); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("failed to delete node", zap.String("id", id.String()), zap.Error(err))
		ErrInternal(w)
		return
	}

	NoContent(w)
}
