package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/woly-io/woly/cnc/internal/repositories"
	"github.com/woly-io/woly/shared/types"
)

// AdminHandler exposes operational visibility reserved for the admin role:
// fleet-wide stats and the raw command log.
type AdminHandler struct {
	nodes      repositories.NodeRepository
	commands   repositories.CommandRepository
	webhooks   repositories.WebhookRepository
	deliveries repositories.WebhookDeliveryRepository
	logger     *zap.Logger
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(
	nodes repositories.NodeRepository,
	commands repositories.CommandRepository,
	webhooks repositories.WebhookRepository,
	deliveries repositories.WebhookDeliveryRepository,
	logger *zap.Logger,
) *AdminHandler {
	return &AdminHandler{
		nodes:      nodes,
		commands:   commands,
		webhooks:   webhooks,
		deliveries: deliveries,
		logger:     logger.Named("admin_handler"),
	}
}

type statsResponse struct {
	NodesOnline               int            `json:"nodesOnline"`
	NodesTotal                int64          `json:"nodesTotal"`
	CommandsByState           map[string]int `json:"commandsByState"`
	WebhookDeliveriesByStatus map[string]int `json:"webhookDeliveriesByStatus"`
}

// allRows caps the bounded scans Stats performs. Fleets at the scale this
// system targets fit comfortably under it; a truly large deployment should
// get dedicated aggregate queries instead of this handler.
const allRows = 100000

// Stats handles GET /api/admin/stats.
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	nodes, nodesTotal, err := h.nodes.List(ctx, repositories.ListOptions{Limit: allRows})
	if err != nil {
		h.logger.Error("failed to list nodes for stats", zap.Error(err))
		ErrInternal(w)
		return
	}
	online := 0
	for i := range nodes {
		if nodes[i].Status == string(types.NodeStatusOnline) {
			online++
		}
	}

	commands, _, err := h.commands.List(ctx, repositories.ListOptions{Limit: allRows})
	if err != nil {
		h.logger.Error("failed to list commands for stats", zap.Error(err))
		ErrInternal(w)
		return
	}
	byState := map[string]int{}
	for i := range commands {
		byState[commands[i].State]++
	}

	webhooks, _, err := h.webhooks.List(ctx, repositories.ListOptions{Limit: allRows})
	if err != nil {
		h.logger.Error("failed to list webhooks for stats", zap.Error(err))
		ErrInternal(w)
		return
	}
	byStatus := map[string]int{}
	for i := range webhooks {
		deliveries, _, err := h.deliveries.ListByWebhook(ctx, webhooks[i].ID, repositories.ListOptions{Limit: allRows})
		if err != nil {
			h.logger.Error("failed to list webhook deliveries for stats",
				zap.String("webhookId", webhooks[i].ID.String()), zap.Error(err))
			continue
		}
		for j := range deliveries {
			byStatus[deliveries[j].Status]++
		}
	}

	Ok(w, statsResponse{
		NodesOnline:               online,
		NodesTotal:                nodesTotal,
		CommandsByState:           byState,
		WebhookDeliveriesByStatus: byStatus,
	})
}

type listCommandsResponse struct {
	Items []commandResponse `json:"items"`
	Total int64             `json:"total"`
}

// ListCommands handles GET /api/admin/commands.
func (h *AdminHandler) ListCommands(w http.ResponseWriter, r *http.Request) {
	rows, total, err := h.commands.List(r.Context(), paginationOpts(r))
	if err != nil {
		h.logger.Error("failed to list commands", zap.Error(err))
		ErrInternal(w)
		return
	}

	items := make([]commandResponse, len(rows))
	for i := range rows {
		items[i] = commandToResponse(&rows[i])
	}
	Ok(w, listCommandsResponse{Items: items, Total: total})
}
