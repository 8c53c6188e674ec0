package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/woly-io/woly/cnc/internal/db"
	"github.com/woly-io/woly/cnc/internal/repositories"
)

// WebhookHandler exposes CRUD for outbound webhook subscriptions and their
// delivery history.
type WebhookHandler struct {
	repo       repositories.WebhookRepository
	deliveries repositories.WebhookDeliveryRepository
	logger     *zap.Logger
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(repo repositories.WebhookRepository, deliveries repositories.WebhookDeliveryRepository, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{repo: repo, deliveries: deliveries, logger: logger.Named("webhook_handler")}
}

type webhookRequest struct {
	URL    string   `json:"url"`
	Events []string `json:"events"`
	Secret string   `json:"secret,omitempty"`
}

type webhookResponse struct {
	ID        string   `json:"id"`
	URL       string   `json:"url"`
	Events    []string `json:"events"`
	HasSecret bool     `json:"hasSecret"`
	CreatedAt string   `json:"createdAt"`
}

func webhookToResponse(w *db.WebhookSubscription) webhookResponse {
	var events []string
	_ = json.Unmarshal([]byte(w.Events), &events)
	return webhookResponse{
		ID:        w.ID.String(),
		URL:       w.URL,
		Events:    events,
		HasSecret: w.Secret != "",
		CreatedAt: w.CreatedAt.UTC().Format(httpTimeFormat),
	}
}

type listWebhooksResponse struct {
	Items []webhookResponse `json:"items"`
	Total int64             `json:"total"`
}

// List handles GET /api/webhooks.
func (h *WebhookHandler) List(w http.ResponseWriter, r *http.Request) {
	rows, total, err := h.repo.List(r.Context(), paginationOpts(r))
	if err != nil {
		h.logger.Error("failed to list webhooks", zap.Error(err))
		ErrInternal(w)
		return
	}

	items := make([]webhookResponse, len(rows))
	for i := range rows {
		items[i] = webhookToResponse(&rows[i])
	}
	Ok(w, listWebhooksResponse{Items: items, Total: total})
}

// Create handles POST /api/webhooks.
func (h *WebhookHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req webhookRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.URL == "" {
		ErrBadRequest(w, "url is required")
		return
	}
	if len(req.Events) == 0 {
		ErrBadRequest(w, "events must contain at least one event type")
		return
	}

	eventsJSON, err := json.Marshal(req.Events)
	if err != nil {
		ErrBadRequest(w, "invalid events list")
		return
	}

	sub := &db.WebhookSubscription{
		URL:    req.URL,
		Events: string(eventsJSON),
		Secret: db.EncryptedString(req.Secret),
	}
	if err := h.repo.Create(r.Context(), sub); err != nil {
		h.logger.Error("failed to create webhook", zap.Error(err))
		ErrInternal(w)
		return
	}

	Created(w, webhookToResponse(sub))
}

// GetByID handles GET /api/webhooks/{id}.
func (h *WebhookHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, "id")
	if !ok {
		return
	}

	sub, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("failed to get webhook", zap.String("id", id.String()), zap.Error(err))
		ErrInternal(w)
		return
	}
	Ok(w, webhookToResponse(sub))
}

// Delete handles DELETE /api/webhooks/{id}.
func (h *WebhookHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, "id")
	if !ok {
		return
	}

	if err := h.repo.Delete(r.Context(), id); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("failed to delete webhook", zap.String("id", id.String()), zap.Error(err))
		ErrInternal(w)
		return
	}
	NoContent(w)
}

type webhookDeliveryResponse struct {
	ID             string `json:"id"`
	EventType      string `json:"eventType"`
	Attempt        int    `json:"attempt"`
	Status         string `json:"status"`
	ResponseStatus int    `json:"responseStatus"`
	Error          string `json:"error,omitempty"`
	CreatedAt      string `json:"createdAt"`
}

type listWebhookDeliveriesResponse struct {
	Items []webhookDeliveryResponse `json:"items"`
	Total int64                     `json:"total"`
}

// ListDeliveries handles GET /api/webhooks/{id}/deliveries.
func (h *WebhookHandler) ListDeliveries(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, "id")
	if !ok {
		return
	}

	rows, total, err := h.deliveries.ListByWebhook(r.Context(), id, paginationOpts(r))
	if err != nil {
		h.logger.Error("failed to list webhook deliveries", zap.String("id", id.String()), zap.Error(err))
		ErrInternal(w)
		return
	}

	items := make([]webhookDeliveryResponse, len(rows))
	for i := range rows {
		items[i] = webhookDeliveryResponse{
			ID:             rows[i].ID.String(),
			EventType:      rows[i].EventType,
			Attempt:        rows[i].Attempt,
			Status:         rows[i].Status,
			ResponseStatus: rows[i].ResponseStatus,
			Error:          rows[i].Error,
			CreatedAt:      rows[i].CreatedAt.UTC().Format(httpTimeFormat),
		}
	}
	Ok(w, listWebhookDeliveriesResponse{Items: items, Total: total})
}
