package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/woly-io/woly/cnc/internal/db"
	"github.com/woly-io/woly/cnc/internal/repositories"
)

// parseUUID extracts and parses a UUID path parameter by name.
// Writes a 400 and returns false if the parameter is missing or malformed.
func parseUUID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := parseUUIDString(chi.URLParam(r, param))
	if err != nil {
		ErrBadRequest(w, "invalid "+param+": must be a valid UUID")
		return uuid.UUID{}, false
	}
	return id, true
}

// parseUUIDString parses a raw UUID string without writing a response,
// for callers that need to decide how to handle a bad value themselves
// (e.g. an optional query filter that should just match nothing).
func parseUUIDString(raw string) (uuid.UUID, error) {
	return uuid.Parse(raw)
}

type commandResponse struct {
	ID             string  `json:"id"`
	NodeID         string  `json:"nodeId"`
	Type           string  `json:"type"`
	State          string  `json:"state"`
	Error          string  `json:"error,omitempty"`
	Attempts       int     `json:"attempts"`
	IdempotencyKey *string `json:"idempotencyKey,omitempty"`
	CorrelationID  string  `json:"correlationId,omitempty"`
	CreatedAt      string  `json:"createdAt"`
	SentAt         *string `json:"sentAt,omitempty"`
	CompletedAt    *string `json:"completedAt,omitempty"`
}

// commandToResponse renders a persisted command for the API — used by every
// action endpoint that dispatches asynchronously and returns 202 Accepted.
func commandToResponse(cmd *db.Command) commandResponse {
	resp := commandResponse{
		ID:             cmd.ID.String(),
		NodeID:         cmd.NodeID.String(),
		Type:           cmd.Type,
		State:          cmd.State,
		Error:          cmd.Error,
		Attempts:       cmd.Attempts,
		IdempotencyKey: cmd.IdempotencyKey,
		CorrelationID:  cmd.CorrelationID,
		CreatedAt:      cmd.CreatedAt.UTC().Format(httpTimeFormat),
	}
	if cmd.SentAt != nil {
		s := cmd.SentAt.UTC().Format(httpTimeFormat)
		resp.SentAt = &s
	}
	if cmd.CompletedAt != nil {
		s := cmd.CompletedAt.UTC().Format(httpTimeFormat)
		resp.CompletedAt = &s
	}
	return resp
}

// paginationOpts reads limit and offset query parameters from the request.
// Defaults: limit=20, offset=0. Max limit is capped at 100.
func paginationOpts(r *http.Request) repositories.ListOptions {
	limit := 20
	offset := 0

	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 100 {
		limit = 100
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	return repositories.ListOptions{Limit: limit, Offset: offset}
}
