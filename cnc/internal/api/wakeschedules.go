package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/woly-io/woly/cnc/internal/db"
	"github.com/woly-io/woly/cnc/internal/repositories"
	"github.com/woly-io/woly/cnc/internal/scheduleworker"
	"github.com/woly-io/woly/shared/types"
)

// WakeScheduleHandler exposes CRUD for recurring and one-shot wake
// instructions. The schedule worker, not this handler, computes NextTrigger
// and dispatches the resulting wake commands.
type WakeScheduleHandler struct {
	repo   repositories.WakeScheduleRepository
	logger *zap.Logger
}

// NewWakeScheduleHandler creates a new WakeScheduleHandler.
func NewWakeScheduleHandler(repo repositories.WakeScheduleRepository, logger *zap.Logger) *WakeScheduleHandler {
	return &WakeScheduleHandler{repo: repo, logger: logger.Named("schedule_handler")}
}

type wakeScheduleRequest struct {
	HostFQN       string `json:"hostFqn"`
	ScheduledTime string `json:"scheduledTime"`
	Timezone      string `json:"timezone,omitempty"`
	Frequency     string `json:"frequency"`
	Enabled       *bool  `json:"enabled,omitempty"`
	NotifyOnWake  bool   `json:"notifyOnWake,omitempty"`
}

type wakeScheduleResponse struct {
	ID            string  `json:"id"`
	HostFQN       string  `json:"hostFqn"`
	ScheduledTime string  `json:"scheduledTime"`
	Timezone      string  `json:"timezone"`
	Frequency     string  `json:"frequency"`
	Enabled       bool    `json:"enabled"`
	NotifyOnWake  bool    `json:"notifyOnWake"`
	LastTriggered *string `json:"lastTriggered,omitempty"`
	NextTrigger   *string `json:"nextTrigger,omitempty"`
	CreatedAt     string  `json:"createdAt"`
}

func wakeScheduleToResponse(s *db.WakeSchedule) wakeScheduleResponse {
	resp := wakeScheduleResponse{
		ID:            s.ID.String(),
		HostFQN:       s.HostFQN,
		ScheduledTime: s.ScheduledTime,
		Timezone:      s.Timezone,
		Frequency:     s.Frequency,
		Enabled:       s.Enabled,
		NotifyOnWake:  s.NotifyOnWake,
		CreatedAt:     s.CreatedAt.UTC().Format(httpTimeFormat),
	}
	resp.LastTriggered = formatOptionalTime(s.LastTriggered)
	resp.NextTrigger = formatOptionalTime(s.NextTrigger)
	return resp
}

func validFrequency(f string) bool {
	switch types.ScheduleFrequency(f) {
	case types.FrequencyOnce, types.FrequencyDaily, types.FrequencyWeekly, types.FrequencyWeekdays, types.FrequencyWeekends:
		return true
	default:
		return false
	}
}

type listWakeSchedulesResponse struct {
	Items []wakeScheduleResponse `json:"items"`
	Total int64                  `json:"total"`
}

// List handles GET /api/schedules.
func (h *WakeScheduleHandler) List(w http.ResponseWriter, r *http.Request) {
	rows, total, err := h.repo.List(r.Context(), paginationOpts(r))
	if err != nil {
		h.logger.Error("failed to list wake schedules", zap.Error(err))
		ErrInternal(w)
		return
	}

	items := make([]wakeScheduleResponse, len(rows))
	for i := range rows {
		items[i] = wakeScheduleToResponse(&rows[i])
	}
	Ok(w, listWakeSchedulesResponse{Items: items, Total: total})
}

// ListByHost handles GET /api/hosts/{fqn}/schedules.
func (h *WakeScheduleHandler) ListByHost(w http.ResponseWriter, r *http.Request) {
	fqn := chi.URLParam(r, "fqn")
	rows, err := h.repo.ListByHost(r.Context(), fqn)
	if err != nil {
		h.logger.Error("failed to list wake schedules by host", zap.String("fqn", fqn), zap.Error(err))
		ErrInternal(w)
		return
	}

	items := make([]wakeScheduleResponse, len(rows))
	for i := range rows {
		items[i] = wakeScheduleToResponse(&rows[i])
	}
	Ok(w, listWakeSchedulesResponse{Items: items, Total: int64(len(items))})
}

// GetByID handles GET /api/schedules/{id}.
func (h *WakeScheduleHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, "id")
	if !ok {
		return
	}

	s, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("failed to get wake schedule", zap.String("id", id.String()), zap.Error(err))
		ErrInternal(w)
		return
	}
	Ok(w, wakeScheduleToResponse(s))
}

// Create handles POST /api/schedules.
func (h *WakeScheduleHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req wakeScheduleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.HostFQN == "" || req.ScheduledTime == "" {
		ErrBadRequest(w, "hostFqn and scheduledTime are required")
		return
	}
	if !validFrequency(req.Frequency) {
		ErrBadRequest(w, "frequency must be one of once, daily, weekly, weekdays, weekends")
		return
	}

	tz := req.Timezone
	if tz == "" {
		tz = "UTC"
	}

	s := &db.WakeSchedule{
		HostFQN:       req.HostFQN,
		ScheduledTime: req.ScheduledTime,
		Timezone:      tz,
		Frequency:     req.Frequency,
		Enabled:       req.Enabled == nil || *req.Enabled,
		NotifyOnWake:  req.NotifyOnWake,
	}
	next, err := scheduleworker.ComputeNextTrigger(s, nil)
	if err != nil {
		ErrBadRequest(w, err.Error())
		return
	}
	s.NextTrigger = next

	if err := h.repo.Create(r.Context(), s); err != nil {
		h.logger.Error("failed to create wake schedule", zap.Error(err))
		ErrInternal(w)
		return
	}

	Created(w, wakeScheduleToResponse(s))
}

// Update handles PUT /api/schedules/{id}.
func (h *WakeScheduleHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, "id")
	if !ok {
		return
	}

	s, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("failed to get wake schedule for update", zap.String("id", id.String()), zap.Error(err))
		ErrInternal(w)
		return
	}

	var req wakeScheduleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.HostFQN == "" || req.ScheduledTime == "" {
		ErrBadRequest(w, "hostFqn and scheduledTime are required")
		return
	}
	if !validFrequency(req.Frequency) {
		ErrBadRequest(w, "frequency must be one of once, daily, weekly, weekdays, weekends")
		return
	}

	tz := req.Timezone
	if tz == "" {
		tz = "UTC"
	}

	s.HostFQN = req.HostFQN
	s.ScheduledTime = req.ScheduledTime
	s.Timezone = tz
	s.Frequency = req.Frequency
	if req.Enabled != nil {
		s.Enabled = *req.Enabled
	}
	s.NotifyOnWake = req.NotifyOnWake

	next, err := scheduleworker.ComputeNextTrigger(s, nil)
	if err != nil {
		ErrBadRequest(w, err.Error())
		return
	}
	s.NextTrigger = next

	if err := h.repo.Update(r.Context(), s); err != nil {
		h.logger.Error("failed to update wake schedule", zap.String("id", id.String()), zap.Error(err))
		ErrInternal(w)
		return
	}

	Ok(w, wakeScheduleToResponse(s))
}

// Delete handles DELETE /api/schedules/{id}.
func (h *WakeScheduleHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, "id")
	if !ok {
		return
	}

	if err := h.repo.Delete(r.Context(), id); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("failed to delete wake schedule", zap.String("id", id.String()), zap.Error(err))
		ErrInternal(w)
		return
	}

	NoContent(w)
}
