package api

import (
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/woly-io/woly/cnc/internal/command"
	"github.com/woly-io/woly/cnc/internal/hostagg"
	"github.com/woly-io/woly/cnc/internal/nodemanager"
	"github.com/woly-io/woly/cnc/internal/repositories"
	"github.com/woly-io/woly/shared/protocol"
	"github.com/woly-io/woly/shared/types"
)

// HostHandler exposes the in-memory host aggregation projection and issues
// host-targeted commands (wake, ping, port scan, rename, delete) through the
// command router.
type HostHandler struct {
	agg     *hostagg.Aggregator
	repo    repositories.HostRepository
	cmdRepo repositories.CommandRepository
	nodes   *nodemanager.Manager
	router  *command.Router
	logger  *zap.Logger
}

// NewHostHandler creates a new HostHandler.
func NewHostHandler(agg *hostagg.Aggregator, repo repositories.HostRepository, cmdRepo repositories.CommandRepository, nodes *nodemanager.Manager, router *command.Router, logger *zap.Logger) *HostHandler {
	return &HostHandler{
		agg:     agg,
		repo:    repo,
		cmdRepo: cmdRepo,
		nodes:   nodes,
		router:  router,
		logger:  logger.Named("host_handler"),
	}
}

type hostStats struct {
	Total      int            `json:"total"`
	Awake      int            `json:"awake"`
	Asleep     int            `json:"asleep"`
	ByLocation map[string]int `json:"byLocation"`
}

type listHostsResponse struct {
	Items []*hostagg.AggregatedHost `json:"items"`
	Stats hostStats                 `json:"stats"`
}

// List handles GET /api/hosts. Supports an optional ?nodeId= filter and
// conditional requests via If-None-Match against the projection's ETag.
func (h *HostHandler) List(w http.ResponseWriter, r *http.Request) {
	etag := h.agg.ETag()
	w.Header().Set("ETag", `"`+etag+`"`)

	if inm := r.Header.Get("If-None-Match"); inm != "" {
		for _, match := range strings.Split(inm, ",") {
			match = strings.TrimPrefix(strings.TrimSpace(match), "W/")
			if match == `"`+etag+`"` || match == "*" {
				w.WriteHeader(http.StatusNotModified)
				return
			}
		}
	}

	all := h.agg.List()

	var nodeFilter string
	if raw := r.URL.Query().Get("nodeId"); raw != "" {
		if id, err := parseUUIDString(raw); err == nil {
			if node, err := h.nodes.GetByID(r.Context(), id); err == nil {
				nodeFilter = node.Location
			}
		}
	}

	items := make([]*hostagg.AggregatedHost, 0, len(all))
	stats := hostStats{ByLocation: map[string]int{}}
	for _, host := range all {
		if nodeFilter != "" && host.Location != nodeFilter {
			continue
		}
		items = append(items, host)
		stats.Total++
		stats.ByLocation[host.Location]++
		if host.Status == types.HostStatusAwake {
			stats.Awake++
		} else {
			stats.Asleep++
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].FQN < items[j].FQN })

	Ok(w, listHostsResponse{Items: items, Stats: stats})
}

// GetByFQN handles GET /api/hosts/{fqn}.
func (h *HostHandler) GetByFQN(w http.ResponseWriter, r *http.Request) {
	host, ok := h.agg.Get(chi.URLParam(r, "fqn"))
	if !ok {
		ErrNotFound(w)
		return
	}
	Ok(w, host)
}

// updateHostRequest is the JSON body expected by PUT /api/hosts/{fqn}.
type updateHostRequest struct {
	Name   string  `json:"name"`
	MAC    *string `json:"mac,omitempty"`
	IP     *string `json:"ip,omitempty"`
	Status *string `json:"status,omitempty"`
}

// Update handles PUT /api/hosts/{fqn}. Dispatches an update-host command to
// the owning node; the node is the sole writer of its local host table, so
// this endpoint never mutates storage directly.
func (h *HostHandler) Update(w http.ResponseWriter, r *http.Request) {
	fqn := chi.URLParam(r, "fqn")
	host, ok := h.agg.Get(fqn)
	if !ok {
		ErrNotFound(w)
		return
	}

	var req updateHostRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Name == "" {
		ErrBadRequest(w, "name is required")
		return
	}

	node, err := h.nodes.GetByLocation(r.Context(), host.Location)
	if err != nil {
		h.logger.Error("failed to resolve node for host update", zap.String("fqn", fqn), zap.Error(err))
		ErrInternal(w)
		return
	}

	cmd, err := h.router.Enqueue(r.Context(), node.ID, types.CommandUpdateHost, protocol.UpdateHostData{
		CurrentName: host.Name,
		Name:        req.Name,
		MAC:         req.MAC,
		IP:          req.IP,
		Status:      req.Status,
	}, r.Header.Get("Idempotency-Key"))
	if err != nil {
		h.logger.Error("failed to enqueue update-host command", zap.String("fqn", fqn), zap.Error(err))
		ErrInternal(w)
		return
	}

	Accepted(w, commandToResponse(cmd))
}

// Delete handles DELETE /api/hosts/{fqn}. Dispatches a delete-host command
// to the owning node rather than deleting the aggregated row directly — the
// aggregator removes its copy once the node confirms via host-removed.
func (h *HostHandler) Delete(w http.ResponseWriter, r *http.Request) {
	fqn := chi.URLParam(r, "fqn")
	host, ok := h.agg.Get(fqn)
	if !ok {
		ErrNotFound(w)
		return
	}

	node, err := h.nodes.GetByLocation(r.Context(), host.Location)
	if err != nil {
		h.logger.Error("failed to resolve node for host delete", zap.String("fqn", fqn), zap.Error(err))
		ErrInternal(w)
		return
	}

	cmd, err := h.router.Enqueue(r.Context(), node.ID, types.CommandDeleteHost, protocol.DeleteHostData{
		Name: host.Name,
	}, r.Header.Get("Idempotency-Key"))
	if err != nil {
		h.logger.Error("failed to enqueue delete-host command", zap.String("fqn", fqn), zap.Error(err))
		ErrInternal(w)
		return
	}

	Accepted(w, commandToResponse(cmd))
}

// wakeupRequest is the JSON body expected by POST /api/hosts/wakeup/{fqn}.
type wakeupRequest struct {
	Verify  bool `json:"verify,omitempty"`
	WOLPort int  `json:"wolPort,omitempty"`
}

// Wakeup handles POST /api/hosts/wakeup/{fqn}.
func (h *HostHandler) Wakeup(w http.ResponseWriter, r *http.Request) {
	fqn := chi.URLParam(r, "fqn")
	host, ok := h.agg.Get(fqn)
	if !ok {
		ErrNotFound(w)
		return
	}

	var req wakeupRequest
	if r.ContentLength > 0 {
		if !decodeJSON(w, r, &req) {
			return
		}
	}

	node, err := h.nodes.GetByLocation(r.Context(), host.Location)
	if err != nil {
		h.logger.Error("failed to resolve node for wakeup", zap.String("fqn", fqn), zap.Error(err))
		ErrInternal(w)
		return
	}

	cmd, err := h.router.Enqueue(r.Context(), node.ID, types.CommandWake, protocol.WakeData{
		HostName: host.Name,
		MAC:      host.MAC,
	}, r.Header.Get("Idempotency-Key"))
	if err != nil {
		h.logger.Error("failed to enqueue wake command", zap.String("fqn", fqn), zap.Error(err))
		ErrInternal(w)
		return
	}

	Accepted(w, commandToResponse(cmd))
}

// scanRequest is the JSON body expected by POST /api/hosts/scan.
type scanRequest struct {
	NodeID    string `json:"nodeId"`
	Immediate bool   `json:"immediate,omitempty"`
}

// Scan handles POST /api/hosts/scan. Returns 409 if a scan command for the
// target node is already in flight.
func (h *HostHandler) Scan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	nodeID, err := parseUUIDString(req.NodeID)
	if err != nil {
		ErrBadRequest(w, "nodeId must be a valid UUID")
		return
	}

	inFlight, _, err := h.cmdRepo.ListByNode(r.Context(), nodeID, repositories.ListOptions{Limit: 50})
	if err != nil {
		h.logger.Error("failed to list node commands for scan check", zap.Error(err))
		ErrInternal(w)
		return
	}
	for i := range inFlight {
		if inFlight[i].Type == string(types.CommandScan) && !types.CommandState(inFlight[i].State).IsTerminal() {
			ErrConflict(w, "a scan is already in progress for this node")
			return
		}
	}

	cmd, err := h.router.Enqueue(r.Context(), nodeID, types.CommandScan, protocol.ScanData{
		Immediate: req.Immediate,
	}, r.Header.Get("Idempotency-Key"))
	if err != nil {
		h.logger.Error("failed to enqueue scan command", zap.Error(err))
		ErrInternal(w)
		return
	}

	Accepted(w, commandToResponse(cmd))
}

// Ping handles GET /api/hosts/ping/{fqn}. Dispatches a live ping-host
// command rather than returning the cached pingResponsive value.
func (h *HostHandler) Ping(w http.ResponseWriter, r *http.Request) {
	h.dispatchHostTarget(w, r, types.CommandPingHost)
}

// ScanPorts handles GET /api/hosts/scan-ports/{fqn}. Dispatches a live port
// scan; the node reports the open ports, comma-separated, in the message of
// the command-result frame and sends no host-updated frame for it.
func (h *HostHandler) ScanPorts(w http.ResponseWriter, r *http.Request) {
	fqn := chi.URLParam(r, "fqn")
	host, ok := h.agg.Get(fqn)
	if !ok {
		ErrNotFound(w)
		return
	}

	node, err := h.nodes.GetByLocation(r.Context(), host.Location)
	if err != nil {
		h.logger.Error("failed to resolve node for port scan", zap.String("fqn", fqn), zap.Error(err))
		ErrInternal(w)
		return
	}

	cmd, err := h.router.Enqueue(r.Context(), node.ID, types.CommandScanHostPorts, protocol.ScanHostPortsData{
		Name: host.Name,
	}, r.Header.Get("Idempotency-Key"))
	if err != nil {
		h.logger.Error("failed to enqueue scan-host-ports command", zap.String("fqn", fqn), zap.Error(err))
		ErrInternal(w)
		return
	}

	Accepted(w, commandToResponse(cmd))
}

// Ports handles GET /api/hosts/ports/{fqn}. Returns the cached port scan
// result without triggering a new scan.
func (h *HostHandler) Ports(w http.ResponseWriter, r *http.Request) {
	host, ok := h.agg.Get(chi.URLParam(r, "fqn"))
	if !ok {
		ErrNotFound(w)
		return
	}

	Ok(w, struct {
		Ports     []int   `json:"ports"`
		ScannedAt *string `json:"scannedAt"`
	}{
		Ports:     host.PortsScanned,
		ScannedAt: formatOptionalTime(host.PortsScannedAt),
	})
}

// dispatchHostTarget is shared by commands whose payload is just {name}.
func (h *HostHandler) dispatchHostTarget(w http.ResponseWriter, r *http.Request, cmdType types.CommandType) {
	fqn := chi.URLParam(r, "fqn")
	host, ok := h.agg.Get(fqn)
	if !ok {
		ErrNotFound(w)
		return
	}

	node, err := h.nodes.GetByLocation(r.Context(), host.Location)
	if err != nil {
		h.logger.Error("failed to resolve node for host command", zap.String("fqn", fqn), zap.Error(err))
		ErrInternal(w)
		return
	}

	cmd, err := h.router.Enqueue(r.Context(), node.ID, cmdType, protocol.HostTargetData{
		Name: host.Name,
	}, r.Header.Get("Idempotency-Key"))
	if err != nil {
		h.logger.Error("failed to enqueue host command", zap.String("fqn", fqn), zap.String("type", string(cmdType)), zap.Error(err))
		ErrInternal(w)
		return
	}

	Accepted(w, commandToResponse(cmd))
}

type hostStatusHistoryResponse struct {
	FromStatus string `json:"from_status"`
	ToStatus   string `json:"to_status"`
	At         string `json:"at"`
}

type listHostHistoryResponse struct {
	Items []hostStatusHistoryResponse `json:"items"`
	Total int64                       `json:"total"`
}

// History handles GET /api/hosts/{fqn}/history.
func (h *HostHandler) History(w http.ResponseWriter, r *http.Request) {
	fqn := chi.URLParam(r, "fqn")

	rows, total, err := h.repo.ListStatusHistory(r.Context(), fqn, paginationOpts(r))
	if err != nil {
		h.logger.Error("failed to list host status history", zap.String("fqn", fqn), zap.Error(err))
		ErrInternal(w)
		return
	}

	items := make([]hostStatusHistoryResponse, len(rows))
	for i := range rows {
		items[i] = hostStatusHistoryResponse{
			FromStatus: rows[i].FromStatus,
			ToStatus:   rows[i].ToStatus,
			At:         rows[i].At.UTC().Format(httpTimeFormat),
		}
	}

	Ok(w, listHostHistoryResponse{Items: items, Total: total})
}

// Uptime handles GET /api/hosts/{fqn}/uptime. Returns the duration since the
// host's most recent asleep->awake transition, or zero if it is not awake.
func (h *HostHandler) Uptime(w http.ResponseWriter, r *http.Request) {
	fqn := chi.URLParam(r, "fqn")

	host, ok := h.agg.Get(fqn)
	if !ok {
		ErrNotFound(w)
		return
	}

	resp := struct {
		UptimeSeconds int64 `json:"uptimeSeconds"`
	}{}

	if host.Status != types.HostStatusAwake {
		Ok(w, resp)
		return
	}

	rows, _, err := h.repo.ListStatusHistory(r.Context(), fqn, repositories.ListOptions{Limit: 1})
	if err != nil {
		h.logger.Error("failed to look up last transition for uptime", zap.String("fqn", fqn), zap.Error(err))
		ErrInternal(w)
		return
	}
	if len(rows) == 0 || rows[0].ToStatus != string(types.HostStatusAwake) {
		Ok(w, resp)
		return
	}

	resp.UptimeSeconds = int64(time.Since(rows[0].At).Seconds())
	Ok(w, resp)
}

func formatOptionalTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(httpTimeFormat)
	return &s
}
