package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/woly-io/woly/node/internal/discovery"
	"github.com/woly-io/woly/node/internal/localdb"
)

// scanner is the subset of discovery.Scanner the HTTP surface needs.
type scanner interface {
	TriggerScan(ctx context.Context)
}

type hostResponse struct {
	Name           string  `json:"name"`
	MAC            string  `json:"mac"`
	IP             string  `json:"ip"`
	Status         string  `json:"status"`
	PingResponsive *bool   `json:"pingResponsive"`
	LastSeen       *string `json:"lastSeen"`
	Discovered     bool    `json:"discovered"`
	Notes          string  `json:"notes"`
	WOLPort        int     `json:"wolPort"`
}

func toHostResponse(h localdb.Host) hostResponse {
	resp := hostResponse{
		Name:       h.Name,
		MAC:        h.MAC,
		IP:         h.IP,
		Status:     h.Status,
		Discovered: h.Discovered,
		Notes:      h.Notes,
		WOLPort:    h.WOLPort,
	}
	if h.PingResponsive != nil {
		b := *h.PingResponsive != 0
		resp.PingResponsive = &b
	}
	if h.LastSeen != nil {
		s := h.LastSeen.Format(time.RFC3339)
		resp.LastSeen = &s
	}
	return resp
}

type hostHandler struct {
	hosts   localdb.HostRepository
	scanner scanner
	logger  *zap.Logger
}

func newHostHandler(hosts localdb.HostRepository, scanner scanner, logger *zap.Logger) *hostHandler {
	return &hostHandler{hosts: hosts, scanner: scanner, logger: logger.Named("api")}
}

func (h *hostHandler) list(w http.ResponseWriter, r *http.Request) {
	hosts, err := h.hosts.List(r.Context())
	if err != nil {
		h.logger.Error("list hosts", zap.Error(err))
		errInternal(w, "failed to list hosts")
		return
	}
	resp := make([]hostResponse, 0, len(hosts))
	for _, host := range hosts {
		resp = append(resp, toHostResponse(host))
	}
	ok(w, resp)
}

func (h *hostHandler) getByName(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	host, err := h.hosts.GetByName(r.Context(), name)
	if err != nil {
		if errors.Is(err, localdb.ErrNotFound) {
			errNotFound(w)
			return
		}
		h.logger.Error("get host", zap.Error(err))
		errInternal(w, "failed to load host")
		return
	}
	ok(w, toHostResponse(*host))
}

func (h *hostHandler) wakeup(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	host, err := h.hosts.GetByName(r.Context(), name)
	if err != nil {
		if errors.Is(err, localdb.ErrNotFound) {
			errNotFound(w)
			return
		}
		h.logger.Error("get host for wakeup", zap.Error(err))
		errInternal(w, "failed to load host")
		return
	}

	port := host.WOLPort
	if port == 0 {
		port = 9
	}
	if err := discovery.SendMagicPacket(host.MAC, port); err != nil {
		h.logger.Warn("send magic packet", zap.String("mac", host.MAC), zap.Error(err))
		errInternal(w, "failed to send wake packet")
		return
	}
	ok(w, envelope{"sent": true})
}

func (h *hostHandler) scan(w http.ResponseWriter, r *http.Request) {
	go h.scanner.TriggerScan(context.Background())
	ok(w, envelope{"scheduled": true})
}

func (h *hostHandler) macVendor(w http.ResponseWriter, r *http.Request) {
	mac := chi.URLParam(r, "mac")
	ok(w, envelope{"mac": mac, "vendor": lookupVendor(mac)})
}
