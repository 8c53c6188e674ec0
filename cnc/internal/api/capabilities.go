package api

import (
	"net/http"

	"github.com/woly-io/woly/shared/protocol"
)

type capabilitiesResponse struct {
	SupportedProtocolVersions []string `json:"supportedProtocolVersions"`
	Features                  []string `json:"features"`
}

// Capabilities handles GET /api/capabilities. Lets operator tooling detect
// which protocol versions and optional features this C&C build supports
// before relying on them.
func Capabilities(w http.ResponseWriter, r *http.Request) {
	Ok(w, capabilitiesResponse{
		SupportedProtocolVersions: protocol.SupportedProtocolVersions,
		Features: []string{
			"wake_schedules",
			"webhooks",
			"host_port_scan",
			"host_status_history",
		},
	})
}
