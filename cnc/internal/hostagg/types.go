// Package hostagg maintains the in-memory projection of every host reported
// by every connected node, keyed by FQN ("hostname@location"). It is rebuilt
// from the hosts table on startup and kept current by host-discovered,
// host-updated, and host-removed frames relayed through the session layer.
package hostagg

import (
	"time"

	"github.com/woly-io/woly/shared/types"
)

// AggregatedHost is the canonical, JSON-serialisable view of a single host
// as exposed by the HTTP API — the union of what a node reported plus the
// location it was reported from.
type AggregatedHost struct {
	FQN            string            `json:"fqn"`
	Location       string            `json:"location"`
	Name           string            `json:"name"`
	MAC            string            `json:"mac"`
	IP             string            `json:"ip"`
	Status         types.HostStatus  `json:"status"`
	PingResponsive *bool             `json:"pingResponsive,omitempty"`
	LastSeen       *time.Time        `json:"lastSeen,omitempty"`
	Discovered     bool              `json:"discovered"`
	Notes          string            `json:"notes,omitempty"`
	Tags           []string          `json:"tags,omitempty"`
	WOLPort        int               `json:"wolPort"`
	PortsScanned   []int             `json:"portsScanned,omitempty"`
	PortsScannedAt *time.Time        `json:"portsScannedAt,omitempty"`
}

// key returns the FQN for a (name, location) pair.
func key(name, location string) string {
	return name + "@" + location
}
