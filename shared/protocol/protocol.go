// Package protocol defines the wire contract exchanged between the C&C
// service and a node agent over a persistent WebSocket connection. Every
// frame is a tagged variant: {type, data, commandId?}. The two directions
// (node→C&C, C&C→node) are disjoint unions with their own type tables —
// decode-then-match on Type, never a runtime type assertion.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/woly-io/woly/shared/types"
)

// SupportedProtocolVersions lists the protocol versions this build accepts
// during registration. The first entry is the version echoed back when a
// node does not advertise one at all (treated as the oldest known version).
var SupportedProtocolVersions = []string{"1.0", "1.1"}

// IsSupportedVersion reports whether v is in SupportedProtocolVersions.
func IsSupportedVersion(v string) bool {
	for _, sv := range SupportedProtocolVersions {
		if sv == v {
			return true
		}
	}
	return false
}

// IsKnownOlderVersion reports whether v is older than the newest supported
// version but still present in SupportedProtocolVersions — accepted, but
// logged at warn by the caller.
func IsKnownOlderVersion(v string) bool {
	return IsSupportedVersion(v) && v != SupportedProtocolVersions[len(SupportedProtocolVersions)-1]
}

// Direction identifies which side of the connection originated a frame.
// Used only for metrics/logging — not part of the wire format.
type Direction string

const (
	DirectionInbound  Direction = "inbound"  // node -> C&C
	DirectionOutbound Direction = "outbound" // C&C -> node
)

// Node -> C&C frame types.
const (
	TypeRegister       = "register"
	TypeHeartbeat      = "heartbeat"
	TypeHostDiscovered = "host-discovered"
	TypeHostUpdated    = "host-updated"
	TypeHostRemoved    = "host-removed"
	TypeScanComplete   = "scan-complete"
	TypeCommandResult  = "command-result"
)

// C&C -> Node frame types.
const (
	TypeRegistered    = "registered"
	TypeWake          = "wake"
	TypeScan          = "scan"
	TypeUpdateHost    = "update-host"
	TypeDeleteHost    = "delete-host"
	TypeScanHostPorts = "scan-host-ports"
	TypePingHost      = "ping-host"
	TypeSleepHost     = "sleep-host"
	TypeShutdownHost  = "shutdown-host"
	TypePing          = "ping"
	TypeErrorFrame    = "error"
)

// InboundTypes is the set of frame types a node may legally send.
var InboundTypes = map[string]bool{
	TypeRegister:       true,
	TypeHeartbeat:      true,
	TypeHostDiscovered: true,
	TypeHostUpdated:    true,
	TypeHostRemoved:    true,
	TypeScanComplete:   true,
	TypeCommandResult:  true,
}

// OutboundTypes is the set of frame types C&C may legally send to a node.
var OutboundTypes = map[string]bool{
	TypeRegistered:    true,
	TypeWake:          true,
	TypeScan:          true,
	TypeUpdateHost:    true,
	TypeDeleteHost:    true,
	TypeScanHostPorts: true,
	TypePingHost:      true,
	TypeSleepHost:     true,
	TypeShutdownHost:  true,
	TypePing:          true,
	TypeErrorFrame:    true,
}

// Frame is the envelope for every message exchanged over the node connection.
//
// JSON shape: {"type":"wake","data":{...},"commandId":"<uuid>"}
type Frame struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	CommandID string          `json:"commandId,omitempty"`
}

// ErrValidation is returned by Validate when a frame fails schema validation.
// Unknown type strings and malformed payloads both produce this error —
// neither is a runtime panic, both are validation failures per the spec.
type ErrValidation struct {
	Type   string
	Reason string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("protocol: invalid frame type=%q: %s", e.Type, e.Reason)
}

// validatablePayload is implemented by payload structs whose fields carry
// enumerated or required-non-empty constraints beyond what json.Unmarshal
// enforces structurally. Validate calls it after a successful decode so the
// codec itself rejects semantically invalid frames rather than letting them
// flow into the aggregator or command router.
type validatablePayload interface {
	validate() error
}

var errMissingField = errors.New("missing required field")

func (d *RegisterData) validate() error {
	if d.NodeID == "" {
		return fmt.Errorf("%w: nodeId", errMissingField)
	}
	if d.Name == "" {
		return fmt.Errorf("%w: name", errMissingField)
	}
	return nil
}

func (d *HostEventData) validate() error {
	if d.Name == "" {
		return fmt.Errorf("%w: name", errMissingField)
	}
	if d.MAC == "" {
		return fmt.Errorf("%w: mac", errMissingField)
	}
	switch types.HostStatus(d.Status) {
	case types.HostStatusAwake, types.HostStatusAsleep:
	default:
		return fmt.Errorf("status must be one of %q, %q: got %q", types.HostStatusAwake, types.HostStatusAsleep, d.Status)
	}
	return nil
}

func (d *HostRemovedData) validate() error {
	if d.Name == "" {
		return fmt.Errorf("%w: name", errMissingField)
	}
	return nil
}

func (d *CommandResultData) validate() error {
	if d.CommandID == "" {
		return fmt.Errorf("%w: commandId", errMissingField)
	}
	return nil
}

func (d *WakeData) validate() error {
	if d.HostName == "" && d.MAC == "" {
		return errors.New("wake requires hostName or mac")
	}
	return nil
}

func (d *UpdateHostData) validate() error {
	if d.CurrentName == "" && d.Name == "" {
		return errors.New("update-host requires currentName or name")
	}
	if d.Status != nil {
		switch types.HostStatus(*d.Status) {
		case types.HostStatusAwake, types.HostStatusAsleep:
		default:
			return fmt.Errorf("status must be one of %q, %q: got %q", types.HostStatusAwake, types.HostStatusAsleep, *d.Status)
		}
	}
	return nil
}

func (d *DeleteHostData) validate() error {
	if d.Name == "" {
		return fmt.Errorf("%w: name", errMissingField)
	}
	return nil
}

func (d *HostTargetData) validate() error {
	if d.Name == "" {
		return fmt.Errorf("%w: name", errMissingField)
	}
	return nil
}

func (d *ScanHostPortsData) validate() error {
	if d.Name == "" {
		return fmt.Errorf("%w: name", errMissingField)
	}
	return nil
}

func (d *ErrorData) validate() error {
	if d.Code == "" {
		return fmt.Errorf("%w: code", errMissingField)
	}
	return nil
}

// Validate checks that f.Type is a legal type for dir and that Data decodes
// into the type's documented payload shape. Returns the decoded payload as
// `any` (one of the *Data structs below) on success.
func Validate(f Frame, dir Direction) (any, error) {
	table := InboundTypes
	if dir == DirectionOutbound {
		table = OutboundTypes
	}
	if !table[f.Type] {
		return nil, &ErrValidation{Type: f.Type, Reason: "unknown type for direction"}
	}

	decode := func(dst any) (any, error) {
		if len(f.Data) != 0 {
			if err := json.Unmarshal(f.Data, dst); err != nil {
				return nil, &ErrValidation{Type: f.Type, Reason: err.Error()}
			}
		}
		// Heartbeat/ping-style frames may carry no data at all; a payload
		// with no validate method (or one that tolerates its zero value)
		// passes through untouched.
		if v, ok := dst.(validatablePayload); ok {
			if err := v.validate(); err != nil {
				return nil, &ErrValidation{Type: f.Type, Reason: err.Error()}
			}
		}
		return dst, nil
	}

	switch f.Type {
	case TypeRegister:
		return decode(&RegisterData{})
	case TypeHeartbeat:
		return decode(&HeartbeatData{})
	case TypeHostDiscovered, TypeHostUpdated:
		return decode(&HostEventData{})
	case TypeHostRemoved:
		return decode(&HostRemovedData{})
	case TypeScanComplete:
		return decode(&ScanCompleteData{})
	case TypeCommandResult:
		return decode(&CommandResultData{})
	case TypeRegistered:
		return decode(&RegisteredData{})
	case TypeWake:
		return decode(&WakeData{})
	case TypeScan:
		return decode(&ScanData{})
	case TypeUpdateHost:
		return decode(&UpdateHostData{})
	case TypeDeleteHost:
		return decode(&DeleteHostData{})
	case TypeScanHostPorts:
		return decode(&ScanHostPortsData{})
	case TypePingHost, TypeSleepHost, TypeShutdownHost:
		return decode(&HostTargetData{})
	case TypePing:
		return decode(&PingData{})
	case TypeErrorFrame:
		return decode(&ErrorData{})
	default:
		// Unreachable: table[f.Type] already filtered unknown types.
		return nil, &ErrValidation{Type: f.Type, Reason: "no codec registered"}
	}
}

// ─── Node -> C&C payloads ────────────────────────────────────────────────────

// RegisterData is the payload of a "register" frame.
type RegisterData struct {
	NodeID          string            `json:"nodeId"`
	Name            string            `json:"name"`
	Location        string            `json:"location"`
	ProtocolVersion string            `json:"protocolVersion,omitempty"`
	Capabilities    []string          `json:"capabilities,omitempty"`
	Metadata        RegisterMetadata  `json:"metadata,omitempty"`
}

// RegisterMetadata carries descriptive, non-authoritative node info.
type RegisterMetadata struct {
	Version     string      `json:"version,omitempty"`
	Platform    string      `json:"platform,omitempty"`
	NetworkInfo NetworkInfo `json:"networkInfo,omitempty"`
}

// NetworkInfo describes the node's local network context.
type NetworkInfo struct {
	Subnet  string `json:"subnet,omitempty"`
	Gateway string `json:"gateway,omitempty"`
}

// HeartbeatData is the payload of a "heartbeat" frame. NodeID is carried for
// observability only — the bound connection identity is authoritative and
// the session manager MUST ignore this field after binding (see S4).
type HeartbeatData struct {
	NodeID      string  `json:"nodeId"`
	Timestamp   int64   `json:"timestamp"`
	CPUPercent  float64 `json:"cpuPercent,omitempty"`
	MemPercent  float64 `json:"memPercent,omitempty"`
	DiskPercent float64 `json:"diskPercent,omitempty"`
}

// HostEventData is the payload of "host-discovered" and "host-updated" frames.
type HostEventData struct {
	NodeID         string  `json:"nodeId"`
	Name           string  `json:"name"`
	MAC            string  `json:"mac"`
	IP             string  `json:"ip"`
	Status         string  `json:"status"`
	PingResponsive *int    `json:"pingResponsive,omitempty"`
	LastSeen       string  `json:"lastSeen,omitempty"`
	Discovered     bool    `json:"discovered"`
	Notes          string  `json:"notes,omitempty"`
	Tags           []string `json:"tags,omitempty"`
	WOLPort        *int    `json:"wolPort,omitempty"`
}

// HostRemovedData is the payload of a "host-removed" frame.
type HostRemovedData struct {
	NodeID string `json:"nodeId"`
	Name   string `json:"name"`
}

// ScanCompleteData is the payload of a "scan-complete" frame.
type ScanCompleteData struct {
	NodeID       string `json:"nodeId"`
	HostsFound   int    `json:"hostsFound"`
	DurationMS   int64  `json:"durationMs"`
}

// CommandResultData is the payload of a "command-result" frame.
type CommandResultData struct {
	NodeID    string `json:"nodeId"`
	CommandID string `json:"commandId"`
	Success   bool   `json:"success"`
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// ─── C&C -> Node payloads ────────────────────────────────────────────────────

// RegisteredData is the payload of a "registered" frame.
type RegisteredData struct {
	NodeID            string `json:"nodeId"`
	HeartbeatInterval int64  `json:"heartbeatInterval"`
	ProtocolVersion   string `json:"protocolVersion,omitempty"`
}

// WakeData is the payload of a "wake" command frame.
type WakeData struct {
	HostName string `json:"hostName"`
	MAC      string `json:"mac"`
}

// ScanData is the payload of a "scan" command frame.
type ScanData struct {
	Immediate bool `json:"immediate"`
}

// UpdateHostData is the payload of an "update-host" command frame.
// CurrentName is the lookup key (rename-safe); Name is the desired new name.
type UpdateHostData struct {
	CurrentName string  `json:"currentName,omitempty"`
	Name        string  `json:"name"`
	MAC         *string `json:"mac,omitempty"`
	IP          *string `json:"ip,omitempty"`
	Status      *string `json:"status,omitempty"`
}

// DeleteHostData is the payload of a "delete-host" command frame.
type DeleteHostData struct {
	Name string `json:"name"`
}

// HostTargetData is the payload of "ping-host", "sleep-host", and
// "shutdown-host" command frames — each names a single host by its local
// name and does nothing else.
type HostTargetData struct {
	Name string `json:"name"`
}

// ScanHostPortsData is the payload of a "scan-host-ports" command frame.
// Ports is the caller-specified set to probe; an empty list means the
// node's default well-known-port list.
type ScanHostPortsData struct {
	Name  string `json:"name"`
	Ports []int  `json:"ports,omitempty"`
}

// PingData is the payload of a "ping" frame; empty. ping is a C&C-to-node
// frame type: a ping frame sent by a node fails inbound validation.
type PingData struct{}

// ErrorData is the payload of an "error" frame sent by C&C to a node.
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
