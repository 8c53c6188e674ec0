package protocol

import (
	"encoding/json"
	"testing"
)

func TestIsSupportedVersion(t *testing.T) {
	tests := []struct {
		name   string
		v      string
		expect bool
	}{
		{"newest supported", "1.1", true},
		{"older supported", "1.0", true},
		{"unknown", "2.0", false},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsSupportedVersion(tt.v); got != tt.expect {
				t.Errorf("IsSupportedVersion(%q) = %v, want %v", tt.v, got, tt.expect)
			}
		})
	}
}

func TestIsKnownOlderVersion(t *testing.T) {
	if !IsKnownOlderVersion("1.0") {
		t.Error("1.0 should be a known older version")
	}
	if IsKnownOlderVersion("1.1") {
		t.Error("1.1 is the newest supported version, not older")
	}
	if IsKnownOlderVersion("0.9") {
		t.Error("0.9 is unknown, not a known older version")
	}
}

func TestValidate_InboundRejectsOutboundType(t *testing.T) {
	f := Frame{Type: TypeWake}
	if _, err := Validate(f, DirectionInbound); err == nil {
		t.Error("expected error validating an outbound-only type as inbound")
	}
}

func TestValidate_OutboundRejectsInboundType(t *testing.T) {
	f := Frame{Type: TypeHeartbeat}
	if _, err := Validate(f, DirectionOutbound); err == nil {
		t.Error("expected error validating an inbound-only type as outbound")
	}
}

func TestValidate_UnknownType(t *testing.T) {
	f := Frame{Type: "not-a-real-type"}
	_, err := Validate(f, DirectionInbound)
	if err == nil {
		t.Fatal("expected error for unknown frame type")
	}
	var verr *ErrValidation
	if ve, ok := err.(*ErrValidation); ok {
		verr = ve
	} else {
		t.Fatalf("expected *ErrValidation, got %T", err)
	}
	if verr.Type != "not-a-real-type" {
		t.Errorf("ErrValidation.Type = %q, want %q", verr.Type, "not-a-real-type")
	}
}

func TestValidate_DecodesRegisterData(t *testing.T) {
	data, _ := json.Marshal(RegisterData{NodeID: "node-1", Name: "living-room", ProtocolVersion: "1.1"})
	f := Frame{Type: TypeRegister, Data: data}

	payload, err := Validate(f, DirectionInbound)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	reg, ok := payload.(*RegisterData)
	if !ok {
		t.Fatalf("expected *RegisterData, got %T", payload)
	}
	if reg.NodeID != "node-1" || reg.Name != "living-room" {
		t.Errorf("unexpected decoded payload: %+v", reg)
	}
}

func TestValidate_EmptyDataAllowedForHeartbeat(t *testing.T) {
	f := Frame{Type: TypeHeartbeat}
	payload, err := Validate(f, DirectionInbound)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if _, ok := payload.(*HeartbeatData); !ok {
		t.Fatalf("expected *HeartbeatData, got %T", payload)
	}
}

func TestValidate_MalformedDataIsValidationError(t *testing.T) {
	f := Frame{Type: TypeRegister, Data: json.RawMessage(`{"nodeId": 123}`)}
	if _, err := Validate(f, DirectionInbound); err == nil {
		t.Error("expected validation error for malformed payload")
	}
}

func TestValidate_HostDiscoveredRejectsUnknownStatus(t *testing.T) {
	data := json.RawMessage(`{"nodeId":"home","name":"x","mac":"aa:bb:cc:dd:ee:ff","ip":"1","status":"bogus"}`)
	f := Frame{Type: TypeHostDiscovered, Data: data}
	if _, err := Validate(f, DirectionInbound); err == nil {
		t.Error("expected validation error for unknown status")
	}
}

func TestValidate_HostDiscoveredAcceptsKnownStatus(t *testing.T) {
	data, _ := json.Marshal(HostEventData{Name: "x", MAC: "aa:bb:cc:dd:ee:ff", Status: "awake"})
	f := Frame{Type: TypeHostDiscovered, Data: data}
	if _, err := Validate(f, DirectionInbound); err != nil {
		t.Errorf("Validate: unexpected error for well-formed host event: %v", err)
	}
}

func TestValidate_CommandResultRequiresCommandID(t *testing.T) {
	data, _ := json.Marshal(CommandResultData{Success: true})
	f := Frame{Type: TypeCommandResult, Data: data}
	if _, err := Validate(f, DirectionInbound); err == nil {
		t.Error("expected validation error for command result missing commandId")
	}
}
