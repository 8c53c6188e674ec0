package localdb

import (
	"testing"

	"github.com/google/uuid"
)

func TestHost_BeforeCreate_AssignsID(t *testing.T) {
	h := &Host{Name: "test-host", MAC: "AA:BB:CC:DD:EE:FF", IP: "192.168.1.10"}
	if err := h.BeforeCreate(nil); err != nil {
		t.Fatalf("BeforeCreate: %v", err)
	}
	if h.ID == (uuid.UUID{}) {
		t.Error("BeforeCreate did not assign an ID")
	}
}

func TestHost_BeforeCreate_PreservesExistingID(t *testing.T) {
	existing := uuid.New()
	h := &Host{ID: existing, Name: "test-host"}
	if err := h.BeforeCreate(nil); err != nil {
		t.Fatalf("BeforeCreate: %v", err)
	}
	if h.ID != existing {
		t.Errorf("BeforeCreate overwrote existing ID: got %v, want %v", h.ID, existing)
	}
}

func TestHost_TableName(t *testing.T) {
	if Host{}.TableName() != "hosts" {
		t.Errorf("TableName() = %q, want %q", Host{}.TableName(), "hosts")
	}
}
