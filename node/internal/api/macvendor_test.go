package api

import "testing"

func TestLookupVendor(t *testing.T) {
	tests := []struct {
		name   string
		mac    string
		expect string
	}{
		{"known prefix colon separated", "B8:27:EB:11:22:33", "Raspberry Pi Foundation"},
		{"known prefix dash separated", "b8-27-eb-11-22-33", "Raspberry Pi Foundation"},
		{"unknown prefix", "00:00:00:11:22:33", "Unknown"},
		{"malformed mac", "not-a-mac", "Unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := lookupVendor(tt.mac); got != tt.expect {
				t.Errorf("lookupVendor(%q) = %q, want %q", tt.mac, got, tt.expect)
			}
		})
	}
}
