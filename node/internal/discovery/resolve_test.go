package discovery

import "testing"

func TestIsValidName(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		ip     string
		expect bool
	}{
		{"empty name", "", "192.168.1.10", false},
		{"question mark placeholder", "?", "192.168.1.10", false},
		{"name equal to ip", "192.168.1.10", "192.168.1.10", false},
		{"valid hostname", "living-room-tv", "192.168.1.10", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isValidName(tt.input, tt.ip); got != tt.expect {
				t.Errorf("isValidName(%q, %q) = %v, want %v", tt.input, tt.ip, got, tt.expect)
			}
		})
	}
}
