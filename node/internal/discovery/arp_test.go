package discovery

import "testing"

func TestExtractIP(t *testing.T) {
	tests := []struct {
		name   string
		line   string
		expect string
	}{
		{"linux arp -a format", "? (192.168.1.10) at aa:bb:cc:dd:ee:ff [ether] on eth0", "192.168.1.10"},
		{"no ip present", "some garbage line", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractIP(tt.line); got != tt.expect {
				t.Errorf("extractIP(%q) = %q, want %q", tt.line, got, tt.expect)
			}
		})
	}
}

func TestExtractHostname(t *testing.T) {
	tests := []struct {
		name   string
		line   string
		ip     string
		expect string
	}{
		{"unresolved placeholder", "? (192.168.1.10) at aa:bb:cc:dd:ee:ff [ether] on eth0", "192.168.1.10", ""},
		{"resolved hostname", "living-room-tv (192.168.1.10) at aa:bb:cc:dd:ee:ff [ether] on eth0", "192.168.1.10", "living-room-tv"},
		{"hostname equal to ip", "192.168.1.10 (192.168.1.10) at aa:bb:cc:dd:ee:ff", "192.168.1.10", ""},
		{"empty line", "", "192.168.1.10", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractHostname(tt.line, tt.ip); got != tt.expect {
				t.Errorf("extractHostname(%q, %q) = %q, want %q", tt.line, tt.ip, got, tt.expect)
			}
		})
	}
}
