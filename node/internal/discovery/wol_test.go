package discovery

import "testing"

func TestNormalizeMAC(t *testing.T) {
	tests := []struct {
		name   string
		mac    string
		expect string
	}{
		{"already colon separated", "aa:bb:cc:dd:ee:ff", "AA:BB:CC:DD:EE:FF"},
		{"dash separated", "aa-bb-cc-dd-ee-ff", "AA:BB:CC:DD:EE:FF"},
		{"mixed case", "Aa:Bb:Cc:Dd:Ee:Ff", "AA:BB:CC:DD:EE:FF"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeMAC(tt.mac); got != tt.expect {
				t.Errorf("NormalizeMAC(%q) = %q, want %q", tt.mac, got, tt.expect)
			}
		})
	}
}

func TestMagicPacket(t *testing.T) {
	packet, err := magicPacket("AA:BB:CC:DD:EE:FF")
	if err != nil {
		t.Fatalf("magicPacket: %v", err)
	}
	if len(packet) != 102 {
		t.Fatalf("magic packet length = %d, want 102", len(packet))
	}
	for i := 0; i < 6; i++ {
		if packet[i] != 0xFF {
			t.Errorf("byte %d = %#x, want 0xFF", i, packet[i])
		}
	}
	want := []byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF}
	for rep := 0; rep < 16; rep++ {
		offset := 6 + rep*6
		got := packet[offset : offset+6]
		for i, b := range want {
			if got[i] != b {
				t.Errorf("repetition %d byte %d = %#x, want %#x", rep, i, got[i], b)
			}
		}
	}
}

func TestMagicPacket_InvalidMAC(t *testing.T) {
	if _, err := magicPacket("not-a-mac"); err == nil {
		t.Error("expected error for invalid mac address")
	}
}
