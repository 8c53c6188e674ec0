package cncclient

import (
	"os"
	"testing"
	"time"
)

func TestNextBackoff(t *testing.T) {
	tests := []struct {
		name    string
		current time.Duration
		expect  time.Duration
	}{
		{"doubles under the cap", 1 * time.Second, 2 * time.Second},
		{"doubles again", 10 * time.Second, 20 * time.Second},
		{"clamps at the max", 50 * time.Second, backoffMax},
		{"already at max", backoffMax, backoffMax},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := nextBackoff(tt.current); got != tt.expect {
				t.Errorf("nextBackoff(%v) = %v, want %v", tt.current, got, tt.expect)
			}
		})
	}
}

func TestJitter_WithinBounds(t *testing.T) {
	base := 10 * time.Second
	maxDelta := time.Duration(float64(base) * jitterFraction)

	for i := 0; i < 50; i++ {
		got := jitter(base)
		low := base - maxDelta
		high := base + maxDelta
		if got < low || got > high {
			t.Fatalf("jitter(%v) = %v, want within [%v, %v]", base, got, low, high)
		}
	}
}

func TestIsLocalTarget(t *testing.T) {
	hostname, err := os.Hostname()
	if err != nil {
		t.Skipf("cannot determine hostname: %v", err)
	}

	m := &Manager{}
	if !m.isLocalTarget(hostname) {
		t.Errorf("isLocalTarget(%q) = false, want true for the agent's own hostname", hostname)
	}
	if m.isLocalTarget("definitely-not-this-host") {
		t.Error("isLocalTarget matched an unrelated hostname")
	}
}
