package config

import "testing"

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			ServerURL:            "ws://localhost:8080/ws",
			StaticToken:          "token",
			MaxReconnectAttempts: 0,
			DiscoveryIntervalMS:  1,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid config", func(c *Config) {}, false},
		{"missing server url", func(c *Config) { c.ServerURL = "" }, true},
		{"missing static token", func(c *Config) { c.StaticToken = "" }, true},
		{"negative max reconnect attempts", func(c *Config) { c.MaxReconnectAttempts = -1 }, true},
		{"zero discovery interval", func(c *Config) { c.DiscoveryIntervalMS = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(c)
			err := c.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSplitCSV(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		expect []string
	}{
		{"empty string", "", nil},
		{"single value", "a", []string{"a"}},
		{"multiple values with spaces", " a , b ,c", []string{"a", "b", "c"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := splitCSV(tt.input)
			if len(got) != len(tt.expect) {
				t.Fatalf("splitCSV(%q) = %v, want %v", tt.input, got, tt.expect)
			}
			for i := range got {
				if got[i] != tt.expect[i] {
					t.Errorf("splitCSV(%q)[%d] = %q, want %q", tt.input, i, got[i], tt.expect[i])
				}
			}
		})
	}
}
