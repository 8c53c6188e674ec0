// Package config parses the node agent's environment into a single typed
// Config, validated once at startup. Apart from main's envOrDefault helper for
// CLI flag defaults, no package outside config reads os.Getenv directly.
package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every environment-driven setting for the node agent.
type Config struct {
	Port string

	ServerURL       string
	StaticToken     string
	SessionTokenURL string

	NodeName     string
	NodeLocation string

	StateDir string

	ReconnectIntervalMS  time.Duration
	MaxReconnectAttempts int

	DiscoveryIntervalMS time.Duration

	DBPath string

	APIKey      string
	CORSOrigins []string
	DevCORS     bool
}

// Load reads Config from the environment and validates it.
func Load() (*Config, error) {
	c := &Config{
		Port: envOrDefault("PORT", "8090"),

		ServerURL:       os.Getenv("CNC_SERVER_URL"),
		StaticToken:     os.Getenv("NODE_AUTH_TOKEN"),
		SessionTokenURL: os.Getenv("CNC_SESSION_TOKEN_URL"),

		NodeName:     envOrDefault("NODE_NAME", defaultHostname()),
		NodeLocation: envOrDefault("NODE_LOCATION", ""),

		StateDir: envOrDefault("NODE_STATE_DIR", "./data"),
		DBPath:   envOrDefault("NODE_DB_PATH", "./data/node.db"),

		APIKey:      os.Getenv("NODE_API_KEY"),
		CORSOrigins: splitCSV(os.Getenv("CORS_ORIGINS")),
		DevCORS:     envBool("DEV_CORS", false),
	}

	reconnectMS, err := envInt("RECONNECT_INTERVAL_MS", 1000)
	if err != nil {
		return nil, err
	}
	c.ReconnectIntervalMS = time.Duration(reconnectMS) * time.Millisecond

	if c.MaxReconnectAttempts, err = envInt("MAX_RECONNECT_ATTEMPTS", 0); err != nil {
		return nil, err
	}

	discoveryMS, err := envInt("DISCOVERY_INTERVAL_MS", 300000)
	if err != nil {
		return nil, err
	}
	c.DiscoveryIntervalMS = time.Duration(discoveryMS) * time.Millisecond

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate enforces the node agent's startup invariants.
func (c *Config) Validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("config: CNC_SERVER_URL is required")
	}
	if c.StaticToken == "" {
		return fmt.Errorf("config: NODE_AUTH_TOKEN is required")
	}
	if c.MaxReconnectAttempts < 0 {
		return fmt.Errorf("config: MAX_RECONNECT_ATTEMPTS must be >= 0")
	}
	if c.DiscoveryIntervalMS <= 0 {
		return fmt.Errorf("config: DISCOVERY_INTERVAL_MS must be > 0")
	}
	return nil
}

func defaultHostname() string {
	name, err := os.Hostname()
	if err != nil {
		return "woly-node"
	}
	return name
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v == "true" || v == "1"
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s is not numeric: %w", key, err)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("config: %s must be a finite number", key)
	}
	return int(f), nil
}

func splitCSV(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
