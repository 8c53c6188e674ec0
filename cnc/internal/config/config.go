// Package config parses the C&C service's environment into a single typed
// Config, validated once at startup. Apart from main's envOrDefault helper for
// CLI flag defaults, no package outside config reads os.Getenv directly —
// everything flows through here so required values and
// cross-field invariants (heartbeat vs timeout) fail fast before any
// subsystem starts.
package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every environment-driven setting for the C&C service.
type Config struct {
	Port     string
	NodeEnv  string
	CORSOrigins []string

	DBType      string // "postgres" or "sqlite"
	DatabaseURL string

	NodeAuthTokens []string
	OperatorTokens []string
	AdminTokens    []string

	JWTSecret     string
	JWTIssuer     string
	JWTAudience   string
	JWTTTLSeconds int

	WSRequireTLS              bool
	WSAllowQueryTokenAuth     bool
	WSSessionTokenSecrets     []string
	WSSessionTokenIssuer      string
	WSSessionTokenAudience    string
	WSSessionTokenTTLSeconds  int
	WSMessageRateLimitPerSec  int
	WSMaxConnectionsPerIP     int

	NodeHeartbeatInterval time.Duration
	NodeTimeout           time.Duration

	CommandTimeout        time.Duration
	CommandRetentionDays  int
	CommandMaxRetries     int
	CommandRetryBaseDelay time.Duration

	ScheduleWorkerEnabled bool
	SchedulePollInterval  time.Duration
	ScheduleBatchSize     int

	OfflineCommandTTL time.Duration

	WebhookRetryBaseDelay    time.Duration
	WebhookDeliveryTimeout   time.Duration

	HostStatusHistoryRetentionDays int

	SecretKey string // AES-256 at-rest key, padded/truncated to 32 bytes by caller
}

// Load reads Config from the environment and validates it. It never panics —
// all failures are returned as an error so main can exit with a clear message.
func Load() (*Config, error) {
	c := &Config{
		Port:        envOrDefault("PORT", "8080"),
		NodeEnv:     envOrDefault("NODE_ENV", "production"),
		CORSOrigins: splitCSV(envOrDefault("CORS_ORIGINS", "")),

		DBType:      envOrDefault("DB_TYPE", "sqlite"),
		DatabaseURL: envOrDefault("DATABASE_URL", "./woly.db"),

		NodeAuthTokens: splitCSV(os.Getenv("NODE_AUTH_TOKENS")),
		OperatorTokens: splitCSV(os.Getenv("OPERATOR_TOKENS")),
		AdminTokens:    splitCSV(os.Getenv("ADMIN_TOKENS")),

		JWTSecret:   os.Getenv("JWT_SECRET"),
		JWTIssuer:   envOrDefault("JWT_ISSUER", "woly-cnc"),
		JWTAudience: envOrDefault("JWT_AUDIENCE", "woly-api"),

		WSRequireTLS:           envBool("WS_REQUIRE_TLS", false),
		WSAllowQueryTokenAuth:  envBool("WS_ALLOW_QUERY_TOKEN_AUTH", false),
		WSSessionTokenSecrets:  splitCSV(os.Getenv("WS_SESSION_TOKEN_SECRETS")),
		WSSessionTokenIssuer:   envOrDefault("WS_SESSION_TOKEN_ISSUER", "woly-cnc"),
		WSSessionTokenAudience: envOrDefault("WS_SESSION_TOKEN_AUDIENCE", "woly-node"),

		ScheduleWorkerEnabled: envBool("SCHEDULE_WORKER_ENABLED", true),

		SecretKey: os.Getenv("SECRET_KEY"),
	}

	var err error
	if c.JWTTTLSeconds, err = envInt("JWT_TTL_SECONDS", 900); err != nil {
		return nil, err
	}
	if c.WSSessionTokenTTLSeconds, err = envInt("WS_SESSION_TOKEN_TTL_SECONDS", 60); err != nil {
		return nil, err
	}
	if c.WSMessageRateLimitPerSec, err = envInt("WS_MESSAGE_RATE_LIMIT_PER_SECOND", 20); err != nil {
		return nil, err
	}
	if c.WSMaxConnectionsPerIP, err = envInt("WS_MAX_CONNECTIONS_PER_IP", 5); err != nil {
		return nil, err
	}

	heartbeatMS, err := envInt("NODE_HEARTBEAT_INTERVAL", 30000)
	if err != nil {
		return nil, err
	}
	c.NodeHeartbeatInterval = time.Duration(heartbeatMS) * time.Millisecond

	timeoutMS, err := envInt("NODE_TIMEOUT", 90000)
	if err != nil {
		return nil, err
	}
	c.NodeTimeout = time.Duration(timeoutMS) * time.Millisecond

	commandTimeoutMS, err := envInt("COMMAND_TIMEOUT", 30000)
	if err != nil {
		return nil, err
	}
	c.CommandTimeout = time.Duration(commandTimeoutMS) * time.Millisecond

	if c.CommandRetentionDays, err = envInt("COMMAND_RETENTION_DAYS", 30); err != nil {
		return nil, err
	}
	if c.CommandMaxRetries, err = envInt("COMMAND_MAX_RETRIES", 3); err != nil {
		return nil, err
	}
	retryDelayMS, err := envInt("COMMAND_RETRY_BASE_DELAY_MS", 1000)
	if err != nil {
		return nil, err
	}
	c.CommandRetryBaseDelay = time.Duration(retryDelayMS) * time.Millisecond

	pollMS, err := envInt("SCHEDULE_POLL_INTERVAL_MS", 15000)
	if err != nil {
		return nil, err
	}
	c.SchedulePollInterval = time.Duration(pollMS) * time.Millisecond

	if c.ScheduleBatchSize, err = envInt("SCHEDULE_BATCH_SIZE", 50); err != nil {
		return nil, err
	}

	offlineTTLMS, err := envInt("OFFLINE_COMMAND_TTL_MS", 300000)
	if err != nil {
		return nil, err
	}
	c.OfflineCommandTTL = time.Duration(offlineTTLMS) * time.Millisecond

	webhookRetryMS, err := envInt("WEBHOOK_RETRY_BASE_DELAY_MS", 2000)
	if err != nil {
		return nil, err
	}
	c.WebhookRetryBaseDelay = time.Duration(webhookRetryMS) * time.Millisecond

	webhookTimeoutMS, err := envInt("WEBHOOK_DELIVERY_TIMEOUT_MS", 10000)
	if err != nil {
		return nil, err
	}
	c.WebhookDeliveryTimeout = time.Duration(webhookTimeoutMS) * time.Millisecond

	if c.HostStatusHistoryRetentionDays, err = envInt("HOST_STATUS_HISTORY_RETENTION_DAYS", 90); err != nil {
		return nil, err
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate enforces the cross-field invariants from the external interfaces
// contract: NODE_TIMEOUT must be at least 2x NODE_HEARTBEAT_INTERVAL, and
// the DB type must be one of the two enumerated dialects.
func (c *Config) Validate() error {
	if c.NodeTimeout < 2*c.NodeHeartbeatInterval {
		return fmt.Errorf("config: NODE_TIMEOUT (%s) must be >= 2 * NODE_HEARTBEAT_INTERVAL (%s)", c.NodeTimeout, c.NodeHeartbeatInterval)
	}
	if c.DBType != "postgres" && c.DBType != "sqlite" {
		return fmt.Errorf("config: DB_TYPE must be \"postgres\" or \"sqlite\", got %q", c.DBType)
	}
	if c.HostStatusHistoryRetentionDays < 0 {
		return fmt.Errorf("config: HOST_STATUS_HISTORY_RETENTION_DAYS must be >= 0")
	}
	if c.WSSessionTokenTTLSeconds <= 0 {
		return fmt.Errorf("config: WS_SESSION_TOKEN_TTL_SECONDS must be > 0")
	}
	if c.JWTTTLSeconds <= 0 {
		return fmt.Errorf("config: JWT_TTL_SECONDS must be > 0")
	}
	return nil
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
