package db

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// base contains the common fields shared by all models.
// ID uses UUID v7 (time-ordered) for efficient B-tree indexing and natural
// chronological ordering without a separate created_at sort. CreatedAt and
// UpdatedAt are managed automatically by GORM.
type base struct {
	ID        uuid.UUID `gorm:"type:text;primaryKey"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// BeforeCreate generates a new UUID v7 if the ID is not already set.
// This ensures every record has a valid time-ordered ID before insertion.
func (b *base) BeforeCreate(tx *gorm.DB) error {
	if b.ID == (uuid.UUID{}) {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		b.ID = id
	}
	return nil
}

// -----------------------------------------------------------------------------
// Nodes
// -----------------------------------------------------------------------------

// Node represents a registered node agent. Status/LastHeartbeatAt are updated
// by the session manager as connections open, heartbeat, and go stale.
type Node struct {
	base
	Name               string `gorm:"not null"`
	Location           string `gorm:"not null;uniqueIndex:idx_node_location"`
	Status             string `gorm:"not null;default:'offline'"` // "online", "offline"
	LastHeartbeatAt    *time.Time
	Capabilities       string `gorm:"type:text;default:'[]'"` // JSON array
	MetadataVersion    string `gorm:"default:''"`
	MetadataPlatform   string `gorm:"default:''"`
	ProtocolVersion    string `gorm:"default:''"`
	NetworkSubnet      string `gorm:"default:''"`
	NetworkGateway     string `gorm:"default:''"`
}

// -----------------------------------------------------------------------------
// Hosts (C&C-side aggregated view)
// -----------------------------------------------------------------------------

// Host is the C&C-persisted AggregatedHost: a per-node Host plus the owning
// node and location, uniquely identified by FQN ("hostname@location"). The
// in-memory hostagg projection is rebuilt from this table on restart.
type Host struct {
	base
	FQN            string `gorm:"not null;uniqueIndex"`
	NodeID         uuid.UUID `gorm:"type:text;not null;index"`
	Location       string `gorm:"not null"`
	Name           string `gorm:"not null"`
	MAC            string `gorm:"not null;index"`
	IP             string `gorm:"not null"`
	Status         string `gorm:"not null;default:'asleep'"` // "awake", "asleep"
	PingResponsive *int   `gorm:""`                           // 0, 1, or NULL
	LastSeen       *time.Time
	Discovered     bool   `gorm:"not null;default:false"`
	Notes          string `gorm:"type:text;default:''"`
	Tags           string `gorm:"type:text;default:'[]'"` // JSON array
	WOLPort        int    `gorm:"not null;default:9"`
	PortsScanned   string `gorm:"type:text;default:'[]'"` // JSON array of open ports
	PortsScannedAt *time.Time
	PortsExpireAt  *time.Time
}

// HostStatusHistory is an append-only record of a host's status transitions.
type HostStatusHistory struct {
	base
	FQN        string `gorm:"not null;index"`
	FromStatus string `gorm:"not null"`
	ToStatus   string `gorm:"not null"`
	At         time.Time `gorm:"not null;index"`
}

// -----------------------------------------------------------------------------
// Commands
// -----------------------------------------------------------------------------

// Command is a single durable entry in the command lifecycle state machine
// (queued -> sent -> acknowledged | failed | timed_out). The unique index on
// (NodeID, Type, IdempotencyKey) enforces dispatch-level deduplication at the
// storage layer, backstopping the in-process check.
type Command struct {
	base
	NodeID         uuid.UUID `gorm:"type:text;not null;index"`
	Type           string    `gorm:"not null"`
	Payload        string    `gorm:"type:text;not null;default:'{}'"` // JSON
	IdempotencyKey *string   `gorm:"index:idx_cmd_dedup,unique"`
	State          string    `gorm:"not null;default:'queued';index"`
	Error          string    `gorm:"type:text;default:''"`
	Attempts       int       `gorm:"not null;default:0"`
	SentAt         *time.Time
	CompletedAt    *time.Time
	CorrelationID  string `gorm:"index"`
}

// -----------------------------------------------------------------------------
// Wake schedules
// -----------------------------------------------------------------------------

// WakeSchedule persists a recurring or one-shot wake instruction for a host.
type WakeSchedule struct {
	base
	HostFQN       string     `gorm:"not null;index"`
	ScheduledTime string     `gorm:"not null"` // "HH:MM" in Timezone
	Timezone      string     `gorm:"not null;default:'UTC'"`
	Frequency     string     `gorm:"not null"` // once, daily, weekly, weekdays, weekends
	Enabled       bool       `gorm:"not null;default:true"`
	NotifyOnWake  bool       `gorm:"not null;default:false"`
	LastTriggered *time.Time
	NextTrigger   *time.Time `gorm:"index"`
}

// -----------------------------------------------------------------------------
// Webhooks
// -----------------------------------------------------------------------------

// WebhookSubscription is a registered outbound delivery target. Secret is
// encrypted at rest via EncryptedString — the reference codebase treats every
// credential-shaped field this way.
type WebhookSubscription struct {
	base
	URL    string          `gorm:"not null"`
	Events string          `gorm:"type:text;not null;default:'[]'"` // JSON array
	Secret EncryptedString `gorm:"type:text;default:''"`
}

// WebhookDeliveryLog is an append-only record of a single delivery attempt.
type WebhookDeliveryLog struct {
	base
	WebhookID      uuid.UUID `gorm:"type:text;not null;index"`
	EventType      string    `gorm:"not null"`
	Attempt        int       `gorm:"not null"`
	Status         string    `gorm:"not null"` // "success", "failed"
	ResponseStatus int       `gorm:"not null;default:0"`
	Error          string    `gorm:"type:text;default:''"`
	Payload        string    `gorm:"type:text;default:'{}'"` // JSON
}
