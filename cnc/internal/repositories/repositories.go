package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/woly-io/woly/cnc/internal/db"
)

// -----------------------------------------------------------------------------
// Common
// -----------------------------------------------------------------------------

// ListOptions contains common pagination and filtering options for list queries.
type ListOptions struct {
	Limit  int
	Offset int
}

// -----------------------------------------------------------------------------
// NodeRepository
// -----------------------------------------------------------------------------

type NodeRepository interface {
	Create(ctx context.Context, node *db.Node) error
	GetByID(ctx context.Context, id uuid.UUID) (*db.Node, error)
	GetByLocation(ctx context.Context, location string) (*db.Node, error)
	Update(ctx context.Context, node *db.Node) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status string, lastHeartbeatAt *time.Time) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, opts ListOptions) ([]db.Node, int64, error)
}

// -----------------------------------------------------------------------------
// HostRepository
// -----------------------------------------------------------------------------

type HostRepository interface {
	Upsert(ctx context.Context, host *db.Host) error
	GetByFQN(ctx context.Context, fqn string) (*db.Host, error)
	Update(ctx context.Context, host *db.Host) error
	UpdateStatus(ctx context.Context, fqn, status string, lastSeen *time.Time) error
	Delete(ctx context.Context, fqn string) error
	DeleteByNode(ctx context.Context, nodeID uuid.UUID) error
	List(ctx context.Context, opts ListOptions) ([]db.Host, int64, error)
	ListByNode(ctx context.Context, nodeID uuid.UUID) ([]db.Host, error)

	// AppendStatusHistory records a status transition for fqn.
	AppendStatusHistory(ctx context.Context, h *db.HostStatusHistory) error
	ListStatusHistory(ctx context.Context, fqn string, opts ListOptions) ([]db.HostStatusHistory, int64, error)
	PruneStatusHistory(ctx context.Context, olderThan time.Time) (int64, error)
}

// -----------------------------------------------------------------------------
// CommandRepository
// -----------------------------------------------------------------------------

type CommandRepository interface {
	Create(ctx context.Context, cmd *db.Command) error
	GetByID(ctx context.Context, id uuid.UUID) (*db.Command, error)
	GetByIdempotencyKey(ctx context.Context, nodeID uuid.UUID, cmdType, key string) (*db.Command, error)
	Update(ctx context.Context, cmd *db.Command) error
	UpdateState(ctx context.Context, id uuid.UUID, state, errMsg string, completedAt *time.Time) error
	MarkSent(ctx context.Context, id uuid.UUID, sentAt time.Time, attempts int) error
	List(ctx context.Context, opts ListOptions) ([]db.Command, int64, error)
	ListByNode(ctx context.Context, nodeID uuid.UUID, opts ListOptions) ([]db.Command, int64, error)

	// ListInFlight returns commands in the queued or sent state, used on
	// startup to reconcile the retry scheduler against durable state.
	ListInFlight(ctx context.Context) ([]db.Command, error)
	PruneTerminal(ctx context.Context, olderThan time.Time) (int64, error)
}

// -----------------------------------------------------------------------------
// WakeScheduleRepository
// -----------------------------------------------------------------------------

type WakeScheduleRepository interface {
	Create(ctx context.Context, s *db.WakeSchedule) error
	GetByID(ctx context.Context, id uuid.UUID) (*db.WakeSchedule, error)
	Update(ctx context.Context, s *db.WakeSchedule) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, opts ListOptions) ([]db.WakeSchedule, int64, error)
	ListByHost(ctx context.Context, hostFQN string) ([]db.WakeSchedule, error)

	// ListDue returns enabled schedules whose NextTrigger is <= at, up to
	// limit rows, ordered by NextTrigger ascending.
	ListDue(ctx context.Context, at time.Time, limit int) ([]db.WakeSchedule, error)
	MarkTriggered(ctx context.Context, id uuid.UUID, triggeredAt time.Time, nextTrigger *time.Time) error
}

// -----------------------------------------------------------------------------
// WebhookRepository
// -----------------------------------------------------------------------------

type WebhookRepository interface {
	Create(ctx context.Context, w *db.WebhookSubscription) error
	GetByID(ctx context.Context, id uuid.UUID) (*db.WebhookSubscription, error)
	Update(ctx context.Context, w *db.WebhookSubscription) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, opts ListOptions) ([]db.WebhookSubscription, int64, error)

	// ListSubscribedTo returns webhooks whose Events list contains eventType.
	// Filtering by the JSON-encoded Events column happens in Go, not SQL, since
	// Events has no dialect-portable containment operator across sqlite/postgres.
	ListSubscribedTo(ctx context.Context, eventType string) ([]db.WebhookSubscription, error)
}

// -----------------------------------------------------------------------------
// WebhookDeliveryRepository
// -----------------------------------------------------------------------------

type WebhookDeliveryRepository interface {
	Create(ctx context.Context, d *db.WebhookDeliveryLog) error
	ListByWebhook(ctx context.Context, webhookID uuid.UUID, opts ListOptions) ([]db.WebhookDeliveryLog, int64, error)
	PruneOlderThan(ctx context.Context, olderThan time.Time) (int64, error)
}
