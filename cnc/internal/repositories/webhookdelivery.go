package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/woly-io/woly/cnc/internal/db"
	"gorm.io/gorm"
)

// gormWebhookDeliveryRepository is the GORM implementation of WebhookDeliveryRepository.
type gormWebhookDeliveryRepository struct {
	db *gorm.DB
}

// NewWebhookDeliveryRepository returns a WebhookDeliveryRepository backed by the provided *gorm.DB.
func NewWebhookDeliveryRepository(db *gorm.DB) WebhookDeliveryRepository {
	return &gormWebhookDeliveryRepository{db: db}
}

// Create inserts a single delivery attempt record.
func (r *gormWebhookDeliveryRepository) Create(ctx context.Context, d *db.WebhookDeliveryLog) error {
	if err := r.db.WithContext(ctx).Create(d).Error; err != nil {
		return fmt.Errorf("webhookdeliveries: create: %w", err)
	}
	return nil
}

// ListByWebhook returns a paginated, most-recent-first delivery log for webhookID.
func (r *gormWebhookDeliveryRepository) ListByWebhook(ctx context.Context, webhookID uuid.UUID, opts ListOptions) ([]db.WebhookDeliveryLog, int64, error) {
	var rows []db.WebhookDeliveryLog
	var total int64

	if err := r.db.WithContext(ctx).Model(&db.WebhookDeliveryLog{}).Where("webhook_id = ?", webhookID).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("webhookdeliveries: list by webhook count: %w", err)
	}

	if err := r.db.WithContext(ctx).
		Where("webhook_id = ?", webhookID).
		Limit(opts.Limit).
		Offset(opts.Offset).
		Order("created_at DESC").
		Find(&rows).Error; err != nil {
		return nil, 0, fmt.Errorf("webhookdeliveries: list by webhook: %w", err)
	}

	return rows, total, nil
}

// PruneOlderThan deletes delivery log rows older than olderThan. Returns the
// number of rows deleted.
func (r *gormWebhookDeliveryRepository) PruneOlderThan(ctx context.Context, olderThan time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Where("created_at < ?", olderThan).Delete(&db.WebhookDeliveryLog{})
	if result.Error != nil {
		return 0, fmt.Errorf("webhookdeliveries: prune: %w", result.Error)
	}
	return result.RowsAffected, nil
}
