package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/woly-io/woly/cnc/internal/db"
	"gorm.io/gorm"
)

// gormWebhookRepository is the GORM implementation of WebhookRepository.
type gormWebhookRepository struct {
	db *gorm.DB
}

// NewWebhookRepository returns a WebhookRepository backed by the provided *gorm.DB.
func NewWebhookRepository(db *gorm.DB) WebhookRepository {
	return &gormWebhookRepository{db: db}
}

// Create inserts a new webhook subscription.
func (r *gormWebhookRepository) Create(ctx context.Context, w *db.WebhookSubscription) error {
	if err := r.db.WithContext(ctx).Create(w).Error; err != nil {
		return fmt.Errorf("webhooks: create: %w", err)
	}
	return nil
}

// GetByID retrieves a webhook subscription by its UUID. Returns ErrNotFound if no record exists.
func (r *gormWebhookRepository) GetByID(ctx context.Context, id uuid.UUID) (*db.WebhookSubscription, error) {
	var w db.WebhookSubscription
	err := r.db.WithContext(ctx).First(&w, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("webhooks: get by id: %w", err)
	}
	return &w, nil
}

// Update persists all fields of an existing webhook subscription.
func (r *gormWebhookRepository) Update(ctx context.Context, w *db.WebhookSubscription) error {
	result := r.db.WithContext(ctx).Save(w)
	if result.Error != nil {
		return fmt.Errorf("webhooks: update: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete hard-deletes a webhook subscription.
func (r *gormWebhookRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).Delete(&db.WebhookSubscription{}, "id = ?", id)
	if result.Error != nil {
		return fmt.Errorf("webhooks: delete: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns a paginated list of webhook subscriptions and the total count.
func (r *gormWebhookRepository) List(ctx context.Context, opts ListOptions) ([]db.WebhookSubscription, int64, error) {
	var hooks []db.WebhookSubscription
	var total int64

	if err := r.db.WithContext(ctx).Model(&db.WebhookSubscription{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("webhooks: list count: %w", err)
	}

	if err := r.db.WithContext(ctx).
		Limit(opts.Limit).
		Offset(opts.Offset).
		Order("created_at ASC").
		Find(&hooks).Error; err != nil {
		return nil, 0, fmt.Errorf("webhooks: list: %w", err)
	}

	return hooks, total, nil
}

// ListSubscribedTo returns webhooks whose Events list contains eventType.
// Events is stored as a JSON array with no dialect-portable containment
// operator, so the full table is loaded and filtered here; webhook
// subscription counts are expected to stay small (tens, not thousands).
func (r *gormWebhookRepository) ListSubscribedTo(ctx context.Context, eventType string) ([]db.WebhookSubscription, error) {
	var all []db.WebhookSubscription
	if err := r.db.WithContext(ctx).Find(&all).Error; err != nil {
		return nil, fmt.Errorf("webhooks: list subscribed to: %w", err)
	}

	matched := make([]db.WebhookSubscription, 0, len(all))
	for _, w := range all {
		var events []string
		if err := json.Unmarshal([]byte(w.Events), &events); err != nil {
			continue
		}
		for _, e := range events {
			if e == eventType || e == "*" {
				matched = append(matched, w)
				break
			}
		}
	}
	return matched, nil
}
