package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/woly-io/woly/cnc/internal/db"
	"gorm.io/gorm"
)

// gormWakeScheduleRepository is the GORM implementation of WakeScheduleRepository.
type gormWakeScheduleRepository struct {
	db *gorm.DB
}

// NewWakeScheduleRepository returns a WakeScheduleRepository backed by the provided *gorm.DB.
func NewWakeScheduleRepository(db *gorm.DB) WakeScheduleRepository {
	return &gormWakeScheduleRepository{db: db}
}

// Create inserts a new wake schedule record.
func (r *gormWakeScheduleRepository) Create(ctx context.Context, s *db.WakeSchedule) error {
	if err := r.db.WithContext(ctx).Create(s).Error; err != nil {
		return fmt.Errorf("wakeschedules: create: %w", err)
	}
	return nil
}

// GetByID retrieves a wake schedule by its UUID. Returns ErrNotFound if no record exists.
func (r *gormWakeScheduleRepository) GetByID(ctx context.Context, id uuid.UUID) (*db.WakeSchedule, error) {
	var s db.WakeSchedule
	err := r.db.WithContext(ctx).First(&s, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("wakeschedules: get by id: %w", err)
	}
	return &s, nil
}

// Update persists all fields of an existing wake schedule record.
func (r *gormWakeScheduleRepository) Update(ctx context.Context, s *db.WakeSchedule) error {
	result := r.db.WithContext(ctx).Save(s)
	if result.Error != nil {
		return fmt.Errorf("wakeschedules: update: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete hard-deletes a wake schedule.
func (r *gormWakeScheduleRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).Delete(&db.WakeSchedule{}, "id = ?", id)
	if result.Error != nil {
		return fmt.Errorf("wakeschedules: delete: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns a paginated list of wake schedules and the total count.
func (r *gormWakeScheduleRepository) List(ctx context.Context, opts ListOptions) ([]db.WakeSchedule, int64, error) {
	var schedules []db.WakeSchedule
	var total int64

	if err := r.db.WithContext(ctx).Model(&db.WakeSchedule{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("wakeschedules: list count: %w", err)
	}

	if err := r.db.WithContext(ctx).
		Limit(opts.Limit).
		Offset(opts.Offset).
		Order("created_at ASC").
		Find(&schedules).Error; err != nil {
		return nil, 0, fmt.Errorf("wakeschedules: list: %w", err)
	}

	return schedules, total, nil
}

// ListByHost returns every schedule targeting hostFQN.
func (r *gormWakeScheduleRepository) ListByHost(ctx context.Context, hostFQN string) ([]db.WakeSchedule, error) {
	var schedules []db.WakeSchedule
	if err := r.db.WithContext(ctx).Where("host_fqn = ?", hostFQN).Find(&schedules).Error; err != nil {
		return nil, fmt.Errorf("wakeschedules: list by host: %w", err)
	}
	return schedules, nil
}

// ListDue returns enabled schedules whose next_trigger has passed, ordered
// oldest-due-first and capped at limit. The schedule worker polls this on
// every tick.
func (r *gormWakeScheduleRepository) ListDue(ctx context.Context, at time.Time, limit int) ([]db.WakeSchedule, error) {
	var schedules []db.WakeSchedule
	err := r.db.WithContext(ctx).
		Where("enabled = ? AND next_trigger IS NOT NULL AND next_trigger <= ?", true, at).
		Order("next_trigger ASC").
		Limit(limit).
		Find(&schedules).Error
	if err != nil {
		return nil, fmt.Errorf("wakeschedules: list due: %w", err)
	}
	return schedules, nil
}

// MarkTriggered records the firing time and recomputed next occurrence for a
// schedule. nextTrigger is nil for one-shot schedules, which are disabled by
// MarkTriggered instead of rescheduled.
func (r *gormWakeScheduleRepository) MarkTriggered(ctx context.Context, id uuid.UUID, triggeredAt time.Time, nextTrigger *time.Time) error {
	updates := map[string]interface{}{
		"last_triggered": triggeredAt,
		"next_trigger":   nextTrigger,
	}
	if nextTrigger == nil {
		updates["enabled"] = false
	}
	result := r.db.WithContext(ctx).Model(&db.WakeSchedule{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("wakeschedules: mark triggered: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
