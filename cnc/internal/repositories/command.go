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

// gormCommandRepository is the GORM implementation of CommandRepository.
type gormCommandRepository struct {
	db *gorm.DB
}

// NewCommandRepository returns a CommandRepository backed by the provided *gorm.DB.
func NewCommandRepository(db *gorm.DB) CommandRepository {
	return &gormCommandRepository{db: db}
}

// Create inserts a new command record. A duplicate (node_id, type,
// idempotency_key) triggers the database's unique constraint; callers should
// check GetByIdempotencyKey first to surface the existing command instead of
// relying on the constraint error.
func (r *gormCommandRepository) Create(ctx context.Context, cmd *db.Command) error {
	if err := r.db.WithContext(ctx).Create(cmd).Error; err != nil {
		return fmt.Errorf("commands: create: %w", err)
	}
	return nil
}

// GetByID retrieves a command by its UUID. Returns ErrNotFound if no record exists.
func (r *gormCommandRepository) GetByID(ctx context.Context, id uuid.UUID) (*db.Command, error) {
	var cmd db.Command
	err := r.db.WithContext(ctx).First(&cmd, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("commands: get by id: %w", err)
	}
	return &cmd, nil
}

// GetByIdempotencyKey retrieves the command previously issued for the same
// (nodeID, cmdType, key) triple, if any. Returns ErrNotFound if no match.
func (r *gormCommandRepository) GetByIdempotencyKey(ctx context.Context, nodeID uuid.UUID, cmdType, key string) (*db.Command, error) {
	var cmd db.Command
	err := r.db.WithContext(ctx).
		First(&cmd, "node_id = ? AND type = ? AND idempotency_key = ?", nodeID, cmdType, key).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("commands: get by idempotency key: %w", err)
	}
	return &cmd, nil
}

// Update persists all fields of an existing command record.
func (r *gormCommandRepository) Update(ctx context.Context, cmd *db.Command) error {
	result := r.db.WithContext(ctx).Save(cmd)
	if result.Error != nil {
		return fmt.Errorf("commands: update: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateState transitions a command to a new state, recording the error
// message and completion time for terminal transitions.
func (r *gormCommandRepository) UpdateState(ctx context.Context, id uuid.UUID, state, errMsg string, completedAt *time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&db.Command{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"state":        state,
			"error":        errMsg,
			"completed_at": completedAt,
		})
	if result.Error != nil {
		return fmt.Errorf("commands: update state: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkSent transitions a command into the sent state and bumps its attempt count.
func (r *gormCommandRepository) MarkSent(ctx context.Context, id uuid.UUID, sentAt time.Time, attempts int) error {
	result := r.db.WithContext(ctx).
		Model(&db.Command{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"state":    "sent",
			"sent_at":  sentAt,
			"attempts": attempts,
		})
	if result.Error != nil {
		return fmt.Errorf("commands: mark sent: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns a paginated list of commands and the total count, most recent first.
func (r *gormCommandRepository) List(ctx context.Context, opts ListOptions) ([]db.Command, int64, error) {
	var cmds []db.Command
	var total int64

	if err := r.db.WithContext(ctx).Model(&db.Command{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("commands: list count: %w", err)
	}

	if err := r.db.WithContext(ctx).
		Limit(opts.Limit).
		Offset(opts.Offset).
		Order("created_at DESC").
		Find(&cmds).Error; err != nil {
		return nil, 0, fmt.Errorf("commands: list: %w", err)
	}

	return cmds, total, nil
}

// ListByNode returns a paginated list of commands issued to nodeID, most recent first.
func (r *gormCommandRepository) ListByNode(ctx context.Context, nodeID uuid.UUID, opts ListOptions) ([]db.Command, int64, error) {
	var cmds []db.Command
	var total int64

	if err := r.db.WithContext(ctx).Model(&db.Command{}).Where("node_id = ?", nodeID).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("commands: list by node count: %w", err)
	}

	if err := r.db.WithContext(ctx).
		Where("node_id = ?", nodeID).
		Limit(opts.Limit).
		Offset(opts.Offset).
		Order("created_at DESC").
		Find(&cmds).Error; err != nil {
		return nil, 0, fmt.Errorf("commands: list by node: %w", err)
	}

	return cmds, total, nil
}

// ListInFlight returns every command in the queued or sent state. Called once
// at startup so the retry scheduler can re-adopt commands that were mid-flight
// when the process last stopped.
func (r *gormCommandRepository) ListInFlight(ctx context.Context) ([]db.Command, error) {
	var cmds []db.Command
	if err := r.db.WithContext(ctx).
		Where("state IN ?", []string{"queued", "sent"}).
		Order("created_at ASC").
		Find(&cmds).Error; err != nil {
		return nil, fmt.Errorf("commands: list in flight: %w", err)
	}
	return cmds, nil
}

// PruneTerminal deletes terminal commands completed before olderThan.
// Returns the number of rows deleted.
func (r *gormCommandRepository) PruneTerminal(ctx context.Context, olderThan time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("state IN ? AND completed_at < ?", []string{"acknowledged", "failed", "timed_out"}, olderThan).
		Delete(&db.Command{})
	if result.Error != nil {
		return 0, fmt.Errorf("commands: prune terminal: %w", result.Error)
	}
	return result.RowsAffected, nil
}
