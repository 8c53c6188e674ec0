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

// gormNodeRepository is the GORM implementation of NodeRepository.
type gormNodeRepository struct {
	db *gorm.DB
}

// NewNodeRepository returns a NodeRepository backed by the provided *gorm.DB.
func NewNodeRepository(db *gorm.DB) NodeRepository {
	return &gormNodeRepository{db: db}
}

// Create inserts a new node record into the database.
func (r *gormNodeRepository) Create(ctx context.Context, node *db.Node) error {
	if err := r.db.WithContext(ctx).Create(node).Error; err != nil {
		return fmt.Errorf("nodes: create: %w", err)
	}
	return nil
}

// GetByID retrieves a node by its UUID. Returns ErrNotFound if no record exists.
func (r *gormNodeRepository) GetByID(ctx context.Context, id uuid.UUID) (*db.Node, error) {
	var node db.Node
	err := r.db.WithContext(ctx).First(&node, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("nodes: get by id: %w", err)
	}
	return &node, nil
}

// GetByLocation retrieves a node by its location, the human identifier nodes
// register with. Used on reconnect to bind an existing node record instead of
// creating a duplicate.
func (r *gormNodeRepository) GetByLocation(ctx context.Context, location string) (*db.Node, error) {
	var node db.Node
	err := r.db.WithContext(ctx).First(&node, "location = ?", location).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("nodes: get by location: %w", err)
	}
	return &node, nil
}

// Update persists all fields of an existing node record.
func (r *gormNodeRepository) Update(ctx context.Context, node *db.Node) error {
	result := r.db.WithContext(ctx).Save(node)
	if result.Error != nil {
		return fmt.Errorf("nodes: update: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateStatus updates only the status and last_heartbeat_at columns. Called
// on every heartbeat and on connection close, so it avoids writing the rest
// of the row.
func (r *gormNodeRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status string, lastHeartbeatAt *time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&db.Node{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":            status,
			"last_heartbeat_at": lastHeartbeatAt,
		})
	if result.Error != nil {
		return fmt.Errorf("nodes: update status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete hard-deletes a node record. Nodes carry no soft-delete semantics;
// a removed node's hosts are deleted separately via DeleteByNode.
func (r *gormNodeRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).Delete(&db.Node{}, "id = ?", id)
	if result.Error != nil {
		return fmt.Errorf("nodes: delete: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns a paginated list of nodes and the total count.
func (r *gormNodeRepository) List(ctx context.Context, opts ListOptions) ([]db.Node, int64, error) {
	var nodes []db.Node
	var total int64

	if err := r.db.WithContext(ctx).Model(&db.Node{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("nodes: list count: %w", err)
	}

	if err := r.db.WithContext(ctx).
		Limit(opts.Limit).
		Offset(opts.Offset).
		Order("created_at ASC").
		Find(&nodes).Error; err != nil {
		return nil, 0, fmt.Errorf("nodes: list: %w", err)
	}

	return nodes, total, nil
}
