package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/woly-io/woly/cnc/internal/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// gormHostRepository is the GORM implementation of HostRepository.
type gormHostRepository struct {
	db *gorm.DB
}

// NewHostRepository returns a HostRepository backed by the provided *gorm.DB.
func NewHostRepository(db *gorm.DB) HostRepository {
	return &gormHostRepository{db: db}
}

// Upsert inserts a host or, if a row with the same FQN already exists,
// updates it in place. FQN is the natural key for a host across restarts.
func (r *gormHostRepository) Upsert(ctx context.Context, host *db.Host) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "fqn"}},
			UpdateAll: true,
		}).
		Create(host).Error
	if err != nil {
		return fmt.Errorf("hosts: upsert: %w", err)
	}
	return nil
}

// GetByFQN retrieves a host by its fully-qualified name. Returns ErrNotFound
// if no record exists.
func (r *gormHostRepository) GetByFQN(ctx context.Context, fqn string) (*db.Host, error) {
	var host db.Host
	err := r.db.WithContext(ctx).First(&host, "fqn = ?", fqn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("hosts: get by fqn: %w", err)
	}
	return &host, nil
}

// Update persists all fields of an existing host record.
func (r *gormHostRepository) Update(ctx context.Context, host *db.Host) error {
	result := r.db.WithContext(ctx).Save(host)
	if result.Error != nil {
		return fmt.Errorf("hosts: update: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateStatus updates only the status and last_seen columns, the fields
// touched by an ARP-driven presence transition.
func (r *gormHostRepository) UpdateStatus(ctx context.Context, fqn, status string, lastSeen *time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&db.Host{}).
		Where("fqn = ?", fqn).
		Updates(map[string]interface{}{
			"status":    status,
			"last_seen": lastSeen,
		})
	if result.Error != nil {
		return fmt.Errorf("hosts: update status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete hard-deletes a host by FQN.
func (r *gormHostRepository) Delete(ctx context.Context, fqn string) error {
	result := r.db.WithContext(ctx).Delete(&db.Host{}, "fqn = ?", fqn)
	if result.Error != nil {
		return fmt.Errorf("hosts: delete: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteByNode removes every host owned by nodeID, used when a node is
// deregistered.
func (r *gormHostRepository) DeleteByNode(ctx context.Context, nodeID uuid.UUID) error {
	if err := r.db.WithContext(ctx).Delete(&db.Host{}, "node_id = ?", nodeID).Error; err != nil {
		return fmt.Errorf("hosts: delete by node: %w", err)
	}
	return nil
}

// List returns a paginated list of hosts and the total count.
func (r *gormHostRepository) List(ctx context.Context, opts ListOptions) ([]db.Host, int64, error) {
	var hosts []db.Host
	var total int64

	if err := r.db.WithContext(ctx).Model(&db.Host{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("hosts: list count: %w", err)
	}

	if err := r.db.WithContext(ctx).
		Limit(opts.Limit).
		Offset(opts.Offset).
		Order("fqn ASC").
		Find(&hosts).Error; err != nil {
		return nil, 0, fmt.Errorf("hosts: list: %w", err)
	}

	return hosts, total, nil
}

// ListByNode returns every host currently owned by nodeID.
func (r *gormHostRepository) ListByNode(ctx context.Context, nodeID uuid.UUID) ([]db.Host, error) {
	var hosts []db.Host
	if err := r.db.WithContext(ctx).Where("node_id = ?", nodeID).Find(&hosts).Error; err != nil {
		return nil, fmt.Errorf("hosts: list by node: %w", err)
	}
	return hosts, nil
}

// AppendStatusHistory records a single status transition for fqn.
func (r *gormHostRepository) AppendStatusHistory(ctx context.Context, h *db.HostStatusHistory) error {
	if err := r.db.WithContext(ctx).Create(h).Error; err != nil {
		return fmt.Errorf("hosts: append status history: %w", err)
	}
	return nil
}

// ListStatusHistory returns a paginated, most-recent-first status history for fqn.
func (r *gormHostRepository) ListStatusHistory(ctx context.Context, fqn string, opts ListOptions) ([]db.HostStatusHistory, int64, error) {
	var rows []db.HostStatusHistory
	var total int64

	if err := r.db.WithContext(ctx).Model(&db.HostStatusHistory{}).Where("fqn = ?", fqn).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("hosts: list status history count: %w", err)
	}

	if err := r.db.WithContext(ctx).
		Where("fqn = ?", fqn).
		Limit(opts.Limit).
		Offset(opts.Offset).
		Order("at DESC").
		Find(&rows).Error; err != nil {
		return nil, 0, fmt.Errorf("hosts: list status history: %w", err)
	}

	return rows, total, nil
}

// PruneStatusHistory deletes history rows older than olderThan, applying the
// configured retention window. Returns the number of rows deleted.
func (r *gormHostRepository) PruneStatusHistory(ctx context.Context, olderThan time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Where("at < ?", olderThan).Delete(&db.HostStatusHistory{})
	if result.Error != nil {
		return 0, fmt.Errorf("hosts: prune status history: %w", result.Error)
	}
	return result.RowsAffected, nil
}
