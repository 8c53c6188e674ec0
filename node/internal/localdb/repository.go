package localdb

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound is returned when a lookup by name or MAC matches no row.
var ErrNotFound = errors.New("localdb: not found")

// HostRepository is the node agent's local host store. It is deliberately
// narrow — the node is not a general-purpose inventory, just a cache the
// discovery pipeline and HTTP surface can read without a round trip to C&C.
type HostRepository interface {
	UpsertByMAC(ctx context.Context, host *Host) error
	GetByName(ctx context.Context, name string) (*Host, error)
	GetByMAC(ctx context.Context, mac string) (*Host, error)
	Delete(ctx context.Context, name string) error
	List(ctx context.Context) ([]Host, error)
}

type gormHostRepository struct {
	db *gorm.DB
}

// NewHostRepository returns a HostRepository backed by db.
func NewHostRepository(db *gorm.DB) HostRepository {
	return &gormHostRepository{db: db}
}

// UpsertByMAC inserts host or, if a row with the same MAC already exists,
// updates it in place. MAC is the natural key — a device's name and IP can
// both change between scans, its MAC does not.
func (r *gormHostRepository) UpsertByMAC(ctx context.Context, host *Host) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "mac"}},
			UpdateAll: true,
		}).
		Create(host).Error
	if err != nil {
		return fmt.Errorf("localdb: upsert by mac: %w", err)
	}
	return nil
}

// GetByName retrieves a host by its display name.
func (r *gormHostRepository) GetByName(ctx context.Context, name string) (*Host, error) {
	var h Host
	err := r.db.WithContext(ctx).First(&h, "name = ?", name).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("localdb: get by name: %w", err)
	}
	return &h, nil
}

// GetByMAC retrieves a host by its normalized MAC address.
func (r *gormHostRepository) GetByMAC(ctx context.Context, mac string) (*Host, error) {
	var h Host
	err := r.db.WithContext(ctx).First(&h, "mac = ?", mac).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("localdb: get by mac: %w", err)
	}
	return &h, nil
}

// Delete removes a host by name.
func (r *gormHostRepository) Delete(ctx context.Context, name string) error {
	result := r.db.WithContext(ctx).Where("name = ?", name).Delete(&Host{})
	if result.Error != nil {
		return fmt.Errorf("localdb: delete: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns every known host, ordered by name.
func (r *gormHostRepository) List(ctx context.Context) ([]Host, error) {
	var hosts []Host
	if err := r.db.WithContext(ctx).Order("name ASC").Find(&hosts).Error; err != nil {
		return nil, fmt.Errorf("localdb: list: %w", err)
	}
	return hosts, nil
}
