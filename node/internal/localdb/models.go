package localdb

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Host mirrors the fields the C&C aggregator tracks for a host, scoped to
// this one node. ID uses UUID v7 so rows sort chronologically by insertion.
type Host struct {
	ID             uuid.UUID `gorm:"type:text;primaryKey"`
	Name           string    `gorm:"not null"`
	MAC            string    `gorm:"not null;uniqueIndex"`
	IP             string    `gorm:"not null"`
	Status         string    `gorm:"not null;default:'asleep'"`
	PingResponsive *int      `gorm:""`
	LastSeen       *time.Time
	Discovered     bool   `gorm:"not null;default:false"`
	Notes          string `gorm:"type:text;default:''"`
	Tags           string `gorm:"type:text;default:'[]'"`
	WOLPort        int    `gorm:"not null;default:9"`
	CreatedAt      time.Time `gorm:"not null"`
	UpdatedAt      time.Time `gorm:"not null"`
}

func (Host) TableName() string { return "hosts" }

// BeforeCreate assigns a time-ordered UUID if one was not already set.
func (h *Host) BeforeCreate(tx *gorm.DB) error {
	if h.ID == (uuid.UUID{}) {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		h.ID = id
	}
	return nil
}
