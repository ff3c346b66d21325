package models

import "time"

// Device is a paired tracker registered under an owner. Devices are created
// by the pairing flow and refreshed whenever a sample carrying their id is
// persisted; they are never deleted by the core logic.
type Device struct {
	ID          string    `gorm:"primaryKey;size:64" json:"id"`
	DisplayName string    `gorm:"size:128" json:"display_name,omitempty"`
	OwnerID     string    `gorm:"size:128;index;not null" json:"owner_id"`
	PairedAt    time.Time `gorm:"not null" json:"paired_at"`
	LastSeen    time.Time `json:"last_seen"`

	LastKnownPosition *LocationSample `gorm:"-" json:"last_known_position,omitempty"`
}

func (Device) TableName() string {
	return "devices"
}
