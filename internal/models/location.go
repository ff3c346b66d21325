package models

import (
	"fmt"
	"math"
	"time"
)

// LocationSample is the latest known position of an owner. The store keeps
// exactly one row per owner id (last-write-wins); history, when enabled, goes
// to the time-series store instead.
type LocationSample struct {
	OwnerID    string    `gorm:"primaryKey;size:128" json:"owner_id"`
	DeviceID   string    `gorm:"size:64;index" json:"device_id,omitempty"`
	Latitude   float64   `gorm:"not null" json:"latitude"`
	Longitude  float64   `gorm:"not null" json:"longitude"`
	Accuracy   float64   `json:"accuracy,omitempty"`
	CapturedAt time.Time `gorm:"not null" json:"captured_at"`
}

// TableName keeps the collection name aligned with the notify triggers.
func (LocationSample) TableName() string {
	return "locations"
}

// Validate checks the coordinate and identity invariants before a persist.
func (s *LocationSample) Validate() error {
	if s.OwnerID == "" {
		return ErrInvalidOwnerID
	}
	if math.IsNaN(s.Latitude) || math.IsInf(s.Latitude, 0) ||
		math.IsNaN(s.Longitude) || math.IsInf(s.Longitude, 0) {
		return fmt.Errorf("coordinates must be finite: %w", ErrPositionUnavailable)
	}
	if s.Latitude < -90 || s.Latitude > 90 {
		return fmt.Errorf("latitude %f out of range: %w", s.Latitude, ErrPositionUnavailable)
	}
	if s.Longitude < -180 || s.Longitude > 180 {
		return fmt.Errorf("longitude %f out of range: %w", s.Longitude, ErrPositionUnavailable)
	}
	if s.CapturedAt.IsZero() {
		return fmt.Errorf("captured_at is required: %w", ErrPositionUnavailable)
	}
	return nil
}

// ToInfluxTags returns the tag set for the history measurement.
func (s *LocationSample) ToInfluxTags() map[string]string {
	tags := map[string]string{
		"owner_id": s.OwnerID,
	}
	if s.DeviceID != "" {
		tags["device_id"] = s.DeviceID
	}
	return tags
}

// ToInfluxFields returns the field set for the history measurement.
func (s *LocationSample) ToInfluxFields() map[string]interface{} {
	return map[string]interface{}{
		"latitude":  s.Latitude,
		"longitude": s.Longitude,
		"accuracy":  s.Accuracy,
	}
}
