package store

import (
	"context"

	"github.com/ryanhale/tracksync/internal/models"
)

// Filter selects the location records a query or subscription covers. The
// zero value matches every owner (operator view).
type Filter struct {
	OwnerID string
}

// Matches reports whether the sample belongs to the filtered result set.
func (f Filter) Matches(s models.LocationSample) bool {
	return f.OwnerID == "" || f.OwnerID == s.OwnerID
}

// Subscription is a live result set. Snapshot returns the records matching
// the filter as of the last notification; Updates delivers a fresh result
// set whenever the matching records change remotely. Duplicate deliveries
// with identical content are permitted. Unsubscribe releases the backend
// resources and is safe to call more than once.
type Subscription interface {
	Snapshot() []models.LocationSample
	Updates() <-chan []models.LocationSample
	Unsubscribe()
}

// Store is the remote document store: identity, latest-location documents
// keyed by owner, paired devices and live query subscriptions. All persisted
// layout is the store's own; callers hold no authoritative copy.
type Store interface {
	// CreateAccount registers a new principal. The password is hashed at
	// rest; the returned principal carries the generated owner id.
	CreateAccount(ctx context.Context, email, password string) (models.Principal, error)

	// Authenticate resolves a principal from credentials.
	Authenticate(ctx context.Context, email, password string) (models.Principal, error)

	// PutLocation upserts the latest sample for its owner (last-write-wins).
	PutLocation(ctx context.Context, sample models.LocationSample) error

	// Locations returns the records matching the filter.
	Locations(ctx context.Context, filter Filter) ([]models.LocationSample, error)

	// SaveDevice registers or refreshes a paired device.
	SaveDevice(ctx context.Context, device *models.Device) error

	// DevicesByOwner lists the devices paired under an owner.
	DevicesByOwner(ctx context.Context, ownerID string) ([]models.Device, error)

	// SubscribeLocations opens a live result set for the filter.
	SubscribeLocations(ctx context.Context, filter Filter) (Subscription, error)

	// MinAgentVersion returns the minimum agent version the backend accepts.
	MinAgentVersion(ctx context.Context) (string, error)
}

// HistoryRecorder appends samples to a history sink. It is optional
// plumbing beside the latest-only document collection.
type HistoryRecorder interface {
	Record(ctx context.Context, sample models.LocationSample) error
}
