package models

// TrackingState is the lifecycle of one owner's tracking session as exposed
// to the presentation boundary.
type TrackingState string

const (
	TrackingInactive TrackingState = "inactive"
	TrackingActive   TrackingState = "active"
	TrackingError    TrackingState = "error"
)

// SessionStatus is a point-in-time snapshot of a tracking session.
type SessionStatus struct {
	OwnerID           string        `json:"owner_id"`
	State             TrackingState `json:"state"`
	PermissionGranted bool          `json:"permission_granted"`
	Writes            uint64        `json:"writes"`
	Errors            uint64        `json:"errors"`
	LastError         string        `json:"last_error,omitempty"`
}
