package models

import "errors"

// Error taxonomy shared by the tracker, the feed and the store layer.
// Components wrap these with fmt.Errorf("...: %w", err) and callers match
// with errors.Is.
var (
	// ErrPermissionDenied means the position source refused location access.
	// The only recovery is an external grant followed by a new activation.
	ErrPermissionDenied = errors.New("location permission denied")

	// ErrPositionUnavailable means the position source could not produce a fix.
	ErrPositionUnavailable = errors.New("position unavailable")

	// ErrStoreUnavailable means the remote store rejected or timed out a call.
	ErrStoreUnavailable = errors.New("remote store unavailable")

	// ErrUnauthenticated means no principal has been resolved for the call.
	ErrUnauthenticated = errors.New("not authenticated")

	// ErrInvalidOwnerID means an empty or malformed owner id was supplied.
	ErrInvalidOwnerID = errors.New("invalid owner id")
)
