package room

import "errors"

// Domain-specific errors for room operations.
var (
	// ErrRoomNotFound is returned when no cached room matches a name.
	ErrRoomNotFound = errors.New("room: not found")

	// ErrRoomRequired is returned when a history query has no room name.
	ErrRoomRequired = errors.New("room: name is required")

	// ErrInvalidRetention is returned when pruning with a non-positive age.
	ErrInvalidRetention = errors.New("room: retention must be positive")
)
