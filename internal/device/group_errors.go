package device

import "errors"

// Group store errors.
var (
	// ErrGroupNotFound is returned when a group does not exist.
	ErrGroupNotFound = errors.New("device: group not found")

	// ErrGroupExists is returned when creating a group with a duplicate ID.
	ErrGroupExists = errors.New("device: group already exists")
)
