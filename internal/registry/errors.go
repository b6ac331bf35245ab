package registry

import "errors"

var (
	// ErrNotFound is returned when a device ID does not exist.
	ErrNotFound = errors.New("registry: device not found")

	// ErrInvalidConfig is returned when a device record cannot drive a worker.
	ErrInvalidConfig = errors.New("registry: invalid device config")
)
