package worker

import "errors"

var (
	// ErrUnknownCommand is returned for an unrecognised control message type.
	ErrUnknownCommand = errors.New("worker: unknown command")

	// ErrBadCommand is returned when a control message body is malformed.
	ErrBadCommand = errors.New("worker: malformed command")
)
