package transport

import "errors"

var (
	// ErrConnect means the medium could not be opened.
	ErrConnect = errors.New("transport: connect failed")

	// ErrConnectionLost means the retry ceiling was reached. The Transport
	// is permanently closed.
	ErrConnectionLost = errors.New("transport: connection lost")

	// ErrWrite wraps the last write error once a write gives up.
	ErrWrite = errors.New("transport: write failed")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("transport: closed")

	// ErrUnknownKind is returned by NewDialer for an unsupported medium.
	ErrUnknownKind = errors.New("transport: unknown kind")
)
