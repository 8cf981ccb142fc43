package server

import "errors"

var (
	// ErrDuplicateUsername rejects a join whose username is already registered.
	ErrDuplicateUsername = errors.New("username already taken")
	// ErrInvalidJoin rejects a join with an empty username or room.
	ErrInvalidJoin = errors.New("invalid join request")
	// ErrProtocol covers malformed frames and unexpected payload types.
	ErrProtocol = errors.New("protocol error")
	// ErrHubClosed is returned when a connection arrives during shutdown.
	ErrHubClosed = errors.New("hub is shutting down")
)
