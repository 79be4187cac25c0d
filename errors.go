package objectplugin

import "errors"

// Common errors returned by object-plugin operations.
var (
	// ErrInvalidConfig is returned when configuration validation fails.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvalidTypeName is returned when an object type reports an unusable name.
	ErrInvalidTypeName = errors.New("invalid object type name")

	// ErrNoObjectType is returned when no registered object type accepts an object.
	ErrNoObjectType = errors.New("no object type for object")

	// ErrNotFetchable is returned when an object's type cannot be serialized once.
	ErrNotFetchable = errors.New("object type is not fetchable")

	// ErrNotStreamable is returned when an object's type does not support message streams.
	ErrNotStreamable = errors.New("object type does not support message streams")

	// ErrIncompatibleObject is returned when an object type is handed an object
	// its IsType predicate rejects.
	ErrIncompatibleObject = errors.New("object is not compatible with object type")

	// ErrUnknownTicket is returned when a ticket does not name an exported object.
	ErrUnknownTicket = errors.New("unknown ticket")

	// ErrUnknownObject is returned when a scope name is not published.
	ErrUnknownObject = errors.New("unknown object")

	// ErrSessionNotFound is returned when a request names a session that does not exist.
	ErrSessionNotFound = errors.New("session not found")

	// ErrTooManySessions is returned when the server is at its session limit.
	ErrTooManySessions = errors.New("too many sessions")

	// ErrRateLimited is returned when a caller exceeds the server's rate limit.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrCircuitOpen is returned by a client whose circuit breaker is open.
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrClientClosed is returned when operating on a closed client.
	ErrClientClosed = errors.New("client is closed")

	// ErrStreamClosed is returned when sending on a closed client stream.
	ErrStreamClosed = errors.New("stream is closed")
)
