package reflection

import "errors"

var (
	// ErrNotFetched is returned when the dependency walk reaches a file that
	// was never delivered by the peer. Every name reachable from a pending
	// descriptor must have been fetched before registration recurses into it,
	// so hitting this indicates a protocol or bookkeeping fault, not a
	// recoverable condition.
	ErrNotFetched = errors.New("reflection: descriptor reached by dependency walk was never fetched")

	// ErrServiceNotFound is returned when a service name cannot be resolved
	// in the registry.
	ErrServiceNotFound = errors.New("reflection: service not found")

	// ErrTypeNotFound is returned when a message type name cannot be resolved
	// in the registry.
	ErrTypeNotFound = errors.New("reflection: type not found")

	// ErrUnexpectedResponse is returned when the peer answers a descriptor
	// query with a response kind the query cannot produce.
	ErrUnexpectedResponse = errors.New("reflection: unexpected reflection response kind")
)
