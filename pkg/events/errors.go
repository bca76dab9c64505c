package events

import "errors"

// Sentinel errors for bus operations, checked with errors.Is
var (
	// ErrBusClosed indicates a publish after Close
	ErrBusClosed = errors.New("event bus is closed")

	// ErrNilEvent indicates a nil event was published
	ErrNilEvent = errors.New("event cannot be nil")

	// ErrNilContext indicates a publish without a context
	ErrNilContext = errors.New("context cannot be nil")

	// ErrTypeMismatch indicates a subscriber received an event of the wrong type
	ErrTypeMismatch = errors.New("event type mismatch")
)
