package eventbus

import "errors"

var (
	// ErrSerializationFailed is returned when an event cannot be encoded
	ErrSerializationFailed = errors.New("event serialization failed")

	// ErrInvalidConfiguration is returned for an unusable sink configuration
	ErrInvalidConfiguration = errors.New("invalid sink configuration")

	// ErrConnectionFailed is returned when a sink cannot reach its broker
	ErrConnectionFailed = errors.New("sink connection failed")
)
