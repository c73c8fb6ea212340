package core

import "errors"

var (
	// ErrInitialResync means the registry could not be built at startup.
	ErrInitialResync = errors.New("initial resync failed")
	// ErrEventStreamClosed means the event source stopped without being cancelled.
	ErrEventStreamClosed = errors.New("event stream closed")
)
