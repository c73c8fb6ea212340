package domain

import "errors"

var (
	// ErrNotFound is returned by an inspector when the container no longer exists.
	ErrNotFound = errors.New("container not found")

	// ErrInvalidName is returned when a container name cannot be turned into a domain name.
	ErrInvalidName = errors.New("invalid domain name")
)
