package event

import (
	"fmt"

	"github.com/docker/docker/api/types/events"
)

type UnsupportedEventTypeError struct {
	eventType events.Type
	action    events.Action
}

func NewUnsupportedEventTypeError(eventType events.Type, action events.Action) *UnsupportedEventTypeError {
	return &UnsupportedEventTypeError{eventType: eventType, action: action}
}

func (e *UnsupportedEventTypeError) Error() string {
	return fmt.Sprintf("Unsupported event type: %s:%s", e.eventType, e.action)
}
