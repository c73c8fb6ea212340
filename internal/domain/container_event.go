package domain

import "time"

type EventKind string

const (
	EventKindStart             EventKind = "start"
	EventKindStop              EventKind = "stop"
	EventKindNetworkConnect    EventKind = "network_connect"
	EventKindNetworkDisconnect EventKind = "network_disconnect"
	// EventKindResync is emitted by the event source whenever the stream was
	// (re)established and events may have been missed.
	EventKindResync EventKind = "resync"
)

func (k EventKind) IsValid() bool {
	switch k {
	case EventKindStart,
		EventKindStop,
		EventKindNetworkConnect,
		EventKindNetworkDisconnect,
		EventKindResync:
		return true
	}
	return false
}

type ContainerEvent struct {
	Kind        EventKind
	ContainerID string
	Timestamp   time.Time
}
