package domain

import (
	"net/netip"
	"time"
)

type LifecycleState string

const (
	StateStarting LifecycleState = "starting"
	StateRunning  LifecycleState = "running"
	StateStopping LifecycleState = "stopping"
	StateStopped  LifecycleState = "stopped"
)

// NetworkAddress is one address a container holds on one attached network.
type NetworkAddress struct {
	Network string
	Addr    netip.Addr
}

// ContainerMetadata is a point-in-time view of a container as reported by the runtime.
type ContainerMetadata struct {
	ID        string
	Name      string
	Created   time.Time
	StartedAt time.Time
	State     LifecycleState
	Labels    map[string]string
	Addresses []NetworkAddress
}

func (m ContainerMetadata) IsRunning() bool {
	return m.State == StateRunning
}
