package registry

import (
	"context"
	"time"

	"github.com/auto-dns/docker-hosts-sync/internal/domain"
)

type inspector interface {
	Inspect(ctx context.Context, containerID string) (domain.ContainerMetadata, error)
	ListRunning(ctx context.Context) ([]domain.ContainerMetadata, error)
}

type containerRecord struct {
	ContainerID   string
	ContainerName string
	Created       time.Time
	LastUpdated   time.Time
	State         domain.LifecycleState
	Addresses     []domain.NetworkAddress
	Aliases       []string
	// seq orders registrations by event arrival and drives the duplicate policy.
	seq uint64
}
