package core

import (
	"context"

	"github.com/auto-dns/docker-hosts-sync/internal/domain"
)

type eventSource interface {
	Subscribe(ctx context.Context) (<-chan domain.ContainerEvent, error)
}

type containerRegistry interface {
	Apply(ctx context.Context, ev domain.ContainerEvent) (bool, error)
	Resync(ctx context.Context) (bool, error)
	Snapshot() domain.Snapshot
	Len() int
}

type hostsWriter interface {
	Read() ([]byte, error)
	Write(content []byte) (bool, error)
}

type notifier interface {
	Notify(ctx context.Context) bool
}

type upstreamMirror interface {
	Sync(ctx context.Context, snap domain.Snapshot) error
}

type engineRecorder interface {
	EventProcessed(kind string)
	Resynced(ok bool)
	RegistrySize(containers, names int)
}

type passRecorder interface {
	PassCompleted(written bool, err error)
	MirrorFailed()
}
