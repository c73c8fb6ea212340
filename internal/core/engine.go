package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/auto-dns/docker-hosts-sync/internal/domain"
	"github.com/rs/zerolog"
)

const defaultResyncRetryInterval = 5 * time.Second

// SyncEngine coordinates event ingestion, registry updates and hosts file
// reconciliation.
type SyncEngine struct {
	logger     zerolog.Logger
	source     eventSource
	registry   containerRegistry
	reconciler *Reconciler
	metrics    engineRecorder

	// ResyncRetryInterval is how long to wait before retrying a failed resync.
	ResyncRetryInterval time.Duration

	synced        bool
	pendingResync bool
}

func NewSyncEngine(logger zerolog.Logger, source eventSource, reg containerRegistry, reconciler *Reconciler, metrics engineRecorder) *SyncEngine {
	return &SyncEngine{
		logger:              logger.With().Str("component", "engine").Logger(),
		source:              source,
		registry:            reg,
		reconciler:          reconciler,
		metrics:             metrics,
		ResyncRetryInterval: defaultResyncRetryInterval,
	}
}

// Run consumes events until ctx is cancelled or the initial resync fails.
// kicks may be nil.
func (se *SyncEngine) Run(ctx context.Context, kicks <-chan struct{}) error {
	se.logger.Info().Msg("Starting SyncEngine")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events, err := se.source.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to Docker events: %w", err)
	}

	box := newMailbox()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		se.reconciler.Run(ctx, box.C(), kicks)
	}()

	err = se.consume(ctx, events, box)
	cancel()
	wg.Wait()
	se.logger.Info().Msg("SyncEngine stopped")
	return err
}

func (se *SyncEngine) consume(ctx context.Context, events <-chan domain.ContainerEvent, box *mailbox) error {
	var (
		retry      *time.Timer
		retryFired <-chan time.Time
	)
	defer func() {
		if retry != nil {
			retry.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return ErrEventStreamClosed
			}
			if se.pendingResync && ev.Kind != domain.EventKindResync {
				_ = se.resync(ctx, box)
			}
			if err := se.handle(ctx, ev, box); err != nil {
				return err
			}

		case <-retryFired:
			retryFired = nil
			se.logger.Info().Msg("Retrying failed resync")
			_ = se.resync(ctx, box)
		}

		if se.pendingResync && retryFired == nil {
			retry = time.NewTimer(se.ResyncRetryInterval)
			retryFired = retry.C
		}
	}
}

func (se *SyncEngine) handle(ctx context.Context, ev domain.ContainerEvent, box *mailbox) error {
	se.metrics.EventProcessed(string(ev.Kind))
	se.logger.Debug().Str("kind", string(ev.Kind)).Str("container_id", ev.ContainerID).Msg("Processing event")

	if ev.Kind == domain.EventKindResync {
		if err := se.resync(ctx, box); err != nil && !se.synced {
			return fmt.Errorf("%w: %w", ErrInitialResync, err)
		}
		return nil
	}

	changed, err := se.registry.Apply(ctx, ev)
	if err != nil {
		se.logger.Error().Err(err).Str("kind", string(ev.Kind)).Msg("Failed to apply event")
		return nil
	}
	se.publish(box, changed)
	return nil
}

// resync rebuilds the registry from the running containers. On failure the
// previous registry is kept and pendingResync schedules another attempt.
func (se *SyncEngine) resync(ctx context.Context, box *mailbox) error {
	_, err := se.registry.Resync(ctx)
	se.metrics.Resynced(err == nil)
	if err != nil {
		se.pendingResync = true
		if se.synced {
			se.logger.Warn().Err(err).Msg("Resync failed, keeping previous registry")
		}
		return err
	}
	se.pendingResync = false
	se.synced = true
	// Always publish after a resync so the first pass creates the file and
	// external edits are repaired after a reconnect.
	se.publish(box, true)
	return nil
}

func (se *SyncEngine) publish(box *mailbox, changed bool) {
	snap := se.registry.Snapshot()
	se.metrics.RegistrySize(se.registry.Len(), snap.Len())
	if changed {
		box.post(snap)
	}
}
