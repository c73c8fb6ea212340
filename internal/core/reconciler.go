package core

import (
	"context"
	"fmt"
	"time"

	"github.com/auto-dns/docker-hosts-sync/internal/domain"
	"github.com/auto-dns/docker-hosts-sync/internal/hosts"
	"github.com/rs/zerolog"
)

// Reconciler makes the hosts file match the latest committed snapshot. It
// runs passes one at a time on its own goroutine.
type Reconciler struct {
	logger   zerolog.Logger
	writer   hostsWriter
	notifier notifier
	mirror   upstreamMirror
	metrics  passRecorder
	interval time.Duration
}

func NewReconciler(writer hostsWriter, notifier notifier, metrics passRecorder, interval time.Duration, logger zerolog.Logger) *Reconciler {
	return &Reconciler{
		logger:   logger.With().Str("component", "reconciler").Logger(),
		writer:   writer,
		notifier: notifier,
		metrics:  metrics,
		interval: interval,
	}
}

// WithMirror publishes every committed snapshot to m after the hosts file.
func (r *Reconciler) WithMirror(m upstreamMirror) *Reconciler {
	r.mirror = m
	return r
}

// Pass renders snap over the current file content, commits it if it differs
// and runs the update command after a successful commit. A write that has
// started always completes; the command is skipped once ctx is done.
func (r *Reconciler) Pass(ctx context.Context, snap domain.Snapshot) error {
	previous, err := r.writer.Read()
	if err != nil {
		r.metrics.PassCompleted(false, err)
		return fmt.Errorf("read hosts file: %w", err)
	}

	written, err := r.writer.Write(hosts.Render(snap, previous))
	r.metrics.PassCompleted(written, err)
	if err != nil {
		return fmt.Errorf("write hosts file: %w", err)
	}

	if ctx.Err() != nil {
		return nil
	}
	if written {
		r.logger.Info().Int("names", snap.Len()).Msg("Hosts file updated")
		r.notifier.Notify(ctx)
	}

	if r.mirror != nil {
		if err := r.mirror.Sync(ctx, snap); err != nil {
			r.metrics.MirrorFailed()
			r.logger.Error().Err(err).Msg("Failed to mirror records to etcd")
		}
	}
	return nil
}

// Run performs a pass for every snapshot received, every kick and every tick
// of the reconcile interval, once a first snapshot has arrived. It returns
// when ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context, snapshots <-chan domain.Snapshot, kicks <-chan struct{}) {
	var tick <-chan time.Time
	if r.interval > 0 {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	var (
		current domain.Snapshot
		ready   bool
	)
	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("Reconciler shutting down")
			return
		case snap := <-snapshots:
			current, ready = snap, true
		case _, ok := <-kicks:
			if !ok {
				kicks = nil
				continue
			}
			r.logger.Debug().Msg("Hosts file changed on disk")
		case <-tick:
			r.logger.Debug().Msg("Reconciliation tick")
		}

		if !ready || ctx.Err() != nil {
			continue
		}
		if err := r.Pass(ctx, current); err != nil {
			r.logger.Error().Err(err).Msg("Reconciliation pass failed, will retry on next trigger")
		}
	}
}
