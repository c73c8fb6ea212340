package registry

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"net/netip"
	"slices"
	"time"

	"github.com/auto-dns/docker-hosts-sync/internal/config"
	"github.com/auto-dns/docker-hosts-sync/internal/domain"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// Registry is the authoritative in-memory view of running containers. It is
// owned by a single consumer goroutine and does no locking of its own.
type Registry struct {
	logger     zerolog.Logger
	cfg        config.AppConfig
	inspector  inspector
	containers map[string]*containerRecord
	nextSeq    uint64
	current    domain.Snapshot
}

func New(inspector inspector, cfg config.AppConfig, logger zerolog.Logger) *Registry {
	return &Registry{
		logger:     logger.With().Str("component", "registry").Logger(),
		cfg:        cfg,
		inspector:  inspector,
		containers: make(map[string]*containerRecord),
	}
}

// Apply processes one event and reports whether the published name to address
// mapping changed. Only a failed resync returns an error.
func (r *Registry) Apply(ctx context.Context, ev domain.ContainerEvent) (bool, error) {
	switch ev.Kind {
	case domain.EventKindResync:
		return r.Resync(ctx)

	case domain.EventKindStart:
		md, err := r.inspector.Inspect(ctx, ev.ContainerID)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			r.logger.Debug().Str("container_id", ev.ContainerID).Msg("Container gone before it could be registered")
			r.remove(ev.ContainerID)
		case err != nil:
			r.logger.Warn().Err(err).Str("container_id", ev.ContainerID).Msg("Not registering container, inspect failed")
			return false, nil
		default:
			r.upsert(md)
		}

	case domain.EventKindNetworkConnect, domain.EventKindNetworkDisconnect:
		if _, ok := r.containers[ev.ContainerID]; !ok {
			r.logger.Debug().Str("container_id", ev.ContainerID).Str("kind", string(ev.Kind)).Msg("Ignoring network event for unregistered container")
			return false, nil
		}
		md, err := r.inspector.Inspect(ctx, ev.ContainerID)
		if err != nil {
			r.logger.Info().Err(err).Str("container_id", ev.ContainerID).Msg("Re-inspect failed, treating container as stopped")
			r.remove(ev.ContainerID)
		} else {
			r.upsert(md)
		}

	case domain.EventKindStop:
		r.remove(ev.ContainerID)

	default:
		r.logger.Debug().Str("kind", string(ev.Kind)).Msg("Ignoring unknown event kind")
		return false, nil
	}

	return r.refresh(), nil
}

// Resync discards all records and rebuilds them from the runtime's list of
// running containers. On error the registry is left untouched.
func (r *Registry) Resync(ctx context.Context) (bool, error) {
	running, err := r.inspector.ListRunning(ctx)
	if err != nil {
		return false, fmt.Errorf("resync: %w", err)
	}

	// Register in start order so the duplicate policy picks the same winners
	// the original start events did.
	slices.SortStableFunc(running, func(a, b domain.ContainerMetadata) int {
		if c := a.StartedAt.Compare(b.StartedAt); c != 0 {
			return c
		}
		if c := a.Created.Compare(b.Created); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})

	r.containers = make(map[string]*containerRecord, len(running))
	for _, md := range running {
		r.upsert(md)
	}
	r.logger.Info().Int("containers", len(r.containers)).Msg("Registry rebuilt from running containers")

	return r.refresh(), nil
}

// Snapshot returns the current published mapping.
func (r *Registry) Snapshot() domain.Snapshot {
	return r.current
}

// Len returns the number of tracked containers.
func (r *Registry) Len() int {
	return len(r.containers)
}

func (r *Registry) upsert(md domain.ContainerMetadata) {
	if !md.IsRunning() {
		r.logger.Debug().Str("container", md.Name).Str("state", string(md.State)).Msg("Container not running, not registering")
		r.remove(md.ID)
		return
	}

	labels := domain.ParseLabels(r.cfg.LabelPrefix, md.Labels)
	if !labels.Enabled {
		r.logger.Debug().Str("container", md.Name).Msg("Container disabled via label")
		r.remove(md.ID)
		return
	}

	rec, exists := r.containers[md.ID]
	if !exists {
		r.nextSeq++
		rec = &containerRecord{ContainerID: md.ID, seq: r.nextSeq}
		r.containers[md.ID] = rec
	}
	rec.ContainerName = md.Name
	rec.Created = md.Created
	rec.State = md.State
	rec.Addresses = slices.Clone(md.Addresses)
	rec.Aliases = labels.Aliases
	rec.LastUpdated = time.Now()

	if len(rec.Addresses) == 0 {
		r.logger.Warn().Str("container", rec.ContainerName).Msg("Container has no network addresses")
	}

	if !exists {
		for _, a := range rec.Addresses {
			r.logger.Info().Str("container", rec.ContainerName).Str("network", a.Network).Str("address", a.Addr.String()).Msg("Registered container address")
		}
	}
}

func (r *Registry) remove(containerID string) bool {
	rec, ok := r.containers[containerID]
	if !ok {
		return false
	}
	delete(r.containers, containerID)
	r.logger.Info().Str("container", rec.ContainerName).Str("container_id", containerID).Msg("Unregistered all entries for container")
	return true
}

// refresh rebuilds the snapshot and reports whether it differs from the last one.
func (r *Registry) refresh() bool {
	next := r.build()
	changed := !next.Equal(r.current)
	r.current = next
	return changed
}

type claim struct {
	owner *containerRecord
	addrs []netip.Addr
}

func (r *Registry) build() domain.Snapshot {
	records := lo.Values(r.containers)
	slices.SortFunc(records, func(a, b *containerRecord) int { return cmp.Compare(a.seq, b.seq) })

	claims := make(map[string]claim)
	for _, rec := range records {
		for name, addrs := range r.namesFor(rec) {
			if len(addrs) == 0 {
				continue
			}
			prev, taken := claims[name]
			if taken && prev.owner != rec {
				if r.cfg.DuplicatePolicy == config.DuplicatePolicyFirst {
					r.logger.Debug().Str("name", name).Str("container", rec.ContainerName).Str("owner", prev.owner.ContainerName).Msg("Name already registered, keeping first owner")
					continue
				}
				r.logger.Debug().Str("name", name).Str("container", rec.ContainerName).Str("previous_owner", prev.owner.ContainerName).Msg("Name already registered, last registration wins")
			}
			claims[name] = claim{owner: rec, addrs: addrs}
		}
	}

	return domain.NewSnapshot(lo.MapValues(claims, func(c claim, _ string) []netip.Addr { return c.addrs }))
}

// namesFor lists every domain name a container publishes with its addresses.
func (r *Registry) namesFor(rec *containerRecord) map[string][]netip.Addr {
	all := lo.Map(rec.Addresses, func(a domain.NetworkAddress, _ int) netip.Addr { return a.Addr })
	names := make(map[string][]netip.Addr)

	add := func(addrs []netip.Addr, labels ...string) {
		name, err := domain.DomainName(r.cfg.Domain, labels...)
		if err != nil {
			r.logger.Warn().Err(err).Str("container", rec.ContainerName).Msg("Skipping unusable name")
			return
		}
		names[name] = append(names[name], addrs...)
	}

	add(all, rec.ContainerName)
	for _, alias := range rec.Aliases {
		add(all, alias)
	}
	if r.cfg.NetworkNames {
		for _, a := range rec.Addresses {
			add([]netip.Addr{a.Addr}, rec.ContainerName, a.Network)
		}
	}
	return names
}
