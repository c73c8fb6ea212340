package event

import (
	"fmt"
	"net/netip"
	"slices"
	"strings"
	"time"

	"github.com/auto-dns/docker-hosts-sync/internal/domain"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/events"
	"github.com/rs/zerolog"
)

func fromEventsMessage(msg events.Message) (domain.ContainerEvent, error) {
	ev := domain.ContainerEvent{
		Timestamp: time.Unix(0, msg.TimeNano),
	}

	switch msg.Type {
	case events.ContainerEventType:
		ev.ContainerID = msg.Actor.ID
		switch msg.Action {
		case events.ActionStart:
			ev.Kind = domain.EventKindStart
		case events.ActionStop, events.ActionDie, events.ActionDestroy:
			ev.Kind = domain.EventKindStop
		}
	case events.NetworkEventType:
		ev.ContainerID = msg.Actor.Attributes["container"]
		switch msg.Action {
		case events.ActionConnect:
			ev.Kind = domain.EventKindNetworkConnect
		case events.ActionDisconnect:
			ev.Kind = domain.EventKindNetworkDisconnect
		}
	}

	if !ev.Kind.IsValid() {
		return domain.ContainerEvent{}, NewUnsupportedEventTypeError(msg.Type, msg.Action)
	}
	if ev.ContainerID == "" {
		return domain.ContainerEvent{}, fmt.Errorf("%s:%s event without container id", msg.Type, msg.Action)
	}
	return ev, nil
}

func fromInspectResponse(resp container.InspectResponse, logger zerolog.Logger) domain.ContainerMetadata {
	md := domain.ContainerMetadata{State: domain.StateStopped}

	if resp.ContainerJSONBase != nil {
		md.ID = resp.ID
		md.Name = strings.TrimPrefix(resp.Name, "/")
		if created, err := time.Parse(time.RFC3339Nano, resp.Created); err == nil {
			md.Created = created
		}
		if resp.State != nil {
			md.State = lifecycleState(resp.State)
			if started, err := time.Parse(time.RFC3339Nano, resp.State.StartedAt); err == nil {
				md.StartedAt = started
			}
		}
	}

	if resp.Config != nil {
		md.Labels = resp.Config.Labels
	}

	if resp.NetworkSettings == nil {
		return md
	}

	networks := make([]string, 0, len(resp.NetworkSettings.Networks))
	for name := range resp.NetworkSettings.Networks {
		networks = append(networks, name)
	}
	slices.Sort(networks)

	for _, name := range networks {
		endpoint := resp.NetworkSettings.Networks[name]
		if endpoint == nil {
			continue
		}
		for _, raw := range []string{endpoint.IPAddress, endpoint.GlobalIPv6Address} {
			if raw == "" {
				continue
			}
			addr, err := netip.ParseAddr(raw)
			if err != nil {
				logger.Warn().Err(err).Str("container", md.Name).Str("network", name).Msg("Ignoring unparsable container address")
				continue
			}
			md.Addresses = append(md.Addresses, domain.NetworkAddress{Network: name, Addr: addr})
		}
	}

	return md
}

func lifecycleState(s *container.State) domain.LifecycleState {
	switch {
	case s.Restarting:
		return domain.StateStarting
	case s.Running:
		return domain.StateRunning
	case s.Status == "created":
		return domain.StateStarting
	case s.Status == "removing":
		return domain.StateStopping
	default:
		return domain.StateStopped
	}
}
