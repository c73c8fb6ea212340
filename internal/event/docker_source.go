package event

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/auto-dns/docker-hosts-sync/internal/config"
	"github.com/auto-dns/docker-hosts-sync/internal/domain"
	"github.com/cenkalti/backoff/v4"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/events"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/errdefs"
	"github.com/rs/zerolog"
)

var errStreamClosed = errors.New("docker event stream closed")

// DockerSource turns the Docker event stream and inspect API into domain
// events and container metadata.
type DockerSource struct {
	logger     zerolog.Logger
	cli        dockerClient
	queueSize  int
	newBackOff func() backoff.BackOff
	recorder   reconnectRecorder
}

func NewDockerSource(cli dockerClient, appCfg config.AppConfig, dockerCfg config.DockerConfig, recorder reconnectRecorder, logger zerolog.Logger) *DockerSource {
	return &DockerSource{
		logger:    logger.With().Str("component", "docker-source").Logger(),
		cli:       cli,
		queueSize: appCfg.QueueSize,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = dockerCfg.ReconnectInitialInterval
			b.MaxInterval = dockerCfg.ReconnectMaxInterval
			b.MaxElapsedTime = 0
			b.Reset()
			return b
		},
		recorder: recorder,
	}
}

// Ping checks that the Docker API is reachable.
func (ds *DockerSource) Ping(ctx context.Context) error {
	if _, err := ds.cli.Ping(ctx); err != nil {
		return fmt.Errorf("ping docker: %w", err)
	}
	return nil
}

// Subscribe streams normalized events until ctx is cancelled. A resync event
// is emitted every time the underlying stream is (re)established. Broken
// streams are re-opened with exponential backoff.
func (ds *DockerSource) Subscribe(ctx context.Context) (<-chan domain.ContainerEvent, error) {
	out := make(chan domain.ContainerEvent, ds.queueSize)

	go func() {
		defer close(out)

		b := ds.newBackOff()
		for attempt := 0; ; attempt++ {
			if attempt > 0 && ds.recorder != nil {
				ds.recorder.StreamReconnected()
			}

			err := ds.stream(ctx, out, b)
			if ctx.Err() != nil {
				ds.logger.Info().Msg("Docker event source cancelled by context")
				return
			}

			wait := b.NextBackOff()
			if wait == backoff.Stop {
				ds.logger.Error().Err(err).Msg("Giving up on Docker event stream")
				return
			}
			ds.logger.Warn().Err(err).Dur("retry_in", wait).Msg("Docker event stream interrupted, reconnecting")

			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				ds.logger.Info().Msg("Docker event source cancelled by context")
				return
			case <-timer.C:
			}
		}
	}()

	return out, nil
}

// stream runs one connection of the event stream. It always returns a
// non-nil error describing why the stream ended.
func (ds *DockerSource) stream(ctx context.Context, out chan<- domain.ContainerEvent, b backoff.BackOff) error {
	if err := ds.Ping(ctx); err != nil {
		return err
	}

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	filterArgs := filters.NewArgs()
	filterArgs.Add("type", string(events.ContainerEventType))
	filterArgs.Add("type", string(events.NetworkEventType))
	for _, action := range []events.Action{
		events.ActionStart,
		events.ActionStop,
		events.ActionDie,
		events.ActionDestroy,
		events.ActionConnect,
		events.ActionDisconnect,
	} {
		filterArgs.Add("event", string(action))
	}

	eventCh, errCh := ds.cli.Events(streamCtx, events.ListOptions{Filters: filterArgs})

	// Anything may have happened while we were not listening.
	if err := ds.emit(ctx, out, domain.ContainerEvent{Kind: domain.EventKindResync, Timestamp: time.Now()}); err != nil {
		return err
	}

	// The backoff only resets once the daemon has delivered something, so a
	// stream that fails right after opening keeps growing the delay.
	delivered := false
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err, ok := <-errCh:
			if !ok {
				return errStreamClosed
			}
			if err != nil {
				return fmt.Errorf("docker events: %w", err)
			}
		case msg, ok := <-eventCh:
			if !ok {
				return errStreamClosed
			}
			if !delivered {
				delivered = true
				b.Reset()
			}

			ev, convErr := fromEventsMessage(msg)
			if convErr != nil {
				var unsupported *UnsupportedEventTypeError
				if errors.As(convErr, &unsupported) {
					ds.logger.Debug().Err(convErr).Msg("Ignoring docker event")
				} else {
					ds.logger.Error().Err(convErr).Msg("converting docker event message to container event")
				}
				continue
			}

			ds.logger.Debug().Str("kind", string(ev.Kind)).Str("container_id", ev.ContainerID).Msg("Received Docker event")
			if err := ds.emit(ctx, out, ev); err != nil {
				return err
			}
		}
	}
}

func (ds *DockerSource) emit(ctx context.Context, out chan<- domain.ContainerEvent, ev domain.ContainerEvent) error {
	select {
	case out <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Inspect fetches fresh metadata for a container. It returns domain.ErrNotFound
// when the container no longer exists.
func (ds *DockerSource) Inspect(ctx context.Context, containerID string) (domain.ContainerMetadata, error) {
	resp, err := ds.cli.ContainerInspect(ctx, containerID)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return domain.ContainerMetadata{}, fmt.Errorf("%w: %s", domain.ErrNotFound, containerID)
		}
		return domain.ContainerMetadata{}, fmt.Errorf("inspect container %s: %w", containerID, err)
	}
	return fromInspectResponse(resp, ds.logger), nil
}

// ListRunning returns metadata for every running container. Containers that
// disappear between listing and inspection are skipped.
func (ds *DockerSource) ListRunning(ctx context.Context) ([]domain.ContainerMetadata, error) {
	containers, err := ds.cli.ContainerList(ctx, container.ListOptions{All: false})
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}

	result := make([]domain.ContainerMetadata, 0, len(containers))
	for _, c := range containers {
		md, err := ds.Inspect(ctx, c.ID)
		if errors.Is(err, domain.ErrNotFound) {
			ds.logger.Debug().Str("container_id", c.ID).Msg("Container vanished during resync")
			continue
		}
		if err != nil {
			return nil, err
		}
		result = append(result, md)
	}
	return result, nil
}

func (ds *DockerSource) Close() error {
	return ds.cli.Close()
}
