package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	dockerCli "github.com/docker/docker/client"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	clientv3 "go.etcd.io/etcd/client/v3"
	"golang.org/x/sync/errgroup"

	"github.com/auto-dns/docker-hosts-sync/internal/config"
	"github.com/auto-dns/docker-hosts-sync/internal/core"
	"github.com/auto-dns/docker-hosts-sync/internal/event"
	"github.com/auto-dns/docker-hosts-sync/internal/hosts"
	"github.com/auto-dns/docker-hosts-sync/internal/metrics"
	"github.com/auto-dns/docker-hosts-sync/internal/mirror"
	"github.com/auto-dns/docker-hosts-sync/internal/notify"
	"github.com/auto-dns/docker-hosts-sync/internal/registry"
)

const pingTimeout = 10 * time.Second

type App struct {
	cfg     *config.Config
	source  *event.DockerSource
	mirror  *mirror.EtcdMirror
	writer  *hosts.AtomicWriter
	watcher *hosts.FileWatcher
	metrics *metrics.Metrics
	engine  *core.SyncEngine
	logger  zerolog.Logger
}

// New creates a new App by wiring up all dependencies.
func New(cfg *config.Config, logger zerolog.Logger) (*App, error) {
	m := metrics.New()

	// Docker CLI
	dockerClient, err := dockerCli.NewClientWithOpts(dockerCli.FromEnv, dockerCli.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	source := event.NewDockerSource(dockerClient, cfg.App, cfg.Docker, m, logger)

	// Hosts file
	writer := hosts.NewAtomicWriter(afero.NewOsFs(), cfg.App.HostsFile, logger)
	notifier := notify.New(cfg.App.UpdateCommand, cfg.App.UpdateTimeout, notify.ShellExecutor{}, m, logger)
	reconciler := core.NewReconciler(writer, notifier, m, cfg.App.ReconcileInterval, logger)

	a := &App{
		cfg:     cfg,
		source:  source,
		writer:  writer,
		metrics: m,
		logger:  logger,
	}

	// etcd CLI
	if cfg.Etcd.Enabled {
		hostname := cfg.Etcd.Hostname
		if hostname == "" {
			if hostname, err = os.Hostname(); err != nil {
				_ = source.Close()
				return nil, fmt.Errorf("failed to determine hostname: %w", err)
			}
		}

		etcdClient, err := clientv3.New(clientv3.Config{
			Endpoints:   cfg.Etcd.Endpoints,
			DialTimeout: cfg.Etcd.DialTimeout,
		})
		if err != nil {
			_ = source.Close()
			return nil, fmt.Errorf("failed to connect to etcd: %w", err)
		}
		a.mirror = mirror.NewEtcdMirror(etcdClient, &cfg.Etcd, hostname, logger)
		reconciler.WithMirror(a.mirror)
	}

	if cfg.App.WatchHostsFile {
		a.watcher = hosts.NewFileWatcher(cfg.App.HostsFile, logger)
	}

	// Engine
	reg := registry.New(source, cfg.App, logger)
	a.engine = core.NewSyncEngine(logger, source, reg, reconciler, m)

	return a, nil
}

// Run verifies the hosts file and the Docker daemon are usable, then runs the
// sync engine until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info().Str("hosts_file", a.writer.Path()).Str("domain", a.cfg.App.Domain).Msg("Application starting")

	if err := a.writer.CheckWritable(); err != nil {
		return fmt.Errorf("hosts file is not writable: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	err := a.source.Ping(pingCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("docker daemon is not reachable: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	var kicks <-chan struct{}
	if a.watcher != nil {
		ch, err := a.watcher.Watch(ctx)
		if err != nil {
			a.logger.Warn().Err(err).Msg("Hosts file watching disabled")
		} else {
			kicks = ch
		}
	}

	g.Go(func() error {
		return a.engine.Run(ctx, kicks)
	})

	if addr := a.cfg.Metrics.ListenAddress; addr != "" {
		g.Go(func() error {
			return a.metrics.Serve(ctx, addr, a.logger)
		})
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		a.logger.Info().Msg("Application stopped")
		return nil
	}
	return err
}

func (a *App) Close() error {
	var firstErr error
	if a.source != nil {
		if err := a.source.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close docker client: %w", err)
		}
	}
	if a.mirror != nil {
		if err := a.mirror.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close etcd client: %w", err)
		}
	}
	return firstErr
}
