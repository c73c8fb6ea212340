package core

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auto-dns/docker-hosts-sync/internal/config"
	"github.com/auto-dns/docker-hosts-sync/internal/domain"
	"github.com/auto-dns/docker-hosts-sync/internal/hosts"
	"github.com/auto-dns/docker-hosts-sync/internal/metrics"
	"github.com/auto-dns/docker-hosts-sync/internal/notify"
	"github.com/auto-dns/docker-hosts-sync/internal/registry"
)

type chanSource struct {
	events chan domain.ContainerEvent
}

func (s *chanSource) Subscribe(context.Context) (<-chan domain.ContainerEvent, error) {
	return s.events, nil
}

// dockerState is a goroutine-safe stand-in for the Docker daemon.
type dockerState struct {
	mu         sync.Mutex
	containers map[string]domain.ContainerMetadata
	listErr    error
}

func newDockerState() *dockerState {
	return &dockerState{containers: map[string]domain.ContainerMetadata{}}
}

func (d *dockerState) run(id, name, addr string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.containers[id] = domain.ContainerMetadata{
		ID:        id,
		Name:      name,
		Created:   time.Now(),
		State:     domain.StateRunning,
		Addresses: []domain.NetworkAddress{{Network: "bridge", Addr: netip.MustParseAddr(addr)}},
	}
}

func (d *dockerState) kill(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.containers, id)
}

func (d *dockerState) setListErr(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listErr = err
}

func (d *dockerState) Inspect(_ context.Context, id string) (domain.ContainerMetadata, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	md, ok := d.containers[id]
	if !ok {
		return domain.ContainerMetadata{}, domain.ErrNotFound
	}
	return md, nil
}

func (d *dockerState) ListRunning(context.Context) ([]domain.ContainerMetadata, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.listErr != nil {
		return nil, d.listErr
	}
	out := make([]domain.ContainerMetadata, 0, len(d.containers))
	for _, md := range d.containers {
		out = append(out, md)
	}
	return out, nil
}

// recordingExecutor holds every command until gate is closed when gate is set.
type recordingExecutor struct {
	mu       sync.Mutex
	commands []string
	gate     chan struct{}
}

func (e *recordingExecutor) Execute(ctx context.Context, command string) (notify.ExitStatus, error) {
	e.mu.Lock()
	e.commands = append(e.commands, command)
	gate := e.gate
	e.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
		}
	}
	return notify.ExitStatus{}, nil
}

func (e *recordingExecutor) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.commands)
}

type harness struct {
	fs     afero.Fs
	docker *dockerState
	exec   *recordingExecutor
	source *chanSource
	engine *SyncEngine
}

func newHarness(t *testing.T, manual string) *harness {
	t.Helper()
	fsys := afero.NewMemMapFs()
	require.NoError(t, fsys.MkdirAll("/etc", 0o755))
	if manual != "" {
		require.NoError(t, afero.WriteFile(fsys, "/etc/hosts", []byte(manual), 0o644))
	}

	cfg := config.AppConfig{
		Domain:          "docker",
		DuplicatePolicy: config.DuplicatePolicyLast,
		LabelPrefix:     "hosts",
	}
	m := metrics.New()
	docker := newDockerState()
	exec := &recordingExecutor{}
	source := &chanSource{events: make(chan domain.ContainerEvent, 16)}

	reg := registry.New(docker, cfg, zerolog.Nop())
	writer := hosts.NewAtomicWriter(fsys, "/etc/hosts", zerolog.Nop())
	notifier := notify.New("reload-dns", time.Second, exec, m, zerolog.Nop())
	reconciler := NewReconciler(writer, notifier, m, 0, zerolog.Nop())
	engine := NewSyncEngine(zerolog.Nop(), source, reg, reconciler, m)
	engine.ResyncRetryInterval = 20 * time.Millisecond

	return &harness{fs: fsys, docker: docker, exec: exec, source: source, engine: engine}
}

func (h *harness) start(t *testing.T) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- h.engine.Run(ctx, nil)
	}()
	return cancel, done
}

func (h *harness) send(kind domain.EventKind, id string) {
	h.source.events <- domain.ContainerEvent{Kind: kind, ContainerID: id, Timestamp: time.Now()}
}

func (h *harness) eventuallyFile(t *testing.T, cond func(string) bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		data, err := afero.ReadFile(h.fs, "/etc/hosts")
		return err == nil && cond(string(data))
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEngineFollowsContainerLifecycle(t *testing.T) {
	h := newHarness(t, "127.0.0.1 localhost\n")
	h.docker.run("c1", "web", "10.0.0.2")
	cancel, done := h.start(t)

	h.send(domain.EventKindResync, "")
	h.eventuallyFile(t, func(s string) bool { return strings.Contains(s, "10.0.0.2 web.docker\n") })

	h.docker.run("c2", "db", "10.0.0.3")
	h.send(domain.EventKindStart, "c2")
	h.eventuallyFile(t, func(s string) bool { return strings.Contains(s, "10.0.0.3 db.docker\n") })

	h.docker.kill("c1")
	h.send(domain.EventKindStop, "c1")
	h.eventuallyFile(t, func(s string) bool {
		return !strings.Contains(s, "web.docker") && strings.Contains(s, "db.docker")
	})

	data, err := afero.ReadFile(h.fs, "/etc/hosts")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1 localhost\n"+hosts.BeginMarker+"\n10.0.0.3 db.docker\n"+hosts.EndMarker+"\n", string(data))
	require.Eventually(t, func() bool { return h.exec.count() == 3 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestEngineCoalescesEventsDuringSlowReconcile(t *testing.T) {
	h := newHarness(t, "")
	h.exec.gate = make(chan struct{})
	cancel, done := h.start(t)

	h.send(domain.EventKindResync, "")
	require.Eventually(t, func() bool { return h.exec.count() == 1 }, 2*time.Second, time.Millisecond)

	const starts = 50
	sent := make(chan struct{})
	go func() {
		defer close(sent)
		for i := 0; i < starts; i++ {
			id := fmt.Sprintf("c%d", i)
			h.docker.run(id, id, fmt.Sprintf("10.0.1.%d", i+1))
			h.send(domain.EventKindStart, id)
		}
	}()
	select {
	case <-sent:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("event delivery blocked behind the reconciler")
	}

	close(h.exec.gate)
	h.eventuallyFile(t, func(s string) bool {
		return strings.Contains(s, "10.0.1.1 c0.docker\n") && strings.Contains(s, "10.0.1.50 c49.docker\n")
	})
	time.Sleep(50 * time.Millisecond)

	runs := h.exec.count()
	assert.Greater(t, runs, 1)
	assert.Less(t, runs, 10)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestEngineCreatesFileForEmptyRegistry(t *testing.T) {
	h := newHarness(t, "")
	cancel, done := h.start(t)

	h.send(domain.EventKindResync, "")
	h.eventuallyFile(t, func(s string) bool { return s == hosts.BeginMarker+"\n"+hosts.EndMarker+"\n" })

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestEngineInitialResyncFailureIsFatal(t *testing.T) {
	h := newHarness(t, "")
	h.docker.setListErr(errors.New("daemon unavailable"))
	_, done := h.start(t)

	h.send(domain.EventKindResync, "")
	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrInitialResync)
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not stop")
	}
	exists, err := afero.Exists(h.fs, "/etc/hosts")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestEngineRetriesFailedResync(t *testing.T) {
	h := newHarness(t, "")
	h.docker.run("c1", "web", "10.0.0.2")
	cancel, done := h.start(t)

	h.send(domain.EventKindResync, "")
	h.eventuallyFile(t, func(s string) bool { return strings.Contains(s, "web.docker") })

	// Events were missed while the stream was down; the resync that follows
	// the reconnect fails once.
	h.docker.setListErr(errors.New("daemon busy"))
	h.docker.kill("c1")
	h.docker.run("c2", "db", "10.0.0.3")
	h.send(domain.EventKindResync, "")
	time.Sleep(50 * time.Millisecond)

	h.docker.setListErr(nil)
	h.eventuallyFile(t, func(s string) bool {
		return strings.Contains(s, "10.0.0.3 db.docker\n") && !strings.Contains(s, "web.docker")
	})

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestEngineStopsWhenStreamCloses(t *testing.T) {
	h := newHarness(t, "")
	_, done := h.start(t)

	h.send(domain.EventKindResync, "")
	close(h.source.events)

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrEventStreamClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not stop")
	}
}
