package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const namespace = "docker_hosts_sync"

// Metrics records engine activity. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	events        *prometheus.CounterVec
	resyncs       *prometheus.CounterVec
	reconnects    prometheus.Counter
	passes        prometheus.Counter
	writes        prometheus.Counter
	writeErrors   prometheus.Counter
	notifications *prometheus.CounterVec
	mirrorErrors  prometheus.Counter
	containers    prometheus.Gauge
	names         prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Container events processed, by kind.",
		}, []string{"kind"}),
		resyncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resyncs_total",
			Help:      "Full registry rebuilds, by result.",
		}, []string{"result"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_reconnects_total",
			Help:      "Docker event stream reconnection attempts.",
		}),
		passes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciliation_passes_total",
			Help:      "Render/write/notify passes executed.",
		}),
		writes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hosts_writes_total",
			Help:      "Hosts file commits that changed the file.",
		}),
		writeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hosts_write_errors_total",
			Help:      "Hosts file commits that failed.",
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "update_commands_total",
			Help:      "Update command executions, by result.",
		}, []string{"result"}),
		mirrorErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mirror_errors_total",
			Help:      "Failed etcd mirror synchronizations.",
		}),
		containers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "containers",
			Help:      "Containers currently tracked by the registry.",
		}),
		names: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "domain_names",
			Help:      "Domain names in the last snapshot.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.events, m.resyncs, m.reconnects, m.passes, m.writes, m.writeErrors,
		m.notifications, m.mirrorErrors, m.containers, m.names,
	)
	return m
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

func (m *Metrics) EventProcessed(kind string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(kind).Inc()
}

func (m *Metrics) Resynced(ok bool) {
	if m == nil {
		return
	}
	m.resyncs.WithLabelValues(result(ok)).Inc()
}

func (m *Metrics) StreamReconnected() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

func (m *Metrics) PassCompleted(written bool, err error) {
	if m == nil {
		return
	}
	m.passes.Inc()
	if err != nil {
		m.writeErrors.Inc()
	} else if written {
		m.writes.Inc()
	}
}

func (m *Metrics) UpdateCommandRan(ok bool) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(result(ok)).Inc()
}

func (m *Metrics) MirrorFailed() {
	if m == nil {
		return
	}
	m.mirrorErrors.Inc()
}

func (m *Metrics) RegistrySize(containers, names int) {
	if m == nil {
		return
	}
	m.containers.Set(float64(containers))
	m.names.Set(float64(names))
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("address", addr).Msg("Serving metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
