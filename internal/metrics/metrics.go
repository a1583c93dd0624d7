// Package metrics exposes reactor events as Prometheus metrics.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/tomatool/exam/internal/events"
)

const Namespace = "exam"

// Metrics is an events.Sink that counts what it sees.
type Metrics struct {
	registry *prometheus.Registry

	targets       *prometheus.CounterVec
	calls         *prometheus.CounterVec
	callDuration  *prometheus.HistogramVec
	activeTargets prometheus.Gauge

	mu     sync.Mutex
	active map[string]bool

	server *http.Server
}

// New registers the exam metrics on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		active:   make(map[string]bool),
		targets: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "targets_total",
			Help:      "Count of target lifecycle transitions",
		}, []string{"event"}),
		calls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "calls_total",
			Help:      "Count of executed calls by status",
		}, []string{"status"}),
		callDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "call_duration_seconds",
			Help:      "Duration of executed calls",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"status"}),
		activeTargets: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "active_targets",
			Help:      "Targets prepared and not yet stopped",
		}),
	}
}

// Registry returns the registry the metrics live in.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Publish(_ context.Context, e events.Event) error {
	switch e.Type {
	case events.TargetPrepared:
		m.targets.WithLabelValues("prepared").Inc()
		m.mu.Lock()
		if !m.active[e.Target] {
			m.active[e.Target] = true
			m.activeTargets.Inc()
		}
		m.mu.Unlock()
	case events.TargetFailed:
		m.targets.WithLabelValues("failed").Inc()
	case events.TargetStopped:
		m.targets.WithLabelValues("stopped").Inc()
		m.mu.Lock()
		if m.active[e.Target] {
			delete(m.active, e.Target)
			m.activeTargets.Dec()
		}
		m.mu.Unlock()
	case events.CallFinished, events.CallErrored:
		status := e.Status
		if status == "" {
			status = events.StatusError
		}
		m.calls.WithLabelValues(status).Inc()
		m.callDuration.WithLabelValues(status).Observe(e.Duration.Seconds())
	}
	return nil
}

// Serve exposes /metrics on addr until Close.
func (m *Metrics) Serve(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("creating metrics listener: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	m.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := m.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn().Err(err).Msg("metrics server stopped")
		}
	}()

	log.Info().Str("addr", listener.Addr().String()).Msg("serving metrics on /metrics")
	return nil
}

func (m *Metrics) Close() error {
	if m.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.server.Shutdown(ctx)
}
