// Package metrics exports flow and network telemetry to Prometheus.
package metrics

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cjeanneret/pixkeep/internal/failure"
)

const namespace = "pixkeep"

// Outcome label values.
const (
	OutcomeResolved = "resolved"
	OutcomeFailed   = "failed"
)

// Observer records the telemetry of flow runs and network changes.
type Observer interface {
	RecordRun(flow string, duration time.Duration, err error)
	RecordPersisted(flow string, sizeBytes int64)
	RecordNetwork(connected bool, connectionType string)
}

// Nop returns an Observer that records nothing.
func Nop() Observer {
	return nopObserver{}
}

// PrometheusObserver exports flow metrics.
type PrometheusObserver struct {
	registry *prometheus.Registry

	runs       *prometheus.CounterVec
	failures   *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	persisted  *prometheus.CounterVec
	connected  prometheus.Gauge
	connection *prometheus.GaugeVec
}

// NewPrometheusObserver registers the collectors on reg. A nil reg gets a
// fresh registry carrying the Go and process collectors.
func NewPrometheusObserver(reg *prometheus.Registry) (*PrometheusObserver, error) {
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	o := &PrometheusObserver{
		registry: reg,
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flow_runs_total",
			Help:      "Completed flow runs by outcome.",
		}, []string{"flow", "outcome"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flow_failures_total",
			Help:      "Failed flow runs by error kind.",
		}, []string{"flow", "kind"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "flow_duration_seconds",
			Help:      "Wall time of a flow run from Acquiring to a terminal state.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"flow"}),
		persisted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persisted_bytes_total",
			Help:      "Bytes written to the data directory.",
		}, []string{"flow"}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "network_connected",
			Help:      "1 when the last network probe succeeded.",
		}),
		connection: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "network_connection_type",
			Help:      "Current connection type, set to 1 for the active type.",
		}, []string{"type"}),
	}

	var err error
	if o.runs, err = register(reg, o.runs); err != nil {
		return nil, err
	}
	if o.failures, err = register(reg, o.failures); err != nil {
		return nil, err
	}
	if o.duration, err = register(reg, o.duration); err != nil {
		return nil, err
	}
	if o.persisted, err = register(reg, o.persisted); err != nil {
		return nil, err
	}
	if o.connected, err = register(reg, o.connected); err != nil {
		return nil, err
	}
	if o.connection, err = register(reg, o.connection); err != nil {
		return nil, err
	}
	return o, nil
}

// register adds c to reg, reusing an identical collector already there.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	err := reg.Register(c)
	if err == nil {
		return c, nil
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(C); ok {
			return existing, nil
		}
	}
	return c, fmt.Errorf("register metric: %w", err)
}

// Registry returns the registry the collectors live on.
func (o *PrometheusObserver) Registry() *prometheus.Registry {
	return o.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (o *PrometheusObserver) Handler() http.Handler {
	return promhttp.HandlerFor(o.registry, promhttp.HandlerOpts{Registry: o.registry})
}

// RecordRun counts a finished run and its failure kind, if any.
func (o *PrometheusObserver) RecordRun(flow string, duration time.Duration, err error) {
	if o == nil {
		return
	}
	o.duration.WithLabelValues(flow).Observe(duration.Seconds())
	if err != nil {
		o.runs.WithLabelValues(flow, OutcomeFailed).Inc()
		o.failures.WithLabelValues(flow, failure.KindOf(err).String()).Inc()
		return
	}
	o.runs.WithLabelValues(flow, OutcomeResolved).Inc()
}

// RecordPersisted adds the size of a written file.
func (o *PrometheusObserver) RecordPersisted(flow string, sizeBytes int64) {
	if o == nil || sizeBytes <= 0 {
		return
	}
	o.persisted.WithLabelValues(flow).Add(float64(sizeBytes))
}

// RecordNetwork mirrors the latest network snapshot.
func (o *PrometheusObserver) RecordNetwork(connected bool, connectionType string) {
	if o == nil {
		return
	}
	if connected {
		o.connected.Set(1)
	} else {
		o.connected.Set(0)
	}
	o.connection.Reset()
	o.connection.WithLabelValues(connectionType).Set(1)
}

type nopObserver struct{}

func (nopObserver) RecordRun(string, time.Duration, error) {}

func (nopObserver) RecordPersisted(string, int64) {}

func (nopObserver) RecordNetwork(bool, string) {}
