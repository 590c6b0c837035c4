// Package metrics holds the Prometheus collectors of the routing hub.
//
// Collectors are registered on a private registry so that several hubs (or
// tests) can live in one process without clashing on the default registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "smartbin"

// Ingest results.
const (
	ResultAccepted   = "accepted"
	ResultMalformed  = "malformed"
	ResultIgnored    = "ignored"
	ResultOK         = "ok"
	ResultDegenerate = "degenerate"
	ResultError      = "error"
)

type Metrics struct {
	Registry *prometheus.Registry

	IngestLines     *prometheus.CounterVec
	Trilateration   *prometheus.CounterVec
	Publish         *prometheus.CounterVec
	PublishDuration prometheus.Histogram
	Nodes           *prometheus.GaugeVec
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		IngestLines: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_lines_total",
			Help:      "Transport lines read, by transport and outcome.",
		}, []string{"transport", "result"}),
		Trilateration: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trilateration_total",
			Help:      "Position solver invocations by outcome.",
		}, []string{"result"}),
		Publish: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_total",
			Help:      "Snapshot pushes by sink and outcome.",
		}, []string{"sink", "result"}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "publish_duration_seconds",
			Help:      "Time spent pushing one snapshot to all sinks.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
		}),
		Nodes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "nodes",
			Help:      "Known nodes by status after the last supervisor sweep.",
		}, []string{"status"}),
	}
	m.Registry.MustRegister(
		m.IngestLines,
		m.Trilateration,
		m.Publish,
		m.PublishDuration,
		m.Nodes,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// SetNodeCounts replaces the node gauge with the given per-status counts.
func (m *Metrics) SetNodeCounts(counts map[string]int) {
	m.Nodes.Reset()
	for status, n := range counts {
		m.Nodes.WithLabelValues(status).Set(float64(n))
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}
