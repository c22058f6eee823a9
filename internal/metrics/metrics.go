package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcomes recorded for consumed messages.
const (
	OutcomeOK         = "ok"
	OutcomeFailed     = "failed"
	OutcomeDeadLetter = "dead_lettered"
)

// Metrics groups the collectors shared by every threatlens service.
type Metrics struct {
	registry *prometheus.Registry

	Messages         *prometheus.CounterVec
	OracleCalls      prometheus.Counter
	OracleFallbacks  *prometheus.CounterVec
	DedupHits        prometheus.Counter
	GraphErrors      *prometheus.CounterVec
	RiskScore        prometheus.Histogram
	SessionsIngested prometheus.Counter
	Published        *prometheus.CounterVec
}

// New creates and registers all collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "threatlens",
			Name:      "messages_total",
			Help:      "Consumed messages by service and outcome.",
		}, []string{"service", "outcome"}),
		OracleCalls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "threatlens",
			Name:      "oracle_calls_total",
			Help:      "Classification oracle invocations.",
		}),
		OracleFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "threatlens",
			Name:      "oracle_fallbacks_total",
			Help:      "Classifications that fell back to the default verdict.",
		}, []string{"reason"}),
		DedupHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "threatlens",
			Name:      "dedup_hits_total",
			Help:      "Flows whose source was already classified.",
		}),
		GraphErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "threatlens",
			Name:      "graph_errors_total",
			Help:      "Graph store failures by operation.",
		}, []string{"op"}),
		RiskScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "threatlens",
			Name:      "risk_score",
			Help:      "Distribution of correlated risk scores.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21},
		}),
		SessionsIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "threatlens",
			Name:      "sessions_ingested_total",
			Help:      "Sessions accepted by the ingest endpoint.",
		}),
		Published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "threatlens",
			Name:      "published_total",
			Help:      "Messages published by queue.",
		}, []string{"queue"}),
	}

	m.registry.MustRegister(
		m.Messages,
		m.OracleCalls,
		m.OracleFallbacks,
		m.DedupHits,
		m.GraphErrors,
		m.RiskScore,
		m.SessionsIngested,
		m.Published,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
