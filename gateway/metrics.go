package gateway

import (
	"net/http"
	"time"

	"github.com/n9te9/go-graphql-auth-gateway/federation/graph"
	"github.com/n9te9/go-graphql-auth-gateway/federation/planner"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "graphql_gateway"

// Metrics holds the Prometheus collectors of the gateway. It observes
// sub-operations for the executor and decisions for the authorization engine.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal        *prometheus.CounterVec
	requestDuration      *prometheus.HistogramVec
	subOperationsTotal   *prometheus.CounterVec
	subOperationDuration *prometheus.HistogramVec
	authzDecisionsTotal  *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "requests_total",
				Help:      "Total number of GraphQL requests by outcome",
			},
			[]string{"operation", "outcome"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "request_duration_seconds",
				Help:      "GraphQL request duration in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"operation"},
		),
		subOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "subgraph_requests_total",
				Help:      "Total number of sub-operations sent to subgraphs",
			},
			[]string{"subgraph", "kind", "outcome"},
		),
		subOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "subgraph_request_duration_seconds",
				Help:      "Sub-operation round trip duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"subgraph", "kind"},
		),
		authzDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "authorization_decisions_total",
				Help:      "Authorization decisions by directive, target and result",
			},
			[]string{"directive", "target", "decision"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requestsTotal,
		m.requestDuration,
		m.subOperationsTotal,
		m.subOperationDuration,
		m.authzDecisionsTotal,
	)
	return m
}

// Handler exposes the collected metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) observeRequest(operation, outcome string, d time.Duration) {
	if operation == "" {
		operation = "unknown"
	}
	m.requestsTotal.WithLabelValues(operation, outcome).Inc()
	m.requestDuration.WithLabelValues(operation).Observe(d.Seconds())
}

func (m *Metrics) ObserveSubOperation(subGraph string, kind planner.StepKind, d time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.subOperationsTotal.WithLabelValues(subGraph, kind.String(), outcome).Inc()
	m.subOperationDuration.WithLabelValues(subGraph, kind.String()).Observe(d.Seconds())
}

func (m *Metrics) RecordDecision(directive string, target graph.DirectiveTarget, allowed bool) {
	decision := "deny"
	if allowed {
		decision = "allow"
	}
	m.authzDecisionsTotal.WithLabelValues(directive, target.String(), decision).Inc()
}
