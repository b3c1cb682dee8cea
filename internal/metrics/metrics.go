package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Decision outcomes
const (
	OutcomeAllowed         = "allowed"
	OutcomeDenied          = "denied"
	OutcomeUnauthenticated = "unauthenticated"
	OutcomeError           = "error"
)

// Metrics owns the service's Prometheus collectors and their registry.
type Metrics struct {
	registry  *prometheus.Registry
	decisions *prometheus.CounterVec
	mutations *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "smile_authz_decisions_total",
			Help: "Authorization decisions by gate and outcome.",
		}, []string{"gate", "outcome"}),
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "smile_authz_mutations_total",
			Help: "Role and permission mutations by operation and result.",
		}, []string{"operation", "result"}),
	}
	m.registry.MustRegister(
		m.decisions,
		m.mutations,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveDecision counts one authorization decision. Safe on a nil receiver.
func (m *Metrics) ObserveDecision(gate, outcome string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(gate, outcome).Inc()
}

// ObserveMutation counts one role/permission mutation. Safe on a nil receiver.
func (m *Metrics) ObserveMutation(operation string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.mutations.WithLabelValues(operation, result).Inc()
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
