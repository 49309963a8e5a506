package gateway

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the inference gateway's prometheus collectors (spec §6
// GET /metrics).
type Metrics struct {
	registry        *prometheus.Registry
	decomposeTotal  prometheus.Counter
	escalateTotal   prometheus.Counter
	sandboxRunTotal *prometheus.CounterVec
}

// NewMetrics constructs and registers the gateway's collectors in a fresh
// registry (kept separate from the default global one so multiple nodes in
// one test process don't collide on registration).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		decomposeTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "edgecoder_gateway_decompose_total",
			Help: "Total number of /decompose calls served.",
		}),
		escalateTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "edgecoder_gateway_escalate_total",
			Help: "Total number of /escalate calls served.",
		}),
		sandboxRunTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "edgecoder_sandbox_run_total",
			Help: "Total sandbox executions, labeled by outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(m.decomposeTotal, m.escalateTotal, m.sandboxRunTotal)
	return m
}

// ObserveSandboxRun records one sandbox execution outcome ("ok", "failed",
// "queued_for_cloud"). Passed to work.NewWorker as its run-outcome callback,
// so it's called after every subtask the node's worker loop executes.
func (m *Metrics) ObserveSandboxRun(outcome string) {
	m.sandboxRunTotal.WithLabelValues(outcome).Inc()
}

// Handler returns the /metrics HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
