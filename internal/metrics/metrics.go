package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/maxsam-ai/modelrouter/internal/router"
)

// Registry holds the Prometheus collectors for the routing pipeline.
type Registry struct {
	reg *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	AttemptsTotal    *prometheus.CounterVec
	EscalationsTotal *prometheus.CounterVec
	AttemptLatency   *prometheus.HistogramVec
	CostUSD          *prometheus.CounterVec
}

func New() *Registry {
	reg := prometheus.NewRegistry()
	m := &Registry{
		reg: reg,
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "modelrouter_requests_total",
			Help: "Total pipeline requests by decided route and outcome",
		}, []string{"route", "status"}),
		AttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "modelrouter_attempts_total",
			Help: "Adapter attempts by tier and success",
		}, []string{"tier", "success"}),
		EscalationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "modelrouter_escalations_total",
			Help: "Tier escalations by the tier escalated from",
		}, []string{"from_tier"}),
		AttemptLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "modelrouter_attempt_latency_ms",
			Help:    "Adapter attempt latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 12),
		}, []string{"tier"}),
		CostUSD: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "modelrouter_cost_usd_total",
			Help: "Estimated USD cost by tier",
		}, []string{"tier"}),
	}
	reg.MustRegister(m.RequestsTotal, m.AttemptsTotal, m.EscalationsTotal, m.AttemptLatency, m.CostUSD)
	return m
}

// ObserveEvent updates attempt-level collectors from one audit event. Wired
// as the event-mirror sink so the executor stays metrics-free.
func (m *Registry) ObserveEvent(ev router.AuditEvent) {
	switch ev.Type {
	case router.EventExecution, router.EventDirectExecution:
		success := "false"
		if ev.Success {
			success = "true"
		}
		m.AttemptsTotal.WithLabelValues(string(ev.Tier), success).Inc()
		m.AttemptLatency.WithLabelValues(string(ev.Tier)).Observe(float64(ev.LatencyMs))
	case router.EventEscalation, router.EventInvalidJSON:
		m.EscalationsTotal.WithLabelValues(string(ev.Tier)).Inc()
	}
}

// ObserveRequest records one completed pipeline request.
func (m *Registry) ObserveRequest(route router.Tier, success bool, costUSD float64) {
	status := "error"
	if success {
		status = "ok"
	}
	m.RequestsTotal.WithLabelValues(string(route), status).Inc()
	if costUSD > 0 {
		m.CostUSD.WithLabelValues(string(route)).Add(costUSD)
	}
}

func (m *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
