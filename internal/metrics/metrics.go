// Package metrics exposes pipeline counters on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ScanCyclesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "incident_agent_scan_cycles_total",
			Help: "Total completed scan cycles",
		},
	)

	ScanErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "incident_agent_scan_errors_total",
			Help: "Total scan cycles that failed to list pods",
		},
	)

	IncidentsDetectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "incident_agent_incidents_detected_total",
			Help: "Total new incidents by failure reason",
		},
		[]string{"reason"},
	)

	ReasoningRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "incident_agent_reasoning_requests_total",
			Help: "Total reasoning backend calls by outcome",
		},
		[]string{"outcome"},
	)

	DecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "incident_agent_decisions_total",
			Help: "Total policy decisions by outcome reason",
		},
		[]string{"reason"},
	)

	AuditWriteErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "incident_agent_audit_write_errors_total",
			Help: "Total audit records that failed to persist",
		},
	)

	IncidentsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "incident_agent_incidents_in_flight",
			Help: "Incidents currently being processed",
		},
	)
)

// ReasoningOutcome maps the degraded flag to the metric label.
func ReasoningOutcome(degraded bool) string {
	if degraded {
		return "degraded"
	}
	return "ok"
}
