package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ckoons/Tekton-sub006/registry"
)

// statusValues maps specialist statuses onto the gauge scale.
var statusValues = map[registry.Status]float64{
	registry.StatusUnknown:      0,
	registry.StatusStarting:     1,
	registry.StatusHealthy:      2,
	registry.StatusDegraded:     3,
	registry.StatusUnresponsive: 4,
	registry.StatusStopping:     5,
}

// Metrics contains the mesh-level metrics every process exports.
type Metrics struct {
	SpecialistStatus *prometheus.GaugeVec
	RequestsTotal    *prometheus.CounterVec
	SendDuration     *prometheus.HistogramVec
	HealthChecks     *prometheus.CounterVec
	RegistrySize     prometheus.Gauge
	ConnectionsOpen  prometheus.Gauge
	RoutingDecisions *prometheus.CounterVec
}

// NewMetrics creates a Metrics instance with all mesh metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		SpecialistStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "chorus",
				Subsystem: "specialist",
				Name:      "status",
				Help:      "Specialist status (0=unknown, 1=starting, 2=healthy, 3=degraded, 4=unresponsive, 5=stopping)",
			},
			[]string{"specialist"},
		),

		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "chorus",
				Subsystem: "requests",
				Name:      "total",
				Help:      "Total requests sent to specialists",
			},
			[]string{"specialist", "outcome"},
		),

		SendDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "chorus",
				Subsystem: "requests",
				Name:      "duration_seconds",
				Help:      "Request round-trip duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"specialist"},
		),

		HealthChecks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "chorus",
				Subsystem: "health",
				Name:      "checks_total",
				Help:      "Health probes performed, by resulting status",
			},
			[]string{"specialist", "status"},
		),

		RegistrySize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "chorus",
				Subsystem: "registry",
				Name:      "specialists",
				Help:      "Number of registered specialists",
			},
		),

		ConnectionsOpen: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "chorus",
				Subsystem: "pool",
				Name:      "connections_open",
				Help:      "Open pooled connections",
			},
		),

		RoutingDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "chorus",
				Subsystem: "routing",
				Name:      "decisions_total",
				Help:      "Routing decisions, by fallback level",
			},
			[]string{"level"},
		),
	}
}

// RecordSpecialistStatus updates the status gauge for one specialist.
func (c *Metrics) RecordSpecialistStatus(id string, status registry.Status) {
	c.SpecialistStatus.WithLabelValues(id).Set(statusValues[status])
}

// RecordRequest records one exchange outcome and its duration.
func (c *Metrics) RecordRequest(id string, elapsed time.Duration, success bool) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	c.RequestsTotal.WithLabelValues(id, outcome).Inc()
	c.SendDuration.WithLabelValues(id).Observe(elapsed.Seconds())
}

// RecordHealthCheck counts one probe verdict.
func (c *Metrics) RecordHealthCheck(id string, status registry.Status) {
	c.HealthChecks.WithLabelValues(id, string(status)).Inc()
}

// RecordRegistrySize updates the registered-specialist gauge.
func (c *Metrics) RecordRegistrySize(n int) {
	c.RegistrySize.Set(float64(n))
}

// RecordConnectionsOpen updates the open-connection gauge.
func (c *Metrics) RecordConnectionsOpen(n int) {
	c.ConnectionsOpen.Set(float64(n))
}

// RecordRoutingDecision counts one routing decision by fallback level.
func (c *Metrics) RecordRoutingDecision(level string) {
	c.RoutingDecisions.WithLabelValues(level).Inc()
}
