package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MetricDeliveries is the name of the delivery outcome counter.
const MetricDeliveries = "dispatch_deliveries_total"

// Metrics contains Prometheus metrics for notification delivery.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	deliveries *prometheus.CounterVec
}

// NewMetrics creates and returns a new Metrics instance.
// The metrics are not registered; call Register to register them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		deliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricDeliveries,
				Help: "Total number of notification handler invocations by outcome",
			},
			[]string{"outcome"},
		),
	}
}

// Register registers all metrics with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	return reg.Register(m.deliveries)
}

func (m *Metrics) observe(outcome string) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(outcome).Inc()
}
