package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics names as constants for consistency.
const (
	MetricLocationFixes          = "location_fixes_total"
	MetricGeofenceTransitions    = "geofence_transitions_total"
	MetricNotificationsPublished = "notifications_published_total"
	MetricIngestDuration         = "ingest_duration_seconds"
)

// Fix results recorded on location_fixes_total.
const (
	ResultAccepted = "accepted"
	ResultRejected = "rejected"
)

// Metrics contains Prometheus metrics for location ingestion.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	fixes          *prometheus.CounterVec
	transitions    *prometheus.CounterVec
	notifications  prometheus.Counter
	ingestDuration prometheus.Histogram
}

// NewMetrics creates and returns a new Metrics instance with all collectors initialized.
// The metrics are not registered; call Register to register them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		fixes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricLocationFixes,
				Help: "Total number of location fixes by result",
			},
			[]string{"result"},
		),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricGeofenceTransitions,
				Help: "Total number of geofence transitions by type",
			},
			[]string{"type"},
		),
		notifications: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricNotificationsPublished,
			Help: "Total number of notifications published to recipients",
		}),
		ingestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    MetricIngestDuration,
			Help:    "Histogram of location fix processing time in seconds",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5, 1, 2.5},
		}),
	}
}

// Register registers all metrics with the given registry.
// Returns an error if registration fails.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Collectors returns all Prometheus collectors for testing.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.fixes,
		m.transitions,
		m.notifications,
		m.ingestDuration,
	}
}

func (m *Metrics) observeFix(result string, seconds float64) {
	if m == nil {
		return
	}
	m.fixes.WithLabelValues(result).Inc()
	m.ingestDuration.Observe(seconds)
}

func (m *Metrics) incTransition(t string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(t).Inc()
}

func (m *Metrics) addNotifications(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.notifications.Add(float64(n))
}
