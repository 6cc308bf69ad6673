package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds every Prometheus series the server exports. Methods are
// safe to call on a nil *Collector.
type Collector struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	InFlightGauge   prometheus.Gauge

	PatientsRegisteredTotal prometheus.Counter
	VisitsRecordedTotal     *prometheus.CounterVec
	AlertsRaisedTotal       *prometheus.CounterVec
	SyncItemsTotal          *prometheus.CounterVec
	EventPublishFailures    *prometheus.CounterVec

	DBConnections prometheus.Gauge
}

// NewCollector registers the collectors with reg. A nil reg creates
// unregistered collectors, which tests use to avoid duplicate registration.
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		RequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, route, and status code.",
		}, []string{"method", "path", "status"}),

		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency distribution.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"method", "path", "status"}),

		InFlightGauge: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),

		PatientsRegisteredTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "records",
			Name:      "patients_registered_total",
			Help:      "Total number of patient records registered.",
		}),

		VisitsRecordedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "records",
			Name:      "visits_recorded_total",
			Help:      "Visits appended, by visit type.",
		}, []string{"type"}),

		AlertsRaisedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "raised_total",
			Help:      "Emergency alerts raised, by alert type.",
		}, []string{"type"}),

		SyncItemsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "items_total",
			Help:      "Offline sync items processed, by result status.",
		}, []string{"status"}),

		EventPublishFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "publish_failures_total",
			Help:      "Events that could not be delivered, by event type.",
		}, []string{"type"}),

		DBConnections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      "open_connections",
			Help:      "Current number of open database connections.",
		}),
	}
}

func (c *Collector) PatientRegistered() {
	if c != nil {
		c.PatientsRegisteredTotal.Inc()
	}
}

func (c *Collector) VisitRecorded(visitType string) {
	if c != nil {
		c.VisitsRecordedTotal.WithLabelValues(visitType).Inc()
	}
}

func (c *Collector) AlertRaised(alertType string) {
	if c != nil {
		c.AlertsRaisedTotal.WithLabelValues(alertType).Inc()
	}
}

func (c *Collector) SyncItem(status string) {
	if c != nil {
		c.SyncItemsTotal.WithLabelValues(status).Inc()
	}
}

func (c *Collector) PublishFailed(eventType string) {
	if c != nil {
		c.EventPublishFailures.WithLabelValues(eventType).Inc()
	}
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
