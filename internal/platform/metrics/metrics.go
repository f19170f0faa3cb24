package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	OwnersRegistered prometheus.Counter
	Logins           prometheus.Counter
	AuthFailures     prometheus.Counter
	EndpointLatency  *prometheus.HistogramVec

	// Consent metrics
	ConsentsGranted   *prometheus.CounterVec
	ConsentsWithdrawn *prometheus.CounterVec
	GrantedConsents   prometheus.Gauge

	// Registry metrics
	ItemsCreated *prometheus.CounterVec
	ItemsErased  prometheus.Counter
	DataExports  *prometheus.CounterVec

	// Audit metrics
	AuditEntriesWritten prometheus.Counter
	AuditEntriesDropped prometheus.Counter
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		OwnersRegistered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "datavault_owners_registered_total",
			Help: "Total number of owner accounts registered",
		}),
		Logins: promauto.NewCounter(prometheus.CounterOpts{
			Name: "datavault_logins_total",
			Help: "Total number of successful logins",
		}),
		AuthFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "datavault_auth_failures_total",
			Help: "Total number of authentication failures",
		}),
		EndpointLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "datavault_endpoint_latency_seconds",
			Help:    "Latency of endpoints in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
		ConsentsGranted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "datavault_consents_granted_total",
			Help: "Total number of consents granted, labeled by trigger",
		}, []string{"trigger"}),
		ConsentsWithdrawn: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "datavault_consents_withdrawn_total",
			Help: "Total number of consents withdrawn, labeled by trigger",
		}, []string{"trigger"}),
		GrantedConsents: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "datavault_granted_consents",
			Help: "Current number of consents in GRANTED status",
		}),
		ItemsCreated: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "datavault_items_created_total",
			Help: "Total number of personal data items created, labeled by category",
		}, []string{"category"}),
		ItemsErased: promauto.NewCounter(prometheus.CounterOpts{
			Name: "datavault_items_erased_total",
			Help: "Total number of personal data items soft-deleted",
		}),
		DataExports: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "datavault_data_exports_total",
			Help: "Total number of data exports, labeled by format",
		}, []string{"format"}),
		AuditEntriesWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "datavault_audit_entries_written_total",
			Help: "Total number of audit entries durably appended",
		}),
		AuditEntriesDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "datavault_audit_entries_dropped_total",
			Help: "Total number of audit entries lost to append failures (best-effort policy)",
		}),
	}
}

func (m *Metrics) IncrementOwnersRegistered() { m.OwnersRegistered.Inc() }
func (m *Metrics) IncrementLogins()           { m.Logins.Inc() }
func (m *Metrics) IncrementAuthFailures()     { m.AuthFailures.Inc() }

func (m *Metrics) ObserveEndpointLatency(endpoint string, seconds float64) {
	m.EndpointLatency.WithLabelValues(endpoint).Observe(seconds)
}

func (m *Metrics) IncrementConsentsGranted(trigger string) {
	m.ConsentsGranted.WithLabelValues(trigger).Inc()
}

func (m *Metrics) IncrementConsentsWithdrawn(trigger string, count int) {
	m.ConsentsWithdrawn.WithLabelValues(trigger).Add(float64(count))
}

func (m *Metrics) AddGrantedConsents(delta int) {
	m.GrantedConsents.Add(float64(delta))
}

func (m *Metrics) IncrementItemsCreated(category string) {
	m.ItemsCreated.WithLabelValues(category).Inc()
}

func (m *Metrics) IncrementItemsErased(count int) {
	m.ItemsErased.Add(float64(count))
}

func (m *Metrics) IncrementDataExports(format string) {
	m.DataExports.WithLabelValues(format).Inc()
}

func (m *Metrics) IncrementAuditEntriesWritten() { m.AuditEntriesWritten.Inc() }
func (m *Metrics) IncrementAuditEntriesDropped() { m.AuditEntriesDropped.Inc() }
