package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the privacy manager.
type Metrics struct {
	ConsentDecisions  *prometheus.CounterVec
	GDPRDenials       *prometheus.CounterVec
	DeletionsFinished *prometheus.CounterVec
	DeletionsStarted  prometheus.Counter
	Exports           prometheus.Counter
}

var (
	metricsOnce     sync.Once
	metricsInstance *Metrics
)

// NewMetrics returns the singleton Metrics instance with privacy metrics registered.
// Safe to call multiple times; metrics are only registered once.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = &Metrics{
			ConsentDecisions: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "custodia_privacy_consent_decisions_total",
				Help: "Total consent decisions recorded by type and decision",
			}, []string{"type", "decision"}),
			GDPRDenials: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "custodia_privacy_gdpr_denials_total",
				Help: "Total operations denied by the compliance gate, by reason",
			}, []string{"reason"}),
			DeletionsFinished: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "custodia_privacy_deletions_finished_total",
				Help: "Total deletion requests that reached a terminal status",
			}, []string{"status"}),
			DeletionsStarted: promauto.NewCounter(prometheus.CounterOpts{
				Name: "custodia_privacy_deletions_started_total",
				Help: "Total deletion requests accepted",
			}),
			Exports: promauto.NewCounter(prometheus.CounterOpts{
				Name: "custodia_privacy_exports_total",
				Help: "Total user data exports produced",
			}),
		}
	})
	return metricsInstance
}

// IncConsentDecision counts one recorded consent decision.
func (m *Metrics) IncConsentDecision(consentType string, granted bool) {
	decision := "revoked"
	if granted {
		decision = "granted"
	}
	m.ConsentDecisions.WithLabelValues(consentType, decision).Inc()
}

// IncGDPRDenial counts one gated-off operation.
func (m *Metrics) IncGDPRDenial(reason string) {
	m.GDPRDenials.WithLabelValues(reason).Inc()
}

// IncDeletionStarted counts one accepted deletion request.
func (m *Metrics) IncDeletionStarted() {
	m.DeletionsStarted.Inc()
}

// IncDeletionFinished counts one deletion reaching a terminal status.
func (m *Metrics) IncDeletionFinished(status string) {
	m.DeletionsFinished.WithLabelValues(status).Inc()
}

// IncExport counts one produced export.
func (m *Metrics) IncExport() {
	m.Exports.Inc()
}
