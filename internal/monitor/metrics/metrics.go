package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the security monitor.
type Metrics struct {
	AlertsEmitted    *prometheus.CounterVec
	AlertsSuppressed prometheus.Counter
	ActiveAlerts     prometheus.Gauge
	HealthScore      prometheus.Gauge
	HealthChecks     prometheus.Counter
}

var (
	metricsOnce     sync.Once
	metricsInstance *Metrics
)

// NewMetrics returns the singleton Metrics instance with monitor metrics registered.
// Safe to call multiple times; metrics are only registered once.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = &Metrics{
			AlertsEmitted: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "custodia_monitor_alerts_total",
				Help: "Total security alerts emitted by type and severity",
			}, []string{"type", "severity"}),
			AlertsSuppressed: promauto.NewCounter(prometheus.CounterOpts{
				Name: "custodia_monitor_alerts_suppressed_total",
				Help: "Total alerts suppressed by the per-type cooldown window",
			}),
			ActiveAlerts: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "custodia_monitor_active_alerts",
				Help: "Current number of unresolved alerts",
			}),
			HealthScore: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "custodia_monitor_health_score",
				Help: "Aggregate health score from the latest periodic check",
			}),
			HealthChecks: promauto.NewCounter(prometheus.CounterOpts{
				Name: "custodia_monitor_health_checks_total",
				Help: "Total periodic health checks performed",
			}),
		}
	})
	return metricsInstance
}

// IncAlertEmitted counts one emitted alert.
func (m *Metrics) IncAlertEmitted(alertType, severity string) {
	m.AlertsEmitted.WithLabelValues(alertType, severity).Inc()
}

// IncAlertSuppressed counts one cooldown-suppressed alert.
func (m *Metrics) IncAlertSuppressed() {
	m.AlertsSuppressed.Inc()
}

// SetActiveAlerts records the number of unresolved alerts.
func (m *Metrics) SetActiveAlerts(n int) {
	m.ActiveAlerts.Set(float64(n))
}

// SetHealthScore records the aggregate health score.
func (m *Metrics) SetHealthScore(score int) {
	m.HealthScore.Set(float64(score))
}

// IncHealthCheck counts one health sweep.
func (m *Metrics) IncHealthCheck() {
	m.HealthChecks.Inc()
}
