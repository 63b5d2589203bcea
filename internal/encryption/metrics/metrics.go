package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the encryption service.
type Metrics struct {
	Operations       *prometheus.CounterVec
	AuthFailures     prometheus.Counter
	KeyRotations     prometheus.Counter
	ValidateFailures prometheus.Counter
}

var (
	metricsOnce     sync.Once
	metricsInstance *Metrics
)

// NewMetrics returns the singleton Metrics instance with encryption metrics registered.
// Safe to call multiple times; metrics are only registered once.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = &Metrics{
			Operations: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "custodia_encryption_operations_total",
				Help: "Total encryption service operations by kind",
			}, []string{"operation"}),
			AuthFailures: promauto.NewCounter(prometheus.CounterOpts{
				Name: "custodia_encryption_auth_failures_total",
				Help: "Total decryptions rejected because the authentication tag did not verify",
			}),
			KeyRotations: promauto.NewCounter(prometheus.CounterOpts{
				Name: "custodia_encryption_key_rotations_total",
				Help: "Total key rotations performed",
			}),
			ValidateFailures: promauto.NewCounter(prometheus.CounterOpts{
				Name: "custodia_encryption_validate_failures_total",
				Help: "Total failed encryption health round-trips",
			}),
		}
	})
	return metricsInstance
}

// IncOperation increments the operation counter for the given kind.
func (m *Metrics) IncOperation(operation string) {
	m.Operations.WithLabelValues(operation).Inc()
}

// IncAuthFailure increments the authentication failure counter.
func (m *Metrics) IncAuthFailure() {
	m.AuthFailures.Inc()
}

// IncKeyRotation increments the key rotation counter.
func (m *Metrics) IncKeyRotation() {
	m.KeyRotations.Inc()
}

// IncValidateFailure increments the validate failure counter.
func (m *Metrics) IncValidateFailure() {
	m.ValidateFailures.Inc()
}
