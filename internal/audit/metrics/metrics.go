package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the audit logger.
type Metrics struct {
	BufferDepth    prometheus.Gauge
	EventsLogged   *prometheus.CounterVec
	FlushedBatches prometheus.Counter
	FlushFailures  prometheus.Counter
	PurgedEvents   prometheus.Counter
}

var (
	metricsOnce     sync.Once
	metricsInstance *Metrics
)

// NewMetrics returns the singleton Metrics instance with audit metrics registered.
// Safe to call multiple times; metrics are only registered once.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = &Metrics{
			BufferDepth: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "custodia_audit_buffer_depth",
				Help: "Current number of audit events awaiting durable flush",
			}),
			EventsLogged: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "custodia_audit_events_total",
				Help: "Total audit events logged by severity",
			}, []string{"severity"}),
			FlushedBatches: promauto.NewCounter(prometheus.CounterOpts{
				Name: "custodia_audit_flushed_batches_total",
				Help: "Total encrypted batches appended to durable storage",
			}),
			FlushFailures: promauto.NewCounter(prometheus.CounterOpts{
				Name: "custodia_audit_flush_failures_total",
				Help: "Total flush attempts that failed and re-queued their batch",
			}),
			PurgedEvents: promauto.NewCounter(prometheus.CounterOpts{
				Name: "custodia_audit_purged_events_total",
				Help: "Total audit events removed by retention purges",
			}),
		}
	})
	return metricsInstance
}

// SetBufferDepth records the current buffer depth.
func (m *Metrics) SetBufferDepth(depth int) {
	m.BufferDepth.Set(float64(depth))
}

// IncEventLogged counts one logged event by severity.
func (m *Metrics) IncEventLogged(severity string) {
	m.EventsLogged.WithLabelValues(severity).Inc()
}

// IncFlushedBatch counts one successfully persisted batch.
func (m *Metrics) IncFlushedBatch() {
	m.FlushedBatches.Inc()
}

// IncFlushFailure counts one failed flush attempt.
func (m *Metrics) IncFlushFailure() {
	m.FlushFailures.Inc()
}

// AddPurgedEvents counts events removed by a retention purge.
func (m *Metrics) AddPurgedEvents(n int) {
	m.PurgedEvents.Add(float64(n))
}
