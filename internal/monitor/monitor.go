// Package monitor consumes reported audit events and operational signals,
// applies threshold and anomaly rules, emits de-duplicated alerts, and
// runs periodic health and compliance checks.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"custodia/internal/audit"
	"custodia/internal/encryption"
	"custodia/internal/monitor/metrics"
	"custodia/internal/platform/redact"
	dErrors "custodia/pkg/domain-errors"
	csync "custodia/pkg/platform/sync"
)

// Config carries the threshold policy. All values are tunable; the
// defaults mirror the shipped policy.
type Config struct {
	FailedAuthLimit    int           // failed authentications per actor before a high alert
	SuspiciousLimit    int           // suspicious events per actor inside the anomaly window
	ResourceRateLimit  int           // activity events per resource inside the anomaly window
	AnomalyWindow      time.Duration // sliding window for rate rules
	AlertCooldown      time.Duration // per-alert-type de-duplication window
	HealthInterval     time.Duration // periodic health sweep cadence
	AuditRecencyWindow time.Duration // trail considered active if any event landed inside
	SelfResolveAfter   time.Duration // low alerts auto-resolve after this age
}

// DefaultConfig returns the shipped threshold policy.
func DefaultConfig() Config {
	return Config{
		FailedAuthLimit:    5,
		SuspiciousLimit:    10,
		ResourceRateLimit:  50,
		AnomalyWindow:      time.Hour,
		AlertCooldown:      5 * time.Minute,
		HealthInterval:     5 * time.Minute,
		AuditRecencyWindow: 24 * time.Hour,
		SelfResolveAfter:   30 * time.Minute,
	}
}

type actorState struct {
	failedAuth int
	suspicious []time.Time
}

// Monitor is the event-driven plus polling anomaly detector.
type Monitor struct {
	enc     *encryption.Service
	trail   *audit.Logger
	logger  *slog.Logger
	metrics *metrics.Metrics
	cfg     Config

	// Per-actor counters: the map has its own lock, individual actor
	// mutations are serialized by the sharded lock so unrelated actors do
	// not contend.
	actorLocks *csync.ShardedMutex
	actorMu    sync.RWMutex
	actors     map[string]*actorState

	resourceMu sync.Mutex
	resources  map[string][]time.Time

	alertMu   sync.Mutex
	alerts    []*Alert
	lastAlert map[AlertType]time.Time

	subMu     sync.Mutex
	subs      []*subscription
	statusChs []chan ComplianceStatus

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures the Monitor.
type Option func(*Monitor)

// WithLogger sets the operational logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Monitor) {
		m.logger = logger
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Monitor) {
		m.metrics = mt
	}
}

// New constructs a Monitor. Call Start to begin the periodic health sweep.
func New(enc *encryption.Service, trail *audit.Logger, cfg Config, opts ...Option) *Monitor {
	m := &Monitor{
		enc:        enc,
		trail:      trail,
		cfg:        cfg,
		actorLocks: csync.NewShardedMutex(),
		actors:     make(map[string]*actorState),
		resources:  make(map[string][]time.Time),
		lastAlert:  make(map[AlertType]time.Time),
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start begins the periodic health sweep in a background goroutine.
func (m *Monitor) Start() {
	m.wg.Add(1)
	go m.run()
}

func (m *Monitor) run() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.HealthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			status := m.ValidateCompliance()
			m.publishStatus(status)
		}
	}
}

// Close stops the health sweep and all subscription pumps.
func (m *Monitor) Close() error {
	m.cancel()
	m.wg.Wait()
	return nil
}

// ReportSecurityEvent feeds one audit event through the threshold rules.
// Callers log the event through the audit trail separately; the monitor
// only writes trail entries for the alerts it raises.
func (m *Monitor) ReportSecurityEvent(event audit.Event) {
	switch {
	case event.Type == audit.EventTypeAuthentication && !event.Success && event.ActorID != "":
		m.noteFailedAuth(event.ActorID)
	case event.Type == audit.EventTypeSecurity && !event.Success && event.ActorID != "":
		m.noteSuspicious(event.ActorID)
	}
	if event.ResourceID != "" && (event.Type == audit.EventTypeSync || event.Type == audit.EventTypeTransaction) {
		m.noteResourceActivity(event.ResourceID)
	}
}

func (m *Monitor) noteFailedAuth(actorID string) {
	var count int
	m.actorLocks.WithLock(actorID, func() {
		st := m.actorState(actorID)
		st.failedAuth++
		count = st.failedAuth
	})
	if count == m.cfg.FailedAuthLimit {
		m.emitAlert(AlertFailedAuthSpike, SeverityHigh, actorID,
			fmt.Sprintf("%d failed authentication attempts", count))
	}
}

func (m *Monitor) noteSuspicious(actorID string) {
	now := time.Now()
	var count int
	m.actorLocks.WithLock(actorID, func() {
		st := m.actorState(actorID)
		st.suspicious = pruneWindow(append(st.suspicious, now), now.Add(-m.cfg.AnomalyWindow))
		count = len(st.suspicious)
	})
	if count >= m.cfg.SuspiciousLimit {
		m.emitAlert(AlertSuspiciousActivity, SeverityMedium, actorID,
			fmt.Sprintf("%d suspicious events inside the anomaly window", count))
	}
}

func (m *Monitor) noteResourceActivity(resourceID string) {
	now := time.Now()
	m.resourceMu.Lock()
	window := pruneWindow(append(m.resources[resourceID], now), now.Add(-m.cfg.AnomalyWindow))
	m.resources[resourceID] = window
	count := len(window)
	m.resourceMu.Unlock()

	if count > m.cfg.ResourceRateLimit {
		m.emitAlert(AlertUnusualActivity, SeverityMedium, "",
			fmt.Sprintf("resource %s saw %d events inside the anomaly window", resourceID, count))
	}
}

// CheckRealizedValue flags domain counters that exceed a plausible bound,
// such as a streak far beyond calendar limits. Mild overruns rate a low
// alert, gross ones a high alert.
func (m *Monitor) CheckRealizedValue(name string, value, plausibleMax int) {
	if plausibleMax <= 0 || value <= plausibleMax {
		return
	}
	severity := SeverityLow
	if value > 3*plausibleMax {
		severity = SeverityHigh
	}
	m.emitAlert(AlertImplausibleValue, severity, "",
		fmt.Sprintf("%s reached %d, beyond the plausible bound of %d", name, value, plausibleMax))
}

// ResetActor clears an actor's failed-authentication counter, typically
// after a successful authentication.
func (m *Monitor) ResetActor(actorID string) {
	m.actorLocks.WithLock(actorID, func() {
		st := m.actorState(actorID)
		st.failedAuth = 0
	})
}

// LockEligible reports whether the actor crossed the failed-auth limit.
func (m *Monitor) LockEligible(actorID string) bool {
	var eligible bool
	m.actorLocks.WithLock(actorID, func() {
		st := m.actorState(actorID)
		eligible = st.failedAuth >= m.cfg.FailedAuthLimit
	})
	return eligible
}

// actorState returns the actor's counter record, creating it on demand.
// Callers must hold the actor's sharded lock for mutation safety.
func (m *Monitor) actorState(actorID string) *actorState {
	m.actorMu.RLock()
	st, ok := m.actors[actorID]
	m.actorMu.RUnlock()
	if ok {
		return st
	}
	m.actorMu.Lock()
	defer m.actorMu.Unlock()
	if st, ok = m.actors[actorID]; ok {
		return st
	}
	st = &actorState{}
	m.actors[actorID] = st
	return st
}

// emitAlert creates and publishes an alert unless one of the same type
// fired inside the cooldown window.
func (m *Monitor) emitAlert(typ AlertType, severity AlertSeverity, actorID, message string) {
	now := time.Now()

	m.alertMu.Lock()
	if last, ok := m.lastAlert[typ]; ok && now.Sub(last) < m.cfg.AlertCooldown {
		m.alertMu.Unlock()
		if m.metrics != nil {
			m.metrics.IncAlertSuppressed()
		}
		return
	}
	m.lastAlert[typ] = now
	alert := &Alert{
		ID:        uuid.NewString(),
		Type:      typ,
		Severity:  severity,
		Message:   message,
		ActorID:   actorID,
		Timestamp: now,
	}
	m.alerts = append(m.alerts, alert)
	active := m.unresolvedLocked(SeverityLow)
	m.alertMu.Unlock()

	if m.metrics != nil {
		m.metrics.IncAlertEmitted(string(typ), string(severity))
		m.metrics.SetActiveAlerts(active)
	}
	if m.logger != nil {
		m.logger.Warn("security alert",
			"alert_id", alert.ID,
			"alert_type", string(typ),
			"alert_severity", string(severity),
			"actor_id", redact.Pseudonym(actorID),
			"message", message,
		)
	}
	if m.trail != nil {
		m.trail.LogEvent(audit.Entry{
			Type:     audit.EventTypeSecurity,
			Severity: severity.auditSeverity(),
			ActorID:  actorID,
			Action:   "security_alert",
			Details: []audit.Detail{
				{Key: "alert_id", Value: alert.ID},
				{Key: "alert_type", Value: string(typ)},
				{Key: "message", Value: message},
			},
			Success: true,
		})
	}
	m.publishAlert(*alert)
}

// ResolveAlert marks an unresolved alert resolved.
func (m *Monitor) ResolveAlert(id string) error {
	m.alertMu.Lock()
	defer m.alertMu.Unlock()
	for _, a := range m.alerts {
		if a.ID != id {
			continue
		}
		if a.Resolved {
			return dErrors.New(dErrors.CodeInvalidState, "alert already resolved")
		}
		now := time.Now()
		a.Resolved = true
		a.ResolvedAt = &now
		if m.metrics != nil {
			m.metrics.SetActiveAlerts(m.unresolvedLocked(SeverityLow))
		}
		return nil
	}
	return dErrors.New(dErrors.CodeNotFound, "no alert with that identifier")
}

// Alerts returns a snapshot of alerts, optionally including resolved ones.
func (m *Monitor) Alerts(includeResolved bool) []Alert {
	m.alertMu.Lock()
	defer m.alertMu.Unlock()
	var out []Alert
	for _, a := range m.alerts {
		if !includeResolved && a.Resolved {
			continue
		}
		out = append(out, *a)
	}
	return out
}

// unresolvedLocked counts unresolved alerts at or above minSeverity.
// Callers must hold alertMu.
func (m *Monitor) unresolvedLocked(minSeverity AlertSeverity) int {
	count := 0
	for _, a := range m.alerts {
		if !a.Resolved && a.Severity.rank() >= minSeverity.rank() {
			count++
		}
	}
	return count
}

// selfResolveStale resolves low alerts older than the self-resolve window.
func (m *Monitor) selfResolveStale(now time.Time) {
	m.alertMu.Lock()
	defer m.alertMu.Unlock()
	for _, a := range m.alerts {
		if a.Resolved || a.Severity != SeverityLow {
			continue
		}
		if now.Sub(a.Timestamp) >= m.cfg.SelfResolveAfter {
			resolvedAt := now
			a.Resolved = true
			a.ResolvedAt = &resolvedAt
		}
	}
}

func pruneWindow(stamps []time.Time, cutoff time.Time) []time.Time {
	kept := stamps[:0]
	for _, ts := range stamps {
		if !ts.Before(cutoff) {
			kept = append(kept, ts)
		}
	}
	return kept
}
