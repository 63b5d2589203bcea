package monitor

import (
	"time"

	"custodia/internal/audit"
)

const unresolvedAlertPenalty = 20

// HealthCheck runs one health sweep: validates the encryption service,
// checks audit-trail recency, counts unresolved high and critical alerts,
// and self-resolves stale low alerts. A failed encryption probe raises a
// critical alert.
func (m *Monitor) HealthCheck() HealthStatus {
	now := time.Now()
	m.selfResolveStale(now)

	status := HealthStatus{
		Timestamp:       now,
		ComponentScores: make(map[string]int),
	}

	if err := m.enc.Validate(); err != nil {
		status.EncryptionHealthy = false
		status.ComponentScores["encryption"] = 0
		// A broken encryption service is always critical.
		m.emitAlert(AlertHealthCheckFailed, SeverityCritical, "",
			"encryption health probe failed: "+err.Error())
	} else {
		status.EncryptionHealthy = true
		status.ComponentScores["encryption"] = 100
	}

	if m.trail != nil {
		recent := m.trail.GetAuditTrail(audit.Filter{From: now.Add(-m.cfg.AuditRecencyWindow)})
		status.AuditActive = len(recent) > 0
	}
	if status.AuditActive {
		status.ComponentScores["audit"] = 100
	} else {
		status.ComponentScores["audit"] = 0
	}

	m.alertMu.Lock()
	status.UnresolvedAlerts = m.unresolvedLocked(SeverityHigh)
	m.alertMu.Unlock()
	alertScore := 100 - unresolvedAlertPenalty*status.UnresolvedAlerts
	if alertScore < 0 {
		alertScore = 0
	}
	status.ComponentScores["alerts"] = alertScore

	total := 0
	for _, score := range status.ComponentScores {
		total += score
	}
	status.OverallScore = total / len(status.ComponentScores)

	if m.metrics != nil {
		m.metrics.IncHealthCheck()
		m.metrics.SetHealthScore(status.OverallScore)
	}
	if m.logger != nil {
		m.logger.Info("health check completed",
			"overall_score", status.OverallScore,
			"encryption_healthy", status.EncryptionHealthy,
			"audit_active", status.AuditActive,
			"unresolved_alerts", status.UnresolvedAlerts,
		)
	}
	return status
}

// ValidateCompliance maps the current health state onto typed violations.
// Compliance is binary: any violation means non-compliant.
func (m *Monitor) ValidateCompliance() ComplianceStatus {
	health := m.HealthCheck()

	var violations []ComplianceViolation
	if !health.EncryptionHealthy {
		violations = append(violations, ComplianceViolation{
			Check:       "encryption_health",
			Severity:    SeverityCritical,
			Description: "the encryption service failed its round-trip probe",
			Remediation: "restore key material from the vault and re-run validation before processing data",
		})
	}
	if !health.AuditActive {
		violations = append(violations, ComplianceViolation{
			Check:       "audit_integrity",
			Severity:    SeverityHigh,
			Description: "no audit events were recorded inside the recency window",
			Remediation: "verify the audit flush worker and its backing store are running",
		})
	}
	if health.UnresolvedAlerts > 0 {
		violations = append(violations, ComplianceViolation{
			Check:       "system_integrity",
			Severity:    SeverityHigh,
			Description: "unresolved high or critical security alerts are outstanding",
			Remediation: "investigate and resolve outstanding alerts",
		})
	}

	return ComplianceStatus{
		Timestamp:   health.Timestamp,
		IsCompliant: len(violations) == 0,
		Violations:  violations,
		Score:       health.OverallScore,
		Level:       levelForScore(health.OverallScore),
	}
}
