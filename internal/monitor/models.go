package monitor

import (
	"time"

	"custodia/internal/audit"
)

// AlertType identifies the rule that fired. Alerts of the same type share
// a cooldown window for de-duplication.
type AlertType string

const (
	AlertFailedAuthSpike    AlertType = "failed_auth_spike"
	AlertSuspiciousActivity AlertType = "suspicious_activity"
	AlertUnusualActivity    AlertType = "unusual_activity"
	AlertImplausibleValue   AlertType = "implausible_value"
	AlertHealthCheckFailed  AlertType = "health_check_failed"
)

// AlertSeverity grades alerts. Low alerts self-resolve after a fixed
// window; anything above requires explicit resolution.
type AlertSeverity string

const (
	SeverityLow      AlertSeverity = "low"
	SeverityMedium   AlertSeverity = "medium"
	SeverityHigh     AlertSeverity = "high"
	SeverityCritical AlertSeverity = "critical"
)

func (s AlertSeverity) rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	default:
		return 0
	}
}

// auditSeverity maps an alert grade onto the audit trail's severity scale.
func (s AlertSeverity) auditSeverity() audit.Severity {
	switch s {
	case SeverityCritical:
		return audit.SeverityCritical
	case SeverityHigh:
		return audit.SeverityError
	case SeverityMedium:
		return audit.SeverityWarning
	default:
		return audit.SeverityInfo
	}
}

// Alert is emitted when a threshold rule fires.
type Alert struct {
	ID         string        `json:"id"`
	Type       AlertType     `json:"type"`
	Severity   AlertSeverity `json:"severity"`
	Message    string        `json:"message"`
	ActorID    string        `json:"actor_id,omitempty"`
	Timestamp  time.Time     `json:"timestamp"`
	Resolved   bool          `json:"resolved"`
	ResolvedAt *time.Time    `json:"resolved_at,omitempty"`
}

// HealthStatus is the outcome of one periodic health sweep.
type HealthStatus struct {
	Timestamp         time.Time      `json:"timestamp"`
	EncryptionHealthy bool           `json:"encryption_healthy"`
	AuditActive       bool           `json:"audit_active"`
	UnresolvedAlerts  int            `json:"unresolved_alerts"`
	ComponentScores   map[string]int `json:"component_scores"`
	OverallScore      int            `json:"overall_score"`
}

// ComplianceViolation maps a failed check to an actionable remediation.
type ComplianceViolation struct {
	Check       string        `json:"check"`
	Severity    AlertSeverity `json:"severity"`
	Description string        `json:"description"`
	Remediation string        `json:"remediation"`
}

// ComplianceLevel is the qualitative reading of the aggregate score.
type ComplianceLevel string

const (
	LevelExcellent        ComplianceLevel = "excellent"
	LevelGood             ComplianceLevel = "good"
	LevelAcceptable       ComplianceLevel = "acceptable"
	LevelNeedsImprovement ComplianceLevel = "needs_improvement"
	LevelCritical         ComplianceLevel = "critical"
)

func levelForScore(score int) ComplianceLevel {
	switch {
	case score >= 90:
		return LevelExcellent
	case score >= 75:
		return LevelGood
	case score >= 60:
		return LevelAcceptable
	case score >= 40:
		return LevelNeedsImprovement
	default:
		return LevelCritical
	}
}

// ComplianceStatus is published after every compliance evaluation.
// Compliance is binary: any violation makes the system non-compliant.
type ComplianceStatus struct {
	Timestamp   time.Time             `json:"timestamp"`
	IsCompliant bool                  `json:"is_compliant"`
	Violations  []ComplianceViolation `json:"violations,omitempty"`
	Score       int                   `json:"score"`
	Level       ComplianceLevel       `json:"level"`
}
