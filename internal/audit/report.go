package audit

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"custodia/internal/encryption"
	dErrors "custodia/pkg/domain-errors"
)

// Score weights: every failed authentication costs 2 points, every
// security incident 5, floored at zero.
const (
	authFailurePenalty      = 2
	securityIncidentPenalty = 5
)

// Report aggregates trail activity over a period. Reports leave this
// package only in encrypted form.
type Report struct {
	PeriodStart       time.Time         `json:"period_start"`
	PeriodEnd         time.Time         `json:"period_end"`
	TotalEvents       int               `json:"total_events"`
	ByType            map[EventType]int `json:"by_type"`
	BySeverity        map[Severity]int  `json:"by_severity"`
	AuthFailures      int               `json:"auth_failures"`
	SecurityIncidents int               `json:"security_incidents"`
	ComplianceScore   int               `json:"compliance_score"`
	GeneratedAt       time.Time         `json:"generated_at"`
}

// GenerateComplianceReport aggregates the period's events from durable
// history plus the live buffer and returns the report encrypted.
func (l *Logger) GenerateComplianceReport(ctx context.Context, period time.Duration) (*encryption.Blob, error) {
	if period <= 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "report period must be positive")
	}
	now := time.Now()
	cutoff := now.Add(-period)

	events, err := l.CollectEvents(ctx, Filter{From: cutoff})
	if err != nil {
		return nil, err
	}

	report := Report{
		PeriodStart: cutoff,
		PeriodEnd:   now,
		ByType:      make(map[EventType]int),
		BySeverity:  make(map[Severity]int),
		GeneratedAt: now,
	}
	for _, e := range events {
		report.TotalEvents++
		report.ByType[e.Type]++
		report.BySeverity[e.Severity]++
		if e.Type == EventTypeAuthentication && !e.Success {
			report.AuthFailures++
		}
		if e.Type == EventTypeSecurity && e.Severity.rank() >= SeverityError.rank() {
			report.SecurityIncidents++
		}
	}
	score := 100 - authFailurePenalty*report.AuthFailures - securityIncidentPenalty*report.SecurityIncidents
	if score < 0 {
		score = 0
	}
	report.ComplianceScore = score

	payload, err := json.Marshal(report)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "could not serialize compliance report")
	}
	blob, err := l.enc.Encrypt(payload)
	if err != nil {
		return nil, err
	}

	l.LogEvent(Entry{
		Type:     EventTypeSystem,
		Severity: SeverityInfo,
		Action:   "compliance_report_generated",
		Details: []Detail{
			{Key: "total_events", Value: strconv.Itoa(report.TotalEvents)},
			{Key: "compliance_score", Value: strconv.Itoa(report.ComplianceScore)},
		},
		Success: true,
	})
	return blob, nil
}
