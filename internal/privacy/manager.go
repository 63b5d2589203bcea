// Package privacy implements the consent ledger, the GDPR compliance
// gate, right-to-be-forgotten deletion requests, and encrypted user data
// exports.
package privacy

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"custodia/internal/audit"
	"custodia/internal/encryption"
	"custodia/internal/monitor"
	"custodia/internal/platform/redact"
	"custodia/internal/privacy/metrics"
	"custodia/internal/sentinel"
	dErrors "custodia/pkg/domain-errors"
)

// Eraser performs the actual data destruction for a deletion request.
// It runs on a background goroutine detached from the caller's context.
type Eraser func(ctx context.Context, request DeletionRequest) error

// Manager coordinates consent decisions, deletion requests, and exports,
// writing every decision to the audit trail.
type Manager struct {
	consents  ConsentStore
	deletions DeletionStore
	enc       *encryption.Service
	trail     *audit.Logger
	mon       *monitor.Monitor
	logger    *slog.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer

	policyVersion string
	eraser        Eraser

	sourceMu sync.Mutex
	sources  []ExportSource

	wg sync.WaitGroup
}

// Option configures the Manager.
type Option func(*Manager)

// WithLogger sets the operational logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) {
		m.metrics = mt
	}
}

// WithMonitor routes consent and deletion events into the security monitor.
func WithMonitor(mon *monitor.Monitor) Option {
	return func(m *Manager) {
		m.mon = mon
	}
}

// WithPolicyVersion stamps new consent records with the policy version.
func WithPolicyVersion(version string) Option {
	return func(m *Manager) {
		m.policyVersion = version
	}
}

// WithEraser sets the destruction hook invoked for deletion requests.
// Without one, requests complete without touching external data.
func WithEraser(eraser Eraser) Option {
	return func(m *Manager) {
		m.eraser = eraser
	}
}

// NewManager constructs a privacy Manager.
func NewManager(consents ConsentStore, deletions DeletionStore, enc *encryption.Service, trail *audit.Logger, opts ...Option) *Manager {
	m := &Manager{
		consents:      consents,
		deletions:     deletions,
		enc:           enc,
		trail:         trail,
		tracer:        otel.Tracer("custodia/privacy"),
		policyVersion: "1.0",
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Close waits for in-flight deletion processing to finish.
func (m *Manager) Close() error {
	m.wg.Wait()
	return nil
}

// GrantConsent appends a granted record to the consent ledger.
func (m *Manager) GrantConsent(ctx context.Context, userID string, consentType ConsentType) (*ConsentRecord, error) {
	return m.recordConsent(ctx, userID, consentType, true)
}

// RevokeConsent appends a revoked record to the consent ledger. History
// is preserved; the new record supersedes earlier ones.
func (m *Manager) RevokeConsent(ctx context.Context, userID string, consentType ConsentType) (*ConsentRecord, error) {
	return m.recordConsent(ctx, userID, consentType, false)
}

func (m *Manager) recordConsent(ctx context.Context, userID string, consentType ConsentType, granted bool) (*ConsentRecord, error) {
	if userID == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "user identifier is required")
	}
	if !consentType.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvalidConsent, "unknown consent type")
	}

	record := ConsentRecord{
		ID:            uuid.NewString(),
		UserID:        userID,
		Type:          consentType,
		Granted:       granted,
		Timestamp:     time.Now().UTC(),
		PolicyVersion: m.policyVersion,
	}
	if err := m.consents.Append(ctx, record); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "appending consent record")
	}

	action := "consent_revoked"
	if granted {
		action = "consent_granted"
	}
	event := m.trail.LogEvent(audit.Entry{
		Type:     audit.EventTypeConsent,
		Severity: audit.SeverityInfo,
		ActorID:  userID,
		Action:   action,
		Details: []audit.Detail{
			{Key: "consent_type", Value: string(consentType)},
			{Key: "policy_version", Value: record.PolicyVersion},
		},
		Success: true,
	})
	if m.mon != nil {
		m.mon.ReportSecurityEvent(event)
	}
	if m.metrics != nil {
		m.metrics.IncConsentDecision(string(consentType), granted)
	}
	if m.logger != nil {
		m.logger.Info("consent decision recorded",
			"user_id", redact.Pseudonym(userID),
			"consent_type", string(consentType),
			"granted", granted,
		)
	}
	return &record, nil
}

// HasConsent reports the user's current consent state for the type. A
// user with no ledger history has not consented.
func (m *Manager) HasConsent(ctx context.Context, userID string, consentType ConsentType) (bool, error) {
	latest, err := m.consents.Latest(ctx, userID, consentType)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return false, nil
		}
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "reading consent ledger")
	}
	return latest.Granted, nil
}

// ConsentHistory returns the user's full decision history for the type,
// oldest first.
func (m *Manager) ConsentHistory(ctx context.Context, userID string, consentType ConsentType) ([]ConsentRecord, error) {
	history, err := m.consents.History(ctx, userID, consentType)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "reading consent ledger")
	}
	return history, nil
}

// ValidateGDPRCompliance gates a data operation. It fails closed: the
// operation is denied unless data-processing consent is currently granted
// and no deletion request is in flight. Denials are audited.
func (m *Manager) ValidateGDPRCompliance(ctx context.Context, userID, operation string) error {
	if userID == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "user identifier is required")
	}

	granted, err := m.HasConsent(ctx, userID, ConsentDataProcessing)
	if err != nil {
		return err
	}
	if !granted {
		m.denyOperation(userID, operation, "missing_consent")
		return dErrors.New(dErrors.CodeMissingConsent, "data processing consent not granted")
	}

	inFlight, err := m.deletions.HasInFlight(ctx, userID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "checking deletion requests")
	}
	if inFlight {
		m.denyOperation(userID, operation, "deletion_in_progress")
		return dErrors.New(dErrors.CodeDeletionInProgress, "a deletion request is in flight for this user")
	}
	return nil
}

func (m *Manager) denyOperation(userID, operation, reason string) {
	m.trail.LogEvent(audit.Entry{
		Type:     audit.EventTypeConsent,
		Severity: audit.SeverityWarning,
		ActorID:  userID,
		Action:   "operation_denied",
		Details: []audit.Detail{
			{Key: "operation", Value: operation},
			{Key: "reason", Value: reason},
		},
		Success:      false,
		ErrorMessage: reason,
	})
	if m.metrics != nil {
		m.metrics.IncGDPRDenial(reason)
	}
	if m.logger != nil {
		m.logger.Warn("operation denied by compliance gate",
			"user_id", redact.Pseudonym(userID),
			"operation", operation,
			"reason", reason,
		)
	}
}

// RequestDataDeletion accepts a right-to-be-forgotten request and starts
// processing it in the background. Requests are not cancellable once
// accepted; processing survives the caller's context.
func (m *Manager) RequestDataDeletion(ctx context.Context, userID string, scope DeletionScope, reason string) (*DeletionRequest, error) {
	if userID == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "user identifier is required")
	}
	if !scope.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "unknown deletion scope")
	}

	request := DeletionRequest{
		ID:          uuid.NewString(),
		UserID:      userID,
		Scope:       scope,
		Reason:      reason,
		Status:      StatusPending,
		RequestedAt: time.Now().UTC(),
	}
	if err := m.deletions.Save(ctx, request); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "saving deletion request")
	}

	m.trail.LogEvent(audit.Entry{
		Type:     audit.EventTypeDeletion,
		Severity: audit.SeverityCritical,
		ActorID:  userID,
		Action:   "data_deletion_requested",
		Details: []audit.Detail{
			{Key: "request_id", Value: request.ID},
			{Key: "scope", Value: string(scope)},
			{Key: "reason", Value: reason},
		},
		Success: true,
	})
	if m.metrics != nil {
		m.metrics.IncDeletionStarted()
	}

	m.wg.Add(1)
	go m.processDeletion(context.WithoutCancel(ctx), request)

	return &request, nil
}

func (m *Manager) processDeletion(ctx context.Context, request DeletionRequest) {
	defer m.wg.Done()
	ctx, span := m.tracer.Start(ctx, "privacy.deletion")
	defer span.End()

	if err := m.transition(ctx, &request, StatusProcessing); err != nil {
		m.finishDeletion(ctx, request, err)
		return
	}

	var err error
	if m.eraser != nil {
		err = m.eraser(ctx, request)
	}
	m.finishDeletion(ctx, request, err)
}

func (m *Manager) finishDeletion(ctx context.Context, request DeletionRequest, err error) {
	if err != nil {
		request.FailureReason = err.Error()
		if terr := m.transition(ctx, &request, StatusFailed); terr != nil && m.logger != nil {
			m.logger.Error("recording deletion failure", "request_id", request.ID, "error", terr)
		}
		m.trail.LogEvent(audit.Entry{
			Type:     audit.EventTypeDeletion,
			Severity: audit.SeverityError,
			ActorID:  request.UserID,
			Action:   "data_deletion_failed",
			Details: []audit.Detail{
				{Key: "request_id", Value: request.ID},
				{Key: "scope", Value: string(request.Scope)},
			},
			Success:      false,
			ErrorMessage: err.Error(),
		})
		if m.metrics != nil {
			m.metrics.IncDeletionFinished(string(StatusFailed))
		}
		if m.logger != nil {
			m.logger.Error("deletion request failed", "request_id", request.ID, "error", err)
		}
		return
	}

	now := time.Now().UTC()
	request.CompletedAt = &now
	if terr := m.transition(ctx, &request, StatusCompleted); terr != nil && m.logger != nil {
		m.logger.Error("recording deletion completion", "request_id", request.ID, "error", terr)
	}
	m.trail.LogEvent(audit.Entry{
		Type:     audit.EventTypeDeletion,
		Severity: audit.SeverityWarning,
		ActorID:  request.UserID,
		Action:   "data_deletion_completed",
		Details: []audit.Detail{
			{Key: "request_id", Value: request.ID},
			{Key: "scope", Value: string(request.Scope)},
		},
		Success: true,
	})
	if m.metrics != nil {
		m.metrics.IncDeletionFinished(string(StatusCompleted))
	}
	if m.logger != nil {
		m.logger.Info("deletion request completed", "request_id", request.ID, "user_id", request.UserID)
	}
}

// transition advances the request's status and persists it. The state
// machine only moves forward.
func (m *Manager) transition(ctx context.Context, request *DeletionRequest, next DeletionStatus) error {
	if !request.Status.CanTransitionTo(next) {
		return dErrors.New(dErrors.CodeInvalidState, "invalid deletion status transition")
	}
	request.Status = next
	if err := m.deletions.Save(ctx, *request); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "saving deletion request")
	}
	return nil
}

// DeletionStatus returns the stored state of a deletion request.
func (m *Manager) DeletionStatus(ctx context.Context, id string) (*DeletionRequest, error) {
	request, err := m.deletions.Get(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "no deletion request with that identifier")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "reading deletion request")
	}
	return request, nil
}

// DeletionHistory returns the user's deletion requests in submission order.
func (m *Manager) DeletionHistory(ctx context.Context, userID string) ([]DeletionRequest, error) {
	history, err := m.deletions.ListByUser(ctx, userID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "reading deletion requests")
	}
	return history, nil
}
