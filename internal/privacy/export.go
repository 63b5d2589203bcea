package privacy

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"custodia/internal/audit"
	"custodia/internal/encryption"
	"custodia/internal/platform/redact"
	dErrors "custodia/pkg/domain-errors"
)

// ExportSource contributes one named section to a user data export.
// Collect must be safe for concurrent use; sections are gathered in
// parallel.
type ExportSource struct {
	Name    string
	Collect func(ctx context.Context, userID string) (json.RawMessage, error)
}

// RegisterExportSource adds a section provider for future exports.
func (m *Manager) RegisterExportSource(source ExportSource) {
	m.sourceMu.Lock()
	defer m.sourceMu.Unlock()
	m.sources = append(m.sources, source)
}

// Export is the portable bundle handed to the user. It is always
// encrypted before leaving the manager.
type Export struct {
	UserID        string                     `json:"user_id"`
	GeneratedAt   time.Time                  `json:"generated_at"`
	PolicyVersion string                     `json:"policy_version"`
	Consents      []ConsentRecord            `json:"consents"`
	AuditEvents   []audit.Event              `json:"audit_events"`
	Sections      map[string]json.RawMessage `json:"sections,omitempty"`
}

// ExportUserData assembles everything held about the user and returns it
// as an encrypted blob. The operation passes through the compliance gate
// first; a denial is returned to the caller and audited.
func (m *Manager) ExportUserData(ctx context.Context, userID string) (*encryption.Blob, error) {
	if err := m.ValidateGDPRCompliance(ctx, userID, "data_export"); err != nil {
		return nil, err
	}

	ctx, span := m.tracer.Start(ctx, "privacy.export")
	defer span.End()

	export := Export{
		UserID:        userID,
		GeneratedAt:   time.Now().UTC(),
		PolicyVersion: m.policyVersion,
		Sections:      make(map[string]json.RawMessage),
	}

	m.sourceMu.Lock()
	sources := append([]ExportSource(nil), m.sources...)
	m.sourceMu.Unlock()

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		consents := make([]ConsentRecord, 0)
		for _, consentType := range AllConsentTypes {
			history, err := m.consents.History(gctx, userID, consentType)
			if err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "reading consent ledger")
			}
			consents = append(consents, history...)
		}
		sort.SliceStable(consents, func(i, j int) bool {
			return consents[i].Timestamp.Before(consents[j].Timestamp)
		})
		mu.Lock()
		export.Consents = consents
		mu.Unlock()
		return nil
	})

	g.Go(func() error {
		// CollectEvents also covers events still waiting in the flush
		// buffer; a regulatory export must not omit the newest activity.
		events, err := m.trail.CollectEvents(gctx, audit.Filter{ActorID: userID})
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "reading audit history")
		}
		mu.Lock()
		export.AuditEvents = events
		mu.Unlock()
		return nil
	})

	for _, source := range sources {
		g.Go(func() error {
			section, err := source.Collect(gctx, userID)
			if err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "collecting export section "+source.Name)
			}
			mu.Lock()
			export.Sections[source.Name] = section
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(export)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "encoding export")
	}
	blob, err := m.enc.Encrypt(payload)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "encrypting export")
	}

	m.trail.LogEvent(audit.Entry{
		Type:     audit.EventTypeDataExport,
		Severity: audit.SeverityInfo,
		ActorID:  userID,
		Action:   "data_exported",
		Details: []audit.Detail{
			{Key: "consent_records", Value: strconv.Itoa(len(export.Consents))},
			{Key: "audit_events", Value: strconv.Itoa(len(export.AuditEvents))},
			{Key: "sections", Value: strconv.Itoa(len(export.Sections))},
		},
		Success: true,
	})
	if m.metrics != nil {
		m.metrics.IncExport()
	}
	if m.logger != nil {
		m.logger.Info("user data export produced",
			"user_id", redact.Pseudonym(userID),
			"consent_records", len(export.Consents),
			"audit_events", len(export.AuditEvents),
			"sections", len(export.Sections),
		)
	}
	return blob, nil
}
