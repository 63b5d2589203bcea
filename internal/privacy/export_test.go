package privacy

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"custodia/internal/audit"
	"custodia/internal/encryption"
	"custodia/internal/keystore"
	dErrors "custodia/pkg/domain-errors"
)

type ExportSuite struct {
	suite.Suite
	enc     *encryption.Service
	trail   *audit.Logger
	manager *Manager
}

func (s *ExportSuite) SetupTest() {
	s.enc = encryption.New(keystore.NewMemory())
	s.trail = audit.NewLogger(s.enc, audit.NewInMemoryStore(),
		audit.WithFlushInterval(time.Hour),
		audit.WithFlushThreshold(1000),
	)
	s.manager = NewManager(NewInMemoryConsentStore(), NewInMemoryDeletionStore(), s.enc, s.trail)
}

func (s *ExportSuite) TearDownTest() {
	require.NoError(s.T(), s.manager.Close())
	require.NoError(s.T(), s.trail.Close())
}

func TestExportSuite(t *testing.T) {
	suite.Run(t, new(ExportSuite))
}

func (s *ExportSuite) decryptExport(blob *encryption.Blob) Export {
	payload, err := s.enc.Decrypt(blob)
	require.NoError(s.T(), err)
	var export Export
	require.NoError(s.T(), json.Unmarshal(payload, &export))
	return export
}

func (s *ExportSuite) TestExportUserData() {
	ctx := context.Background()
	_, err := s.manager.GrantConsent(ctx, "user-1", ConsentDataProcessing)
	require.NoError(s.T(), err)
	_, err = s.manager.GrantConsent(ctx, "user-1", ConsentAnalytics)
	require.NoError(s.T(), err)

	s.trail.LogEvent(audit.Entry{
		Type:    audit.EventTypeSync,
		ActorID: "user-1",
		Action:  "records_synced",
		Success: true,
	})
	require.NoError(s.T(), s.trail.Flush(ctx))

	s.manager.RegisterExportSource(ExportSource{
		Name: "habits",
		Collect: func(_ context.Context, userID string) (json.RawMessage, error) {
			return json.RawMessage(`{"streak":12}`), nil
		},
	})

	blob, err := s.manager.ExportUserData(ctx, "user-1")
	require.NoError(s.T(), err)

	export := s.decryptExport(blob)
	assert.Equal(s.T(), "user-1", export.UserID)
	assert.Equal(s.T(), "1.0", export.PolicyVersion)
	require.Len(s.T(), export.Consents, 2)
	assert.Equal(s.T(), ConsentDataProcessing, export.Consents[0].Type)
	assert.Equal(s.T(), ConsentAnalytics, export.Consents[1].Type)
	assert.JSONEq(s.T(), `{"streak":12}`, string(export.Sections["habits"]))

	// Audit history for the user rides along.
	var actions []string
	for _, e := range export.AuditEvents {
		actions = append(actions, e.Action)
	}
	assert.Contains(s.T(), actions, "records_synced")

	// The export itself is audited.
	exports := s.trail.GetAuditTrail(audit.Filter{Type: audit.EventTypeDataExport})
	require.Len(s.T(), exports, 1)
	assert.Equal(s.T(), "data_exported", exports[0].Action)
	assert.True(s.T(), exports[0].Success)
}

func (s *ExportSuite) TestExportUserData_IncludesUnflushedEvents() {
	ctx := context.Background()
	_, err := s.manager.GrantConsent(ctx, "user-1", ConsentDataProcessing)
	require.NoError(s.T(), err)

	// Nothing is flushed; the grant and the sync sit in the live buffer.
	s.trail.LogEvent(audit.Entry{
		Type:    audit.EventTypeSync,
		ActorID: "user-1",
		Action:  "records_synced",
		Success: true,
	})

	blob, err := s.manager.ExportUserData(ctx, "user-1")
	require.NoError(s.T(), err)

	export := s.decryptExport(blob)
	var actions []string
	for _, e := range export.AuditEvents {
		actions = append(actions, e.Action)
	}
	assert.Contains(s.T(), actions, "consent_granted")
	assert.Contains(s.T(), actions, "records_synced")
}

func (s *ExportSuite) TestExportUserData_DeniedWithoutConsent() {
	_, err := s.manager.ExportUserData(context.Background(), "user-1")
	require.Error(s.T(), err)
	assert.True(s.T(), dErrors.HasCode(err, dErrors.CodeMissingConsent))

	denials := s.trail.GetAuditTrail(audit.Filter{Type: audit.EventTypeConsent})
	require.Len(s.T(), denials, 1)
	assert.Equal(s.T(), "operation_denied", denials[0].Action)
}

func (s *ExportSuite) TestExportUserData_DeniedAfterRevocation() {
	ctx := context.Background()
	_, err := s.manager.GrantConsent(ctx, "user-1", ConsentDataProcessing)
	require.NoError(s.T(), err)
	_, err = s.manager.RevokeConsent(ctx, "user-1", ConsentDataProcessing)
	require.NoError(s.T(), err)

	_, err = s.manager.ExportUserData(ctx, "user-1")
	assert.True(s.T(), dErrors.HasCode(err, dErrors.CodeMissingConsent))

	exports := s.trail.GetAuditTrail(audit.Filter{Type: audit.EventTypeDataExport})
	assert.Empty(s.T(), exports)
}

func (s *ExportSuite) TestExportUserData_SourceFailureAbortsExport() {
	ctx := context.Background()
	_, err := s.manager.GrantConsent(ctx, "user-1", ConsentDataProcessing)
	require.NoError(s.T(), err)

	s.manager.RegisterExportSource(ExportSource{
		Name: "habits",
		Collect: func(context.Context, string) (json.RawMessage, error) {
			return nil, assert.AnError
		},
	})

	_, err = s.manager.ExportUserData(ctx, "user-1")
	require.Error(s.T(), err)
	assert.True(s.T(), dErrors.HasCode(err, dErrors.CodeInternal))
}

func (s *ExportSuite) TestExportUserData_ScopedToUser() {
	ctx := context.Background()
	_, err := s.manager.GrantConsent(ctx, "user-1", ConsentDataProcessing)
	require.NoError(s.T(), err)
	_, err = s.manager.GrantConsent(ctx, "user-2", ConsentMarketing)
	require.NoError(s.T(), err)

	blob, err := s.manager.ExportUserData(ctx, "user-1")
	require.NoError(s.T(), err)

	export := s.decryptExport(blob)
	require.Len(s.T(), export.Consents, 1)
	assert.Equal(s.T(), "user-1", export.Consents[0].UserID)
	for _, e := range export.AuditEvents {
		assert.Equal(s.T(), "user-1", e.ActorID)
	}
}
