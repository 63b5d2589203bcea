package audit

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"custodia/internal/encryption"
	"custodia/internal/keystore"
	dErrors "custodia/pkg/domain-errors"
)

func reportFromBlob(t *testing.T, enc *encryption.Service, blob *encryption.Blob) Report {
	t.Helper()
	payload, err := enc.Decrypt(blob)
	require.NoError(t, err)
	var report Report
	require.NoError(t, json.Unmarshal(payload, &report))
	return report
}

func TestGenerateComplianceReport(t *testing.T) {
	enc := encryption.New(keystore.NewMemory())
	logger := NewLogger(enc, NewInMemoryStore(), WithFlushInterval(time.Hour), WithFlushThreshold(1000))
	defer logger.Close()

	ctx := context.Background()
	logger.LogEvent(Entry{Type: EventTypeAuthentication, ActorID: "alice", Action: "login_failed"})
	logger.LogEvent(Entry{Type: EventTypeAuthentication, ActorID: "alice", Action: "login_failed"})
	logger.LogEvent(Entry{Type: EventTypeAuthentication, ActorID: "alice", Action: "login", Success: true})
	logger.LogEvent(Entry{Type: EventTypeSecurity, Severity: SeverityError, Action: "tamper_detected"})
	logger.LogEvent(Entry{Type: EventTypeSecurity, Severity: SeverityInfo, Action: "key_rotated", Success: true})
	logger.LogEvent(Entry{Type: EventTypeSync, Action: "sync_completed", Success: true})
	require.NoError(t, logger.Flush(ctx))

	blob, err := logger.GenerateComplianceReport(ctx, time.Hour)
	require.NoError(t, err)
	report := reportFromBlob(t, enc, blob)

	assert.Equal(t, 6, report.TotalEvents)
	assert.Equal(t, 2, report.AuthFailures)
	// The info-severity security event is routine, not an incident.
	assert.Equal(t, 1, report.SecurityIncidents)
	assert.Equal(t, 100-2*2-5*1, report.ComplianceScore)
	assert.Equal(t, 3, report.ByType[EventTypeAuthentication])
	assert.Equal(t, 2, report.ByType[EventTypeSecurity])
}

func TestGenerateComplianceReport_MergesBufferAndHistory(t *testing.T) {
	enc := encryption.New(keystore.NewMemory())
	logger := NewLogger(enc, NewInMemoryStore(), WithFlushInterval(time.Hour), WithFlushThreshold(1000))
	defer logger.Close()

	ctx := context.Background()
	logger.LogEvent(Entry{Type: EventTypeSync, Action: "flushed", Success: true})
	require.NoError(t, logger.Flush(ctx))
	logger.LogEvent(Entry{Type: EventTypeSync, Action: "still buffered", Success: true})

	blob, err := logger.GenerateComplianceReport(ctx, time.Hour)
	require.NoError(t, err)
	report := reportFromBlob(t, enc, blob)
	assert.Equal(t, 2, report.TotalEvents)
}

func TestGenerateComplianceReport_ScoreFloorsAtZero(t *testing.T) {
	enc := encryption.New(keystore.NewMemory())
	logger := NewLogger(enc, NewInMemoryStore(), WithFlushInterval(time.Hour), WithFlushThreshold(1000))
	defer logger.Close()

	for i := 0; i < 25; i++ {
		logger.LogEvent(Entry{Type: EventTypeSecurity, Severity: SeverityCritical, Action: "incident"})
	}

	blob, err := logger.GenerateComplianceReport(context.Background(), time.Hour)
	require.NoError(t, err)
	report := reportFromBlob(t, enc, blob)
	assert.Equal(t, 0, report.ComplianceScore)
}

func TestGenerateComplianceReport_RejectsNonPositivePeriod(t *testing.T) {
	enc := encryption.New(keystore.NewMemory())
	logger := NewLogger(enc, NewInMemoryStore(), WithFlushInterval(time.Hour), WithFlushThreshold(1000))
	defer logger.Close()

	_, err := logger.GenerateComplianceReport(context.Background(), 0)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}
