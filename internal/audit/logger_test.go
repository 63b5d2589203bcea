package audit

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"custodia/internal/encryption"
	"custodia/internal/keystore"
	dErrors "custodia/pkg/domain-errors"
)

// failingStore delegates to an InMemoryStore after rejecting the first
// failures appends.
type failingStore struct {
	*InMemoryStore
	mu       sync.Mutex
	failures int
}

func (s *failingStore) Append(ctx context.Context, blob *encryption.Blob) error {
	s.mu.Lock()
	if s.failures > 0 {
		s.failures--
		s.mu.Unlock()
		return dErrors.New(dErrors.CodeStorageUnavailable, "simulated outage")
	}
	s.mu.Unlock()
	return s.InMemoryStore.Append(ctx, blob)
}

// rewriteFailStore delegates to an InMemoryStore but rejects rewrites.
type rewriteFailStore struct {
	*InMemoryStore
}

func (s *rewriteFailStore) Replace(context.Context, []*encryption.Blob) error {
	return dErrors.New(dErrors.CodeStorageUnavailable, "simulated outage")
}

// gatedReadStore blocks the first ReadBatches call until released, holding
// a retention rewrite open mid-scan.
type gatedReadStore struct {
	*InMemoryStore
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *gatedReadStore) ReadBatches(ctx context.Context, fn func(*encryption.Blob) error) error {
	s.once.Do(func() {
		close(s.entered)
		<-s.release
	})
	return s.InMemoryStore.ReadBatches(ctx, fn)
}

type LoggerSuite struct {
	suite.Suite
	enc    *encryption.Service
	store  *InMemoryStore
	logger *Logger
}

func (s *LoggerSuite) SetupTest() {
	s.enc = encryption.New(keystore.NewMemory())
	s.store = NewInMemoryStore()
	s.logger = NewLogger(s.enc, s.store,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithFlushInterval(time.Hour),
		WithFlushThreshold(1000),
	)
}

func (s *LoggerSuite) TearDownTest() {
	require.NoError(s.T(), s.logger.Close())
}

func TestLoggerSuite(t *testing.T) {
	suite.Run(t, new(LoggerSuite))
}

func (s *LoggerSuite) TestLogEvent_Defaults() {
	event := s.logger.LogEvent(Entry{Action: "something_happened"})

	assert.NotEmpty(s.T(), event.ID)
	assert.False(s.T(), event.Timestamp.IsZero())
	assert.Equal(s.T(), EventTypeSystem, event.Type)
	assert.Equal(s.T(), SeverityInfo, event.Severity)
}

func (s *LoggerSuite) TestGetAuditTrail_InsertionOrder() {
	for _, action := range []string{"first", "second", "third"} {
		s.logger.LogEvent(Entry{Action: action})
	}

	trail := s.logger.GetAuditTrail(Filter{})
	require.Len(s.T(), trail, 3)
	assert.Equal(s.T(), "first", trail[0].Action)
	assert.Equal(s.T(), "second", trail[1].Action)
	assert.Equal(s.T(), "third", trail[2].Action)
}

func (s *LoggerSuite) TestGetAuditTrail_Filters() {
	s.logger.LogEvent(Entry{Type: EventTypeAuthentication, ActorID: "alice", Severity: SeverityWarning, Action: "login_failed"})
	s.logger.LogEvent(Entry{Type: EventTypeSync, ActorID: "bob", Severity: SeverityInfo, Action: "sync_started"})
	s.logger.LogEvent(Entry{Type: EventTypeSecurity, ActorID: "alice", Severity: SeverityCritical, Action: "tamper_detected"})

	s.T().Run("by actor", func(t *testing.T) {
		got := s.logger.GetAuditTrail(Filter{ActorID: "alice"})
		require.Len(t, got, 2)
	})

	s.T().Run("by type", func(t *testing.T) {
		got := s.logger.GetAuditTrail(Filter{Type: EventTypeSync})
		require.Len(t, got, 1)
		assert.Equal(t, "sync_started", got[0].Action)
	})

	s.T().Run("severity is at-or-above", func(t *testing.T) {
		got := s.logger.GetAuditTrail(Filter{Severity: SeverityWarning})
		require.Len(t, got, 2)
		assert.Equal(t, "login_failed", got[0].Action)
		assert.Equal(t, "tamper_detected", got[1].Action)
	})
}

func (s *LoggerSuite) TestFlush_PersistsOneEncryptedBatch() {
	s.logger.LogEvent(Entry{Action: "a"})
	s.logger.LogEvent(Entry{Action: "b"})

	require.NoError(s.T(), s.logger.Flush(context.Background()))
	assert.Equal(s.T(), 1, s.store.Len())

	// Flushed events stay visible through the retained cache.
	assert.Len(s.T(), s.logger.GetAuditTrail(Filter{}), 2)

	// And through durable history, in order.
	events, err := s.logger.History(context.Background(), Filter{})
	require.NoError(s.T(), err)
	require.Len(s.T(), events, 2)
	assert.Equal(s.T(), "a", events[0].Action)
	assert.Equal(s.T(), "b", events[1].Action)
}

func (s *LoggerSuite) TestFlush_EmptyBufferIsNoop() {
	require.NoError(s.T(), s.logger.Flush(context.Background()))
	assert.Zero(s.T(), s.store.Len())
}

func (s *LoggerSuite) TestFlush_FailureRequeuesWithoutLoss() {
	store := &failingStore{InMemoryStore: NewInMemoryStore(), failures: 2}
	logger := NewLogger(s.enc, store, WithFlushInterval(time.Hour), WithFlushThreshold(1000))
	defer logger.Close()

	logger.LogEvent(Entry{Action: "a"})
	logger.LogEvent(Entry{Action: "b"})

	ctx := context.Background()
	require.Error(s.T(), logger.Flush(ctx))
	logger.LogEvent(Entry{Action: "c"})
	require.Error(s.T(), logger.Flush(ctx))
	require.NoError(s.T(), logger.Flush(ctx))

	events, err := logger.History(ctx, Filter{})
	require.NoError(s.T(), err)
	require.Len(s.T(), events, 3)
	assert.Equal(s.T(), "a", events[0].Action)
	assert.Equal(s.T(), "b", events[1].Action)
	assert.Equal(s.T(), "c", events[2].Action)
	assert.Equal(s.T(), 1, store.Len())
}

func (s *LoggerSuite) TestThresholdTriggersBackgroundFlush() {
	store := NewInMemoryStore()
	logger := NewLogger(s.enc, store, WithFlushInterval(time.Hour), WithFlushThreshold(3))
	defer logger.Close()

	for i := 0; i < 3; i++ {
		logger.LogEvent(Entry{Action: "bulk"})
	}

	require.Eventually(s.T(), func() bool {
		return store.Len() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func (s *LoggerSuite) TestClose_DrainsBuffer() {
	store := NewInMemoryStore()
	logger := NewLogger(s.enc, store, WithFlushInterval(time.Hour), WithFlushThreshold(1000))
	logger.LogEvent(Entry{Action: "last words"})

	require.NoError(s.T(), logger.Close())
	assert.Equal(s.T(), 1, store.Len())
}

func (s *LoggerSuite) TestHistory_DecryptsAcrossKeyRotation() {
	ctx := context.Background()
	s.logger.LogEvent(Entry{Action: "before rotation"})
	require.NoError(s.T(), s.logger.Flush(ctx))

	_, err := s.enc.RotateKey()
	require.NoError(s.T(), err)

	s.logger.LogEvent(Entry{Action: "after rotation"})
	require.NoError(s.T(), s.logger.Flush(ctx))

	events, err := s.logger.History(ctx, Filter{})
	require.NoError(s.T(), err)
	require.Len(s.T(), events, 2)
	assert.Equal(s.T(), "before rotation", events[0].Action)
	assert.Equal(s.T(), "after rotation", events[1].Action)
}

func (s *LoggerSuite) TestRecordKeyRotation_LandsInTrail() {
	s.enc.SetRecorder(s.logger)
	_, err := s.enc.RotateKey()
	require.NoError(s.T(), err)

	trail := s.logger.GetAuditTrail(Filter{Type: EventTypeSecurity})
	require.Len(s.T(), trail, 1)
	assert.Equal(s.T(), "key_rotated", trail[0].Action)
}

func (s *LoggerSuite) TestRetainedCacheIsBounded() {
	store := NewInMemoryStore()
	logger := NewLogger(s.enc, store, WithFlushInterval(time.Hour), WithFlushThreshold(1000), WithRetainedEvents(5))
	defer logger.Close()

	ctx := context.Background()
	for i := 0; i < 8; i++ {
		logger.LogEvent(Entry{Action: "filler"})
	}
	require.NoError(s.T(), logger.Flush(ctx))

	assert.Len(s.T(), logger.GetAuditTrail(Filter{}), 5)

	// Nothing is lost durably.
	events, err := logger.History(ctx, Filter{})
	require.NoError(s.T(), err)
	assert.Len(s.T(), events, 8)
}

func (s *LoggerSuite) TestClearAuditTrail() {
	ctx := context.Background()
	s.logger.LogEvent(Entry{Action: "old news"})
	s.logger.LogEvent(Entry{Action: "older news"})
	require.NoError(s.T(), s.logger.Flush(ctx))

	removed, err := s.logger.ClearAuditTrail(ctx, 0)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), 2, removed)

	events, err := s.logger.History(ctx, Filter{})
	require.NoError(s.T(), err)
	assert.Empty(s.T(), events)

	// The purge itself is on the record.
	trail := s.logger.GetAuditTrail(Filter{})
	require.Len(s.T(), trail, 1)
	assert.Equal(s.T(), "audit_trail_purged", trail[0].Action)
}

func (s *LoggerSuite) TestClearAuditTrail_KeepsRecentEvents() {
	ctx := context.Background()
	s.logger.LogEvent(Entry{Action: "yesterday"})
	require.NoError(s.T(), s.logger.Flush(ctx))

	removed, err := s.logger.ClearAuditTrail(ctx, 30)
	require.NoError(s.T(), err)
	assert.Zero(s.T(), removed)

	events, err := s.logger.History(ctx, Filter{})
	require.NoError(s.T(), err)
	require.Len(s.T(), events, 1)
	assert.Equal(s.T(), "yesterday", events[0].Action)
}

func (s *LoggerSuite) TestClearAuditTrail_FailedRewriteKeepsHistory() {
	store := &rewriteFailStore{InMemoryStore: NewInMemoryStore()}
	logger := NewLogger(s.enc, store, WithFlushInterval(time.Hour), WithFlushThreshold(1000))
	defer logger.Close()

	ctx := context.Background()
	logger.LogEvent(Entry{Action: "yesterday"})
	require.NoError(s.T(), logger.Flush(ctx))

	_, err := logger.ClearAuditTrail(ctx, 30)
	require.Error(s.T(), err)

	// The event inside the retention window is still on durable record.
	events, err := logger.History(ctx, Filter{})
	require.NoError(s.T(), err)
	require.Len(s.T(), events, 1)
	assert.Equal(s.T(), "yesterday", events[0].Action)
}

func (s *LoggerSuite) TestClearAuditTrail_ConcurrentFlushSurvives() {
	store := &gatedReadStore{
		InMemoryStore: NewInMemoryStore(),
		entered:       make(chan struct{}),
		release:       make(chan struct{}),
	}
	logger := NewLogger(s.enc, store, WithFlushInterval(time.Hour), WithFlushThreshold(1000))
	defer logger.Close()

	ctx := context.Background()
	logger.LogEvent(Entry{Action: "yesterday"})
	require.NoError(s.T(), logger.Flush(ctx))

	purgeDone := make(chan error, 1)
	go func() {
		_, err := logger.ClearAuditTrail(ctx, 30)
		purgeDone <- err
	}()
	<-store.entered

	// The purge is mid-scan; this flush must land after its rewrite.
	logger.LogEvent(Entry{Action: "meanwhile"})
	flushDone := make(chan error, 1)
	go func() { flushDone <- logger.Flush(ctx) }()

	close(store.release)
	require.NoError(s.T(), <-purgeDone)
	require.NoError(s.T(), <-flushDone)

	events, err := logger.History(ctx, Filter{})
	require.NoError(s.T(), err)
	var actions []string
	for _, e := range events {
		actions = append(actions, e.Action)
	}
	assert.Contains(s.T(), actions, "yesterday")
	assert.Contains(s.T(), actions, "meanwhile")
}

func (s *LoggerSuite) TestClearAuditTrail_RejectsNegativeWindow() {
	_, err := s.logger.ClearAuditTrail(context.Background(), -1)
	require.Error(s.T(), err)
	assert.True(s.T(), dErrors.HasCode(err, dErrors.CodeInvalidInput))
}
