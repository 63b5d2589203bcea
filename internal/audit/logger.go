// Package audit provides the append-only, encrypted, buffered event trail.
//
// Events are buffered in memory and flushed as encrypted batches to a
// Store, either when the buffer reaches a size threshold or on a fixed
// interval. A failed flush re-queues its batch at the buffer head, so no
// event is lost while the backing store is unavailable (at-least-once
// durability). The in-memory trail is a bounded recent-events cache;
// History reconstructs older events by streaming re-decryption of the
// persisted batches.
package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"custodia/internal/audit/metrics"
	"custodia/internal/encryption"
	"custodia/internal/platform/redact"
	dErrors "custodia/pkg/domain-errors"
)

const (
	defaultFlushThreshold = 50
	defaultFlushInterval  = 30 * time.Second
	defaultMaxRetained    = 1000

	drainTimeout = 5 * time.Second
)

// Logger is the audit trail entry point. LogEvent never blocks on I/O;
// durable persistence happens on a dedicated background goroutine.
type Logger struct {
	enc     *encryption.Service
	store   Store
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer

	flushThreshold int
	flushInterval  time.Duration
	maxRetained    int

	// mu guards buffer, retained and seq. Nothing else shares it.
	mu       sync.Mutex
	buffer   []Event
	retained []Event
	seq      uint64

	// storeMu orders writes to the durable store: a retention rewrite
	// holds it from its history scan through the swap, so a flush cannot
	// slip a batch in between and have it wiped.
	storeMu sync.Mutex

	flushCh chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option configures the Logger.
type Option func(*Logger)

// WithLogger sets the structured operational sink mirrored by every event.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Logger) {
		l.logger = logger
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Logger) {
		l.metrics = m
	}
}

// WithFlushThreshold sets the buffer size that triggers an early flush.
func WithFlushThreshold(n int) Option {
	return func(l *Logger) {
		if n > 0 {
			l.flushThreshold = n
		}
	}
}

// WithFlushInterval sets the periodic flush interval.
func WithFlushInterval(d time.Duration) Option {
	return func(l *Logger) {
		if d > 0 {
			l.flushInterval = d
		}
	}
}

// WithRetainedEvents bounds the cache of already-flushed events served by
// GetAuditTrail.
func WithRetainedEvents(n int) Option {
	return func(l *Logger) {
		if n > 0 {
			l.maxRetained = n
		}
	}
}

// NewLogger constructs a Logger and starts its flush worker.
func NewLogger(enc *encryption.Service, store Store, opts ...Option) *Logger {
	l := &Logger{
		enc:            enc,
		store:          store,
		tracer:         otel.Tracer("custodia/audit"),
		flushThreshold: defaultFlushThreshold,
		flushInterval:  defaultFlushInterval,
		maxRetained:    defaultMaxRetained,
		flushCh:        make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.ctx, l.cancel = context.WithCancel(context.Background())
	l.wg.Add(1)
	go l.run()
	return l
}

// LogEvent appends an event to the trail and mirrors it to the structured
// log sink. It returns the created immutable record and never blocks on
// storage.
func (l *Logger) LogEvent(entry Entry) Event {
	if entry.Severity == "" {
		entry.Severity = SeverityInfo
	}
	if entry.Type == "" {
		entry.Type = EventTypeSystem
	}
	event := Event{
		ID:           uuid.NewString(),
		Timestamp:    time.Now(),
		Type:         entry.Type,
		Severity:     entry.Severity,
		ActorID:      entry.ActorID,
		ResourceID:   entry.ResourceID,
		ResourceType: entry.ResourceType,
		Action:       entry.Action,
		Details:      entry.Details,
		Success:      entry.Success,
		ErrorMessage: entry.ErrorMessage,
	}

	l.mu.Lock()
	l.buffer = append(l.buffer, event)
	depth := len(l.buffer)
	l.mu.Unlock()

	l.mirror(event)
	if l.metrics != nil {
		l.metrics.IncEventLogged(string(event.Severity))
		l.metrics.SetBufferDepth(depth)
	}
	if depth >= l.flushThreshold {
		select {
		case l.flushCh <- struct{}{}:
		default:
		}
	}
	return event
}

// RecordKeyRotation implements encryption.Recorder: key rotation is a
// security-relevant action and lands in the trail like any other event.
func (l *Logger) RecordKeyRotation(oldKeyID, newKeyID string) {
	l.LogEvent(Entry{
		Type:     EventTypeSecurity,
		Severity: SeverityInfo,
		Action:   "key_rotated",
		Details: []Detail{
			{Key: "old_key_id", Value: oldKeyID},
			{Key: "new_key_id", Value: newKeyID},
		},
		Success: true,
	})
}

// mirror emits the one-line operational view with severity mapped 1:1.
func (l *Logger) mirror(event Event) {
	if l.logger == nil {
		return
	}
	attrs := []any{
		"log_type", "audit",
		"event_id", event.ID,
		"event_type", string(event.Type),
		"severity", string(event.Severity),
		"success", event.Success,
	}
	if event.ActorID != "" {
		// The mirror is plaintext; identifiers stay in the encrypted trail.
		attrs = append(attrs, "actor_id", redact.Pseudonym(event.ActorID))
	}
	if event.ResourceID != "" {
		attrs = append(attrs, "resource_id", event.ResourceID)
	}
	if event.ErrorMessage != "" {
		attrs = append(attrs, "error", event.ErrorMessage)
	}
	l.logger.Log(context.Background(), event.Severity.Level(), event.Action, attrs...)
}

// Flush serializes the buffered batch, encrypts it and appends it to the
// durable store. On failure the batch is re-queued at the buffer head so
// ordering and at-least-once delivery are preserved.
func (l *Logger) Flush(ctx context.Context) error {
	ctx, span := l.tracer.Start(ctx, "audit.flush")
	defer span.End()

	l.mu.Lock()
	if len(l.buffer) == 0 {
		l.mu.Unlock()
		return nil
	}
	events := l.buffer
	l.buffer = nil
	l.seq++
	seq := l.seq
	l.mu.Unlock()

	err := l.persist(ctx, batchEnvelope{Seq: seq, CreatedAt: time.Now(), Events: events})
	if err != nil {
		l.mu.Lock()
		l.buffer = append(events, l.buffer...)
		depth := len(l.buffer)
		l.mu.Unlock()

		span.RecordError(err)
		if l.metrics != nil {
			l.metrics.IncFlushFailure()
			l.metrics.SetBufferDepth(depth)
		}
		if l.logger != nil {
			// A broken encryption service is a security event in its own
			// right, not an ordinary storage hiccup.
			if dErrors.HasCode(err, dErrors.CodeKeyNotFound) || dErrors.HasCode(err, dErrors.CodeAuthenticationFailed) {
				l.logger.Error("audit flush failed: encryption unavailable", "error", err, "batch_size", len(events))
			} else {
				l.logger.Warn("audit flush failed, batch re-queued", "error", err, "batch_size", len(events))
			}
		}
		return err
	}

	l.mu.Lock()
	l.retained = append(l.retained, events...)
	if overflow := len(l.retained) - l.maxRetained; overflow > 0 {
		l.retained = append([]Event(nil), l.retained[overflow:]...)
	}
	depth := len(l.buffer)
	l.mu.Unlock()

	if l.metrics != nil {
		l.metrics.IncFlushedBatch()
		l.metrics.SetBufferDepth(depth)
	}
	return nil
}

func (l *Logger) persist(ctx context.Context, env batchEnvelope) error {
	blob, err := l.encryptBatch(env)
	if err != nil {
		return err
	}
	l.storeMu.Lock()
	defer l.storeMu.Unlock()
	return l.store.Append(ctx, blob)
}

func (l *Logger) encryptBatch(env batchEnvelope) (*encryption.Blob, error) {
	payload, err := json.Marshal(env)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "could not serialize audit batch")
	}
	return l.enc.Encrypt(payload)
}

func (l *Logger) run() {
	defer l.wg.Done()
	ticker := time.NewTicker(l.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-l.ctx.Done():
			ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
			_ = l.Flush(ctx) //nolint:errcheck // final drain; errors logged internally
			cancel()
			return
		case <-ticker.C:
			_ = l.Flush(l.ctx) //nolint:errcheck // periodic flush; errors logged internally
		case <-l.flushCh:
			_ = l.Flush(l.ctx) //nolint:errcheck // size-triggered flush; errors logged internally
		}
	}
}

// Close stops the flush worker after a final drain attempt. The store is
// owned by the host and is not closed here.
func (l *Logger) Close() error {
	l.cancel()
	l.wg.Wait()
	return nil
}

// GetAuditTrail returns matching events from the live buffer and the
// bounded cache of recently flushed events, in insertion order. Older
// events live only in the durable store; use History for those.
func (l *Logger) GetAuditTrail(filter Filter) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Event
	for _, e := range l.retained {
		if filter.Matches(e) {
			out = append(out, e)
		}
	}
	for _, e := range l.buffer {
		if filter.Matches(e) {
			out = append(out, e)
		}
	}
	return out
}

// History decrypts and scans the persisted batches for matching events, in
// append order. It does not include events still waiting in the buffer.
func (l *Logger) History(ctx context.Context, filter Filter) ([]Event, error) {
	var out []Event
	err := l.store.ReadBatches(ctx, func(blob *encryption.Blob) error {
		payload, err := l.enc.Decrypt(blob)
		if err != nil {
			return err
		}
		var env batchEnvelope
		if err := json.Unmarshal(payload, &env); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInvalidState, "persisted audit batch is corrupted")
		}
		for _, e := range env.Events {
			if filter.Matches(e) {
				out = append(out, e)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CollectEvents merges durable history with the live buffer and the
// retained cache, deduplicated by event ID since recently flushed events
// appear in both. Unlike History it misses nothing still waiting to be
// flushed.
func (l *Logger) CollectEvents(ctx context.Context, filter Filter) ([]Event, error) {
	events, err := l.History(ctx, filter)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(events))
	for _, e := range events {
		seen[e.ID] = struct{}{}
	}
	for _, e := range l.GetAuditTrail(filter) {
		if _, ok := seen[e.ID]; ok {
			continue
		}
		events = append(events, e)
	}
	return events, nil
}

// ClearAuditTrail purges events strictly older than the cutoff from the
// buffer, the retained cache and the durable store. The purge itself is
// logged. Returns the number of events removed.
func (l *Logger) ClearAuditTrail(ctx context.Context, olderThanDays int) (int, error) {
	if olderThanDays < 0 {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "retention window must not be negative")
	}
	cutoff := time.Now().AddDate(0, 0, -olderThanDays)

	removed, err := l.rewriteHistory(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	l.mu.Lock()
	// Retained events were flushed, so history already counted them.
	purgeBefore(&l.retained, cutoff)
	removed += purgeBefore(&l.buffer, cutoff)
	l.mu.Unlock()

	if l.metrics != nil {
		l.metrics.AddPurgedEvents(removed)
	}
	l.LogEvent(Entry{
		Type:     EventTypeSystem,
		Severity: SeverityWarning,
		Action:   "audit_trail_purged",
		Details: []Detail{
			{Key: "older_than_days", Value: strconv.Itoa(olderThanDays)},
			{Key: "removed", Value: strconv.Itoa(removed)},
		},
		Success: true,
	})
	return removed, nil
}

// rewriteHistory replaces the durable store contents with the events at or
// after the cutoff. The kept batch is written before anything is
// discarded; a failed rewrite leaves the old contents intact.
func (l *Logger) rewriteHistory(ctx context.Context, cutoff time.Time) (int, error) {
	l.storeMu.Lock()
	defer l.storeMu.Unlock()

	history, err := l.History(ctx, Filter{})
	if err != nil {
		return 0, err
	}
	var kept []Event
	removed := 0
	for _, e := range history {
		if e.Timestamp.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, e)
	}

	var blobs []*encryption.Blob
	if len(kept) > 0 {
		l.mu.Lock()
		l.seq++
		seq := l.seq
		l.mu.Unlock()
		blob, err := l.encryptBatch(batchEnvelope{Seq: seq, CreatedAt: time.Now(), Events: kept})
		if err != nil {
			return 0, err
		}
		blobs = append(blobs, blob)
	}
	if err := l.store.Replace(ctx, blobs); err != nil {
		return 0, err
	}
	return removed, nil
}

func purgeBefore(events *[]Event, cutoff time.Time) int {
	kept := (*events)[:0]
	removed := 0
	for _, e := range *events {
		if e.Timestamp.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	*events = kept
	return removed
}
