package events

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/bostarter/backend/internal/metrics"
)

// Logger errors
var (
	ErrInvalidEvent   = errors.New("event category, type and payload must be non-empty")
	ErrVolumeExceeded = errors.New("event volume cap exceeded")
)

// Config tunes the logger's retry, cache, de-dup and volume behavior.
type Config struct {
	// MaxRetries is the number of write retries after the first attempt.
	MaxRetries int
	// RetryBaseWait is the initial backoff delay, doubled per attempt.
	RetryBaseWait time.Duration
	// RetryDeadline bounds the wall-clock time of the whole retry sequence.
	RetryDeadline time.Duration
	// CacheTTL and CacheSize bound the read-side query cache.
	CacheTTL  time.Duration
	CacheSize int
	// DedupWindow suppresses identical events arriving close together.
	DedupWindow time.Duration
	// VolumeCap limits writes per VolumeWindow per process.
	VolumeCap    int
	VolumeWindow time.Duration
}

// DefaultConfig returns sensible production defaults.
func DefaultConfig() Config {
	return Config{
		MaxRetries:    3,
		RetryBaseWait: 100 * time.Millisecond,
		RetryDeadline: 5 * time.Second,
		CacheTTL:      30 * time.Second,
		CacheSize:     128,
		DedupWindow:   2 * time.Second,
		VolumeCap:     10000,
		VolumeWindow:  time.Hour,
	}
}

// Logger appends structured events to the store with retry and backoff.
// Write failures are swallowed for non-critical categories so observability
// never breaks the calling flow; security events are critical and their
// persistence failure is surfaced to the caller.
type Logger struct {
	store Store
	cache *queryCache
	log   *slog.Logger
	cfg   Config

	critical map[Category]bool

	mu          sync.Mutex
	recent      map[string]time.Time
	volumeStart time.Time
	volumeCount int

	now func() time.Time
}

// NewLogger creates an event logger over the given store.
func NewLogger(store Store, log *slog.Logger, cfg Config) *Logger {
	if log == nil {
		log = slog.Default()
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBaseWait <= 0 {
		cfg.RetryBaseWait = 100 * time.Millisecond
	}
	if cfg.RetryDeadline <= 0 {
		cfg.RetryDeadline = 5 * time.Second
	}
	if cfg.VolumeWindow <= 0 {
		cfg.VolumeWindow = time.Hour
	}
	return &Logger{
		store: store,
		cache: newQueryCache(cfg.CacheSize, cfg.CacheTTL),
		log:   log,
		cfg:   cfg,
		critical: map[Category]bool{
			CategorySecurity: true,
		},
		recent: make(map[string]time.Time),
		now:    time.Now,
	}
}

// Log validates, stamps, masks and persists one event built from a typed
// payload. The event's user reference is optional.
func (l *Logger) Log(ctx context.Context, eventType string, level Level, userID string, payload Payload) error {
	if payload == nil {
		return ErrInvalidEvent
	}
	return l.LogEvent(ctx, Event{
		Category: payload.Category(),
		Type:     eventType,
		Level:    level,
		UserID:   userID,
		Data:     payload.Fields(),
	})
}

// LogEvent is the low-level append. The timestamp is always stamped server
// side, never taken from the caller.
func (l *Logger) LogEvent(ctx context.Context, event Event) error {
	if event.Category == "" || event.Type == "" || len(event.Data) == 0 {
		return ErrInvalidEvent
	}

	event.ID = uuid.New().String()
	event.Timestamp = l.now().UTC()
	if event.Level == "" {
		event.Level = LevelInfo
	}
	event.Data = maskSensitive(event.Data)

	fingerprint := l.fingerprint(event)

	l.mu.Lock()
	if last, seen := l.recent[fingerprint]; seen && l.now().Sub(last) < l.cfg.DedupWindow {
		l.mu.Unlock()
		metrics.EventsDeduplicated.Inc()
		return nil
	}

	if err := l.checkVolumeLocked(); err != nil {
		l.mu.Unlock()
		metrics.EventsDropped.WithLabelValues("volume_cap").Inc()
		return err
	}
	l.mu.Unlock()

	if err := l.writeWithRetry(ctx, event); err != nil {
		metrics.EventsDropped.WithLabelValues("store_failure").Inc()
		l.log.Error("event write failed after retries",
			"category", event.Category,
			"type", event.Type,
			"error", err,
		)
		if l.critical[event.Category] {
			return fmt.Errorf("critical event not persisted: %w", err)
		}
		return nil
	}

	// Only a persisted event suppresses later duplicates. A write that
	// failed or was capped must not mask the retry that follows it.
	l.mu.Lock()
	l.recent[fingerprint] = l.now()
	l.pruneRecentLocked()
	l.mu.Unlock()

	metrics.EventsWritten.WithLabelValues(string(event.Category)).Inc()
	l.cache.invalidate()
	return nil
}

// Query returns events matching the filter. Results are cached per filter;
// on store failure an empty list is returned rather than an error, because
// a broken audit read must never break the calling flow.
func (l *Logger) Query(ctx context.Context, filter Filter) []Event {
	key := filter.CacheKey()
	if cached, ok := l.cache.get(key); ok {
		metrics.EventCacheHits.Inc()
		return cached
	}
	metrics.EventCacheMisses.Inc()

	results, err := l.store.Query(ctx, filter)
	if err != nil {
		l.log.Error("event query failed", "error", err)
		return []Event{}
	}
	if results == nil {
		results = []Event{}
	}

	l.cache.put(key, results)
	return results
}

// writeWithRetry persists the event, retrying transient failures with
// exponential backoff under both an attempt cap and a wall-clock deadline.
func (l *Logger) writeWithRetry(ctx context.Context, event Event) error {
	ctx, cancel := context.WithTimeout(ctx, l.cfg.RetryDeadline)
	defer cancel()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = l.cfg.RetryBaseWait
	policy.Multiplier = 2
	policy.RandomizationFactor = 0

	retries := 0
	operation := func() error {
		return l.store.Insert(ctx, event)
	}
	notify := func(err error, next time.Duration) {
		retries++
		metrics.EventWriteRetries.Inc()
		l.log.Warn("event write retry",
			"attempt", retries,
			"next_wait", next,
			"error", err,
		)
	}

	wrapped := backoff.WithContext(
		backoff.WithMaxRetries(policy, uint64(l.cfg.MaxRetries)), ctx)
	return backoff.RetryNotify(operation, wrapped, notify)
}

// fingerprint derives a stable digest of category, type and payload for the
// de-dup window.
func (l *Logger) fingerprint(event Event) string {
	keys := make([]string, 0, len(event.Data))
	for k := range event.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(string(event.Category))
	b.WriteByte('|')
	b.WriteString(event.Type)
	for _, k := range keys {
		fmt.Fprintf(&b, "|%s=%v", k, event.Data[k])
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// pruneRecentLocked drops de-dup fingerprints older than the window.
func (l *Logger) pruneRecentLocked() {
	cutoff := l.now().Add(-l.cfg.DedupWindow)
	for fp, seen := range l.recent {
		if seen.Before(cutoff) {
			delete(l.recent, fp)
		}
	}
}

// checkVolumeLocked enforces the per-process write cap for the current
// volume window.
func (l *Logger) checkVolumeLocked() error {
	if l.cfg.VolumeCap <= 0 {
		return nil
	}

	now := l.now()
	if l.volumeStart.IsZero() || now.Sub(l.volumeStart) >= l.cfg.VolumeWindow {
		l.volumeStart = now
		l.volumeCount = 0
	}

	if l.volumeCount >= l.cfg.VolumeCap {
		return ErrVolumeExceeded
	}
	l.volumeCount++
	return nil
}

// sensitiveFieldKeys are payload keys whose values are masked before an
// event is persisted.
var sensitiveFieldKeys = []string{
	"password", "token", "secret", "authorization",
	"credential", "security_code", "api_key",
}

// maskSensitive returns a copy of data with values under secret-looking
// keys replaced. Nested maps are masked recursively.
func maskSensitive(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for key, value := range data {
		if nested, ok := value.(map[string]any); ok {
			out[key] = maskSensitive(nested)
			continue
		}
		if isSensitiveKey(key) {
			out[key] = "[REDACTED]"
			continue
		}
		out[key] = value
	}
	return out
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, s := range sensitiveFieldKeys {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}
