// Package memory provides an in-memory implementation of the attempt store.
// It is suitable for development, testing, and single-instance deployments.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/oauthkit/authcode/instrumentation"
	"github.com/oauthkit/authcode/security"
	"github.com/oauthkit/authcode/storage"
)

// defaultTerminalRetention is how long a terminal (completed, failed or
// expired) attempt remains readable after its expiry. Within this window a
// replayed callback is still answered with its recorded outcome instead of
// a generic not-found.
const defaultTerminalRetention = 30 * time.Minute

// Store is an in-memory attempt store. Attempts are keyed by session ID;
// a background goroutine marks overdue pending attempts expired and evicts
// terminal attempts past their retention window.
type Store struct {
	mu       sync.RWMutex
	attempts map[string]*storage.LoginAttempt

	// State tokens are encrypted at rest when an encryptor is set.
	encryptor *security.Encryptor

	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer

	attemptsCountAtomic atomic.Int64

	cleanupInterval   time.Duration
	terminalRetention time.Duration
	stopCleanup       chan struct{}
	stopOnce          sync.Once
	logger            *slog.Logger

	// now is replaceable in tests
	now func() time.Time
}

var _ storage.AttemptStore = (*Store)(nil)

// New creates an in-memory store with the default cleanup interval (1 minute).
func New() *Store {
	return NewWithInterval(time.Minute)
}

// NewWithInterval creates an in-memory store with a custom cleanup interval.
// If cleanupInterval is 0 or negative, the default of 1 minute is used.
func NewWithInterval(cleanupInterval time.Duration) *Store {
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}

	s := &Store{
		attempts:          make(map[string]*storage.LoginAttempt),
		cleanupInterval:   cleanupInterval,
		terminalRetention: defaultTerminalRetention,
		stopCleanup:       make(chan struct{}),
		logger:            slog.Default(),
		now:               time.Now,
	}

	go s.cleanupLoop()

	return s
}

// SetLogger sets a custom logger.
func (s *Store) SetLogger(logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

// SetEncryptor enables encryption at rest for state tokens.
func (s *Store) SetEncryptor(enc *security.Encryptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.encryptor = enc
	if enc.IsEnabled() {
		s.logger.Info("State token encryption at rest enabled for storage")
	}
}

// SetTerminalRetention sets how long terminal attempts stay readable after
// expiry. Zero or negative keeps the default.
func (s *Store) SetTerminalRetention(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d > 0 {
		s.terminalRetention = d
	}
}

// SetInstrumentation sets OpenTelemetry instrumentation for the store.
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.mu.Lock()
	s.instrumentation = inst
	if inst != nil {
		s.tracer = inst.Tracer("storage")
	}
	s.attemptsCountAtomic.Store(int64(len(s.attempts)))
	s.mu.Unlock()

	if inst != nil {
		// The gauge reads the atomic counter so metric collection never
		// touches the mutex.
		if err := inst.RegisterAttemptCountCallback(func() int64 {
			return s.attemptsCountAtomic.Load()
		}); err != nil {
			s.logger.Warn("Failed to register attempt count callback", "error", err)
		}
	}
}

// Stop gracefully stops the cleanup goroutine. Safe to call more than once.
func (s *Store) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCleanup)
	})
}

// SaveAttempt stores the attempt for the session, replacing any previous
// attempt for the same session. The caller's struct is copied; later
// mutations by the caller do not leak into the store.
func (s *Store) SaveAttempt(ctx context.Context, sessionID string, attempt *storage.LoginAttempt) error {
	ctx, span := s.startStorageSpan(ctx, "save_attempt")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "save_attempt", err, startTime)
	}()

	if sessionID == "" {
		err = fmt.Errorf("session ID is required")
		return err
	}
	if attempt == nil {
		err = fmt.Errorf("attempt is required")
		return err
	}

	stored := *attempt

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.encryptor.IsEnabled() {
		encrypted, encErr := s.encryptor.Encrypt(stored.StateToken)
		if encErr != nil {
			err = fmt.Errorf("failed to encrypt state token: %w", encErr)
			return err
		}
		stored.StateToken = encrypted
	}

	s.attempts[sessionID] = &stored
	s.attemptsCountAtomic.Store(int64(len(s.attempts)))

	return nil
}

// GetAttempt returns the attempt for the session, or
// storage.ErrAttemptNotFound when the session has none.
func (s *Store) GetAttempt(ctx context.Context, sessionID string) (*storage.LoginAttempt, error) {
	ctx, span := s.startStorageSpan(ctx, "get_attempt")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "get_attempt", err, startTime)
	}()

	// Copy while holding the lock: cleanup mutates stored attempts in
	// place when it marks them expired.
	s.mu.RLock()
	stored, ok := s.attempts[sessionID]
	var attempt storage.LoginAttempt
	if ok {
		attempt = *stored
	}
	encryptor := s.encryptor
	s.mu.RUnlock()

	if !ok {
		err = storage.ErrAttemptNotFound
		return nil, err
	}

	if encryptor.IsEnabled() {
		plaintext, decErr := encryptor.Decrypt(attempt.StateToken)
		if decErr != nil {
			err = fmt.Errorf("failed to decrypt state token: %w", decErr)
			return nil, err
		}
		attempt.StateToken = plaintext
	}

	return &attempt, nil
}

// DeleteAttempt removes the attempt for the session. Deleting a session
// without an attempt is not an error.
func (s *Store) DeleteAttempt(ctx context.Context, sessionID string) error {
	ctx, span := s.startStorageSpan(ctx, "delete_attempt")
	defer span.End()

	startTime := time.Now()
	defer func() {
		s.recordStorageOperation(ctx, span, "delete_attempt", nil, startTime)
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.attempts, sessionID)
	s.attemptsCountAtomic.Store(int64(len(s.attempts)))

	return nil
}

// Len reports the number of stored attempts.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.attempts)
}

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

// cleanup marks overdue pending attempts expired and evicts terminal
// attempts whose retention window has passed. Expired-but-retained attempts
// stay readable so a late callback gets the right answer.
func (s *Store) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	marked := 0
	evicted := 0

	for sessionID, attempt := range s.attempts {
		if attempt.Status == storage.StatusPending && attempt.Expired(now) {
			attempt.Status = storage.StatusExpired
			marked++
			continue
		}
		if attempt.Status.Terminal() && now.After(attempt.ExpiresAt.Add(s.terminalRetention)) {
			delete(s.attempts, sessionID)
			evicted++
		}
	}

	s.attemptsCountAtomic.Store(int64(len(s.attempts)))

	if marked > 0 || evicted > 0 {
		s.logger.Debug("Cleaned up login attempts",
			"marked_expired", marked,
			"evicted", evicted,
			"remaining", len(s.attempts))
	}
}

// startStorageSpan starts a span for a storage operation if tracing is enabled.
func (s *Store) startStorageSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}

	ctx, span := s.tracer.Start(ctx, fmt.Sprintf("storage.%s", operation))
	instrumentation.AddStorageAttributes(span, operation, "memory")
	return ctx, span
}

// recordStorageOperation records metrics for a storage operation and sets
// the span status.
func (s *Store) recordStorageOperation(ctx context.Context, span trace.Span, operation string, err error, startTime time.Time) {
	if s.instrumentation == nil {
		return
	}

	durationMs := float64(time.Since(startTime)) / float64(time.Millisecond)
	result := "success"
	if err != nil {
		result = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	s.instrumentation.Metrics().RecordStorageOperation(ctx, operation, result, durationMs)
}
