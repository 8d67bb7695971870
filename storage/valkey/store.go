// Package valkey provides a Valkey-backed implementation of the attempt
// store for multi-instance deployments. Attempts are stored as JSON under a
// configurable key prefix with a TTL derived from their expiry, so the
// server never needs a cleanup pass of its own.
package valkey

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	valkeygo "github.com/valkey-io/valkey-go"

	"github.com/oauthkit/authcode/security"
	"github.com/oauthkit/authcode/storage"
)

const (
	// DefaultKeyPrefix is the default prefix for all Valkey keys.
	DefaultKeyPrefix = "authcode:"

	// DefaultTerminalRetention keeps terminal attempts readable this long
	// past their expiry so replayed callbacks get their recorded outcome.
	DefaultTerminalRetention = 30 * time.Minute

	// connectionVerifyTimeout bounds the initial PING.
	connectionVerifyTimeout = 5 * time.Second

	// maxAttemptDataSize caps the serialized attempt size (64KB).
	maxAttemptDataSize = 64 * 1024
)

// Config holds configuration for the Valkey storage backend.
type Config struct {
	// Address is the Valkey server address (required), e.g. "localhost:6379".
	Address string

	// Password is the optional password for Valkey authentication.
	Password string

	// DB is the optional database number (default 0).
	DB int

	// KeyPrefix is the prefix for all keys (default "authcode:").
	KeyPrefix string

	// TLS is the optional TLS configuration for encrypted connections.
	TLS *tls.Config

	// TerminalRetention overrides how long terminal attempts stay readable
	// past expiry (default 30 minutes).
	TerminalRetention time.Duration

	// Logger is the optional structured logger (default slog.Default()).
	Logger *slog.Logger
}

// Store is a Valkey-backed attempt store.
type Store struct {
	client            valkeygo.Client
	prefix            string
	terminalRetention time.Duration
	logger            *slog.Logger

	// encryptor provides optional state-token encryption at rest.
	// Access is synchronized via encryptorMu.
	encryptor   *security.Encryptor
	encryptorMu sync.RWMutex
}

var _ storage.AttemptStore = (*Store)(nil)

// New creates a Valkey-backed store and verifies the connection.
func New(cfg Config) (*Store, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("valkey address is required")
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	retention := cfg.TerminalRetention
	if retention <= 0 {
		retention = DefaultTerminalRetention
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	opts := valkeygo.ClientOption{
		InitAddress: []string{cfg.Address},
		SelectDB:    cfg.DB,
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.TLS != nil {
		opts.TLSConfig = cfg.TLS
	}

	client, err := valkeygo.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectionVerifyTimeout)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to valkey: %w", err)
	}

	logger.Info("Connected to Valkey storage",
		"address", cfg.Address,
		"db", cfg.DB,
		"prefix", prefix)

	return &Store{
		client:            client,
		prefix:            prefix,
		terminalRetention: retention,
		logger:            logger,
	}, nil
}

// Close closes the Valkey client connection.
func (s *Store) Close() {
	s.client.Close()
	s.logger.Info("Valkey storage connection closed")
}

// SetLogger sets a custom logger for the store.
func (s *Store) SetLogger(logger *slog.Logger) {
	s.logger = logger
}

// SetEncryptor enables encryption at rest for state tokens.
func (s *Store) SetEncryptor(enc *security.Encryptor) {
	s.encryptorMu.Lock()
	defer s.encryptorMu.Unlock()
	s.encryptor = enc
	if enc.IsEnabled() {
		s.logger.Info("State token encryption at rest enabled for Valkey storage")
	}
}

func (s *Store) getEncryptor() *security.Encryptor {
	s.encryptorMu.RLock()
	defer s.encryptorMu.RUnlock()
	return s.encryptor
}

// attemptJSON is the wire form of a login attempt in Valkey.
type attemptJSON struct {
	ID            string    `json:"id"`
	SessionID     string    `json:"session_id"`
	StateToken    string    `json:"state_token"`
	Status        string    `json:"status"`
	FailureReason string    `json:"failure_reason,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// SaveAttempt stores the attempt for the session, replacing any previous
// attempt. The key expires terminalRetention after the attempt does, so
// stale attempts vanish on their own.
func (s *Store) SaveAttempt(ctx context.Context, sessionID string, attempt *storage.LoginAttempt) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}
	if attempt == nil {
		return fmt.Errorf("attempt is required")
	}

	stateToken := attempt.StateToken
	if enc := s.getEncryptor(); enc.IsEnabled() {
		encrypted, err := enc.Encrypt(stateToken)
		if err != nil {
			return fmt.Errorf("failed to encrypt state token: %w", err)
		}
		stateToken = encrypted
	}

	data, err := json.Marshal(attemptJSON{
		ID:            attempt.ID,
		SessionID:     attempt.SessionID,
		StateToken:    stateToken,
		Status:        string(attempt.Status),
		FailureReason: attempt.FailureReason,
		CreatedAt:     attempt.CreatedAt,
		ExpiresAt:     attempt.ExpiresAt,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal login attempt: %w", err)
	}
	if len(data) > maxAttemptDataSize {
		return fmt.Errorf("login attempt exceeds maximum allowed size")
	}

	ttl := time.Until(attempt.ExpiresAt) + s.terminalRetention
	if ttl <= 0 {
		// Past retention already; nothing worth keeping.
		return s.DeleteAttempt(ctx, sessionID)
	}

	key := s.attemptKey(sessionID)
	if err := s.client.Do(ctx,
		s.client.B().Set().Key(key).Value(string(data)).Ex(ttl).Build(),
	).Error(); err != nil {
		return fmt.Errorf("failed to save login attempt: %w", err)
	}

	s.logger.Debug("Saved login attempt",
		"attempt_id", attempt.ID,
		"status", string(attempt.Status))
	return nil
}

// GetAttempt returns the attempt for the session, or
// storage.ErrAttemptNotFound when the key is absent or already reaped.
func (s *Store) GetAttempt(ctx context.Context, sessionID string) (*storage.LoginAttempt, error) {
	key := s.attemptKey(sessionID)

	data, err := s.client.Do(ctx, s.client.B().Get().Key(key).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, storage.ErrAttemptNotFound
		}
		return nil, fmt.Errorf("failed to get login attempt: %w", err)
	}

	var j attemptJSON
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal login attempt: %w", err)
	}

	stateToken := j.StateToken
	if enc := s.getEncryptor(); enc.IsEnabled() {
		plaintext, decErr := enc.Decrypt(stateToken)
		if decErr != nil {
			return nil, fmt.Errorf("failed to decrypt state token: %w", decErr)
		}
		stateToken = plaintext
	}

	return &storage.LoginAttempt{
		ID:            j.ID,
		SessionID:     j.SessionID,
		StateToken:    stateToken,
		Status:        storage.Status(j.Status),
		FailureReason: j.FailureReason,
		CreatedAt:     j.CreatedAt,
		ExpiresAt:     j.ExpiresAt,
	}, nil
}

// DeleteAttempt removes the attempt for the session. Deleting a session
// without an attempt is not an error.
func (s *Store) DeleteAttempt(ctx context.Context, sessionID string) error {
	key := s.attemptKey(sessionID)

	if err := s.client.Do(ctx, s.client.B().Del().Key(key).Build()).Error(); err != nil {
		return fmt.Errorf("failed to delete login attempt: %w", err)
	}
	return nil
}

// attemptKey returns the key for a session's attempt: {prefix}attempt:{sessionID}
func (s *Store) attemptKey(sessionID string) string {
	return fmt.Sprintf("%sattempt:%s", s.prefix, sessionID)
}

func isNilError(err error) bool {
	return valkeygo.IsValkeyNil(err)
}
