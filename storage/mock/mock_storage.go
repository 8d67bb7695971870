// Package mock provides a mock attempt store for testing.
package mock

import (
	"context"
	"sync"

	"github.com/oauthkit/authcode/storage"
)

// AttemptStore is a mock implementation of storage.AttemptStore. The
// default behavior is a plain in-memory map; individual operations can be
// overridden through the Func fields to inject failures. CallCounts tracks
// how often each operation ran.
type AttemptStore struct {
	mu       sync.RWMutex
	attempts map[string]*storage.LoginAttempt

	SaveAttemptFunc   func(ctx context.Context, sessionID string, attempt *storage.LoginAttempt) error
	GetAttemptFunc    func(ctx context.Context, sessionID string) (*storage.LoginAttempt, error)
	DeleteAttemptFunc func(ctx context.Context, sessionID string) error

	CallCounts map[string]int
}

var _ storage.AttemptStore = (*AttemptStore)(nil)

// NewAttemptStore creates a mock store with map-backed defaults.
func NewAttemptStore() *AttemptStore {
	return &AttemptStore{
		attempts:   make(map[string]*storage.LoginAttempt),
		CallCounts: make(map[string]int),
	}
}

func (m *AttemptStore) SaveAttempt(ctx context.Context, sessionID string, attempt *storage.LoginAttempt) error {
	m.count("SaveAttempt")
	if m.SaveAttemptFunc != nil {
		return m.SaveAttemptFunc(ctx, sessionID, attempt)
	}

	stored := *attempt
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts[sessionID] = &stored
	return nil
}

func (m *AttemptStore) GetAttempt(ctx context.Context, sessionID string) (*storage.LoginAttempt, error) {
	m.count("GetAttempt")
	if m.GetAttemptFunc != nil {
		return m.GetAttemptFunc(ctx, sessionID)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	stored, ok := m.attempts[sessionID]
	if !ok {
		return nil, storage.ErrAttemptNotFound
	}
	attempt := *stored
	return &attempt, nil
}

func (m *AttemptStore) DeleteAttempt(ctx context.Context, sessionID string) error {
	m.count("DeleteAttempt")
	if m.DeleteAttemptFunc != nil {
		return m.DeleteAttemptFunc(ctx, sessionID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.attempts, sessionID)
	return nil
}

func (m *AttemptStore) count(op string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallCounts[op]++
}
