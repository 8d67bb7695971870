package valkey

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oauthkit/authcode/security"
	"github.com/oauthkit/authcode/storage"
)

// newTestStore connects to the Valkey instance named by VALKEY_TEST_ADDR,
// skipping the test when none is configured. Each test gets its own key
// prefix so runs do not interfere.
func newTestStore(t *testing.T) *Store {
	t.Helper()

	addr := os.Getenv("VALKEY_TEST_ADDR")
	if addr == "" {
		t.Skip("VALKEY_TEST_ADDR not set; skipping Valkey integration tests")
	}

	store, err := New(Config{
		Address:   addr,
		KeyPrefix: fmt.Sprintf("authcode-test:%s:%d:", t.Name(), time.Now().UnixNano()),
	})
	require.NoError(t, err)
	t.Cleanup(store.Close)

	return store
}

func pendingAttempt(sessionID string, ttl time.Duration) *storage.LoginAttempt {
	now := time.Now()
	return &storage.LoginAttempt{
		ID:         "attempt-" + sessionID,
		SessionID:  sessionID,
		StateToken: "state-" + sessionID,
		Status:     storage.StatusPending,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
	}
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err, "New() without an address should fail")
}

func TestStore_SaveAndGetAttempt(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	attempt := pendingAttempt("session-1", 10*time.Minute)
	require.NoError(t, store.SaveAttempt(ctx, "session-1", attempt))

	got, err := store.GetAttempt(ctx, "session-1")
	require.NoError(t, err)
	assert.Equal(t, attempt.ID, got.ID)
	assert.Equal(t, attempt.StateToken, got.StateToken)
	assert.Equal(t, storage.StatusPending, got.Status)
	assert.True(t, got.ExpiresAt.Equal(attempt.ExpiresAt), "expires at should round-trip")
}

func TestStore_GetAttempt_NotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetAttempt(context.Background(), "no-such-session")
	assert.ErrorIs(t, err, storage.ErrAttemptNotFound)
}

func TestStore_DeleteAttempt(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveAttempt(ctx, "session-1", pendingAttempt("session-1", 10*time.Minute)))

	require.NoError(t, store.DeleteAttempt(ctx, "session-1"))
	_, err := store.GetAttempt(ctx, "session-1")
	assert.ErrorIs(t, err, storage.ErrAttemptNotFound, "attempt still readable after delete")

	assert.NoError(t, store.DeleteAttempt(ctx, "session-1"), "delete should be idempotent")
}

func TestStore_TerminalOutcomePersists(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	attempt := pendingAttempt("session-1", 10*time.Minute)
	require.NoError(t, store.SaveAttempt(ctx, "session-1", attempt))

	attempt.Status = storage.StatusFailed
	attempt.FailureReason = "state_mismatch"
	require.NoError(t, store.SaveAttempt(ctx, "session-1", attempt))

	got, err := store.GetAttempt(ctx, "session-1")
	require.NoError(t, err)
	assert.Equal(t, storage.StatusFailed, got.Status)
	assert.Equal(t, "state_mismatch", got.FailureReason)
}

func TestStore_Encryption(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	key, err := security.GenerateKey()
	require.NoError(t, err)
	enc, err := security.NewEncryptor(key)
	require.NoError(t, err)
	store.SetEncryptor(enc)

	attempt := pendingAttempt("session-1", 10*time.Minute)
	require.NoError(t, store.SaveAttempt(ctx, "session-1", attempt))

	got, err := store.GetAttempt(ctx, "session-1")
	require.NoError(t, err)
	assert.Equal(t, attempt.StateToken, got.StateToken, "state token should decrypt on read")

	// Raw value on the wire must be ciphertext.
	raw, err := store.client.Do(ctx, store.client.B().Get().Key(store.attemptKey("session-1")).Build()).ToString()
	require.NoError(t, err)
	assert.NotContains(t, raw, attempt.StateToken, "state token stored in plaintext despite encryptor")
}

func TestStore_ExpiredAttemptReaped(t *testing.T) {
	store := newTestStore(t)
	store.terminalRetention = time.Second
	ctx := context.Background()

	attempt := pendingAttempt("session-1", 500*time.Millisecond)
	require.NoError(t, store.SaveAttempt(ctx, "session-1", attempt))

	time.Sleep(2 * time.Second)

	_, err := store.GetAttempt(ctx, "session-1")
	assert.ErrorIs(t, err, storage.ErrAttemptNotFound, "attempt should be gone after TTL plus retention")
}
