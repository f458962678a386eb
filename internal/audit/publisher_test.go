package audit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublisherRecordSync(t *testing.T) {
	store := NewInMemoryStore()
	p := NewPublisher(store)

	entry := NewEntry("prof-1", ActionAccessAllowed, ResourceConsent, "consent-1")
	entry.Purpose = "medical_care"
	entry.ConsentPresent = true
	entry.Success = true
	require.NoError(t, p.Record(context.Background(), entry))

	got := store.All()
	require.Len(t, got, 1)
	assert.Equal(t, ActionAccessAllowed, got[0].Action)
	assert.Equal(t, SeverityInfo, got[0].Severity)
	assert.False(t, got[0].Timestamp.IsZero())
}

func TestPublisherRecordKeepsSeverity(t *testing.T) {
	store := NewInMemoryStore()
	p := NewPublisher(store)

	entry := NewEntry("system", ActionStorageUnavailable, ResourceConsent, "")
	entry.Severity = SeverityCritical
	require.NoError(t, p.Record(context.Background(), entry))

	got := store.All()
	require.Len(t, got, 1)
	assert.Equal(t, SeverityCritical, got[0].Severity)
}

func TestPublisherAsyncDrainsOnClose(t *testing.T) {
	store := NewInMemoryStore()
	p := NewPublisher(store, WithAsyncBuffer(16))

	for i := 0; i < 5; i++ {
		entry := NewEntry("prof-1", ActionAccessDenied, ResourceConsent, "consent-1")
		require.NoError(t, p.Record(context.Background(), entry))
	}
	p.Close()

	assert.Len(t, store.All(), 5)
}

func TestPublisherAsyncFallsBackToSyncWhenFull(t *testing.T) {
	store := NewInMemoryStore()
	// blockingStore holds the worker goroutine so the buffer stays full.
	blocker := &blockingStore{InMemoryStore: store, release: make(chan struct{})}
	p := NewPublisher(blocker, WithAsyncBuffer(1))

	// First entry occupies the worker, second fills the buffer.
	for i := 0; i < 2; i++ {
		entry := NewEntry("prof-1", ActionAccessDenied, ResourceConsent, "consent-1")
		require.NoError(t, p.Record(context.Background(), entry))
	}
	// Third finds the buffer full and writes through the store instead of
	// dropping; it blocks until the store accepts it.
	done := make(chan error, 1)
	go func() {
		done <- p.Record(context.Background(), NewEntry("prof-1", ActionAccessDenied, ResourceConsent, "consent-1"))
	}()

	close(blocker.release)
	require.NoError(t, <-done)
	p.Close()

	assert.Len(t, store.All(), 3)
}

type blockingStore struct {
	*InMemoryStore
	release chan struct{}
}

func (s *blockingStore) Append(ctx context.Context, entry Entry) error {
	<-s.release
	return s.InMemoryStore.Append(ctx, entry)
}
