package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GrupoUS/neonpro-sub010/internal/audit/outbox"
	"github.com/GrupoUS/neonpro-sub010/internal/platform/kafka/producer"
)

type captureSink struct {
	mu       sync.Mutex
	messages []*producer.Message
	failFor  map[string]struct{}
}

func newCaptureSink() *captureSink {
	return &captureSink{failFor: make(map[string]struct{})}
}

func (s *captureSink) Produce(_ context.Context, msg *producer.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.failFor[msg.Headers["entry_id"]]; ok {
		return errors.New("broker unavailable")
	}
	s.messages = append(s.messages, msg)
	return nil
}

func (s *captureSink) Close() error                 { return nil }
func (s *captureSink) Healthy(context.Context) bool { return true }

func (s *captureSink) captured() []*producer.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*producer.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

func enqueue(t *testing.T, store outbox.Store, eventType string) outbox.Entry {
	t.Helper()
	payload, err := json.Marshal(map[string]string{"action": eventType})
	require.NoError(t, err)
	entry := outbox.NewEntry("consent", "consent-1", eventType, payload)
	require.NoError(t, store.Enqueue(context.Background(), entry))
	return entry
}

func TestWorkerPublishesAndMarksProcessed(t *testing.T) {
	store := outbox.NewInMemory()
	sink := newCaptureSink()
	w := New(store, sink, WithTopic("audit.test"))

	first := enqueue(t, store, "consent_created")
	second := enqueue(t, store, "consent_withdrawn")

	w.poll(context.Background())

	msgs := sink.captured()
	require.Len(t, msgs, 2)
	assert.Equal(t, "audit.test", msgs[0].Topic)
	assert.Equal(t, first.ID, msgs[0].Headers["entry_id"])
	assert.Equal(t, second.ID, msgs[1].Headers["entry_id"])
	assert.Equal(t, "consent", msgs[0].Headers["aggregate_type"])

	pending, err := store.FetchUnprocessed(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestWorkerRetriesFailedEntries(t *testing.T) {
	store := outbox.NewInMemory()
	sink := newCaptureSink()
	w := New(store, sink)

	ok := enqueue(t, store, "consent_created")
	failing := enqueue(t, store, "consent_withdrawn")
	sink.failFor[failing.ID] = struct{}{}

	w.poll(context.Background())

	msgs := sink.captured()
	require.Len(t, msgs, 1)
	assert.Equal(t, ok.ID, msgs[0].Headers["entry_id"])

	pending, err := store.FetchUnprocessed(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, failing.ID, pending[0].ID)

	// Broker recovers; the entry is delivered on the next poll.
	delete(sink.failFor, failing.ID)
	w.poll(context.Background())

	require.Len(t, sink.captured(), 2)
	pending, err = store.FetchUnprocessed(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestWorkerStopDrainsPending(t *testing.T) {
	store := outbox.NewInMemory()
	sink := newCaptureSink()
	w := New(store, sink, WithPollInterval(time.Hour))
	w.Start()

	enqueue(t, store, "consent_created")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, w.Stop(ctx))

	assert.Len(t, sink.captured(), 1)
	pending, err := store.FetchUnprocessed(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestWorkerCleanupRemovesOldProcessed(t *testing.T) {
	store := outbox.NewInMemory()
	entry := enqueue(t, store, "consent_created")
	require.NoError(t, store.MarkProcessed(context.Background(), []string{entry.ID}))

	// Future cutoff expires everything already processed.
	n, err := store.DeleteProcessedBefore(context.Background(), time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
