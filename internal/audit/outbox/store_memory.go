package outbox

import (
	"context"
	"sort"
	"sync"
	"time"
)

type InMemoryStore struct {
	mu      sync.Mutex
	entries map[string]Entry
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{entries: make(map[string]Entry)}
}

func (s *InMemoryStore) Enqueue(_ context.Context, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.ID] = entry
	return nil
}

func (s *InMemoryStore) FetchUnprocessed(_ context.Context, limit int) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 || limit > maxFetchLimit {
		limit = maxFetchLimit
	}
	var pending []Entry
	for _, e := range s.entries {
		if !e.Processed() {
			pending = append(pending, e)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].CreatedAt.Before(pending[j].CreatedAt) })
	if len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

func (s *InMemoryStore) MarkProcessed(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	for _, id := range ids {
		if e, ok := s.entries[id]; ok {
			e.ProcessedAt = &now
			s.entries[id] = e
		}
	}
	return nil
}

func (s *InMemoryStore) DeleteProcessedBefore(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for id, e := range s.entries {
		if e.Processed() && e.ProcessedAt.Before(cutoff) {
			delete(s.entries, id)
			deleted++
		}
	}
	return deleted, nil
}
