package dsr

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/GrupoUS/neonpro-sub010/internal/sentinel"
)

// InMemoryStore keeps requests in process memory. For tests and development.
type InMemoryStore struct {
	mu       sync.RWMutex
	requests map[string]map[string]*Request
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{requests: make(map[string]map[string]*Request)}
}

func (s *InMemoryStore) Create(_ context.Context, req *Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	subj, ok := s.requests[req.SubjectID]
	if !ok {
		subj = make(map[string]*Request)
		s.requests[req.SubjectID] = subj
	}
	if _, exists := subj[req.ID]; exists {
		return sentinel.ErrConflict
	}
	cp := *req
	subj[req.ID] = &cp
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, subjectID, requestID string) (*Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.requests[subjectID][requestID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *req
	return &cp, nil
}

func (s *InMemoryStore) ListBySubject(_ context.Context, subjectID string) ([]*Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Request, 0, len(s.requests[subjectID]))
	for _, req := range s.requests[subjectID] {
		cp := *req
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out, nil
}

func (s *InMemoryStore) Update(_ context.Context, req *Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[req.SubjectID][req.ID]; !ok {
		return sentinel.ErrNotFound
	}
	cp := *req
	s.requests[req.SubjectID][req.ID] = &cp
	return nil
}

func (s *InMemoryStore) ListDue(_ context.Context, cutoff time.Time) ([]*Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Request
	for _, subj := range s.requests {
		for _, req := range subj {
			if !req.Status.IsTerminal() && req.DueAt.Before(cutoff) {
				cp := *req
				out = append(out, &cp)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DueAt.Before(out[j].DueAt) })
	return out, nil
}
