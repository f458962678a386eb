package store

import (
	"context"
	"sync"
	"time"

	"github.com/GrupoUS/neonpro-sub010/internal/audit"
	"github.com/GrupoUS/neonpro-sub010/internal/consent/models"
	"github.com/GrupoUS/neonpro-sub010/internal/sentinel"
)

// InMemoryStore stores consent records in memory for tests and single-node
// development. The active index mirrors the partial unique index the
// PostgreSQL store relies on.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string]map[string]*models.Record      // subjectID -> consentID -> record
	active  map[string]map[models.Purpose]string      // subjectID -> purpose -> consentID of the GRANTED record
}

// New constructs an empty in-memory consent store.
func New() *InMemoryStore {
	return &InMemoryStore{
		records: make(map[string]map[string]*models.Record),
		active:  make(map[string]map[models.Purpose]string),
	}
}

func (s *InMemoryStore) Create(_ context.Context, record *models.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if record.Status == models.StatusGranted {
		for _, p := range record.Granularity.ProcessingPurposes {
			if _, taken := s.active[record.SubjectID][p]; taken {
				return sentinel.ErrConflict
			}
		}
	}

	subj, ok := s.records[record.SubjectID]
	if !ok {
		subj = make(map[string]*models.Record)
		s.records[record.SubjectID] = subj
	}
	if _, exists := subj[record.ID]; exists {
		return sentinel.ErrConflict
	}
	copyRecord := *record
	subj[record.ID] = &copyRecord

	if record.Status == models.StatusGranted {
		s.claimPurposes(&copyRecord)
	}
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, subjectID, consentID string) (*models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[subjectID][consentID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copyRecord := *record
	return &copyRecord, nil
}

func (s *InMemoryStore) ListBySubject(_ context.Context, subjectID string, filter *models.RecordFilter) ([]*models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now().UTC()
	var filtered []*models.Record
	for _, record := range s.records[subjectID] {
		if filter != nil {
			if filter.Purpose != nil && !hasPurpose(record, *filter.Purpose) {
				continue
			}
			if filter.Status != nil && record.ComputeStatus(now) != *filter.Status {
				continue
			}
		}
		copyRecord := *record
		filtered = append(filtered, &copyRecord)
	}
	return filtered, nil
}

func (s *InMemoryStore) FindActiveByPurpose(_ context.Context, subjectID string, purpose models.Purpose, now time.Time) ([]*models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Record
	for _, record := range s.records[subjectID] {
		if record.IsActive(now) && hasPurpose(record, purpose) {
			copyRecord := *record
			out = append(out, &copyRecord)
		}
	}
	return out, nil
}

func (s *InMemoryStore) Execute(_ context.Context, subjectID, consentID string, validate func(*models.Record) error, mutate func(*models.Record)) (*models.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[subjectID][consentID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}

	working := *record
	if err := validate(&working); err != nil {
		return nil, err
	}
	wasGranted := working.Status == models.StatusGranted
	mutate(&working)

	s.records[subjectID][consentID] = &working
	if wasGranted && working.Status != models.StatusGranted {
		s.releasePurposes(&working)
	}
	copyRecord := working
	return &copyRecord, nil
}

func (s *InMemoryStore) DeleteBySubject(_ context.Context, subjectID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.records[subjectID])
	delete(s.records, subjectID)
	delete(s.active, subjectID)
	return n, nil
}

func (s *InMemoryStore) AnonymizeBySubject(_ context.Context, subjectID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, record := range s.records[subjectID] {
		record.Provenance = models.Provenance{}
		record.Healthcare.ProfessionalID = ""
		n++
	}
	return n, nil
}

func (s *InMemoryStore) DeleteTerminalBefore(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for subjectID, subj := range s.records {
		for id, record := range subj {
			if record.Status.IsTerminal() && record.ConsentDate.Before(cutoff) {
				delete(subj, id)
				deleted++
			}
		}
		if len(subj) == 0 {
			delete(s.records, subjectID)
		}
	}
	return deleted, nil
}

func (s *InMemoryStore) claimPurposes(record *models.Record) {
	byPurpose, ok := s.active[record.SubjectID]
	if !ok {
		byPurpose = make(map[models.Purpose]string)
		s.active[record.SubjectID] = byPurpose
	}
	for _, p := range record.Granularity.ProcessingPurposes {
		byPurpose[p] = record.ID
	}
}

func (s *InMemoryStore) releasePurposes(record *models.Record) {
	byPurpose := s.active[record.SubjectID]
	for _, p := range record.Granularity.ProcessingPurposes {
		if byPurpose[p] == record.ID {
			delete(byPurpose, p)
		}
	}
}

func hasPurpose(record *models.Record, purpose models.Purpose) bool {
	for _, p := range record.Granularity.ProcessingPurposes {
		if p == purpose {
			return true
		}
	}
	return false
}

// MemoryTxRunner serializes mutations against the in-memory stores. It gives
// the same ordering guarantees as the PostgreSQL runner but cannot roll back,
// which is acceptable for tests.
type MemoryTxRunner struct {
	mu       sync.Mutex
	consents *InMemoryStore
	audit    *audit.InMemoryStore
}

func NewMemoryTxRunner(consents *InMemoryStore, auditStore *audit.InMemoryStore) *MemoryTxRunner {
	return &MemoryTxRunner{consents: consents, audit: auditStore}
}

func (r *MemoryTxRunner) RunInTx(_ context.Context, fn func(TxStores) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(TxStores{Consents: r.consents, Audit: r.audit})
}
