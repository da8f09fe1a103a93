package registry

import (
	"context"
	"sync"
)

// fakeStore is an in-memory Store for upsert tests. It keeps the audit and
// change log so tests can assert on the exact rows written.
type fakeStore struct {
	mu            sync.Mutex
	registrations map[string]*Registration
	nextID        int64
	audits        []Audit
	changes       []ChangeEntry
	conflicts     map[string][]Candidate // key: regNo + "/" + field
	updates       int

	findErr   error
	updateErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		registrations: make(map[string]*Registration),
		conflicts:     make(map[string][]Candidate),
	}
}

func (s *fakeStore) FindOrCreate(ctx context.Context, regNo string) (*Registration, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, false, s.findErr
	}
	if r, ok := s.registrations[regNo]; ok {
		cp := *r
		return &cp, false, nil
	}
	s.nextID++
	r := &Registration{ID: s.nextID, RegistrationNo: regNo}
	s.registrations[regNo] = r
	cp := *r
	return &cp, true, nil
}

func (s *fakeStore) Update(ctx context.Context, r *Registration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return s.updateErr
	}
	cp := *r
	s.registrations[r.RegistrationNo] = &cp
	s.updates++
	return nil
}

func (s *fakeStore) AppendAudit(ctx context.Context, a *Audit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audits = append(s.audits, *a)
	return nil
}

func (s *fakeStore) UpsertConflict(ctx context.Context, regNo string, field Field, cands []Candidate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := regNo + "/" + string(field)
	s.conflicts[key] = mergeCandidates(s.conflicts[key], cands)
	return nil
}

func (s *fakeStore) AppendChange(ctx context.Context, e *ChangeEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.changes = append(s.changes, *e)
	return nil
}

func (s *fakeStore) get(regNo string) *Registration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registrations[regNo]
}

func (s *fakeStore) auditsFor(field Field) []Audit {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Audit
	for _, a := range s.audits {
		if a.Field == field {
			out = append(out, a)
		}
	}
	return out
}
