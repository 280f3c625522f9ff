package relationship

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryStore struct {
	mu    sync.RWMutex
	links []*Link
	pairs map[string]uuid.UUID
	now   func() time.Time
}

// NewMemoryStore returns a process-local Store. Links are lost on restart.
func NewMemoryStore() Store {
	return &memoryStore{
		pairs: make(map[string]uuid.UUID),
		now:   time.Now,
	}
}

func (s *memoryStore) CreateLink(_ context.Context, subjectID, relatedID uuid.UUID, kind Kind, createdBy string) (*Link, error) {
	if err := validateLink(subjectID, relatedID, kind); err != nil {
		return nil, err
	}
	key := PairKey(subjectID, relatedID, kind)

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.pairs[key]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateLink, existing)
	}
	l := &Link{
		ID:        uuid.New(),
		SubjectID: subjectID,
		RelatedID: relatedID,
		Kind:      kind,
		CreatedBy: createdBy,
		CreatedAt: s.now().UTC(),
	}
	s.links = append(s.links, l)
	s.pairs[key] = l.ID
	cp := *l
	return &cp, nil
}

func (s *memoryStore) GetLink(_ context.Context, id uuid.UUID) (*Link, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, l := range s.links {
		if l.ID == id {
			cp := *l
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memoryStore) ListLinksFor(_ context.Context, patientID uuid.UUID) ([]*Link, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Link
	for _, l := range s.links {
		if l.Involves(patientID) {
			cp := *l
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memoryStore) RemoveLink(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, l := range s.links {
		if l.ID == id {
			s.drop(i)
			return nil
		}
	}
	return ErrNotFound
}

func (s *memoryStore) RemoveLinksFor(_ context.Context, patientID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for i := 0; i < len(s.links); {
		if s.links[i].Involves(patientID) {
			s.drop(i)
			removed++
			continue
		}
		i++
	}
	return removed, nil
}

func (s *memoryStore) ListPatientIDs(_ context.Context) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[uuid.UUID]struct{})
	for _, l := range s.links {
		seen[l.SubjectID] = struct{}{}
		seen[l.RelatedID] = struct{}{}
	}
	ids := make([]uuid.UUID, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids, nil
}

// drop removes links[i]; callers hold the write lock.
func (s *memoryStore) drop(i int) {
	l := s.links[i]
	delete(s.pairs, PairKey(l.SubjectID, l.RelatedID, l.Kind))
	s.links = append(s.links[:i], s.links[i+1:]...)
}
