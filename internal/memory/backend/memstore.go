package backend

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dylanbstorey/arawn-sub003/pkg/models"
)

// MemStore is the in-memory reference Backend implementation named in
// SPEC_FULL.md §1 ("only the memory.Backend contract + an in-memory
// reference implementation are built"). It implements ExtendedBackend
// so the full §4.I contract, including find_contradictions/supersede/
// reinforce, is exercisable without a real vector store.
type MemStore struct {
	mu        sync.RWMutex
	records   map[models.MemoryId]*models.MemoryRecord
	relations []Relation
	dimension int
}

// NewMemStore creates an empty store. dimension is the fixed embedding
// width records must match if they carry an embedding (0 disables the
// check).
func NewMemStore(dimension int) *MemStore {
	return &MemStore{
		records:   make(map[models.MemoryId]*models.MemoryRecord),
		dimension: dimension,
	}
}

func (s *MemStore) Dimension() int { return s.dimension }

func (s *MemStore) Insert(_ context.Context, record *models.MemoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[record.ID]; exists {
		return ErrDuplicateID
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}
	if record.LastAccessAt.IsZero() {
		record.LastAccessAt = record.CreatedAt
	}
	cp := *record
	s.records[record.ID] = &cp
	return nil
}

func (s *MemStore) Get(_ context.Context, id models.MemoryId) (*models.MemoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *MemStore) Update(_ context.Context, record *models.MemoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[record.ID]; !ok {
		return ErrNotFound
	}
	cp := *record
	s.records[record.ID] = &cp
	return nil
}

func (s *MemStore) Delete(_ context.Context, id models.MemoryId) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
	return nil
}

func (s *MemStore) List(_ context.Context, filter *models.MemoryFilter, limit, offset int) ([]*models.MemoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]*models.MemoryRecord, 0, len(s.records))
	for _, rec := range s.records {
		if matches(filter, rec) {
			cp := *rec
			matched = append(matched, &cp)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })

	if offset >= len(matched) {
		return nil, nil
	}
	matched = matched[offset:]
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}
	return matched, nil
}

func (s *MemStore) Count(_ context.Context, filter *models.MemoryFilter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, rec := range s.records {
		if matches(filter, rec) {
			n++
		}
	}
	return n, nil
}

func (s *MemStore) Touch(_ context.Context, id models.MemoryId) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return ErrNotFound
	}
	rec.AccessCount++
	rec.LastAccessAt = time.Now()
	return nil
}

func (s *MemStore) FindContradictions(_ context.Context, subject, predicate string) ([]*models.MemoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.MemoryRecord
	for _, rec := range s.records {
		if rec.Subject == subject && rec.Predicate == predicate && rec.SupersededBy == "" {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemStore) Supersede(_ context.Context, oldID, newID models.MemoryId) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.records[oldID]
	if !ok {
		return ErrNotFound
	}
	if _, ok := s.records[newID]; !ok {
		return ErrNotFound
	}
	old.SupersededBy = newID
	s.relations = append(s.relations, Relation{OldID: oldID, NewID: newID, CreatedAt: time.Now()})
	return nil
}

func (s *MemStore) Reinforce(_ context.Context, id models.MemoryId) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return ErrNotFound
	}
	rec.Confidence += (1 - rec.Confidence) * 0.25
	if rec.Confidence > 1 {
		rec.Confidence = 1
	}
	rec.AccessCount++
	rec.LastAccessAt = time.Now()
	return nil
}

func matches(filter *models.MemoryFilter, rec *models.MemoryRecord) bool {
	if filter == nil {
		return true
	}
	if filter.SessionID != "" && rec.SessionID != filter.SessionID {
		return false
	}
	if filter.ContentType != "" && rec.ContentType != filter.ContentType {
		return false
	}
	return true
}
