package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ritzau/unitconv/pkg/model"
)

// MemoryStore keeps rules in process memory
type MemoryStore struct {
	mu      sync.RWMutex
	rules   []model.ConversionRule
	version int64
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now}
}

func (s *MemoryStore) List(ctx context.Context, f Filter) ([]model.ConversionRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]model.ConversionRule, 0, len(s.rules))
	for _, r := range s.rules {
		if f.Match(r) {
			result = append(result, r)
		}
	}
	return result, nil
}

func (s *MemoryStore) All(ctx context.Context) ([]model.ConversionRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]model.ConversionRule, len(s.rules))
	copy(result, s.rules)
	return result, nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (model.ConversionRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if i := s.indexOf(id); i >= 0 {
		return s.rules[i], nil
	}
	return model.ConversionRule{}, fmt.Errorf("rule %s: %w", id, ErrNotFound)
}

func (s *MemoryStore) Create(ctx context.Context, r model.ConversionRule) (model.ConversionRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pairTaken(r.PairKey(), "") {
		return model.ConversionRule{}, fmt.Errorf("%s/%s: %w", r.FromUnit, r.ToUnit, ErrDuplicateRule)
	}

	now := s.now()
	r.ID = uuid.New().String()
	r.CreatedAt = now
	r.UpdatedAt = now
	s.rules = append(s.rules, r)
	s.version++
	return r, nil
}

func (s *MemoryStore) Update(ctx context.Context, r model.ConversionRule) (model.ConversionRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(r.ID)
	if i < 0 {
		return model.ConversionRule{}, fmt.Errorf("rule %s: %w", r.ID, ErrNotFound)
	}
	if s.pairTaken(r.PairKey(), r.ID) {
		return model.ConversionRule{}, fmt.Errorf("%s/%s: %w", r.FromUnit, r.ToUnit, ErrDuplicateRule)
	}

	r.CreatedAt = s.rules[i].CreatedAt
	r.UpdatedAt = s.now()
	s.rules[i] = r
	s.version++
	return r, nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		return fmt.Errorf("rule %s: %w", id, ErrNotFound)
	}
	s.rules = append(s.rules[:i], s.rules[i+1:]...)
	s.version++
	return nil
}

func (s *MemoryStore) Version(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version, nil
}

func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) indexOf(id string) int {
	for i, r := range s.rules {
		if r.ID == id {
			return i
		}
	}
	return -1
}

func (s *MemoryStore) pairTaken(key model.PairKey, exceptID string) bool {
	for _, r := range s.rules {
		if r.ID != exceptID && r.PairKey() == key {
			return true
		}
	}
	return false
}
