package personastore

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Compile-time assertion that MemStore satisfies the Store interface.
var _ Store = (*MemStore)(nil)

// MemStore is a thread-safe, in-memory implementation of [Store].
// It is suitable for tests and single-node deployments without a database.
type MemStore struct {
	mu       sync.RWMutex
	personas map[string]Definition
}

// NewMemStore returns an initialised [MemStore].
func NewMemStore() *MemStore {
	return &MemStore{
		personas: make(map[string]Definition),
	}
}

// Create implements [Store.Create].
func (s *MemStore) Create(ctx context.Context, def *Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	if def.ID == "" {
		def.ID = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.personas == nil {
		s.personas = make(map[string]Definition)
	}
	if _, exists := s.personas[def.ID]; exists {
		return fmt.Errorf("personastore: persona with id %q already exists", def.ID)
	}

	now := time.Now()
	def.CreatedAt = now
	def.UpdatedAt = now
	s.personas[def.ID] = *def
	return nil
}

// Get implements [Store.Get].
func (s *MemStore) Get(ctx context.Context, id string) (*Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.personas[id]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

// Update implements [Store.Update].
func (s *MemStore) Update(ctx context.Context, def *Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.personas[def.ID]
	if !ok {
		return fmt.Errorf("personastore: persona with id %q not found", def.ID)
	}

	def.CreatedAt = prev.CreatedAt
	def.UpdatedAt = time.Now()
	s.personas[def.ID] = *def
	return nil
}

// Delete implements [Store.Delete].
func (s *MemStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.personas, id)
	return nil
}

// List implements [Store.List].
func (s *MemStore) List(ctx context.Context, specialty string) ([]Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]Definition, 0, len(s.personas))
	for _, d := range s.personas {
		if specialty != "" && !slices.Contains(d.Specialties, specialty) {
			continue
		}
		result = append(result, d)
	}
	slices.SortFunc(result, func(a, b Definition) int {
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		}
		return 0
	})
	return result, nil
}

// Upsert implements [Store.Upsert].
func (s *MemStore) Upsert(ctx context.Context, def *Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	if def.ID == "" {
		def.ID = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.personas == nil {
		s.personas = make(map[string]Definition)
	}

	now := time.Now()
	if prev, ok := s.personas[def.ID]; ok {
		def.CreatedAt = prev.CreatedAt
	} else {
		def.CreatedAt = now
	}
	def.UpdatedAt = now
	s.personas[def.ID] = *def
	return nil
}
