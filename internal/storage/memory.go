package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/shohag/risebridge/internal/models"
)

// MemoryStore is a process-local InstallationStore. Records are lost on restart.
type MemoryStore struct {
	mu            sync.RWMutex
	installations map[string]models.Installation
}

func NewMemory() *MemoryStore {
	return &MemoryStore{installations: make(map[string]models.Installation)}
}

func (s *MemoryStore) Put(_ context.Context, inst *models.Installation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.installations[inst.InstanceID] = *inst
	return nil
}

func (s *MemoryStore) Get(_ context.Context, instanceID string) (*models.Installation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inst, ok := s.installations[instanceID]
	if !ok {
		return nil, nil
	}
	return &inst, nil
}

func (s *MemoryStore) Delete(_ context.Context, instanceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.installations, instanceID)
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]models.Installation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Installation, 0, len(s.installations))
	for _, inst := range s.installations {
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) Migrate(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
