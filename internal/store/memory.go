package store

import (
	"sync"

	"github.com/treemover/treemover/pkg/model"
)

// MemoryStore keeps progress records in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]model.SyncProgress
}

// NewMemory creates an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{records: make(map[string]model.SyncProgress)}
}

func (s *MemoryStore) Put(progress model.SyncProgress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[progress.RequestID] = progress
	return nil
}

func (s *MemoryStore) Get(requestID string) (model.SyncProgress, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.records[requestID]
	return p, ok, nil
}

func (s *MemoryStore) List() ([]model.SyncProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.SyncProgress, 0, len(s.records))
	for _, p := range s.records {
		out = append(out, p)
	}
	return out, nil
}
