package store

import (
	"context"
	"sync"

	"github.com/zhouzirui/cobuild/backend/internal/model/build"
)

// MemoryStore keeps everything in process memory. It backs local development
// and tests.
type MemoryStore struct {
	defaults DefaultFunc

	mu        sync.RWMutex
	documents map[string]build.Document
	threads   map[string]build.Threads
}

// NewMemoryStore returns an empty store.
func NewMemoryStore(defaults DefaultFunc) *MemoryStore {
	return &MemoryStore{
		defaults:  defaults,
		documents: make(map[string]build.Document),
		threads:   make(map[string]build.Threads),
	}
}

func (s *MemoryStore) GetDocument(_ context.Context, projectID string) (build.Document, error) {
	s.mu.RLock()
	doc, ok := s.documents[projectID]
	s.mu.RUnlock()
	if !ok {
		return s.defaults(projectID), nil
	}
	return doc.Clone(), nil
}

func (s *MemoryStore) PutDocument(_ context.Context, projectID string, doc build.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.documents[projectID] = doc.Clone()
	return nil
}

func (s *MemoryStore) GetThreads(_ context.Context, projectID string) (build.Threads, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	threads, ok := s.threads[projectID]
	if !ok {
		return build.Threads{}, nil
	}
	return threads.Clone(), nil
}

func (s *MemoryStore) PutThreads(_ context.Context, projectID string, threads build.Threads) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threads[projectID] = threads.Clone()
	return nil
}
