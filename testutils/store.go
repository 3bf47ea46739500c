// testutils/store.go
package testutils

import (
	"context"
	"slices"
	"sync"
	"time"
)

// InMemoryStore keeps namespaced records in memory. TTLs are recorded but not
// enforced.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string][]string
	ttls    map[string]time.Duration
}

// NewInMemoryStore creates a new in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		records: make(map[string][]string),
		ttls:    make(map[string]time.Duration),
	}
}

func (s *InMemoryStore) LoadRecords(ctx context.Context, namespace string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.records[namespace]), nil
}

func (s *InMemoryStore) SaveRecords(ctx context.Context, namespace string, records []string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[namespace] = slices.Clone(records)
	s.ttls[namespace] = ttl
	return nil
}

// Put seeds a namespace directly.
func (s *InMemoryStore) Put(namespace string, records ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[namespace] = records
}

// Records returns what was last saved under namespace.
func (s *InMemoryStore) Records(namespace string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.records[namespace])
}

// TTL returns the ttl of the last save under namespace.
func (s *InMemoryStore) TTL(namespace string) time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ttls[namespace]
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}

// MockStore wraps an InMemoryStore with call counting and error injection.
type MockStore struct {
	*InMemoryStore

	mu          sync.Mutex
	loads       int
	saves       int
	errToReturn error
}

func NewMockStore() *MockStore {
	return &MockStore{InMemoryStore: NewInMemoryStore()}
}

func (s *MockStore) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errToReturn = err
}

func (s *MockStore) ClearError() {
	s.SetError(nil)
}

func (s *MockStore) Loads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loads
}

func (s *MockStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

func (s *MockStore) LoadRecords(ctx context.Context, namespace string) ([]string, error) {
	s.mu.Lock()
	s.loads++
	err := s.errToReturn
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.InMemoryStore.LoadRecords(ctx, namespace)
}

func (s *MockStore) SaveRecords(ctx context.Context, namespace string, records []string, ttl time.Duration) error {
	s.mu.Lock()
	s.saves++
	err := s.errToReturn
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.InMemoryStore.SaveRecords(ctx, namespace, records, ttl)
}
