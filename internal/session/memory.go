package session

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/cardiovision-risk-engine/internal/domain"
)

// DefaultMaxEntries bounds the in-process store
const DefaultMaxEntries = 10000

// MemoryStore is an in-process store with LRU eviction and a TTL per entry
type MemoryStore struct {
	cache *expirable.LRU[string, *domain.RiskResult]
}

// NewMemoryStore creates an in-process store
func NewMemoryStore(maxEntries int, ttl time.Duration) *MemoryStore {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &MemoryStore{cache: expirable.NewLRU[string, *domain.RiskResult](maxEntries, nil, ttl)}
}

// Put stores a result, replacing any earlier one for the session
func (s *MemoryStore) Put(_ context.Context, sessionID string, result *domain.RiskResult) error {
	s.cache.Add(sessionID, result)
	return nil
}

// Get returns the last result for the session
func (s *MemoryStore) Get(_ context.Context, sessionID string) (*domain.RiskResult, error) {
	result, ok := s.cache.Get(sessionID)
	if !ok {
		return nil, ErrNotFound
	}
	return result, nil
}

// Delete forgets a session
func (s *MemoryStore) Delete(_ context.Context, sessionID string) error {
	s.cache.Remove(sessionID)
	return nil
}

// Len returns the number of live sessions
func (s *MemoryStore) Len() int {
	return s.cache.Len()
}

// Close is a no-op
func (s *MemoryStore) Close() error {
	return nil
}
