package account

import (
	"context"
	"strings"
	"sync"

	id "datavault/pkg/domain"
	"datavault/pkg/platform/sentinel"
)

// InMemoryStore keeps owner accounts in memory for tests and local runs.
type InMemoryStore struct {
	mu      sync.RWMutex
	byID    map[id.OwnerID]*Owner
	byEmail map[string]id.OwnerID
}

// NewInMemoryStore constructs an empty in-memory account store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byID:    make(map[id.OwnerID]*Owner),
		byEmail: make(map[string]id.OwnerID),
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *InMemoryStore) Save(_ context.Context, owner *Owner) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := normalizeEmail(owner.Email)
	if _, exists := s.byEmail[key]; exists {
		return sentinel.ErrConflict
	}
	clone := *owner
	s.byID[owner.ID] = &clone
	s.byEmail[key] = owner.ID
	return nil
}

func (s *InMemoryStore) GetByEmail(_ context.Context, email string) (*Owner, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ownerID, ok := s.byEmail[normalizeEmail(email)]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	clone := *s.byID[ownerID]
	return &clone, nil
}

func (s *InMemoryStore) GetByID(_ context.Context, ownerID id.OwnerID) (*Owner, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	owner, ok := s.byID[ownerID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	clone := *owner
	return &clone, nil
}
