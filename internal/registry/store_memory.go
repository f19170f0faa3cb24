package registry

import (
	"context"
	"sort"
	"strings"
	"sync"

	id "datavault/pkg/domain"
	"datavault/pkg/platform/sentinel"
)

// InMemoryStore keeps data items in memory for tests and local runs.
type InMemoryStore struct {
	mu    sync.RWMutex
	items map[id.ItemID]*Item
}

// NewInMemoryStore constructs an empty in-memory item store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{items: make(map[id.ItemID]*Item)}
}

// ItemActive reports whether the owner's item exists and is active. Wired as
// the consent store's item lookup in memory deployments.
func (s *InMemoryStore) ItemActive(ownerID id.OwnerID, itemID id.ItemID) (bool, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[itemID]
	if !ok || item.OwnerID != ownerID {
		return false, false
	}
	return item.IsActive, true
}

func (s *InMemoryStore) Save(_ context.Context, item *Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.items[item.ID]; exists {
		return sentinel.ErrConflict
	}
	clone := *item
	s.items[item.ID] = &clone
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, ownerID id.OwnerID, itemID id.ItemID) (*Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[itemID]
	if !ok || item.OwnerID != ownerID {
		return nil, sentinel.ErrNotFound
	}
	clone := *item
	return &clone, nil
}

func (s *InMemoryStore) ListActive(_ context.Context, ownerID id.OwnerID, filter Filter) ([]*Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var items []*Item
	for _, item := range s.items {
		if item.OwnerID != ownerID || !item.IsActive {
			continue
		}
		if filter.Category != nil && item.Category != *filter.Category {
			continue
		}
		if filter.Search != "" && !matchesSearch(item, filter.Search) {
			continue
		}
		clone := *item
		items = append(items, &clone)
	}
	sortByCollectedAt(items)
	return items, nil
}

func (s *InMemoryStore) ListAll(_ context.Context, ownerID id.OwnerID) ([]*Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var items []*Item
	for _, item := range s.items {
		if item.OwnerID != ownerID {
			continue
		}
		clone := *item
		items = append(items, &clone)
	}
	sortByCollectedAt(items)
	return items, nil
}

func (s *InMemoryStore) UpdateValue(_ context.Context, ownerID id.OwnerID, itemID id.ItemID, fieldValue string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[itemID]
	if !ok || item.OwnerID != ownerID {
		return sentinel.ErrNotFound
	}
	item.FieldValue = fieldValue
	return nil
}

func (s *InMemoryStore) Deactivate(_ context.Context, ownerID id.OwnerID, itemID id.ItemID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[itemID]
	if !ok || item.OwnerID != ownerID {
		return false, sentinel.ErrNotFound
	}
	if !item.IsActive {
		return false, nil
	}
	item.IsActive = false
	return true, nil
}

func (s *InMemoryStore) CountActiveByCategory(_ context.Context, ownerID id.OwnerID) (map[Category]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[Category]int)
	for _, item := range s.items {
		if item.OwnerID == ownerID && item.IsActive {
			counts[item.Category]++
		}
	}
	return counts, nil
}

func matchesSearch(item *Item, search string) bool {
	needle := strings.ToLower(search)
	return strings.Contains(strings.ToLower(item.FieldName), needle) ||
		strings.Contains(strings.ToLower(item.FieldValue), needle) ||
		strings.Contains(strings.ToLower(item.Purpose), needle)
}

func sortByCollectedAt(items []*Item) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].CollectedAt.After(items[j].CollectedAt)
	})
}
