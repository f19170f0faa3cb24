package audit

import (
	"context"
	"sort"
	"sync"
	"time"

	id "datavault/pkg/domain"
)

// InMemoryStore stores audit entries in memory for tests and local runs.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries map[id.OwnerID][]Entry

	// failAppend simulates an audit-path outage for failure-injection tests.
	failAppend error
}

// NewInMemoryStore constructs an empty in-memory audit store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{entries: make(map[id.OwnerID][]Entry)}
}

// FailAppendWith makes every subsequent Append return err; nil restores normal
// operation. Used to verify that primary mutations survive audit outages.
func (s *InMemoryStore) FailAppendWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAppend = err
}

func (s *InMemoryStore) Append(_ context.Context, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAppend != nil {
		return s.failAppend
	}
	s.entries[entry.OwnerID] = append(s.entries[entry.OwnerID], entry)
	return nil
}

func (s *InMemoryStore) Query(_ context.Context, ownerID id.OwnerID, filter Filter, offset, limit int) ([]Entry, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := s.filtered(ownerID, filter)
	total := len(matched)

	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	page := make([]Entry, end-offset)
	copy(page, matched[offset:end])
	return page, total, nil
}

func (s *InMemoryStore) ListByOwner(_ context.Context, ownerID id.OwnerID) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filtered(ownerID, Filter{}), nil
}

func (s *InMemoryStore) CountByAction(_ context.Context, ownerID id.OwnerID) (map[Action]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[Action]int)
	for _, entry := range s.entries[ownerID] {
		counts[entry.Action]++
	}
	return counts, nil
}

func (s *InMemoryStore) CountSince(_ context.Context, ownerID id.OwnerID, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, entry := range s.entries[ownerID] {
		if !entry.Timestamp.Before(since) {
			count++
		}
	}
	return count, nil
}

func (s *InMemoryStore) Count(_ context.Context, ownerID id.OwnerID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries[ownerID]), nil
}

// filtered returns copies of the owner's matching entries, newest first.
// Callers must hold at least a read lock.
func (s *InMemoryStore) filtered(ownerID id.OwnerID, filter Filter) []Entry {
	var matched []Entry
	for _, entry := range s.entries[ownerID] {
		if filter.Action != nil && entry.Action != *filter.Action {
			continue
		}
		if filter.From != nil && entry.Timestamp.Before(*filter.From) {
			continue
		}
		if filter.To != nil && entry.Timestamp.After(*filter.To) {
			continue
		}
		matched = append(matched, entry)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})
	return matched
}
