package consent

import (
	"context"
	"sort"
	"sync"
	"time"

	id "datavault/pkg/domain"
	"datavault/pkg/platform/sentinel"
)

// ItemLookup reports whether an owner's data item is active. The in-memory
// store uses it to mirror the row lock the postgres store takes on the item.
type ItemLookup func(ownerID id.OwnerID, itemID id.ItemID) (bool, bool)

// InMemoryStore keeps consent records in memory for tests and local runs.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[id.ConsentID]*Record
	items   ItemLookup
}

// InMemoryOption configures the in-memory store.
type InMemoryOption func(*InMemoryStore)

// WithItemLookup wires the active check for item-scoped records. Without it
// every referenced item is treated as active.
func WithItemLookup(lookup ItemLookup) InMemoryOption {
	return func(s *InMemoryStore) {
		s.items = lookup
	}
}

// NewInMemoryStore constructs an empty in-memory consent store.
func NewInMemoryStore(opts ...InMemoryOption) *InMemoryStore {
	s := &InMemoryStore{records: make(map[id.ConsentID]*Record)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *InMemoryStore) Save(_ context.Context, record *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[record.ID]; exists {
		return sentinel.ErrConflict
	}
	clone := *record
	s.records[record.ID] = &clone
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, ownerID id.OwnerID, consentID id.ConsentID) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[consentID]
	if !ok || record.OwnerID != ownerID {
		return nil, sentinel.ErrNotFound
	}
	clone := *record
	return &clone, nil
}

func (s *InMemoryStore) ListByOwner(_ context.Context, ownerID id.OwnerID) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var records []*Record
	for _, record := range s.records {
		if record.OwnerID != ownerID {
			continue
		}
		clone := *record
		records = append(records, &clone)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	return records, nil
}

func (s *InMemoryStore) Execute(_ context.Context, ownerID id.OwnerID, consentID id.ConsentID, validate func(*Record, bool) error, mutate func(*Record)) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[consentID]
	if !ok || record.OwnerID != ownerID {
		return nil, sentinel.ErrNotFound
	}

	itemActive := true
	if record.DataItemID != nil && s.items != nil {
		active, found := s.items(ownerID, *record.DataItemID)
		itemActive = found && active
	}

	if err := validate(record, itemActive); err != nil {
		return nil, err
	}
	mutate(record)
	clone := *record
	return &clone, nil
}

func (s *InMemoryStore) WithdrawAllGranted(_ context.Context, ownerID id.OwnerID, withdrawnAt time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, record := range s.records {
		if record.OwnerID != ownerID || record.Status != StatusGranted {
			continue
		}
		at := withdrawnAt
		record.Status = StatusWithdrawn
		record.WithdrawnAt = &at
		count++
	}
	return count, nil
}

func (s *InMemoryStore) WithdrawGrantedByItem(_ context.Context, ownerID id.OwnerID, itemID id.ItemID, withdrawnAt time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, record := range s.records {
		if record.OwnerID != ownerID || record.Status != StatusGranted {
			continue
		}
		if record.DataItemID == nil || *record.DataItemID != itemID {
			continue
		}
		at := withdrawnAt
		record.Status = StatusWithdrawn
		record.WithdrawnAt = &at
		count++
	}
	return count, nil
}
