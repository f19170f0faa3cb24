package registry

import (
	"context"

	id "datavault/pkg/domain"
)

// Store is the persistence interface for personal data items.
//
// Error Contract:
// - Get/Update/Deactivate return sentinel.ErrNotFound when no row matches the
//   owner and id pair; foreign rows are indistinguishable from missing ones
// - Deactivate returns sentinel.ErrNotFound only for missing rows; flipping an
//   already-inactive row affects zero rows and reports that via its bool
// - List methods return empty results, not errors, for unknown owners
type Store interface {
	Save(ctx context.Context, item *Item) error

	// Get returns the item regardless of IsActive so callers can branch on it.
	Get(ctx context.Context, ownerID id.OwnerID, itemID id.ItemID) (*Item, error)

	// ListActive returns the owner's active items matching the filter,
	// newest collection first.
	ListActive(ctx context.Context, ownerID id.OwnerID, filter Filter) ([]*Item, error)

	// ListAll returns every item of the owner, active and erased.
	ListAll(ctx context.Context, ownerID id.OwnerID) ([]*Item, error)

	// UpdateValue replaces the stored field value. Collection metadata is
	// immutable after registration.
	UpdateValue(ctx context.Context, ownerID id.OwnerID, itemID id.ItemID, fieldValue string) error

	// Deactivate clears IsActive. The bool reports whether the call flipped
	// the flag; false means the item was already inactive.
	Deactivate(ctx context.Context, ownerID id.OwnerID, itemID id.ItemID) (bool, error)

	// CountActiveByCategory breaks the active inventory down per category.
	CountActiveByCategory(ctx context.Context, ownerID id.OwnerID) (map[Category]int, error)
}
