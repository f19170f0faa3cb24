package audit

import (
	"context"
	"time"

	id "datavault/pkg/domain"
)

// Store is the append-only persistence interface for audit entries.
//
// Error Contract:
// - Append returns nil on success or a wrapped error on infrastructure failure
// - Query/count methods return wrapped errors on failure; an owner with no
//   entries is an empty result, not an error
// - No method mutates or removes existing entries; none exists
type Store interface {
	Append(ctx context.Context, entry Entry) error
	Query(ctx context.Context, ownerID id.OwnerID, filter Filter, offset, limit int) ([]Entry, int, error)
	ListByOwner(ctx context.Context, ownerID id.OwnerID) ([]Entry, error)
	CountByAction(ctx context.Context, ownerID id.OwnerID) (map[Action]int, error)
	CountSince(ctx context.Context, ownerID id.OwnerID, since time.Time) (int, error)
	Count(ctx context.Context, ownerID id.OwnerID) (int, error)
}
