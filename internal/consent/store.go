package consent

import (
	"context"
	"time"

	id "datavault/pkg/domain"
)

//go:generate mockgen -source=store.go -destination=mocks/mocks.go -package=mocks Store

// Store is the persistence interface for consent records.
//
// Error Contract:
// - Get/Execute return sentinel.ErrNotFound when no record matches the owner
//   and id pair; a record owned by someone else is indistinguishable from one
//   that never existed
// - Save returns sentinel.ErrConflict on duplicate id
// - Bulk methods return how many records they touched; zero is not an error
type Store interface {
	Save(ctx context.Context, record *Record) error
	Get(ctx context.Context, ownerID id.OwnerID, consentID id.ConsentID) (*Record, error)
	ListByOwner(ctx context.Context, ownerID id.OwnerID) ([]*Record, error)

	// Execute atomically validates and mutates one record under lock.
	// itemActive reports whether the referenced data item is active; it is
	// true when the record references no item. The item row is locked
	// alongside the consent row so transitions serialize with erase cascades.
	Execute(ctx context.Context, ownerID id.OwnerID, consentID id.ConsentID, validate func(record *Record, itemActive bool) error, mutate func(record *Record)) (*Record, error)

	// WithdrawAllGranted flips every stored-GRANTED record of the owner to
	// WITHDRAWN as one unit and reports how many were flipped.
	WithdrawAllGranted(ctx context.Context, ownerID id.OwnerID, withdrawnAt time.Time) (int, error)

	// WithdrawGrantedByItem flips every stored-GRANTED record referencing the
	// item. Used by erase cascades; callers run it inside the cascade's
	// transaction.
	WithdrawGrantedByItem(ctx context.Context, ownerID id.OwnerID, itemID id.ItemID, withdrawnAt time.Time) (int, error)
}
