package account

import (
	"context"

	id "datavault/pkg/domain"
)

// Store is the persistence interface for owner accounts.
//
// Error Contract:
// - Save returns sentinel.ErrConflict when the email is already registered
// - GetByEmail/GetByID return sentinel.ErrNotFound when no owner matches
type Store interface {
	Save(ctx context.Context, owner *Owner) error
	GetByEmail(ctx context.Context, email string) (*Owner, error)
	GetByID(ctx context.Context, ownerID id.OwnerID) (*Owner, error)
}
