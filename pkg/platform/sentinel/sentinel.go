// Package sentinel holds storage-level sentinel errors shared by every store
// implementation so services can branch without importing a concrete store.
package sentinel

import (
	dErrors "datavault/pkg/domain-errors"
)

var (
	// ErrNotFound keeps storage-specific 404s consistent across implementations.
	ErrNotFound = dErrors.New(dErrors.CodeNotFound, "record not found")

	// ErrConflict signals a uniqueness violation (duplicate insert).
	ErrConflict = dErrors.New(dErrors.CodeConflict, "record already exists")
)
