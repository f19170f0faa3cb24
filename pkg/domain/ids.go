// Package domain provides type-safe identifiers to prevent mixing up IDs at compile time.
package domain

import (
	"github.com/google/uuid"

	dErrors "datavault/pkg/domain-errors"
)

// Distinct ID types - compiler prevents passing an OwnerID where an ItemID is expected.
type (
	OwnerID   uuid.UUID
	ItemID    uuid.UUID
	ConsentID uuid.UUID
	EntryID   uuid.UUID
)

// New functions - use when minting identifiers for new records.

func NewOwnerID() OwnerID     { return OwnerID(uuid.New()) }
func NewItemID() ItemID       { return ItemID(uuid.New()) }
func NewConsentID() ConsentID { return ConsentID(uuid.New()) }
func NewEntryID() EntryID     { return EntryID(uuid.New()) }

// Parse functions - use at trust boundaries (handlers, API inputs).

func ParseOwnerID(s string) (OwnerID, error) {
	id, err := parseUUID(s, "owner ID")
	return OwnerID(id), err
}

func ParseItemID(s string) (ItemID, error) {
	id, err := parseUUID(s, "item ID")
	return ItemID(id), err
}

func ParseConsentID(s string) (ConsentID, error) {
	id, err := parseUUID(s, "consent ID")
	return ConsentID(id), err
}

func ParseEntryID(s string) (EntryID, error) {
	id, err := parseUUID(s, "entry ID")
	return EntryID(id), err
}

// String methods - for logging and debugging.

func (id OwnerID) String() string   { return uuid.UUID(id).String() }
func (id ItemID) String() string    { return uuid.UUID(id).String() }
func (id ConsentID) String() string { return uuid.UUID(id).String() }
func (id EntryID) String() string   { return uuid.UUID(id).String() }

// IsNil checks - used for service-layer validation.

func (id OwnerID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id ItemID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id ConsentID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id EntryID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }

// parseUUID is the shared validation logic.
// Note: Nil UUIDs are allowed here. Use IsNil() at the service layer for
// business validation, which allows store lookups to return proper
// "not found" errors for consistency.
func parseUUID(s, label string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" cannot be empty")
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+label+" format")
	}
	return id, nil
}
