package consent

import (
	"time"

	id "datavault/pkg/domain"
)

// Status is the stored lifecycle state of a consent record.
type Status string

const (
	StatusGranted   Status = "GRANTED"
	StatusWithdrawn Status = "WITHDRAWN"
	StatusPending   Status = "PENDING"
	StatusExpired   Status = "EXPIRED"
)

// Statuses lists every valid status, in lifecycle order.
var Statuses = []Status{StatusGranted, StatusWithdrawn, StatusPending, StatusExpired}

// IsValid checks if the status is one of the supported enum values.
func (s Status) IsValid() bool {
	for _, known := range Statuses {
		if s == known {
			return true
		}
	}
	return false
}

// Record is one consent decision. A record may be scoped to a single data item
// (DataItemID set) or stand alone for a processing purpose.
type Record struct {
	ID          id.ConsentID
	OwnerID     id.OwnerID
	DataItemID  *id.ItemID
	Purpose     string
	Status      Status
	GrantedAt   *time.Time
	WithdrawnAt *time.Time
	ExpiresAt   *time.Time
	CreatedAt   time.Time
}

// EffectiveStatus derives the externally visible status at the given instant.
// A GRANTED record whose expiry has passed reads as EXPIRED; the stored status
// is never rewritten for expiry, so two readers at different instants may
// legitimately disagree.
func (r *Record) EffectiveStatus(now time.Time) Status {
	if r.Status == StatusGranted && r.ExpiresAt != nil && !r.ExpiresAt.After(now) {
		return StatusExpired
	}
	return r.Status
}

// Filter narrows consent listings. Status matches against effective status.
type Filter struct {
	Status *Status
}

// Stats breaks the owner's consents down by effective status. Every status
// key is present, zero-valued when absent.
type Stats struct {
	ByStatus map[Status]int `json:"byStatus"`
	Total    int            `json:"total"`
}
