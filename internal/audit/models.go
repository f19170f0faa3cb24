package audit

import (
	"time"

	id "datavault/pkg/domain"
)

// Action is the closed set of operation kinds an audit entry may record.
type Action string

const (
	ActionDataView        Action = "DATA_VIEW"
	ActionDataCreate      Action = "DATA_CREATE"
	ActionDataUpdate      Action = "DATA_UPDATE"
	ActionDataDelete      Action = "DATA_DELETE"
	ActionDataExport      Action = "DATA_EXPORT"
	ActionConsentGrant    Action = "CONSENT_GRANT"
	ActionConsentWithdraw Action = "CONSENT_WITHDRAW"
	ActionLogin           Action = "LOGIN"
	ActionLogout          Action = "LOGOUT"
	ActionProfileUpdate   Action = "PROFILE_UPDATE"
)

// Actions is the single source of truth for all valid audit actions, in the
// order surfaced to filter UIs.
var Actions = []Action{
	ActionDataView,
	ActionDataCreate,
	ActionDataUpdate,
	ActionDataDelete,
	ActionDataExport,
	ActionConsentGrant,
	ActionConsentWithdraw,
	ActionLogin,
	ActionLogout,
	ActionProfileUpdate,
}

// IsValid checks if the action is one of the supported enum values.
func (a Action) IsValid() bool {
	for _, known := range Actions {
		if a == known {
			return true
		}
	}
	return false
}

// Entity types referenced by audit entries. The reference is weak: the entity
// may be soft-deleted, or never have existed, without invalidating the entry.
const (
	EntityPersonalData = "PersonalData"
	EntityConsent      = "Consent"
	EntityOwner        = "Owner"
)

// Entry is one append-only record of a state-changing (or state-reading)
// action. There is no update or delete path for entries, by any actor,
// including the system itself.
type Entry struct {
	ID         id.EntryID
	OwnerID    id.OwnerID
	Action     Action
	EntityType string
	EntityID   string // optional; empty when the action has no single subject
	Details    map[string]any
	IPAddress  string
	UserAgent  string
	Timestamp  time.Time
}

// Meta carries the request-scoped client attribution copied onto entries.
type Meta struct {
	IPAddress string
	UserAgent string
	// Device is a normalized browser/os/platform summary; entries that track
	// sessions put it in their details.
	Device string
}

// Filter narrows audit queries. Nil fields match everything.
type Filter struct {
	Action *Action
	From   *time.Time
	To     *time.Time
}

// Pagination describes the window a Page covers. Pages are 1-indexed.
type Pagination struct {
	Page       int `json:"page"`
	PerPage    int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// Page is one window of an owner's audit trail, newest first.
type Page struct {
	Entries    []Entry    `json:"logs"`
	Pagination Pagination `json:"pagination"`
}

// Stats aggregates an owner's audit trail.
type Stats struct {
	ByAction    map[Action]int `json:"byAction"`
	RecentCount int            `json:"recentCount"`
	TotalCount  int            `json:"totalCount"`
}

// RecentWindow is the fixed trailing window used by Stats.RecentCount,
// measured from call time.
const RecentWindow = 7 * 24 * time.Hour
