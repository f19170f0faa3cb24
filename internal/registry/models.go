package registry

import (
	"time"

	id "datavault/pkg/domain"
)

// Category classifies a personal data item by the kind of data it holds.
type Category string

const (
	CategoryIdentity  Category = "IDENTITY"
	CategoryContact   Category = "CONTACT"
	CategoryFinancial Category = "FINANCIAL"
	CategoryUsage     Category = "USAGE"
	CategoryActivity  Category = "ACTIVITY"
	CategorySensitive Category = "SENSITIVE"
)

// Categories lists every valid category.
var Categories = []Category{
	CategoryIdentity,
	CategoryContact,
	CategoryFinancial,
	CategoryUsage,
	CategoryActivity,
	CategorySensitive,
}

// IsValid checks if the category is one of the supported enum values.
func (c Category) IsValid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// Item is one registered piece of personal data. Items are never hard-deleted;
// erasure flips IsActive and the row stays behind for accountability.
type Item struct {
	ID             id.ItemID
	OwnerID        id.OwnerID
	Category       Category
	FieldName      string
	FieldValue     string
	Purpose        string
	Source         string
	DataController string
	RetentionDays  int
	CollectedAt    time.Time
	IsActive       bool
}

// Filter narrows active-item listings. Search matches case-insensitively
// against field name, field value and purpose.
type Filter struct {
	Category *Category
	Search   string
}

// CreateInput describes a data item to register.
type CreateInput struct {
	Category       Category
	FieldName      string
	FieldValue     string
	Purpose        string
	Source         string
	DataController string
	RetentionDays  int
}

// Stats is the owner's registry dashboard: active inventory, its category
// breakdown, how many consents are currently granted and how much audit
// activity the trailing week saw.
type Stats struct {
	TotalActive    int              `json:"totalActive"`
	ByCategory     map[Category]int `json:"byCategory"`
	ActiveConsents int              `json:"activeConsents"`
	RecentActivity int              `json:"recentActivity"`
}

// EraseResult reports a completed bulk erasure.
type EraseResult struct {
	ErasedCount       int `json:"erasedCount"`
	WithdrawnConsents int `json:"withdrawnConsents"`
}
