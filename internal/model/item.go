package model

import "time"

// ItemStatus is the custody state of a single physical unit.
type ItemStatus string

// Item statuses.
const (
	ItemStatusAvailable     ItemStatus = "available"
	ItemStatusCheckedOut    ItemStatus = "checked_out"
	ItemStatusPendingReturn ItemStatus = "pending_return"
	ItemStatusMaintenance   ItemStatus = "maintenance"
)

// Valid reports whether s is one of the known statuses.
func (s ItemStatus) Valid() bool {
	switch s {
	case ItemStatusAvailable, ItemStatusCheckedOut, ItemStatusPendingReturn, ItemStatusMaintenance:
		return true
	}
	return false
}

// InCustody reports whether an item in this status must have a holder.
func (s ItemStatus) InCustody() bool {
	return s == ItemStatusCheckedOut || s == ItemStatusPendingReturn
}

// Item represents one physical unit (individually tracked, not quantity-based).
type Item struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	Category        string     `json:"category"`
	Status          ItemStatus `json:"status"`
	CurrentHolder   string     `json:"current_holder,omitempty"`
	RejectionReason string     `json:"rejection_reason,omitempty"`
	LastUpdated     time.Time  `json:"last_updated"`
	AddedBy         string     `json:"added_by,omitempty"`
	ImageMime       string     `json:"image_mime,omitempty"`
}

// SameKind reports whether two items are interchangeable units of one kind.
// Comparison is exact: no case folding or whitespace normalisation.
func (i Item) SameKind(other Item) bool {
	return i.Name == other.Name && i.Category == other.Category
}

// ItemFilter narrows an item listing. Zero values match everything.
type ItemFilter struct {
	Status   ItemStatus
	Holder   string
	Name     string
	Category string
}

// Holding is the number of units of one kind a holder has in one status.
type Holding struct {
	Holder   string     `json:"holder"`
	Name     string     `json:"name"`
	Category string     `json:"category"`
	Status   ItemStatus `json:"status"`
	Count    int        `json:"count"`
}
