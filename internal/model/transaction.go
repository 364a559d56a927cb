package model

import "time"

// TransactionType identifies the custody event a log entry records.
type TransactionType string

// Transaction types.
const (
	TransactionAddItem        TransactionType = "add_item"
	TransactionCheckout       TransactionType = "checkout"
	TransactionReturn         TransactionType = "return"
	TransactionReturnRequest  TransactionType = "return_request"
	TransactionReturnRejected TransactionType = "return_rejected"
)

// Valid reports whether t is one of the known transaction types.
func (t TransactionType) Valid() bool {
	switch t {
	case TransactionAddItem, TransactionCheckout, TransactionReturn, TransactionReturnRequest, TransactionReturnRejected:
		return true
	}
	return false
}

// Transaction is an immutable entry in the custody log.
// ItemName is copied at write time and is not updated if the item is renamed.
type Transaction struct {
	ID             string          `json:"id"`
	ItemID         string          `json:"item_id"`
	ItemName       string          `json:"item_name"`
	InstructorName string          `json:"instructor_name"`
	Type           TransactionType `json:"type"`
	Timestamp      time.Time       `json:"timestamp"`
	Notes          string          `json:"notes,omitempty"`
}

// TransactionFilter narrows a transaction listing. Zero values match everything.
type TransactionFilter struct {
	ItemID         string
	InstructorName string
	Types          []TransactionType
	Limit          int
}

// Stats summarises the current item collection.
type Stats struct {
	Total         int `json:"total"`
	Available     int `json:"available"`
	CheckedOut    int `json:"checked_out"`
	PendingReturn int `json:"pending_return"`
	Maintenance   int `json:"maintenance"`
}
