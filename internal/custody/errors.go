package custody

import (
	"errors"
	"fmt"

	"github.com/erazemk/makhzan/internal/model"
)

// Kind classifies custody errors so callers can render them without
// string matching.
type Kind string

// Error kinds.
const (
	KindInvalidTransition    Kind = "invalid_transition"
	KindInsufficientQuantity Kind = "insufficient_quantity"
	KindPartialAllocation    Kind = "partial_allocation"
	KindNotFound             Kind = "not_found"
	KindValidation           Kind = "validation"
)

// ErrStale is returned by an ItemStore when a conditional update finds the
// item in a different status, holder or rejection reason than expected.
var ErrStale = errors.New("item state changed concurrently")

// InvalidTransitionError reports an event that is illegal for the item's
// current status. Nothing was written.
type InvalidTransitionError struct {
	ItemID string           `json:"item_id"`
	Status model.ItemStatus `json:"status"`
	Event  Event            `json:"event"`
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot %s item %s in status %s", e.Event, e.ItemID, e.Status)
}

// Kind implements the kinded error contract.
func (e *InvalidTransitionError) Kind() Kind { return KindInvalidTransition }

// InsufficientQuantityError reports a batch larger than the live bucket.
// No item was transitioned.
type InsufficientQuantityError struct {
	Key       Key `json:"key"`
	Requested int `json:"requested"`
	Available int `json:"available"`
}

func (e *InsufficientQuantityError) Error() string {
	return fmt.Sprintf("insufficient quantity of %q (%s): requested %d, available %d",
		e.Key.Name, e.Key.Category, e.Requested, e.Available)
}

// Kind implements the kinded error contract.
func (e *InsufficientQuantityError) Kind() Kind { return KindInsufficientQuantity }

// PartialAllocationError reports a batch that stopped part way because an
// item was moved by someone else. Succeeded lists the items that did
// transition; they are not rolled back.
type PartialAllocationError struct {
	Event          Event    `json:"event"`
	Requested      int      `json:"requested"`
	Succeeded      []string `json:"succeeded"`
	TransactionIDs []string `json:"transaction_ids"`
	FailedItemID   string   `json:"failed_item_id"`
	Err            error    `json:"-"`
}

func (e *PartialAllocationError) Error() string {
	return fmt.Sprintf("%s stopped after %d of %d items at item %s: %v",
		e.Event, len(e.Succeeded), e.Requested, e.FailedItemID, e.Err)
}

func (e *PartialAllocationError) Unwrap() error { return e.Err }

// Kind implements the kinded error contract.
func (e *PartialAllocationError) Kind() Kind { return KindPartialAllocation }

// Deficit is the number of requested items that were not transitioned.
func (e *PartialAllocationError) Deficit() int {
	return e.Requested - len(e.Succeeded)
}

// NotFoundError reports an item id that does not exist.
type NotFoundError struct {
	ItemID string `json:"item_id"`
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("item %s not found", e.ItemID)
}

// Kind implements the kinded error contract.
func (e *NotFoundError) Kind() Kind { return KindNotFound }

// ValidationError reports malformed input.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// Kind implements the kinded error contract.
func (e *ValidationError) Kind() Kind { return KindValidation }

// KindOf returns the kind of the first custody error in err's chain, or ""
// for errors that did not originate in this package.
func KindOf(err error) Kind {
	var k interface{ Kind() Kind }
	if errors.As(err, &k) {
		return k.Kind()
	}
	return ""
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}
