package custody

import (
	"github.com/erazemk/makhzan/internal/model"
)

// Batch size limits for any quantity-based request.
const (
	MinQuantity = 1
	MaxQuantity = 100
)

// Allocation is the set of concrete items chosen to satisfy a request for
// Requested units of a bucket.
type Allocation struct {
	Key       Key
	Requested int
	Available int
	Items     []model.Item
}

// ItemIDs returns the ids of the allocated items in application order.
func (a Allocation) ItemIDs() []string {
	ids := make([]string, len(a.Items))
	for i, it := range a.Items {
		ids[i] = it.ID
	}
	return ids
}

// ValidateQuantity rejects quantities outside [MinQuantity, MaxQuantity].
func ValidateQuantity(n int) error {
	if n < MinQuantity || n > MaxQuantity {
		return invalid("quantity", "must be between %d and %d, got %d", MinQuantity, MaxQuantity, n)
	}
	return nil
}

// Allocate picks n members of the bucket k from the live item list. It
// never returns fewer than n items: a short bucket is an
// InsufficientQuantityError and nothing is allocated.
func Allocate(items []model.Item, k Key, n int) (Allocation, error) {
	if err := ValidateQuantity(n); err != nil {
		return Allocation{}, err
	}

	b := Resolve(items, k)
	if n > b.Count {
		return Allocation{}, &InsufficientQuantityError{Key: k, Requested: n, Available: b.Count}
	}

	byID := make(map[string]model.Item, b.Count)
	for _, it := range items {
		byID[it.ID] = it
	}

	a := Allocation{Key: k, Requested: n, Available: b.Count, Items: make([]model.Item, 0, n)}
	for _, id := range b.MemberIDs[:n] {
		a.Items = append(a.Items, byID[id])
	}
	return a, nil
}
