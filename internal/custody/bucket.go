package custody

import (
	"sort"
	"strings"
	"time"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/erazemk/makhzan/internal/model"
)

// Key identifies a bucket of interchangeable items. Availability buckets set
// Name, Category and Status; custody buckets additionally set Holder and
// RejectionReason.
type Key struct {
	Name            string           `json:"name"`
	Category        string           `json:"category"`
	Status          model.ItemStatus `json:"status"`
	Holder          string           `json:"holder,omitempty"`
	RejectionReason string           `json:"rejection_reason,omitempty"`
}

// AvailabilityKey is the key of the available bucket for one kind of item.
func AvailabilityKey(name, category string) Key {
	return Key{Name: name, Category: category, Status: model.ItemStatusAvailable}
}

// CustodyKeyOf is the custody bucket key an item falls into.
func CustodyKeyOf(it model.Item) Key {
	return Key{
		Name:            it.Name,
		Category:        it.Category,
		Status:          it.Status,
		Holder:          it.CurrentHolder,
		RejectionReason: it.RejectionReason,
	}
}

// Matches reports whether it belongs to the bucket identified by k.
// Holder and rejection reason only take part for items in custody.
func (k Key) Matches(it model.Item) bool {
	if it.Name != k.Name || it.Category != k.Category || it.Status != k.Status {
		return false
	}
	if k.Status.InCustody() {
		return it.CurrentHolder == k.Holder && it.RejectionReason == k.RejectionReason
	}
	return true
}

// Bucket is a derived group of items sharing a Key. It is a snapshot:
// MemberIDs are only meaningful against the item list it was built from.
type Bucket struct {
	Key              Key        `json:"key"`
	Representative   model.Item `json:"representative"`
	Count            int        `json:"count"`
	MemberIDs        []string   `json:"member_ids"`
	MostRecentUpdate time.Time  `json:"most_recent_update"`
}

// group collects the items accepted by include into buckets keyed by keyOf.
// Members are ordered by id so that allocation over a snapshot is
// reproducible.
func group(items []model.Item, include func(model.Item) bool, keyOf func(model.Item) Key) []Bucket {
	index := make(map[Key]int)
	var buckets []Bucket
	var members [][]model.Item

	for _, it := range items {
		if !include(it) {
			continue
		}
		k := keyOf(it)
		i, ok := index[k]
		if !ok {
			i = len(buckets)
			index[k] = i
			buckets = append(buckets, Bucket{Key: k})
			members = append(members, nil)
		}
		members[i] = append(members[i], it)
	}

	for i := range buckets {
		ms := members[i]
		sort.Slice(ms, func(a, b int) bool { return ms[a].ID < ms[b].ID })
		b := &buckets[i]
		b.Representative = ms[0]
		b.Count = len(ms)
		b.MemberIDs = make([]string, len(ms))
		for j, it := range ms {
			b.MemberIDs[j] = it.ID
			if it.LastUpdated.After(b.MostRecentUpdate) {
				b.MostRecentUpdate = it.LastUpdated
			}
		}
	}
	return buckets
}

// AvailableBuckets groups available items by (name, category) and orders
// them by name using the collation rules of tag.
func AvailableBuckets(items []model.Item, tag language.Tag) []Bucket {
	buckets := group(items,
		func(it model.Item) bool { return it.Status == model.ItemStatusAvailable },
		func(it model.Item) Key { return AvailabilityKey(it.Name, it.Category) },
	)

	// A Collator keeps internal buffers and must not be shared between goroutines.
	col := collate.New(tag)
	sort.SliceStable(buckets, func(i, j int) bool {
		a, b := buckets[i].Key, buckets[j].Key
		if c := col.CompareString(a.Name, b.Name); c != 0 {
			return c < 0
		}
		if c := col.CompareString(a.Category, b.Category); c != 0 {
			return c < 0
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.Category < b.Category
	})
	return buckets
}

// CustodyBuckets groups items in custody by (name, category, status,
// rejection reason) for one holder, or for every holder when holder is
// empty. The most recently touched bucket comes first.
func CustodyBuckets(items []model.Item, holder string) []Bucket {
	buckets := group(items,
		func(it model.Item) bool {
			return it.Status.InCustody() && (holder == "" || it.CurrentHolder == holder)
		},
		CustodyKeyOf,
	)

	sort.SliceStable(buckets, func(i, j int) bool {
		a, b := buckets[i], buckets[j]
		if !a.MostRecentUpdate.Equal(b.MostRecentUpdate) {
			return a.MostRecentUpdate.After(b.MostRecentUpdate)
		}
		ka, kb := a.Key, b.Key
		if ka.Name != kb.Name {
			return ka.Name < kb.Name
		}
		if ka.Category != kb.Category {
			return ka.Category < kb.Category
		}
		if ka.Holder != kb.Holder {
			return ka.Holder < kb.Holder
		}
		if ka.Status != kb.Status {
			return ka.Status < kb.Status
		}
		return ka.RejectionReason < kb.RejectionReason
	})
	return buckets
}

// Resolve builds the single bucket for k from the live item list. The
// returned bucket has Count 0 when nothing matches.
func Resolve(items []model.Item, k Key) Bucket {
	found := group(items, k.Matches, func(model.Item) Key { return k })
	if len(found) == 0 {
		return Bucket{Key: k}
	}
	return found[0]
}

// Search keeps the buckets whose item name or holder contains q.
// An empty q keeps everything.
func Search(buckets []Bucket, q string) []Bucket {
	q = strings.TrimSpace(q)
	if q == "" {
		return buckets
	}
	var out []Bucket
	for _, b := range buckets {
		if strings.Contains(b.Key.Name, q) || strings.Contains(b.Key.Holder, q) {
			out = append(out, b)
		}
	}
	return out
}

// Tally counts items per status.
func Tally(items []model.Item) model.Stats {
	var s model.Stats
	for _, it := range items {
		s.Total++
		switch it.Status {
		case model.ItemStatusAvailable:
			s.Available++
		case model.ItemStatusCheckedOut:
			s.CheckedOut++
		case model.ItemStatusPendingReturn:
			s.PendingReturn++
		case model.ItemStatusMaintenance:
			s.Maintenance++
		}
	}
	return s
}
