package custody

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/erazemk/makhzan/internal/model"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

// stepClock advances one second on every reading.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

// seqIDs hands out zero-padded sequential ids so ordering is obvious.
type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDs) New() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%06d", g.n), nil
}

// memStore is an in-memory ItemStore and TransactionLog.
type memStore struct {
	mu    sync.Mutex
	items map[string]model.Item
	log   []model.Transaction

	// beforeUpdate runs before every conditional update, outside the lock.
	beforeUpdate func(u ItemUpdate)
	appendErr    error
}

func newMemStore() *memStore {
	return &memStore{items: make(map[string]model.Item)}
}

func (m *memStore) ListItems(_ context.Context, f model.ItemFilter) ([]model.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Item
	for _, it := range m.items {
		if f.Status != "" && it.Status != f.Status {
			continue
		}
		if f.Holder != "" && it.CurrentHolder != f.Holder {
			continue
		}
		if f.Name != "" && it.Name != f.Name {
			continue
		}
		if f.Category != "" && it.Category != f.Category {
			continue
		}
		out = append(out, it)
	}
	// Map iteration order is random; the service must not depend on it,
	// but a stable listing makes failures easier to read.
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *memStore) GetItem(_ context.Context, id string) (*model.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[id]
	if !ok {
		return nil, nil
	}
	return &it, nil
}

func (m *memStore) CreateItem(_ context.Context, it model.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[it.ID]; ok {
		return fmt.Errorf("duplicate id %s", it.ID)
	}
	m.items[it.ID] = it
	return nil
}

func (m *memStore) UpdateItemStatus(_ context.Context, u ItemUpdate) error {
	if m.beforeUpdate != nil {
		m.beforeUpdate(u)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[u.ID]
	if !ok {
		return &NotFoundError{ItemID: u.ID}
	}
	if it.Status != u.From || it.CurrentHolder != u.FromHolder || it.RejectionReason != u.FromReason {
		return ErrStale
	}
	it.Status = u.Status
	it.CurrentHolder = u.Holder
	it.RejectionReason = u.RejectionReason
	it.LastUpdated = u.At
	m.items[u.ID] = it
	return nil
}

func (m *memStore) AppendTransaction(_ context.Context, txn model.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return m.appendErr
	}
	m.log = append(m.log, txn)
	return nil
}

// set overwrites an item directly, bypassing the state machine.
func (m *memStore) set(it model.Item) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[it.ID] = it
}

func (m *memStore) get(id string) model.Item {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.items[id]
}

func (m *memStore) transactions() []model.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Transaction(nil), m.log...)
}

// txStore wraps memStore with all-or-nothing writes.
type txStore struct {
	*memStore
}

func (s txStore) WithinTx(ctx context.Context, fn func(ItemStore, TransactionLog) error) error {
	s.mu.Lock()
	items := make(map[string]model.Item, len(s.items))
	for k, v := range s.items {
		items[k] = v
	}
	logLen := len(s.log)
	s.mu.Unlock()

	if err := fn(s.memStore, s.memStore); err != nil {
		s.mu.Lock()
		s.items = items
		s.log = s.log[:logLen]
		s.mu.Unlock()
		return err
	}
	return nil
}

// countingRecorder remembers every observation.
type countingRecorder struct {
	mu   sync.Mutex
	ops  []string
	errs []error
}

func (r *countingRecorder) Observe(_ context.Context, op string, _ int, err error, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, op)
	r.errs = append(r.errs, err)
}

var errLogDown = errors.New("log unavailable")

func newTestService(store ItemStore, log TransactionLog, opts ...Option) *Service {
	base := []Option{
		WithClock(&stepClock{now: t0}),
		WithIDs(&seqIDs{}),
	}
	return New(store, log, append(base, opts...)...)
}
