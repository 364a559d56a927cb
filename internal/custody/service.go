package custody

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/text/language"

	"github.com/erazemk/makhzan/internal/model"
)

// Labels recorded in AddedBy for items created by a supervisor.
const (
	AddedBySupervisor   = "supervisor"
	AddedByManualIssue  = "supervisor (manual issue)"
	defaultCollationTag = "ar"
)

// ItemStore is the persistent item collection.
type ItemStore interface {
	ListItems(ctx context.Context, filter model.ItemFilter) ([]model.Item, error)
	// GetItem returns nil, nil when the item does not exist.
	GetItem(ctx context.Context, id string) (*model.Item, error)
	CreateItem(ctx context.Context, item model.Item) error
	// UpdateItemStatus applies u only if the item still has u.From,
	// u.FromHolder and u.FromReason. It returns ErrStale when any of them
	// moved and *NotFoundError when the item is gone.
	UpdateItemStatus(ctx context.Context, u ItemUpdate) error
}

// TransactionLog is the append-only custody history.
type TransactionLog interface {
	AppendTransaction(ctx context.Context, txn model.Transaction) error
}

// Transactor is implemented by stores that can commit an item write and
// its log entry together. When the ItemStore passed to New implements it,
// a transition and its transaction are all-or-nothing.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(items ItemStore, log TransactionLog) error) error
}

// Recorder observes completed service operations.
type Recorder interface {
	Observe(ctx context.Context, operation string, units int, err error, d time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) Observe(context.Context, string, int, error, time.Duration) {}

// ItemUpdate is a compare-and-set status change. It applies only while
// the item still has status From, holder FromHolder and rejection reason
// FromReason.
type ItemUpdate struct {
	ID              string
	From            model.ItemStatus
	FromHolder      string
	FromReason      string
	Status          model.ItemStatus
	Holder          string
	RejectionReason string
	At              time.Time
}

// Result lists what a mutating operation changed, in application order.
type Result struct {
	ItemIDs        []string `json:"item_ids"`
	TransactionIDs []string `json:"transaction_ids"`
	// UnloggedItemIDs are items whose state changed but whose log entry
	// could not be written. Only possible without a Transactor.
	UnloggedItemIDs []string `json:"unlogged_item_ids,omitempty"`
}

func (r *Result) add(itemID string, txn model.Transaction, logged bool) {
	r.ItemIDs = append(r.ItemIDs, itemID)
	if logged {
		r.TransactionIDs = append(r.TransactionIDs, txn.ID)
	} else {
		r.UnloggedItemIDs = append(r.UnloggedItemIDs, itemID)
	}
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithIDs replaces the id generator.
func WithIDs(g IDGen) Option {
	return func(s *Service) { s.ids = g }
}

// WithRecorder installs an operation recorder.
func WithRecorder(r Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

// WithCollation sets the language used to order availability buckets.
func WithCollation(tag language.Tag) Option {
	return func(s *Service) { s.tag = tag }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// Service drives items through the custody state machine and keeps the
// transaction log in step with it.
type Service struct {
	items    ItemStore
	log      TransactionLog
	clock    Clock
	ids      IDGen
	recorder Recorder
	logger   *slog.Logger
	tag      language.Tag
}

// New returns a Service over the given stores.
func New(items ItemStore, log TransactionLog, opts ...Option) *Service {
	s := &Service{
		items:    items,
		log:      log,
		clock:    systemClock{},
		recorder: nopRecorder{},
		logger:   slog.Default(),
		tag:      language.MustParse(defaultCollationTag),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.ids == nil {
		s.ids = NewULIDGen(s.clock)
	}
	return s
}

// NewItems describes a batch of identical units to create.
type NewItems struct {
	Name     string
	Category string
	Quantity int
	// Holder is required for a manual issue and ignored when adding stock.
	Holder string
}

// AddItems creates Quantity available units and logs one add_item entry
// per unit.
func (s *Service) AddItems(ctx context.Context, req NewItems) (res Result, err error) {
	defer s.observe(ctx, "add_items", s.clock.Now(), &res, &err)

	name, category, err := cleanKind(req.Name, req.Category)
	if err != nil {
		return Result{}, err
	}
	if err := ValidateQuantity(req.Quantity); err != nil {
		return Result{}, err
	}

	proto := model.Item{
		Name:     name,
		Category: category,
		Status:   model.ItemStatusAvailable,
		AddedBy:  AddedBySupervisor,
	}
	res, err = s.create(ctx, proto, req.Quantity, Effect{Type: model.TransactionAddItem, InstructorName: AddedBySupervisor})
	if err != nil {
		return res, err
	}
	s.logger.Info("items added", "name", name, "category", category, "quantity", req.Quantity)
	return res, nil
}

// ManualIssue creates Quantity units directly in the holder's custody,
// for stock handed over outside the warehouse flow. Each unit is logged
// as a checkout.
func (s *Service) ManualIssue(ctx context.Context, req NewItems) (res Result, err error) {
	defer s.observe(ctx, "manual_issue", s.clock.Now(), &res, &err)

	name, category, err := cleanKind(req.Name, req.Category)
	if err != nil {
		return Result{}, err
	}
	holder := strings.TrimSpace(req.Holder)
	if holder == "" {
		return Result{}, invalid("holder", "required for a manual issue")
	}
	if err := ValidateQuantity(req.Quantity); err != nil {
		return Result{}, err
	}

	proto := model.Item{
		Name:          name,
		Category:      category,
		Status:        model.ItemStatusCheckedOut,
		CurrentHolder: holder,
		AddedBy:       AddedByManualIssue,
	}
	res, err = s.create(ctx, proto, req.Quantity, Effect{Type: model.TransactionCheckout, InstructorName: holder})
	if err != nil {
		return res, err
	}
	s.logger.Info("items issued", "name", name, "category", category, "holder", holder, "quantity", req.Quantity)
	return res, nil
}

func (s *Service) create(ctx context.Context, proto model.Item, n int, eff Effect) (Result, error) {
	var res Result
	for i := 0; i < n; i++ {
		id, err := s.ids.New()
		if err != nil {
			return res, fmt.Errorf("generating item id: %w", err)
		}
		now := s.clock.Now()
		item := proto
		item.ID = id
		item.LastUpdated = now

		txn, err := s.transaction(item, eff, now)
		if err != nil {
			return res, err
		}
		logged, err := s.write(ctx, func(items ItemStore) error {
			return items.CreateItem(ctx, item)
		}, txn)
		if err != nil {
			return res, fmt.Errorf("creating item %d of %d: %w", i+1, n, err)
		}
		res.add(item.ID, txn, logged)
	}
	return res, nil
}

// Checkout moves quantity units of the available (name, category) bucket
// into holder's custody.
func (s *Service) Checkout(ctx context.Context, name, category string, quantity int, holder string) (res Result, err error) {
	defer s.observe(ctx, "checkout", s.clock.Now(), &res, &err)

	if strings.TrimSpace(holder) == "" {
		return Result{}, invalid("holder", "required for checkout")
	}
	res, err = s.batch(ctx, AvailabilityKey(name, category), quantity, Transition{Event: EventCheckout, Holder: holder})
	if err != nil {
		return res, err
	}
	s.logger.Info("items checked out", "name", name, "category", category, "holder", holder, "quantity", quantity)
	return res, nil
}

// RequestReturn marks one item held by holder as waiting for approval.
func (s *Service) RequestReturn(ctx context.Context, itemID, holder string) (res Result, err error) {
	defer s.observe(ctx, "request_return", s.clock.Now(), &res, &err)
	return s.single(ctx, itemID, Transition{Event: EventRequestReturn, Holder: holder})
}

// RequestReturnBatch asks to return quantity units of holder's checked out
// bucket k. k must be a checked_out custody key belonging to holder.
func (s *Service) RequestReturnBatch(ctx context.Context, k Key, quantity int, holder string) (res Result, err error) {
	defer s.observe(ctx, "request_return", s.clock.Now(), &res, &err)

	if k.Status != model.ItemStatusCheckedOut {
		return Result{}, invalid("status", "only checked out items can be returned, got %q", k.Status)
	}
	if k.Holder != holder {
		return Result{}, invalid("holder", "bucket belongs to %q, not %q", k.Holder, holder)
	}
	return s.batch(ctx, k, quantity, Transition{Event: EventRequestReturn, Holder: holder})
}

// ApproveReturn puts one item back on the shelf. Items still checked out
// can be received directly without a prior request.
func (s *Service) ApproveReturn(ctx context.Context, itemID string) (res Result, err error) {
	defer s.observe(ctx, "approve_return", s.clock.Now(), &res, &err)
	return s.single(ctx, itemID, Transition{Event: EventApproveReturn})
}

// ApproveReturnBatch approves quantity units of custody bucket k.
func (s *Service) ApproveReturnBatch(ctx context.Context, k Key, quantity int) (res Result, err error) {
	defer s.observe(ctx, "approve_return", s.clock.Now(), &res, &err)

	if !Allowed(k.Status, EventApproveReturn) {
		return Result{}, invalid("status", "cannot approve a return from status %q", k.Status)
	}
	return s.batch(ctx, k, quantity, Transition{Event: EventApproveReturn})
}

// RejectReturn sends one pending item back to its holder with a reason.
func (s *Service) RejectReturn(ctx context.Context, itemID, reason string) (res Result, err error) {
	defer s.observe(ctx, "reject_return", s.clock.Now(), &res, &err)
	return s.single(ctx, itemID, Transition{Event: EventRejectReturn, Reason: reason})
}

// AvailableBuckets lists what can be checked out right now.
func (s *Service) AvailableBuckets(ctx context.Context) ([]Bucket, error) {
	items, err := s.items.ListItems(ctx, model.ItemFilter{Status: model.ItemStatusAvailable})
	if err != nil {
		return nil, fmt.Errorf("listing available items: %w", err)
	}
	return AvailableBuckets(items, s.tag), nil
}

// CustodyBuckets lists items in custody, for one holder or for everyone
// when holder is empty.
func (s *Service) CustodyBuckets(ctx context.Context, holder string) ([]Bucket, error) {
	items, err := s.items.ListItems(ctx, model.ItemFilter{Holder: holder})
	if err != nil {
		return nil, fmt.Errorf("listing items in custody: %w", err)
	}
	return CustodyBuckets(items, holder), nil
}

// Stats counts items per status.
func (s *Service) Stats(ctx context.Context) (model.Stats, error) {
	items, err := s.items.ListItems(ctx, model.ItemFilter{})
	if err != nil {
		return model.Stats{}, fmt.Errorf("listing items: %w", err)
	}
	return Tally(items), nil
}

func (s *Service) single(ctx context.Context, itemID string, t Transition) (Result, error) {
	it, err := s.items.GetItem(ctx, itemID)
	if err != nil {
		return Result{}, fmt.Errorf("getting item %s: %w", itemID, err)
	}
	if it == nil {
		return Result{}, &NotFoundError{ItemID: itemID}
	}

	txn, logged, err := s.transition(ctx, *it, t)
	if err != nil {
		return Result{}, err
	}
	var res Result
	res.add(it.ID, txn, logged)
	s.logger.Info("item transitioned", "item", it.ID, "event", t.Event, "holder", it.CurrentHolder)
	return res, nil
}

// batch allocates n members of bucket k and applies t to each in order.
// Allocation failures leave everything untouched. A failure part way
// through keeps the items already moved and reports them.
func (s *Service) batch(ctx context.Context, k Key, n int, t Transition) (Result, error) {
	if k.Name == "" {
		return Result{}, invalid("name", "required")
	}
	if k.Category == "" {
		return Result{}, invalid("category", "required")
	}
	if err := ValidateQuantity(n); err != nil {
		return Result{}, err
	}
	items, err := s.items.ListItems(ctx, model.ItemFilter{Name: k.Name, Category: k.Category, Status: k.Status})
	if err != nil {
		return Result{}, fmt.Errorf("listing items: %w", err)
	}
	alloc, err := Allocate(items, k, n)
	if err != nil {
		return Result{}, err
	}

	var res Result
	for _, it := range alloc.Items {
		txn, logged, err := s.transition(ctx, it, t)
		if err != nil {
			if len(res.ItemIDs) == 0 {
				return res, err
			}
			s.logger.Warn("batch stopped part way",
				"event", t.Event, "requested", n, "succeeded", len(res.ItemIDs), "item", it.ID, "error", err)
			return res, &PartialAllocationError{
				Event:          t.Event,
				Requested:      n,
				Succeeded:      res.ItemIDs,
				TransactionIDs: res.TransactionIDs,
				FailedItemID:   it.ID,
				Err:            err,
			}
		}
		res.add(it.ID, txn, logged)
	}
	return res, nil
}

func (s *Service) transition(ctx context.Context, it model.Item, t Transition) (model.Transaction, bool, error) {
	now := s.clock.Now()
	next, eff, err := Apply(it, t, now)
	if err != nil {
		return model.Transaction{}, false, err
	}
	txn, err := s.transaction(it, eff, now)
	if err != nil {
		return model.Transaction{}, false, err
	}

	u := ItemUpdate{
		ID:              it.ID,
		From:            it.Status,
		FromHolder:      it.CurrentHolder,
		FromReason:      it.RejectionReason,
		Status:          next.Status,
		Holder:          next.CurrentHolder,
		RejectionReason: next.RejectionReason,
		At:              now,
	}
	logged, err := s.write(ctx, func(items ItemStore) error {
		return items.UpdateItemStatus(ctx, u)
	}, txn)
	if err != nil {
		return model.Transaction{}, false, s.explain(ctx, it.ID, t, err)
	}
	return txn, logged, nil
}

// appendError marks a failed log append inside a Transactor.
type appendError struct {
	itemID string
	err    error
}

func (e *appendError) Error() string {
	return fmt.Sprintf("recording transition for item %s: %v", e.itemID, e.err)
}

func (e *appendError) Unwrap() error { return e.err }

// explain turns a failed conditional write into the error the caller
// should see: a stale write means the item is no longer in the state
// that was read, so the event is reported against its current status.
func (s *Service) explain(ctx context.Context, itemID string, t Transition, err error) error {
	var nf *NotFoundError
	if errors.As(err, &nf) {
		return err
	}
	var ae *appendError
	if errors.As(err, &ae) {
		return err
	}
	if !errors.Is(err, ErrStale) {
		return fmt.Errorf("updating item %s: %w", itemID, err)
	}
	current, gerr := s.items.GetItem(ctx, itemID)
	if gerr != nil {
		return fmt.Errorf("updating item %s: %w", itemID, err)
	}
	if current == nil {
		return &NotFoundError{ItemID: itemID}
	}
	// Same status but a new holder: report why the event no longer fits.
	if _, _, aerr := Apply(*current, t, s.clock.Now()); aerr != nil {
		return aerr
	}
	return &InvalidTransitionError{ItemID: itemID, Status: current.Status, Event: t.Event}
}

// write runs mutate and appends txn. With a Transactor both commit or
// neither does. Without one the log append is best effort: a failure is
// reported through logged=false and does not undo the item change.
func (s *Service) write(ctx context.Context, mutate func(ItemStore) error, txn model.Transaction) (logged bool, err error) {
	if tx, ok := s.items.(Transactor); ok {
		err := tx.WithinTx(ctx, func(items ItemStore, log TransactionLog) error {
			if err := mutate(items); err != nil {
				return err
			}
			if err := log.AppendTransaction(ctx, txn); err != nil {
				return &appendError{itemID: txn.ItemID, err: err}
			}
			return nil
		})
		return err == nil, err
	}

	if err := mutate(s.items); err != nil {
		return false, err
	}
	start := s.clock.Now()
	if err := s.log.AppendTransaction(ctx, txn); err != nil {
		s.logger.Error("failed to append transaction",
			"item", txn.ItemID, "type", txn.Type, "error", err)
		s.recorder.Observe(ctx, "append_transaction", 1, err, s.clock.Now().Sub(start))
		return false, nil
	}
	return true, nil
}

func (s *Service) transaction(it model.Item, eff Effect, now time.Time) (model.Transaction, error) {
	id, err := s.ids.New()
	if err != nil {
		return model.Transaction{}, fmt.Errorf("generating transaction id: %w", err)
	}
	return model.Transaction{
		ID:             id,
		ItemID:         it.ID,
		ItemName:       it.Name,
		InstructorName: eff.InstructorName,
		Type:           eff.Type,
		Timestamp:      now,
		Notes:          eff.Notes,
	}, nil
}

func (s *Service) observe(ctx context.Context, op string, start time.Time, res *Result, err *error) {
	s.recorder.Observe(ctx, op, len(res.ItemIDs), *err, s.clock.Now().Sub(start))
}

// CleanText trims s and removes angle brackets.
func CleanText(s string) string {
	return strings.TrimSpace(strings.NewReplacer("<", "", ">", "").Replace(s))
}

func cleanKind(name, category string) (string, string, error) {
	name, category = CleanText(name), CleanText(category)
	if name == "" {
		return "", "", invalid("name", "required")
	}
	if category == "" {
		return "", "", invalid("category", "required")
	}
	return name, category, nil
}
