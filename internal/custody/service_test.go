package custody

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/erazemk/makhzan/internal/model"
)

func addDrills(t *testing.T, svc *Service, n int) Result {
	t.Helper()
	res, err := svc.AddItems(context.Background(), NewItems{Name: "Drill", Category: "Power Tools", Quantity: n})
	if err != nil {
		t.Fatalf("AddItems: %v", err)
	}
	return res
}

func countStatus(m *memStore, s model.ItemStatus, holder string) int {
	items, _ := m.ListItems(context.Background(), model.ItemFilter{Status: s, Holder: holder})
	return len(items)
}

func TestAddItems(t *testing.T) {
	m := newMemStore()
	svc := newTestService(m, m)

	res, err := svc.AddItems(context.Background(), NewItems{Name: " <Drill> ", Category: "Power Tools", Quantity: 3})
	if err != nil {
		t.Fatalf("AddItems: %v", err)
	}
	if len(res.ItemIDs) != 3 || len(res.TransactionIDs) != 3 {
		t.Fatalf("expected 3 items and 3 transactions, got %+v", res)
	}
	for _, id := range res.ItemIDs {
		it := m.get(id)
		if it.Name != "Drill" {
			t.Errorf("expected cleaned name 'Drill', got %q", it.Name)
		}
		if it.Status != model.ItemStatusAvailable || it.CurrentHolder != "" {
			t.Errorf("new item not available: %+v", it)
		}
		if it.AddedBy != AddedBySupervisor {
			t.Errorf("expected added_by %q, got %q", AddedBySupervisor, it.AddedBy)
		}
	}
	for _, txn := range m.transactions() {
		if txn.Type != model.TransactionAddItem {
			t.Errorf("expected add_item, got %s", txn.Type)
		}
	}
}

func TestAddItemsValidation(t *testing.T) {
	m := newMemStore()
	svc := newTestService(m, m)
	ctx := context.Background()

	cases := []NewItems{
		{Name: "<>", Category: "Tools", Quantity: 1},
		{Name: "Drill", Category: " ", Quantity: 1},
		{Name: "Drill", Category: "Tools", Quantity: 0},
		{Name: "Drill", Category: "Tools", Quantity: 101},
	}
	for _, c := range cases {
		if _, err := svc.AddItems(ctx, c); KindOf(err) != KindValidation {
			t.Errorf("%+v: expected validation error, got %v", c, err)
		}
	}
	if len(m.items) != 0 || len(m.log) != 0 {
		t.Error("validation failures must not write anything")
	}
}

func TestManualIssue(t *testing.T) {
	m := newMemStore()
	svc := newTestService(m, m)
	ctx := context.Background()

	res, err := svc.ManualIssue(ctx, NewItems{Name: "Ladder", Category: "Access", Quantity: 2, Holder: "Sara"})
	if err != nil {
		t.Fatalf("ManualIssue: %v", err)
	}
	if len(res.ItemIDs) != 2 {
		t.Fatalf("expected 2 items, got %d", len(res.ItemIDs))
	}
	for _, id := range res.ItemIDs {
		it := m.get(id)
		if it.Status != model.ItemStatusCheckedOut || it.CurrentHolder != "Sara" {
			t.Errorf("expected checked out to Sara, got %+v", it)
		}
	}
	for _, txn := range m.transactions() {
		if txn.Type != model.TransactionCheckout || txn.InstructorName != "Sara" {
			t.Errorf("expected checkout logged for Sara, got %+v", txn)
		}
	}

	if _, err := svc.ManualIssue(ctx, NewItems{Name: "Ladder", Category: "Access", Quantity: 1}); KindOf(err) != KindValidation {
		t.Errorf("expected validation error without holder, got %v", err)
	}
}

func TestDrillScenario(t *testing.T) {
	m := newMemStore()
	svc := newTestService(m, m)
	ctx := context.Background()
	addDrills(t, svc, 5)
	logBefore := len(m.transactions())

	res, err := svc.Checkout(ctx, "Drill", "Power Tools", 3, "Ahmed")
	if err != nil {
		t.Fatalf("Checkout Ahmed: %v", err)
	}
	if len(res.ItemIDs) != 3 || len(res.TransactionIDs) != 3 {
		t.Errorf("expected 3 items and transactions, got %+v", res)
	}
	if got := countStatus(m, model.ItemStatusAvailable, ""); got != 2 {
		t.Errorf("expected 2 available, got %d", got)
	}
	if got := countStatus(m, model.ItemStatusCheckedOut, "Ahmed"); got != 3 {
		t.Errorf("expected 3 checked out to Ahmed, got %d", got)
	}
	if got := len(m.transactions()) - logBefore; got != 3 {
		t.Errorf("expected 3 new transactions, got %d", got)
	}

	snapshot := make(map[string]model.Item)
	for k, v := range m.items {
		snapshot[k] = v
	}
	logLen := len(m.transactions())

	_, err = svc.Checkout(ctx, "Drill", "Power Tools", 3, "Sara")
	var iq *InsufficientQuantityError
	if !errors.As(err, &iq) {
		t.Fatalf("expected InsufficientQuantityError, got %v", err)
	}
	if iq.Requested != 3 || iq.Available != 2 {
		t.Errorf("expected requested=3 available=2, got %+v", iq)
	}
	for id, before := range snapshot {
		if m.get(id) != before {
			t.Errorf("item %s changed after failed checkout", id)
		}
	}
	if len(m.transactions()) != logLen {
		t.Error("failed checkout wrote transactions")
	}
}

func TestCheckoutRequestApproveCycle(t *testing.T) {
	m := newMemStore()
	svc := newTestService(m, m)
	ctx := context.Background()
	added := addDrills(t, svc, 1)
	id := added.ItemIDs[0]

	if _, err := svc.Checkout(ctx, "Drill", "Power Tools", 1, "Ahmed"); err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if _, err := svc.RequestReturn(ctx, id, "Ahmed"); err != nil {
		t.Fatalf("RequestReturn: %v", err)
	}
	if _, err := svc.ApproveReturn(ctx, id); err != nil {
		t.Fatalf("ApproveReturn: %v", err)
	}

	it := m.get(id)
	if it.Status != model.ItemStatusAvailable || it.CurrentHolder != "" || it.RejectionReason != "" {
		t.Errorf("expected clean available item, got %+v", it)
	}

	var types []model.TransactionType
	for _, txn := range m.transactions() {
		if txn.ItemID == id && txn.Type != model.TransactionAddItem {
			types = append(types, txn.Type)
		}
	}
	want := []model.TransactionType{model.TransactionCheckout, model.TransactionReturnRequest, model.TransactionReturn}
	if len(types) != len(want) {
		t.Fatalf("expected %v, got %v", want, types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("transaction %d: expected %s, got %s", i, want[i], types[i])
		}
	}
}

func TestApproveTwiceFails(t *testing.T) {
	m := newMemStore()
	svc := newTestService(m, m)
	ctx := context.Background()
	id := addDrills(t, svc, 1).ItemIDs[0]
	svc.Checkout(ctx, "Drill", "Power Tools", 1, "Ahmed")

	if _, err := svc.ApproveReturn(ctx, id); err != nil {
		t.Fatalf("first approve: %v", err)
	}
	logLen := len(m.transactions())

	_, err := svc.ApproveReturn(ctx, id)
	var ite *InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
	if ite.Status != model.ItemStatusAvailable || ite.Event != EventApproveReturn || ite.ItemID != id {
		t.Errorf("unexpected error detail: %+v", ite)
	}
	if len(m.transactions()) != logLen {
		t.Error("second approve wrote a transaction")
	}
}

func TestRejectedReturnIsDistinctBucket(t *testing.T) {
	m := newMemStore()
	svc := newTestService(m, m)
	ctx := context.Background()
	addDrills(t, svc, 2)

	res, err := svc.Checkout(ctx, "Drill", "Power Tools", 2, "Ahmed")
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	id := res.ItemIDs[0]
	if _, err := svc.RequestReturn(ctx, id, "Ahmed"); err != nil {
		t.Fatalf("RequestReturn: %v", err)
	}
	if _, err := svc.RejectReturn(ctx, id, "damaged"); err != nil {
		t.Fatalf("RejectReturn: %v", err)
	}

	buckets, err := svc.CustodyBuckets(ctx, "Ahmed")
	if err != nil {
		t.Fatalf("CustodyBuckets: %v", err)
	}
	if len(buckets) != 2 {
		t.Fatalf("expected 2 custody buckets, got %d", len(buckets))
	}
	if buckets[0].Key.RejectionReason != "damaged" || buckets[0].Count != 1 {
		t.Errorf("expected rejected bucket first with one item, got %+v", buckets[0])
	}
	if buckets[1].Key.RejectionReason != "" || buckets[1].Count != 1 {
		t.Errorf("expected clean bucket with one item, got %+v", buckets[1])
	}

	last := m.transactions()[len(m.transactions())-1]
	if last.Type != model.TransactionReturnRejected || last.Notes != "damaged" {
		t.Errorf("expected return_rejected with notes, got %+v", last)
	}

	// Approving the rejected unit directly clears the reason.
	if _, err := svc.ApproveReturn(ctx, id); err != nil {
		t.Fatalf("ApproveReturn: %v", err)
	}
	if got := m.get(id); got.RejectionReason != "" || got.Status != model.ItemStatusAvailable {
		t.Errorf("expected reason cleared, got %+v", got)
	}
}

func TestRequestReturnWrongHolder(t *testing.T) {
	m := newMemStore()
	svc := newTestService(m, m)
	ctx := context.Background()
	id := addDrills(t, svc, 1).ItemIDs[0]
	svc.Checkout(ctx, "Drill", "Power Tools", 1, "Ahmed")

	if _, err := svc.RequestReturn(ctx, id, "Sara"); KindOf(err) != KindValidation {
		t.Errorf("expected validation error, got %v", err)
	}
	if m.get(id).Status != model.ItemStatusCheckedOut {
		t.Error("item changed after rejected request")
	}
}

func TestSingleItemNotFound(t *testing.T) {
	m := newMemStore()
	svc := newTestService(m, m)

	_, err := svc.ApproveReturn(context.Background(), "missing")
	var nf *NotFoundError
	if !errors.As(err, &nf) || nf.ItemID != "missing" {
		t.Errorf("expected NotFoundError for 'missing', got %v", err)
	}
}

func TestBatchReturnFlow(t *testing.T) {
	m := newMemStore()
	svc := newTestService(m, m)
	ctx := context.Background()
	addDrills(t, svc, 4)
	svc.Checkout(ctx, "Drill", "Power Tools", 4, "Ahmed")

	k := Key{Name: "Drill", Category: "Power Tools", Status: model.ItemStatusCheckedOut, Holder: "Ahmed"}
	if _, err := svc.RequestReturnBatch(ctx, k, 3, "Sara"); KindOf(err) != KindValidation {
		t.Errorf("expected validation error for foreign bucket, got %v", err)
	}
	if _, err := svc.RequestReturnBatch(ctx, k, 3, "Ahmed"); err != nil {
		t.Fatalf("RequestReturnBatch: %v", err)
	}
	if got := countStatus(m, model.ItemStatusPendingReturn, "Ahmed"); got != 3 {
		t.Errorf("expected 3 pending, got %d", got)
	}

	pending := k
	pending.Status = model.ItemStatusPendingReturn
	if _, err := svc.ApproveReturnBatch(ctx, pending, 2); err != nil {
		t.Fatalf("ApproveReturnBatch: %v", err)
	}
	if got := countStatus(m, model.ItemStatusAvailable, ""); got != 2 {
		t.Errorf("expected 2 available, got %d", got)
	}

	// Manual return straight from checked out.
	if _, err := svc.ApproveReturnBatch(ctx, k, 1); err != nil {
		t.Fatalf("manual return: %v", err)
	}
	stats, _ := svc.Stats(ctx)
	want := model.Stats{Total: 4, Available: 3, PendingReturn: 1}
	if stats != want {
		t.Errorf("expected %+v, got %+v", want, stats)
	}

	if _, err := svc.ApproveReturnBatch(ctx, AvailabilityKey("Drill", "Power Tools"), 1); KindOf(err) != KindValidation {
		t.Errorf("expected validation error approving from available, got %v", err)
	}
}

func TestConcurrentChangeStopsBatch(t *testing.T) {
	m := newMemStore()
	svc := newTestService(m, m)
	ctx := context.Background()
	added := addDrills(t, svc, 3)

	// Another session grabs the last allocated unit right before it is written.
	victim := added.ItemIDs[2]
	m.beforeUpdate = func(u ItemUpdate) {
		if u.ID == victim {
			it := m.get(victim)
			it.Status = model.ItemStatusCheckedOut
			it.CurrentHolder = "Sara"
			m.set(it)
		}
	}

	res, err := svc.Checkout(ctx, "Drill", "Power Tools", 3, "Ahmed")
	var pe *PartialAllocationError
	if !errors.As(err, &pe) {
		t.Fatalf("expected PartialAllocationError, got %v", err)
	}
	if len(pe.Succeeded) != 2 || pe.Deficit() != 1 || pe.FailedItemID != victim {
		t.Errorf("unexpected partial detail: %+v", pe)
	}
	if len(res.ItemIDs) != 2 {
		t.Errorf("expected result to list the 2 moved items, got %v", res.ItemIDs)
	}
	var ite *InvalidTransitionError
	if !errors.As(err, &ite) || ite.Status != model.ItemStatusCheckedOut {
		t.Errorf("expected cause to be an invalid transition from checked_out, got %v", pe.Err)
	}
	if got := countStatus(m, model.ItemStatusCheckedOut, "Ahmed"); got != 2 {
		t.Errorf("succeeded prefix must stay applied, got %d for Ahmed", got)
	}
}

func TestConcurrentChangeOnFirstItemIsNotPartial(t *testing.T) {
	m := newMemStore()
	svc := newTestService(m, m)
	ctx := context.Background()
	addDrills(t, svc, 1)

	m.beforeUpdate = func(u ItemUpdate) {
		it := m.get(u.ID)
		it.Status = model.ItemStatusMaintenance
		m.set(it)
	}

	_, err := svc.Checkout(ctx, "Drill", "Power Tools", 1, "Ahmed")
	if KindOf(err) != KindInvalidTransition {
		t.Errorf("expected invalid transition, got %v", err)
	}
}

func TestLogFailureIsBestEffort(t *testing.T) {
	m := newMemStore()
	rec := &countingRecorder{}
	svc := newTestService(m, m, WithRecorder(rec))
	ctx := context.Background()
	id := addDrills(t, svc, 1).ItemIDs[0]

	m.appendErr = errLogDown
	res, err := svc.Checkout(ctx, "Drill", "Power Tools", 1, "Ahmed")
	if err != nil {
		t.Fatalf("checkout should succeed without the log: %v", err)
	}
	if len(res.UnloggedItemIDs) != 1 || res.UnloggedItemIDs[0] != id || len(res.TransactionIDs) != 0 {
		t.Errorf("expected one unlogged item, got %+v", res)
	}
	if m.get(id).Status != model.ItemStatusCheckedOut {
		t.Error("item update must stand when the log fails")
	}

	found := false
	for i, op := range rec.ops {
		if op == "append_transaction" && errors.Is(rec.errs[i], errLogDown) {
			found = true
		}
	}
	if !found {
		t.Error("expected append failure to be recorded")
	}
}

func TestTransactorRollsBackOnLogFailure(t *testing.T) {
	m := newMemStore()
	store := txStore{m}
	svc := newTestService(store, m)
	ctx := context.Background()
	id := addDrills(t, svc, 1).ItemIDs[0]

	m.appendErr = errLogDown
	if _, err := svc.Checkout(ctx, "Drill", "Power Tools", 1, "Ahmed"); !errors.Is(err, errLogDown) {
		t.Fatalf("expected log error, got %v", err)
	}
	if m.get(id).Status != model.ItemStatusAvailable {
		t.Error("item update must roll back with the log entry")
	}

	m.appendErr = nil
	res, err := svc.Checkout(ctx, "Drill", "Power Tools", 1, "Ahmed")
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if len(res.TransactionIDs) != 1 || len(res.UnloggedItemIDs) != 0 {
		t.Errorf("expected logged checkout, got %+v", res)
	}
}

func TestHolderInvariantHolds(t *testing.T) {
	m := newMemStore()
	svc := newTestService(m, m)
	ctx := context.Background()
	ids := addDrills(t, svc, 3).ItemIDs
	svc.Checkout(ctx, "Drill", "Power Tools", 2, "Ahmed")
	svc.RequestReturn(ctx, ids[0], "Ahmed")
	svc.RejectReturn(ctx, ids[0], "missing bit")
	svc.ManualIssue(ctx, NewItems{Name: "Saw", Category: "Tools", Quantity: 1, Holder: "Sara"})

	for _, it := range m.items {
		if it.Status.InCustody() != (it.CurrentHolder != "") {
			t.Errorf("holder invariant broken for %+v", it)
		}
	}
}

func TestAvailableBucketsView(t *testing.T) {
	m := newMemStore()
	svc := newTestService(m, m)
	ctx := context.Background()
	addDrills(t, svc, 2)
	svc.AddItems(ctx, NewItems{Name: "Saw", Category: "Tools", Quantity: 1})
	svc.Checkout(ctx, "Saw", "Tools", 1, "Ahmed")

	buckets, err := svc.AvailableBuckets(ctx)
	if err != nil {
		t.Fatalf("AvailableBuckets: %v", err)
	}
	if len(buckets) != 1 || buckets[0].Key.Name != "Drill" || buckets[0].Count != 2 {
		t.Errorf("unexpected buckets: %+v", buckets)
	}
}

func TestRecorderSeesOperations(t *testing.T) {
	m := newMemStore()
	rec := &countingRecorder{}
	svc := newTestService(m, m, WithRecorder(rec))
	ctx := context.Background()
	addDrills(t, svc, 1)
	svc.Checkout(ctx, "Drill", "Power Tools", 2, "Ahmed")

	if len(rec.ops) != 2 || rec.ops[0] != "add_items" || rec.ops[1] != "checkout" {
		t.Fatalf("unexpected ops: %v", rec.ops)
	}
	if KindOf(rec.errs[1]) != KindInsufficientQuantity {
		t.Errorf("expected recorded insufficient quantity, got %v", rec.errs[1])
	}
}

func TestBucketOperationsRequireKind(t *testing.T) {
	m := newMemStore()
	svc := newTestService(m, m)
	ctx := context.Background()
	addDrills(t, svc, 2)

	tests := []struct {
		name  string
		run   func() error
		field string
	}{
		{"checkout without name", func() error {
			_, err := svc.Checkout(ctx, "", "Power Tools", 1, "Ahmed")
			return err
		}, "name"},
		{"checkout without category", func() error {
			_, err := svc.Checkout(ctx, "Drill", "", 1, "Ahmed")
			return err
		}, "category"},
		{"request return without kind", func() error {
			_, err := svc.RequestReturnBatch(ctx, Key{Status: model.ItemStatusCheckedOut, Holder: "Ahmed"}, 1, "Ahmed")
			return err
		}, "name"},
		{"approve without kind", func() error {
			_, err := svc.ApproveReturnBatch(ctx, Key{Status: model.ItemStatusPendingReturn, Holder: "Ahmed"}, 1)
			return err
		}, "name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.run()
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if ve.Field != tt.field {
				t.Errorf("expected field %q, got %q", tt.field, ve.Field)
			}
		})
	}
	if got := countStatus(m, model.ItemStatusAvailable, ""); got != 2 {
		t.Errorf("expected 2 items still available, got %d", got)
	}
}

func TestConcurrentHolderChangeIsStale(t *testing.T) {
	m := newMemStore()
	svc := newTestService(m, m)
	ctx := context.Background()
	id := addDrills(t, svc, 1).ItemIDs[0]
	if _, err := svc.Checkout(ctx, "Drill", "Power Tools", 1, "Ahmed"); err != nil {
		t.Fatalf("Checkout: %v", err)
	}

	// The drill is returned and handed to Sara between Ahmed's read and write.
	swapped := false
	m.beforeUpdate = func(u ItemUpdate) {
		if u.ID != id || swapped {
			return
		}
		swapped = true
		it := m.get(id)
		it.CurrentHolder = "Sara"
		m.set(it)
	}

	_, err := svc.RequestReturn(ctx, id, "Ahmed")
	if KindOf(err) != KindValidation {
		t.Fatalf("expected validation error for the new holder, got %v", err)
	}
	got := m.get(id)
	if got.Status != model.ItemStatusCheckedOut || got.CurrentHolder != "Sara" {
		t.Errorf("expected item to stay checked out to Sara, got %s/%s", got.Status, got.CurrentHolder)
	}
	for _, txn := range m.transactions() {
		if txn.Type == model.TransactionReturnRequest {
			t.Errorf("expected no return request to be logged, got %+v", txn)
		}
	}
}

func TestConcurrentRejectionIsStale(t *testing.T) {
	m := newMemStore()
	svc := newTestService(m, m)
	ctx := context.Background()
	id := addDrills(t, svc, 1).ItemIDs[0]
	svc.Checkout(ctx, "Drill", "Power Tools", 1, "Ahmed")

	// A reason appears after the read; the stale write must not clear it.
	m.beforeUpdate = func(u ItemUpdate) {
		it := m.get(u.ID)
		it.RejectionReason = "damaged"
		m.set(it)
	}
	if _, err := svc.ApproveReturn(ctx, id); KindOf(err) != KindInvalidTransition {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	if got := m.get(id); got.RejectionReason != "damaged" || got.Status != model.ItemStatusCheckedOut {
		t.Errorf("expected untouched rejected item, got %+v", got)
	}
}

func TestTransactorLogFailureNamesTheLog(t *testing.T) {
	m := newMemStore()
	svc := newTestService(txStore{m}, m)
	ctx := context.Background()
	id := addDrills(t, svc, 1).ItemIDs[0]

	m.appendErr = errLogDown
	_, err := svc.Checkout(ctx, "Drill", "Power Tools", 1, "Ahmed")
	if !errors.Is(err, errLogDown) {
		t.Fatalf("expected log error, got %v", err)
	}
	want := "recording transition for item " + id
	if !strings.Contains(err.Error(), want) {
		t.Errorf("expected %q in error, got %q", want, err.Error())
	}
	if strings.Contains(err.Error(), "updating item") {
		t.Errorf("log failure reported as an item update: %q", err.Error())
	}
}

func TestULIDsFollowServiceClock(t *testing.T) {
	g := NewULIDGen(&stepClock{now: t0})
	first, err := g.New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	second, _ := g.New()

	id := ulid.MustParse(first)
	if got := ulid.Time(id.Time()); !got.Equal(t0.Add(time.Second)) {
		t.Errorf("expected id time %v, got %v", t0.Add(time.Second), got)
	}
	if second <= first {
		t.Errorf("expected ids in creation order, got %s then %s", first, second)
	}

	// Without WithIDs the default generator uses the configured clock.
	m := newMemStore()
	svc := New(m, m, WithClock(&stepClock{now: t0}))
	res := addDrills(t, svc, 1)
	got := ulid.Time(ulid.MustParse(res.ItemIDs[0]).Time())
	if got.Before(t0) || got.After(t0.Add(time.Minute)) {
		t.Errorf("expected item id stamped near %v, got %v", t0, got)
	}
}
