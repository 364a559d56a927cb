package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/erazemk/makhzan/internal/custody"
	"github.com/erazemk/makhzan/internal/db"
	"github.com/erazemk/makhzan/internal/model"
)

var at = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func newItem(id, name, category string) model.Item {
	return model.Item{
		ID:          id,
		Name:        name,
		Category:    category,
		Status:      model.ItemStatusAvailable,
		AddedBy:     "supervisor",
		LastUpdated: at,
	}
}

func TestCreateAndGetItem(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	if err := CreateItem(ctx, database, newItem("01A", "Drill", "Power Tools")); err != nil {
		t.Fatalf("CreateItem: %v", err)
	}

	got, err := GetItem(ctx, database, "01A")
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	if got == nil {
		t.Fatal("expected item, got nil")
	}
	if got.Name != "Drill" || got.Category != "Power Tools" {
		t.Errorf("unexpected item: %+v", got)
	}
	if got.Status != model.ItemStatusAvailable || got.CurrentHolder != "" {
		t.Errorf("expected available with no holder, got %+v", got)
	}
	if !got.LastUpdated.Equal(at) {
		t.Errorf("expected last_updated %v, got %v", at, got.LastUpdated)
	}

	missing, err := GetItem(ctx, database, "nope")
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	if missing != nil {
		t.Error("expected nil for missing item")
	}
}

func TestCreateItemRejectsHolderlessCustody(t *testing.T) {
	database := db.NewTestDB(t)
	it := newItem("01A", "Drill", "Power Tools")
	it.Status = model.ItemStatusCheckedOut

	if err := CreateItem(context.Background(), database, it); err == nil {
		t.Error("expected constraint violation for checked out item without holder")
	}
}

func TestListItemsFilter(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	CreateItem(ctx, database, newItem("01", "Drill", "Power Tools"))
	CreateItem(ctx, database, newItem("02", "Drill", "Hand Tools"))
	held := newItem("03", "Drill", "Power Tools")
	held.Status = model.ItemStatusCheckedOut
	held.CurrentHolder = "Ahmed"
	CreateItem(ctx, database, held)

	all, err := ListItems(ctx, database, model.ItemFilter{})
	if err != nil {
		t.Fatalf("ListItems: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("expected 3 items, got %d", len(all))
	}

	power, _ := ListItems(ctx, database, model.ItemFilter{Name: "Drill", Category: "Power Tools"})
	if len(power) != 2 {
		t.Errorf("expected 2 power drills, got %d", len(power))
	}

	available, _ := ListItems(ctx, database, model.ItemFilter{Status: model.ItemStatusAvailable})
	if len(available) != 2 {
		t.Errorf("expected 2 available, got %d", len(available))
	}

	ahmed, _ := ListItems(ctx, database, model.ItemFilter{Holder: "Ahmed"})
	if len(ahmed) != 1 || ahmed[0].ID != "03" {
		t.Errorf("expected item 03 for Ahmed, got %+v", ahmed)
	}
}

func TestUpdateItemStatusCompareAndSet(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()
	CreateItem(ctx, database, newItem("01", "Drill", "Power Tools"))

	later := at.Add(time.Hour)
	err := UpdateItemStatus(ctx, database, custody.ItemUpdate{
		ID: "01", From: model.ItemStatusAvailable,
		Status: model.ItemStatusCheckedOut, Holder: "Ahmed", At: later,
	})
	if err != nil {
		t.Fatalf("UpdateItemStatus: %v", err)
	}
	got, _ := GetItem(ctx, database, "01")
	if got.Status != model.ItemStatusCheckedOut || got.CurrentHolder != "Ahmed" || !got.LastUpdated.Equal(later) {
		t.Errorf("unexpected item after update: %+v", got)
	}

	// Same update again: the item is no longer available.
	err = UpdateItemStatus(ctx, database, custody.ItemUpdate{
		ID: "01", From: model.ItemStatusAvailable,
		Status: model.ItemStatusCheckedOut, Holder: "Sara", At: later,
	})
	if !errors.Is(err, custody.ErrStale) {
		t.Errorf("expected ErrStale, got %v", err)
	}
	got, _ = GetItem(ctx, database, "01")
	if got.CurrentHolder != "Ahmed" {
		t.Errorf("stale update changed holder to %q", got.CurrentHolder)
	}

	err = UpdateItemStatus(ctx, database, custody.ItemUpdate{ID: "missing", From: model.ItemStatusAvailable, Status: model.ItemStatusCheckedOut, Holder: "x", At: later})
	var nf *custody.NotFoundError
	if !errors.As(err, &nf) {
		t.Errorf("expected NotFoundError, got %v", err)
	}
}

func TestUpdateItemStatusClearsHolder(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()
	it := newItem("01", "Drill", "Power Tools")
	it.Status = model.ItemStatusPendingReturn
	it.CurrentHolder = "Ahmed"
	CreateItem(ctx, database, it)

	err := UpdateItemStatus(ctx, database, custody.ItemUpdate{
		ID: "01", From: model.ItemStatusPendingReturn, FromHolder: "Ahmed",
		Status: model.ItemStatusAvailable, At: at,
	})
	if err != nil {
		t.Fatalf("UpdateItemStatus: %v", err)
	}
	got, _ := GetItem(ctx, database, "01")
	if got.CurrentHolder != "" || got.RejectionReason != "" {
		t.Errorf("expected cleared holder and reason, got %+v", got)
	}
}

func TestUpdateItemStatusGuardsHolder(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()
	it := newItem("01", "Drill", "Power Tools")
	it.Status = model.ItemStatusCheckedOut
	it.CurrentHolder = "Sara"
	CreateItem(ctx, database, it)

	// Read while Ahmed still held it; Sara has it now.
	err := UpdateItemStatus(ctx, database, custody.ItemUpdate{
		ID: "01", From: model.ItemStatusCheckedOut, FromHolder: "Ahmed",
		Status: model.ItemStatusPendingReturn, Holder: "Ahmed", At: at,
	})
	if !errors.Is(err, custody.ErrStale) {
		t.Fatalf("expected ErrStale, got %v", err)
	}
	got, _ := GetItem(ctx, database, "01")
	if got.Status != model.ItemStatusCheckedOut || got.CurrentHolder != "Sara" {
		t.Errorf("expected item to stay with Sara, got %+v", got)
	}

	// A rejection reason written since the read is also a change.
	it = newItem("02", "Drill", "Power Tools")
	it.Status = model.ItemStatusCheckedOut
	it.CurrentHolder = "Ahmed"
	it.RejectionReason = "damaged"
	CreateItem(ctx, database, it)
	err = UpdateItemStatus(ctx, database, custody.ItemUpdate{
		ID: "02", From: model.ItemStatusCheckedOut, FromHolder: "Ahmed",
		Status: model.ItemStatusPendingReturn, Holder: "Ahmed", At: at,
	})
	if !errors.Is(err, custody.ErrStale) {
		t.Errorf("expected ErrStale for changed reason, got %v", err)
	}

	err = UpdateItemStatus(ctx, database, custody.ItemUpdate{
		ID: "02", From: model.ItemStatusCheckedOut, FromHolder: "Ahmed", FromReason: "damaged",
		Status: model.ItemStatusPendingReturn, Holder: "Ahmed", At: at,
	})
	if err != nil {
		t.Fatalf("UpdateItemStatus: %v", err)
	}
}

func TestDeleteItem(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()
	CreateItem(ctx, database, newItem("01", "Drill", "Power Tools"))

	if err := DeleteItem(ctx, database, "01"); err != nil {
		t.Fatalf("DeleteItem: %v", err)
	}
	got, _ := GetItem(ctx, database, "01")
	if got != nil {
		t.Error("expected item to be gone")
	}

	var nf *custody.NotFoundError
	if err := DeleteItem(ctx, database, "01"); !errors.As(err, &nf) {
		t.Errorf("expected NotFoundError on second delete, got %v", err)
	}
}

func TestItemImage(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()
	CreateItem(ctx, database, newItem("01", "Drill", "Power Tools"))

	if err := SetItemImage(ctx, database, "01", []byte("fake image data"), "image/png"); err != nil {
		t.Fatalf("SetItemImage: %v", err)
	}

	data, mime, err := GetItemImage(ctx, database, "01")
	if err != nil {
		t.Fatalf("GetItemImage: %v", err)
	}
	if string(data) != "fake image data" {
		t.Errorf("expected image data, got %q", string(data))
	}
	if mime != "image/png" {
		t.Errorf("expected 'image/png', got %q", mime)
	}

	got, _ := GetItem(ctx, database, "01")
	if got.ImageMime != "image/png" {
		t.Errorf("expected item to report image mime, got %q", got.ImageMime)
	}

	var nf *custody.NotFoundError
	if err := SetItemImage(ctx, database, "missing", []byte("x"), "image/png"); !errors.As(err, &nf) {
		t.Errorf("expected NotFoundError, got %v", err)
	}
}

func TestListHoldings(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	for i, holder := range []string{"Ahmed", "Ahmed", "Sara"} {
		it := newItem(string(rune('a'+i)), "Drill", "Power Tools")
		it.Status = model.ItemStatusCheckedOut
		it.CurrentHolder = holder
		CreateItem(ctx, database, it)
	}
	CreateItem(ctx, database, newItem("z", "Drill", "Power Tools"))

	holdings, err := ListHoldings(ctx, database)
	if err != nil {
		t.Fatalf("ListHoldings: %v", err)
	}
	if len(holdings) != 2 {
		t.Fatalf("expected 2 holdings, got %d", len(holdings))
	}
	if holdings[0].Holder != "Ahmed" || holdings[0].Count != 2 {
		t.Errorf("unexpected first holding: %+v", holdings[0])
	}
	if holdings[1].Holder != "Sara" || holdings[1].Count != 1 {
		t.Errorf("unexpected second holding: %+v", holdings[1])
	}
}

func TestMarkAndClearItemImage(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()
	CreateItem(ctx, database, newItem("01", "Drill", "Power Tools"))

	if err := MarkItemImage(ctx, database, "01", "image/jpeg"); err != nil {
		t.Fatalf("MarkItemImage: %v", err)
	}
	got, _ := GetItem(ctx, database, "01")
	if got.ImageMime != "image/jpeg" {
		t.Errorf("expected mime recorded, got %q", got.ImageMime)
	}

	if err := ClearItemImage(ctx, database, "01"); err != nil {
		t.Fatalf("ClearItemImage: %v", err)
	}
	got, _ = GetItem(ctx, database, "01")
	if got.ImageMime != "" {
		t.Errorf("expected mime cleared, got %q", got.ImageMime)
	}
}
