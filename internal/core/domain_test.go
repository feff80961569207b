package core

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestExpenseValidate(t *testing.T) {
	good := Expense{
		Amount:         decimal.RequireFromString("25.50"),
		CollectionName: "Food",
		Timestamp:      time.Now().UnixMilli(),
	}
	if err := good.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}

	bad := good
	bad.Amount = decimal.Zero
	if err := bad.Validate(); err != ErrInvalidAmount {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}

	bad = good
	bad.CollectionName = "  "
	if err := bad.Validate(); err != ErrEmptyCollectionName {
		t.Fatalf("expected ErrEmptyCollectionName, got %v", err)
	}

	bad = good
	bad.Timestamp = 0
	if err := bad.Validate(); err != ErrInvalidTimestamp {
		t.Fatalf("expected ErrInvalidTimestamp, got %v", err)
	}
}

func TestCollectionValidateAndShared(t *testing.T) {
	c := NewCollection("Transport")
	if err := c.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	if c.IsShared() || c.Pin() != "" {
		t.Fatalf("new collection must not be shared")
	}
	if c.IconName != DefaultIconName || c.ColorHex != DefaultColorHex {
		t.Fatalf("unexpected defaults: %+v", c)
	}

	c.SharePin = StringPtr("1234567890")
	if !c.IsShared() || c.Pin() != "1234567890" {
		t.Fatalf("expected shared collection")
	}

	c.Budget = decimal.NewFromInt(-1)
	if err := c.Validate(); err != ErrInvalidBudget {
		t.Fatalf("expected ErrInvalidBudget, got %v", err)
	}
}

func TestSharedExpenseDocValidate(t *testing.T) {
	doc := SharedExpenseDoc{ID: "abc", Amount: decimal.NewFromInt(10)}
	if err := doc.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	if err := (SharedExpenseDoc{Amount: decimal.NewFromInt(10)}).Validate(); !errors.Is(err, ErrMalformedDoc) {
		t.Fatalf("expected ErrMalformedDoc for missing id, got %v", err)
	}
	if err := (SharedExpenseDoc{ID: "abc"}).Validate(); !errors.Is(err, ErrMalformedDoc) {
		t.Fatalf("expected ErrMalformedDoc for missing amount, got %v", err)
	}
}

func TestDetailsEqualIgnoresScale(t *testing.T) {
	a := CollectionDetails{Budget: decimal.RequireFromString("100"), IconName: "Car", ColorHex: "#fff"}
	b := CollectionDetails{Budget: decimal.RequireFromString("100.00"), IconName: "Car", ColorHex: "#fff"}
	if !a.Equal(b) {
		t.Fatalf("expected equal details")
	}
	b.IconName = "Bus"
	if a.Equal(b) {
		t.Fatalf("expected different details")
	}
}

func TestSharedRoundTrip(t *testing.T) {
	e := Expense{
		Amount:           decimal.RequireFromString("25.50"),
		CollectionName:   "Food",
		Timestamp:        1700000000000,
		LocationCategory: StringPtr("Cafe"),
		CloudID:          StringPtr("abc"),
	}
	doc := SharedExpenseFromLocal(e, Member{UserID: "u1", DisplayName: "Ana"})
	if doc.ID != "abc" || doc.AdderUserID != "u1" || doc.AdderUserName != "Ana" {
		t.Fatalf("unexpected doc: %+v", doc)
	}

	back := ExpenseFromShared(doc, "Food")
	if StringValue(back.CloudID) != "abc" || !back.Amount.Equal(e.Amount) || back.PendingLocation {
		t.Fatalf("unexpected local expense: %+v", back)
	}
}

func TestMonthStart(t *testing.T) {
	now := time.Date(2025, 8, 17, 15, 4, 5, 0, time.UTC)
	got := MonthStart(now)
	want := time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestIsValidPin(t *testing.T) {
	if !IsValidPin("0123456789") {
		t.Fatalf("expected valid pin")
	}
	for _, p := range []string{"", "123", "12345678901", "12345abcde"} {
		if IsValidPin(p) {
			t.Fatalf("expected %q to be invalid", p)
		}
	}
}
