package core

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	DefaultIconName = "Label"
	DefaultColorHex = "#FF6200EE"

	// InitialSyncAdderName marks expenses pushed when a collection is first shared.
	InitialSyncAdderName = "Initial Sync"
)

type (
	// Expense is a locally stored spending record.
	Expense struct {
		ID               int64 // Store-generated, never leaves the device
		Amount           decimal.Decimal
		CollectionName   string
		Timestamp        int64 // Epoch millis
		Latitude         *float64
		Longitude        *float64
		LocationCategory *string
		CloudID          *string

		// PendingLocation is set for expenses created on this device until
		// enrichment has persisted a location. Pulled rows never carry it.
		PendingLocation bool
	}

	// Collection groups expenses under a budget. SharePin is non-nil iff shared.
	Collection struct {
		Name     string
		Budget   decimal.Decimal // Zero means unlimited
		IconName string
		ColorHex string
		SharePin *string
	}

	// CollectionDetails are the collection fields mirrored to the cloud.
	CollectionDetails struct {
		Budget   decimal.Decimal
		IconName string
		ColorHex string
	}

	Member struct {
		UserID      string
		DisplayName string
	}

	// SharedCollectionDoc is the cloud document keyed by pin.
	SharedCollectionDoc struct {
		Pin      string
		Name     string
		Budget   decimal.Decimal
		IconName string
		ColorHex string
		Members  []Member
	}

	// SharedExpenseDoc is the cloud sub-document keyed by the expense cloud id.
	SharedExpenseDoc struct {
		ID               string
		Amount           decimal.Decimal
		Timestamp        int64
		AdderUserID      string
		AdderUserName    string
		Latitude         *float64
		Longitude        *float64
		LocationCategory *string
	}
)

var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrEmptyCollectionName = errors.New("empty collection name")
	ErrInvalidTimestamp    = errors.New("invalid timestamp")
	ErrInvalidBudget       = errors.New("invalid budget")
	ErrAlreadyShared       = errors.New("collection already shared")
	ErrMissingIdentity     = errors.New("missing user identity")
	ErrMalformedDoc        = errors.New("malformed remote document")
)

func (e Expense) Validate() error {
	if !e.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	if strings.TrimSpace(e.CollectionName) == "" {
		return ErrEmptyCollectionName
	}
	if e.Timestamp <= 0 {
		return ErrInvalidTimestamp
	}
	return nil
}

// HasLocation reports whether enrichment already stored coordinates.
func (e Expense) HasLocation() bool {
	return e.Latitude != nil && e.Longitude != nil
}

// NewCollection returns an unshared collection with the default look.
func NewCollection(name string) Collection {
	return Collection{
		Name:     strings.TrimSpace(name),
		Budget:   decimal.Zero,
		IconName: DefaultIconName,
		ColorHex: DefaultColorHex,
	}
}

func (c Collection) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return ErrEmptyCollectionName
	}
	if c.Budget.IsNegative() {
		return ErrInvalidBudget
	}
	return nil
}

func (c Collection) IsShared() bool {
	return c.SharePin != nil && *c.SharePin != ""
}

// Pin returns the share pin or an empty string for unshared collections.
func (c Collection) Pin() string {
	if c.SharePin == nil {
		return ""
	}
	return *c.SharePin
}

func (c Collection) Details() CollectionDetails {
	return CollectionDetails{Budget: c.Budget, IconName: c.IconName, ColorHex: c.ColorHex}
}

// Equal compares details field by field; budgets compare by value, not scale.
func (d CollectionDetails) Equal(o CollectionDetails) bool {
	return d.Budget.Equal(o.Budget) && d.IconName == o.IconName && d.ColorHex == o.ColorHex
}

func (d SharedCollectionDoc) Details() CollectionDetails {
	return CollectionDetails{Budget: d.Budget, IconName: d.IconName, ColorHex: d.ColorHex}
}

// Validate rejects documents missing the fields reconciliation depends on.
func (d SharedExpenseDoc) Validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return errors.Join(ErrMalformedDoc, errors.New("missing id"))
	}
	if !d.Amount.IsPositive() {
		return errors.Join(ErrMalformedDoc, ErrInvalidAmount)
	}
	return nil
}

// HasMember reports whether userID already belongs to the collection.
func (d SharedCollectionDoc) HasMember(userID string) bool {
	for _, m := range d.Members {
		if m.UserID == userID {
			return true
		}
	}
	return false
}

// SharedExpenseFromLocal builds the full cloud document for e. e must carry a cloud id.
func SharedExpenseFromLocal(e Expense, adder Member) SharedExpenseDoc {
	return SharedExpenseDoc{
		ID:               StringValue(e.CloudID),
		Amount:           e.Amount,
		Timestamp:        e.Timestamp,
		AdderUserID:      adder.UserID,
		AdderUserName:    adder.DisplayName,
		Latitude:         e.Latitude,
		Longitude:        e.Longitude,
		LocationCategory: e.LocationCategory,
	}
}

// ExpenseFromShared creates the local row for a remote document of collectionName.
func ExpenseFromShared(doc SharedExpenseDoc, collectionName string) Expense {
	id := doc.ID
	return Expense{
		Amount:           doc.Amount,
		CollectionName:   collectionName,
		Timestamp:        doc.Timestamp,
		Latitude:         doc.Latitude,
		Longitude:        doc.Longitude,
		LocationCategory: doc.LocationCategory,
		CloudID:          &id,
	}
}

// SharedCollectionFromLocal builds the initial cloud document with owner as sole member.
func SharedCollectionFromLocal(c Collection, pin string, owner Member) SharedCollectionDoc {
	return SharedCollectionDoc{
		Pin:      pin,
		Name:     c.Name,
		Budget:   c.Budget,
		IconName: c.IconName,
		ColorHex: c.ColorHex,
		Members:  []Member{owner},
	}
}

// CollectionFromShared creates the local copy of a joined collection.
func CollectionFromShared(doc SharedCollectionDoc) Collection {
	pin := doc.Pin
	return Collection{
		Name:     doc.Name,
		Budget:   doc.Budget,
		IconName: doc.IconName,
		ColorHex: doc.ColorHex,
		SharePin: &pin,
	}
}

func StringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func StringPtr(s string) *string {
	return &s
}

func Float64Ptr(f float64) *float64 {
	return &f
}

// EqualStringPtr treats two nils as equal.
func EqualStringPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
