package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"snapspend/internal/alert"
	"snapspend/internal/cloud"
	"snapspend/internal/core"
	"snapspend/internal/storage"
)

var (
	ErrCollectionExists = errors.New("collection already exists")
	ErrInvalidPin       = errors.New("invalid share pin")
)

// CollectionGateway is the part of the cloud replica collection actions use.
type CollectionGateway interface {
	cloud.CollectionWriter
	cloud.CollectionReader
	cloud.ExpenseWriter
}

// CollectionService manages collections and their sharing.
type CollectionService struct {
	storage  *storage.SQLiteRepository
	gateway  CollectionGateway
	pins     *PinAllocator
	identity core.Member
	budget   alert.Trigger
}

// NewCollectionService wires the service. identity is the user of this
// device and is required for share and join; budget may be nil.
func NewCollectionService(storage *storage.SQLiteRepository, gateway CollectionGateway, identity core.Member, budget alert.Trigger) *CollectionService {
	return &CollectionService{
		storage:  storage,
		gateway:  gateway,
		pins:     NewPinAllocator(storage, gateway),
		identity: identity,
		budget:   budget,
	}
}

func (s *CollectionService) hasIdentity() bool {
	return strings.TrimSpace(s.identity.UserID) != "" && strings.TrimSpace(s.identity.DisplayName) != ""
}

// AddCollection creates an unshared collection with the default look.
func (s *CollectionService) AddCollection(ctx context.Context, name string) (core.Collection, error) {
	c := core.NewCollection(name)
	if err := c.Validate(); err != nil {
		return core.Collection{}, err
	}
	inserted, err := s.storage.InsertCollection(ctx, c)
	if err != nil {
		return core.Collection{}, fmt.Errorf("save collection: %w", err)
	}
	if !inserted {
		return core.Collection{}, fmt.Errorf("%q: %w", c.Name, ErrCollectionExists)
	}
	slog.InfoContext(ctx, "Collection added", "collection", c.Name)
	return c, nil
}

// UpdateCollection stores new details for c.Name. The share pin cannot be
// changed here. Shared collections push their new details.
func (s *CollectionService) UpdateCollection(ctx context.Context, c core.Collection) error {
	if err := c.Validate(); err != nil {
		return err
	}
	existing, err := s.storage.GetCollection(ctx, c.Name)
	if err != nil {
		return fmt.Errorf("get collection %q: %w", c.Name, err)
	}
	c.SharePin = existing.SharePin

	if err := s.storage.UpdateCollection(ctx, c); err != nil {
		return fmt.Errorf("update collection: %w", err)
	}

	if c.IsShared() && !existing.Details().Equal(c.Details()) {
		enqueuePush(ctx, s.storage, storage.PushItem{
			Operation:      storage.PushUpdateDetails,
			Pin:            c.Pin(),
			CollectionName: c.Name,
		})
	}
	if !existing.Budget.Equal(c.Budget) && s.budget != nil {
		if err := s.budget.Check(ctx); err != nil {
			slog.ErrorContext(ctx, "Budget check failed", "error", err)
		}
	}
	return nil
}

// DeleteCollection removes the collection and its expenses locally. The
// cloud document is left to the other members.
func (s *CollectionService) DeleteCollection(ctx context.Context, name string) error {
	if err := s.storage.DeleteCollection(ctx, name); err != nil {
		return fmt.Errorf("delete collection %q: %w", name, err)
	}
	return nil
}

// ShareCollection publishes the collection under a fresh pin with this
// device's user as sole member, then uploads every existing expense.
func (s *CollectionService) ShareCollection(ctx context.Context, name string) (string, error) {
	if !s.hasIdentity() {
		return "", core.ErrMissingIdentity
	}
	c, err := s.storage.GetCollection(ctx, name)
	if err != nil {
		return "", fmt.Errorf("get collection %q: %w", name, err)
	}
	if c.IsShared() {
		return "", fmt.Errorf("%q: %w", name, core.ErrAlreadyShared)
	}

	pin, err := s.pins.Allocate(ctx)
	if err != nil {
		return "", err
	}
	if err := s.gateway.CreateSharedCollection(ctx, core.SharedCollectionFromLocal(c, pin, s.identity)); err != nil {
		return "", fmt.Errorf("create shared collection: %w", err)
	}

	expenses, err := s.storage.ShareCollectionLocally(ctx, name, pin)
	if err != nil {
		return "", fmt.Errorf("share %q locally: %w", name, err)
	}

	adder := core.Member{UserID: s.identity.UserID, DisplayName: core.InitialSyncAdderName}
	pushed := 0
	for _, e := range expenses {
		doc := core.SharedExpenseFromLocal(e, adder)
		if err := s.gateway.UpsertExpense(ctx, pin, doc); err != nil {
			slog.WarnContext(ctx, "Initial upload failed, queued for retry",
				"cloud_id", doc.ID, "error", err)
			enqueuePush(ctx, s.storage, storage.PushItem{
				Operation:      storage.PushUpsertExpense,
				Pin:            pin,
				CollectionName: name,
				CloudID:        doc.ID,
			})
			continue
		}
		pushed++
	}

	slog.InfoContext(ctx, "Collection shared",
		"collection", name,
		"pin", pin,
		"expenses", len(expenses),
		"uploaded", pushed)
	return pin, nil
}

// JoinCollection adds this device's user to the shared collection with pin
// and creates its local copy. Unknown pins return cloud.ErrNotFound.
func (s *CollectionService) JoinCollection(ctx context.Context, pin string) (core.Collection, error) {
	if !s.hasIdentity() {
		return core.Collection{}, core.ErrMissingIdentity
	}
	pin = strings.TrimSpace(pin)
	if !core.IsValidPin(pin) {
		return core.Collection{}, ErrInvalidPin
	}

	doc, err := s.gateway.GetByPin(ctx, pin)
	if err != nil {
		return core.Collection{}, fmt.Errorf("look up pin: %w", err)
	}

	local := core.CollectionFromShared(doc)
	if existing, err := s.storage.GetCollection(ctx, local.Name); err == nil {
		if existing.Pin() == pin {
			return existing, nil
		}
		return core.Collection{}, fmt.Errorf("%q: %w", local.Name, ErrCollectionExists)
	} else if !errors.Is(err, core.ErrNotFound) {
		return core.Collection{}, fmt.Errorf("get collection %q: %w", local.Name, err)
	}

	if err := s.gateway.AddMember(ctx, pin, s.identity); err != nil {
		return core.Collection{}, fmt.Errorf("add member: %w", err)
	}
	if _, err := s.storage.InsertCollection(ctx, local); err != nil {
		return core.Collection{}, fmt.Errorf("save collection: %w", err)
	}

	slog.InfoContext(ctx, "Joined shared collection", "collection", local.Name, "pin", pin)
	return local, nil
}
