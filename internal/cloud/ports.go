package cloud

import (
	"context"
	"errors"

	"snapspend/internal/core"
)

var (
	// ErrNotFound is returned by GetByPin when no shared collection uses the pin.
	ErrNotFound = core.ErrNotFound

	// ErrStreamClosed is returned by Stream.Next after Stop or context cancellation.
	ErrStreamClosed = errors.New("stream closed")
)

// Stream delivers live snapshots. Next blocks until the next snapshot; any
// error other than ErrStreamClosed is a transport failure and ends the stream.
type Stream[T any] interface {
	Next() (T, error)
	Stop()
}

// Ports for the cloud replica.
type (
	CollectionWriter interface {
		// CreateSharedCollection creates or overwrites the document keyed by doc.Pin.
		CreateSharedCollection(ctx context.Context, doc core.SharedCollectionDoc) error
		// AddMember appends member unless already present.
		AddMember(ctx context.Context, pin string, member core.Member) error
		// UpdateDetails patches budget, icon and color only.
		UpdateDetails(ctx context.Context, pin string, details core.CollectionDetails) error
	}

	CollectionReader interface {
		GetByPin(ctx context.Context, pin string) (core.SharedCollectionDoc, error)
	}

	ExpenseWriter interface {
		// UpsertExpense writes the full document keyed by doc.ID.
		UpsertExpense(ctx context.Context, pin string, doc core.SharedExpenseDoc) error
		DeleteExpense(ctx context.Context, pin string, id string) error
	}

	Subscriber interface {
		// SubscribeDetails emits nil once the document no longer exists.
		SubscribeDetails(ctx context.Context, pin string) (Stream[*core.SharedCollectionDoc], error)
		SubscribeExpenses(ctx context.Context, pin string) (Stream[[]core.SharedExpenseDoc], error)
	}

	Gateway interface {
		CollectionWriter
		CollectionReader
		ExpenseWriter
		Subscriber
	}
)
