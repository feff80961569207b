package firestore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	gfs "cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"snapspend/internal/cloud"
	"snapspend/internal/core"
)

const (
	collectionsPath = "shared_collections"
	expensesPath    = "expenses"
)

// Gateway stores shared collections in Firestore.
type Gateway struct {
	client *gfs.Client
}

var _ cloud.Gateway = (*Gateway)(nil)

// Options selects the project and credentials. With neither credentials
// field set, application default credentials are used.
type Options struct {
	ProjectID       string
	CredentialsFile string
	CredentialsJSON string
}

func New(ctx context.Context, opts Options) (*Gateway, error) {
	if strings.TrimSpace(opts.ProjectID) == "" {
		return nil, errors.New("missing firestore project id")
	}

	var clientOpts []option.ClientOption
	switch {
	case strings.TrimSpace(opts.CredentialsJSON) != "":
		slog.InfoContext(ctx, "Using inline JSON credentials")
		clientOpts = append(clientOpts, option.WithCredentialsJSON([]byte(opts.CredentialsJSON)))
	case strings.TrimSpace(opts.CredentialsFile) != "":
		slog.InfoContext(ctx, "Reading credentials from file", "path", opts.CredentialsFile)
		credentialsJSON, err := os.ReadFile(opts.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read credentials file: %w", err)
		}
		clientOpts = append(clientOpts, option.WithCredentialsJSON(credentialsJSON))
	default:
		slog.InfoContext(ctx, "Using application default credentials")
	}

	client, err := gfs.NewClient(ctx, opts.ProjectID, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create firestore client: %w", err)
	}

	slog.InfoContext(ctx, "Firestore client created", "project_id", opts.ProjectID)
	return &Gateway{client: client}, nil
}

func (g *Gateway) Close() error {
	return g.client.Close()
}

func (g *Gateway) collectionRef(pin string) *gfs.DocumentRef {
	return g.client.Collection(collectionsPath).Doc(pin)
}

func (g *Gateway) expensesRef(pin string) *gfs.CollectionRef {
	return g.collectionRef(pin).Collection(expensesPath)
}

func mapErr(err error) error {
	if status.Code(err) == codes.NotFound {
		return cloud.ErrNotFound
	}
	return err
}

func (g *Gateway) CreateSharedCollection(ctx context.Context, doc core.SharedCollectionDoc) error {
	if _, err := g.collectionRef(doc.Pin).Set(ctx, newCollectionRecord(doc)); err != nil {
		return fmt.Errorf("create shared collection: %w", err)
	}
	return nil
}

func (g *Gateway) GetByPin(ctx context.Context, pin string) (core.SharedCollectionDoc, error) {
	snap, err := g.collectionRef(pin).Get(ctx)
	if err != nil {
		return core.SharedCollectionDoc{}, fmt.Errorf("get shared collection: %w", mapErr(err))
	}
	var rec collectionRecord
	if err := snap.DataTo(&rec); err != nil {
		return core.SharedCollectionDoc{}, fmt.Errorf("decode shared collection %s: %w", pin,
			errors.Join(core.ErrMalformedDoc, err))
	}
	return rec.toDoc(pin), nil
}

func (g *Gateway) AddMember(ctx context.Context, pin string, member core.Member) error {
	_, err := g.collectionRef(pin).Update(ctx, []gfs.Update{
		{Path: "members", Value: gfs.ArrayUnion(newMemberRecord(member))},
	})
	if err != nil {
		return fmt.Errorf("add member: %w", mapErr(err))
	}
	return nil
}

func (g *Gateway) UpdateDetails(ctx context.Context, pin string, details core.CollectionDetails) error {
	_, err := g.collectionRef(pin).Update(ctx, []gfs.Update{
		{Path: "budget", Value: fromMoney(details.Budget)},
		{Path: "iconName", Value: details.IconName},
		{Path: "colorHex", Value: details.ColorHex},
	})
	if err != nil {
		return fmt.Errorf("update details: %w", mapErr(err))
	}
	return nil
}

func (g *Gateway) UpsertExpense(ctx context.Context, pin string, doc core.SharedExpenseDoc) error {
	if err := doc.Validate(); err != nil {
		return err
	}
	if _, err := g.expensesRef(pin).Doc(doc.ID).Set(ctx, newExpenseRecord(doc)); err != nil {
		return fmt.Errorf("upsert expense: %w", err)
	}
	return nil
}

func (g *Gateway) DeleteExpense(ctx context.Context, pin string, id string) error {
	if _, err := g.expensesRef(pin).Doc(id).Delete(ctx); err != nil {
		return fmt.Errorf("delete expense: %w", mapErr(err))
	}
	return nil
}

func (g *Gateway) SubscribeDetails(ctx context.Context, pin string) (cloud.Stream[*core.SharedCollectionDoc], error) {
	ctx, cancel := context.WithCancel(ctx)
	it := g.collectionRef(pin).Snapshots(ctx)
	return &snapshotStream[*core.SharedCollectionDoc]{
		ctx:    ctx,
		cancel: cancel,
		stop:   it.Stop,
		next: func() (*core.SharedCollectionDoc, error) {
			snap, err := it.Next()
			if err != nil {
				return nil, err
			}
			if !snap.Exists() {
				return nil, nil
			}
			var rec collectionRecord
			if err := snap.DataTo(&rec); err != nil {
				slog.WarnContext(ctx, "Skipping undecodable collection snapshot", "pin", pin, "error", err)
				return nil, errSkip
			}
			doc := rec.toDoc(pin)
			return &doc, nil
		},
	}, nil
}

func (g *Gateway) SubscribeExpenses(ctx context.Context, pin string) (cloud.Stream[[]core.SharedExpenseDoc], error) {
	ctx, cancel := context.WithCancel(ctx)
	it := g.expensesRef(pin).Snapshots(ctx)
	return &snapshotStream[[]core.SharedExpenseDoc]{
		ctx:    ctx,
		cancel: cancel,
		stop:   it.Stop,
		next: func() ([]core.SharedExpenseDoc, error) {
			qs, err := it.Next()
			if err != nil {
				return nil, err
			}
			snaps, err := qs.Documents.GetAll()
			if err != nil {
				return nil, err
			}
			docs := make([]core.SharedExpenseDoc, 0, len(snaps))
			for _, snap := range snaps {
				doc, err := decodeExpense(snap.Ref.ID, snap.DataTo)
				if err != nil {
					slog.WarnContext(ctx, "Undecodable expense document, keeping its id only",
						"pin", pin, "id", snap.Ref.ID, "error", err)
				}
				docs = append(docs, doc)
			}
			return docs, nil
		},
	}, nil
}

var errSkip = errors.New("skip snapshot")

// snapshotStream adapts a Firestore snapshot iterator. Stop cancels the
// listen context; the iterator itself is released by the goroutine calling Next.
type snapshotStream[T any] struct {
	ctx    context.Context
	cancel context.CancelFunc
	stop   func()
	next   func() (T, error)
	once   sync.Once
}

func (s *snapshotStream[T]) Next() (T, error) {
	for {
		v, err := s.next()
		switch {
		case err == nil:
			return v, nil
		case errors.Is(err, errSkip):
			continue
		case s.ctx.Err() != nil, errors.Is(err, iterator.Done), status.Code(err) == codes.Canceled:
			s.release()
			var zero T
			return zero, cloud.ErrStreamClosed
		default:
			s.release()
			s.cancel()
			var zero T
			return zero, fmt.Errorf("snapshot stream: %w", err)
		}
	}
}

func (s *snapshotStream[T]) release() {
	s.once.Do(s.stop)
}

func (s *snapshotStream[T]) Stop() {
	s.cancel()
}
