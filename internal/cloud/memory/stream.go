package memory

import (
	"context"
	"sync"

	"snapspend/internal/cloud"
)

// stream holds at most one undelivered snapshot; a newer one replaces it.
type stream[T any] struct {
	ctx        context.Context
	snapshots  chan T
	failure    chan error
	done       chan struct{}
	once       sync.Once
	unregister func()
}

func newStream[T any](ctx context.Context, unregister func()) *stream[T] {
	return &stream[T]{
		ctx:        ctx,
		snapshots:  make(chan T, 1),
		failure:    make(chan error, 1),
		done:       make(chan struct{}),
		unregister: unregister,
	}
}

func (s *stream[T]) Next() (T, error) {
	var zero T
	select {
	case <-s.done:
		return zero, cloud.ErrStreamClosed
	default:
	}

	select {
	case <-s.done:
		return zero, cloud.ErrStreamClosed
	case <-s.ctx.Done():
		s.Stop()
		return zero, cloud.ErrStreamClosed
	case err := <-s.failure:
		s.Stop()
		return zero, err
	case v := <-s.snapshots:
		return v, nil
	}
}

func (s *stream[T]) Stop() {
	s.once.Do(func() {
		close(s.done)
		s.unregister()
	})
}

// deliver must be called with the gateway lock held.
func (s *stream[T]) deliver(v T) {
	select {
	case <-s.snapshots:
	default:
	}
	s.snapshots <- v
}

func (s *stream[T]) fail(err error) {
	select {
	case s.failure <- err:
	default:
	}
}
