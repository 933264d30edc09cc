// Package broadcast provides a small type-safe in-memory pub/sub primitive.
// Delivery is best-effort: messages are dropped for slow consumers rather
// than blocking publishers.
package broadcast

import (
	"context"
	"sync"
)

// Message wraps data of type T for type-safe broadcasting.
type Message[T any] struct {
	Data T
}

// Subscriber receives messages from a Broadcaster.
type Subscriber[T any] interface {
	// Receive returns the channel on which broadcast messages arrive.
	Receive() <-chan Message[T]

	// Close closes the subscriber and its channel. Idempotent.
	Close() error
}

// Broadcaster fans messages out to all active subscribers.
type Broadcaster[T any] interface {
	// Subscribe registers a new subscriber. The subscription is removed
	// automatically when ctx is cancelled.
	Subscribe(ctx context.Context) Subscriber[T]

	// Broadcast delivers msg to every subscriber without blocking; messages
	// to subscribers with full buffers are dropped.
	Broadcast(ctx context.Context, msg Message[T]) error

	// Close shuts the broadcaster down and closes all subscribers.
	Close() error
}

type subscriber[T any] struct {
	ch     chan Message[T]
	mu     sync.RWMutex
	closed bool
}

func (s *subscriber[T]) Receive() <-chan Message[T] { return s.ch }

func (s *subscriber[T]) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		close(s.ch)
		s.closed = true
	}
	return nil
}

func (s *subscriber[T]) send(msg Message[T]) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- msg:
		return true
	default:
		return false
	}
}
