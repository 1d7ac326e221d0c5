// Package mailbox provides bounded FIFO mailboxes connecting tasks. A mailbox
// has any number of senders and exactly one receiver. A full mailbox blocks
// its senders; nothing is ever dropped.
package mailbox

import (
	"context"
	"sync/atomic"

	"codeberg.org/mutker/gaugectl/internal/errors"
)

// DefaultCapacity is the number of slots a mailbox gets when configuration
// does not say otherwise.
const DefaultCapacity = 10

type Mailbox[T any] struct {
	ch    chan T
	taken atomic.Bool
}

// New creates a mailbox with room for capacity events.
func New[T any](capacity int) (*Mailbox[T], error) {
	if capacity <= 0 {
		return nil, errors.New().WithData(ErrInvalidCapacity, capacity)
	}

	return &Mailbox[T]{ch: make(chan T, capacity)}, nil
}

// Sender returns a send handle. Handles may be copied and shared freely.
func (m *Mailbox[T]) Sender() Sender[T] {
	return Sender[T]{ch: m.ch}
}

// Receiver returns the receive handle. Only the first call succeeds.
func (m *Mailbox[T]) Receiver() (Receiver[T], error) {
	if !m.taken.CompareAndSwap(false, true) {
		return Receiver[T]{}, errors.New().New(ErrReceiverTaken)
	}

	return Receiver[T]{ch: m.ch}, nil
}

// Len returns the number of queued events.
func (m *Mailbox[T]) Len() int {
	return len(m.ch)
}

func (m *Mailbox[T]) Cap() int {
	return cap(m.ch)
}

type Sender[T any] struct {
	ch chan<- T
}

// Send enqueues v, blocking while the mailbox is full. It only gives up when
// ctx is done, in which case v was not enqueued.
func (s Sender[T]) Send(ctx context.Context, v T) error {
	select {
	case s.ch <- v:
		return nil
	case <-ctx.Done():
		return errors.New().Wrap(ErrStopped, ctx.Err())
	}
}

type Receiver[T any] struct {
	ch <-chan T
}

// Receive dequeues the oldest event, blocking while the mailbox is empty.
func (r Receiver[T]) Receive(ctx context.Context) (T, error) {
	select {
	case v := <-r.ch:
		return v, nil
	case <-ctx.Done():
		var zero T
		return zero, errors.New().Wrap(ErrStopped, ctx.Err())
	}
}
