// Package notify carries user-facing notifications from the session layer
// to the presentation layer over a bounded bus.
package notify

import (
	"context"
	"errors"
	"sync/atomic"
)

// ErrBusClosed is returned when publishing to a closed Bus.
var ErrBusClosed = errors.New("notification bus closed")

// Kind discriminates notifications.
type Kind string

const (
	KindIncomingMessage Kind = "incoming_message"
	KindConnectivity    Kind = "connectivity"
	KindError           Kind = "error"
	KindReauthRequired  Kind = "reauth_required"
)

// Notification is a single user-facing event.
type Notification struct {
	Kind      Kind   `json:"kind"`
	ThreadID  string `json:"thread_id,omitempty"`
	SenderID  string `json:"sender_id,omitempty"`
	Text      string `json:"text,omitempty"`
	Connected bool   `json:"connected,omitempty"`
}

type Bus struct {
	ch     chan Notification
	done   chan struct{}
	closed atomic.Bool
}

func NewBus() *Bus {
	return &Bus{
		ch:   make(chan Notification, 100),
		done: make(chan struct{}),
	}
}

func (b *Bus) Publish(ctx context.Context, n Notification) error {
	if b.closed.Load() {
		return ErrBusClosed
	}
	select {
	case b.ch <- n:
		return nil
	case <-b.done:
		return ErrBusClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Bus) Consume(ctx context.Context) (Notification, bool) {
	select {
	case n, ok := <-b.ch:
		return n, ok
	case <-b.done:
		return Notification{}, false
	case <-ctx.Done():
		return Notification{}, false
	}
}

func (b *Bus) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.done)
	}
}
