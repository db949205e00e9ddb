// Package events provides the in-process event bus jobs publish results on.
//
// Subscribers register with On by event name. Emit calls every subscriber of
// the name synchronously, in registration order. A panicking subscriber is
// logged and does not affect the others.
package events

import (
	"context"
	"log/slog"
	"sync"
)

// Handler receives the payload of an emitted event.
type Handler func(ctx context.Context, payload any)

// Message is an event delivered through a Stream.
type Message struct {
	Name    string
	Payload any
}

type subscription struct {
	id uint64
	fn Handler
}

// Bus dispatches named events to subscribers.
type Bus struct {
	logger *slog.Logger

	mu   sync.RWMutex
	subs map[string][]subscription
	next uint64
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the logger used to report panicking subscribers.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) {
		if l != nil {
			b.logger = l
		}
	}
}

// New creates an empty Bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		logger: slog.Default(),
		subs:   make(map[string][]subscription),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// On subscribes fn to name. The returned function removes the subscription.
func (b *Bus) On(name string, fn Handler) (unsubscribe func()) {
	b.mu.Lock()
	b.next++
	id := b.next
	b.subs[name] = append(b.subs[name], subscription{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(name, id) })
	}
}

func (b *Bus) remove(name string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[name]
	for i, s := range subs {
		if s.id == id {
			b.subs[name] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subs[name]) == 0 {
		delete(b.subs, name)
	}
}

// Emit delivers payload to every subscriber of name and returns how many
// subscribers were called.
func (b *Bus) Emit(ctx context.Context, name string, payload any) int {
	b.mu.RLock()
	// Copy so subscribers may unsubscribe while being called.
	subs := make([]subscription, len(b.subs[name]))
	copy(subs, b.subs[name])
	b.mu.RUnlock()

	for _, s := range subs {
		b.call(ctx, name, s.fn, payload)
	}
	return len(subs)
}

func (b *Bus) call(ctx context.Context, name string, fn Handler, payload any) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event subscriber panicked", "event", name, "panic", r)
		}
	}()
	fn(ctx, payload)
}

// Subscribers returns how many subscribers name has.
func (b *Bus) Subscribers(name string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[name])
}

// Subscribe registers a typed handler. Payloads of another type are skipped.
func Subscribe[T any](b *Bus, name string, fn func(ctx context.Context, payload T)) (unsubscribe func()) {
	return b.On(name, func(ctx context.Context, payload any) {
		if v, ok := payload.(T); ok {
			fn(ctx, v)
		}
	})
}

// Stream subscribes a buffered channel to the given names. Messages are
// dropped when the channel is full so that a slow reader never blocks Emit.
// The channel is closed by the returned cancel function.
func (b *Bus) Stream(buffer int, names ...string) (<-chan Message, func()) {
	ch := make(chan Message, buffer)

	var mu sync.Mutex
	closed := false
	unsubs := make([]func(), 0, len(names))
	for _, name := range names {
		unsubs = append(unsubs, b.On(name, func(_ context.Context, payload any) {
			mu.Lock()
			defer mu.Unlock()
			if closed {
				return
			}
			select {
			case ch <- Message{Name: name, Payload: payload}:
			default:
			}
		}))
	}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			for _, unsub := range unsubs {
				unsub()
			}
			mu.Lock()
			closed = true
			close(ch)
			mu.Unlock()
		})
	}
}
