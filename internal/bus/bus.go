package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/AetharaAI/lotus/internal/types"
)

// Handler processes a single delivered envelope. Handlers run on the
// subscription's dispatch goroutine; returning an error (or panicking) is
// reported to the bus error callback and never affects other subscribers.
type Handler func(ctx context.Context, env Envelope) error

// ErrorFunc receives handler failures. The supervisor wires this into module
// health accounting; the default logs and moves on.
type ErrorFunc func(sub *Subscription, env Envelope, err error)

// EventBus is the publish/subscribe transport every module communicates
// through. Implementations must be safe for concurrent use.
type EventBus interface {
	// Publish delivers an envelope to every subscription whose pattern
	// matches the topic. Delivery is at-least-once within the process
	// lifetime; publish never blocks on slow subscribers.
	Publish(ctx context.Context, env Envelope) error

	// Subscribe registers a handler for a topic pattern. Events matching the
	// pattern are delivered in publish order on a dedicated goroutine.
	Subscribe(pattern string, owner string, handler Handler) (*Subscription, error)

	// Unsubscribe removes a subscription and stops its dispatch goroutine
	// after the backlog drains.
	Unsubscribe(sub *Subscription)

	// Close shuts down the bus and all subscriptions.
	Close() error
}

// Subscription is a handle to a registered pattern handler.
type Subscription struct {
	id      types.ID
	pattern string
	owner   string
	handler Handler
	queue   *envelopeQueue
	done    chan struct{}
}

// ID returns the unique subscription identifier.
func (s *Subscription) ID() types.ID { return s.id }

// Pattern returns the topic pattern this subscription matches.
func (s *Subscription) Pattern() string { return s.pattern }

// Owner returns the name of the module that registered the subscription.
func (s *Subscription) Owner() string { return s.owner }

// Backlog returns the number of undelivered envelopes queued for this
// subscription.
func (s *Subscription) Backlog() int { return s.queue.Len() }

// DefaultEventBus implements EventBus with one unbounded FIFO queue and one
// dispatch goroutine per subscription. Ordering holds per subscription for
// events published on the same topic; handlers of different subscriptions
// run fully concurrently.
type DefaultEventBus struct {
	mu     sync.RWMutex
	subs   map[types.ID]*Subscription
	closed bool

	logger *slog.Logger
	errFn  ErrorFunc
	wg     sync.WaitGroup
}

// Option configures a DefaultEventBus.
type Option func(*DefaultEventBus)

// WithLogger sets the logger used for delivery diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(b *DefaultEventBus) {
		b.logger = logger
	}
}

// WithErrorFunc sets the callback invoked when a handler returns an error or
// panics.
func WithErrorFunc(fn ErrorFunc) Option {
	return func(b *DefaultEventBus) {
		b.errFn = fn
	}
}

// NewEventBus creates a DefaultEventBus.
func NewEventBus(opts ...Option) *DefaultEventBus {
	b := &DefaultEventBus{
		subs:   make(map[types.ID]*Subscription),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.errFn == nil {
		b.errFn = func(sub *Subscription, env Envelope, err error) {
			b.logger.Warn("event handler failed",
				"subscriber", sub.owner,
				"pattern", sub.pattern,
				"topic", env.Topic,
				"error", err)
		}
	}
	return b
}

// Publish delivers env to all matching subscriptions.
func (b *DefaultEventBus) Publish(ctx context.Context, env Envelope) error {
	if env.Timestamp.IsZero() {
		env.Timestamp = nowFunc()
	}
	if err := env.Validate(); err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return types.NewError(types.BUS_CLOSED, "event bus is closed")
	}

	for _, sub := range b.subs {
		if MatchTopic(sub.pattern, env.Topic) {
			sub.queue.Push(env)
		}
	}
	return nil
}

// Subscribe registers a handler for a pattern and starts its dispatch loop.
func (b *DefaultEventBus) Subscribe(pattern string, owner string, handler Handler) (*Subscription, error) {
	if err := ValidatePattern(pattern); err != nil {
		return nil, err
	}
	if handler == nil {
		return nil, types.NewError(types.BUS_INVALID_PATTERN, "handler cannot be nil")
	}

	sub := &Subscription{
		id:      types.NewID(),
		pattern: pattern,
		owner:   owner,
		handler: handler,
		queue:   newEnvelopeQueue(),
		done:    make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, types.NewError(types.BUS_CLOSED, "event bus is closed")
	}
	b.subs[sub.id] = sub
	b.mu.Unlock()

	b.wg.Add(1)
	go b.dispatch(sub)

	return sub, nil
}

// Unsubscribe removes the subscription. Its queued backlog is still drained
// before the dispatch goroutine exits.
func (b *DefaultEventBus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	b.mu.Lock()
	_, exists := b.subs[sub.id]
	delete(b.subs, sub.id)
	b.mu.Unlock()

	if exists {
		sub.queue.Close()
		<-sub.done
	}
}

// Close shuts down the bus. Pending backlogs drain before Close returns.
func (b *DefaultEventBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := make([]*Subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		subs = append(subs, sub)
	}
	b.subs = make(map[types.ID]*Subscription)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.queue.Close()
	}
	b.wg.Wait()
	return nil
}

// dispatch drains a subscription queue, invoking the handler for each
// envelope with panic isolation.
func (b *DefaultEventBus) dispatch(sub *Subscription) {
	defer b.wg.Done()
	defer close(sub.done)

	for {
		env, ok := sub.queue.Pop()
		if !ok {
			return
		}
		b.invoke(sub, env)
	}
}

// invoke runs a handler and routes failures to the error callback. A panic
// in one handler must never take down the dispatch loop or starve other
// subscribers of the same event.
func (b *DefaultEventBus) invoke(sub *Subscription, env Envelope) {
	defer func() {
		if r := recover(); r != nil {
			b.errFn(sub, env, types.NewError(types.HANDLER_PANIC,
				fmt.Sprintf("handler for %q panicked: %v", env.Topic, r)))
		}
	}()

	if err := sub.handler(context.Background(), env); err != nil {
		b.errFn(sub, env, err)
	}
}
