package events

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/canvasflow/agentcore/internal/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Handler receives a concrete event of the type it subscribed to. Handlers
// run synchronously, in subscription order, and a panicking or erroring
// handler must not affect its siblings.
type Handler func(Event)

// Middleware inspects or transforms an event before it is logged and
// dispatched. Returning nil cancels delivery entirely: the event is not
// logged and not dispatched. Middlewares run strictly in insertion order,
// each receiving the previous one's output.
type Middleware func(Event) Event

// Bus is the typed publish/subscribe hub binding the Conversation,
// Coordinator, and Workflow agents. It is safe for concurrent use.
type Bus struct {
	mu          sync.Mutex
	subscribers map[reflect.Type][]subscription
	middlewares []Middleware
	log         []Event
	logCap      int
	logger      *zap.Logger
	metrics     *metricsRecorder
}

type subscription struct {
	key     uintptr
	handler Handler
}

// Option configures a Bus at construction time.
type Option func(*Bus)

// WithLogCapacity bounds the in-memory audit log to a ring buffer of the
// given size (0 means unbounded; an operator running this long-lived
// should cap it to avoid unbounded memory growth).
func WithLogCapacity(n int) Option {
	return func(b *Bus) { b.logCap = n }
}

// WithLogger injects a zap logger; defaults to a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(b *Bus) { b.logger = l }
}

// New builds an empty Bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		subscribers: make(map[reflect.Type][]subscription),
		logger:      zap.NewNop(),
		metrics:     newMetricsRecorder(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers handler for every event of the concrete type T.
// Subscribing the same (type, handler) pair twice is a no-op — idempotent,
// matching the source event bus's subscribe contract. Go function values
// aren't comparable, so identity is tracked by the handler's code pointer;
// that's stable for the common case of registering a bound method or
// package-level function once, which is how every caller in this module
// uses it.
func Subscribe[T Event](b *Bus, handler func(T)) {
	t := reflect.TypeOf((*T)(nil)).Elem()
	wrapped := func(e Event) { handler(e.(T)) }

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subscribers[t] {
		if s.key == subscriptionKey(handler) {
			return
		}
	}
	b.subscribers[t] = append(b.subscribers[t], subscription{
		key:     subscriptionKey(handler),
		handler: wrapped,
	})
}

func subscriptionKey[T any](handler func(T)) uintptr {
	return reflect.ValueOf(handler).Pointer()
}

// Unsubscribe removes handler from event type T's subscriber list. Returns
// true if a handler was removed.
func Unsubscribe[T Event](b *Bus, handler func(T)) bool {
	t := reflect.TypeOf((*T)(nil)).Elem()
	key := subscriptionKey(handler)

	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subscribers[t]
	for i, s := range subs {
		if s.key == key {
			b.subscribers[t] = append(subs[:i], subs[i+1:]...)
			return true
		}
	}
	return false
}

// AddMiddleware appends to the ordered middleware chain.
func (b *Bus) AddMiddleware(m Middleware) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.middlewares = append(b.middlewares, m)
}

// Publish runs the middleware chain, appends to the audit log, and
// dispatches to every subscriber of the event's concrete type. It returns
// once dispatch completes, synchronous from the caller's point of view.
//
// A middleware that panics or returns nil cancels delivery silently (it is
// logged, not raised to the caller). A handler that panics is caught and
// logged; siblings still run.
func (b *Bus) Publish(e Event) {
	_, span := tracing.StartSpan(context.Background(), "EventBus.Publish")
	span.SetAttributes(attribute.String("event_type", typeName(e)))
	defer span.End()

	b.mu.Lock()
	middlewares := append([]Middleware(nil), b.middlewares...)
	b.mu.Unlock()

	current := e
	for _, mw := range middlewares {
		next := b.runMiddleware(mw, current)
		if next == nil {
			b.logger.Debug("event blocked by middleware",
				zap.String("event_type", typeName(e)))
			b.metrics.recordBlocked(typeName(e))
			return
		}
		current = next
	}

	b.mu.Lock()
	b.log = append(b.log, current)
	if b.logCap > 0 && len(b.log) > b.logCap {
		b.log = b.log[len(b.log)-b.logCap:]
	}
	t := reflect.TypeOf(current)
	handlers := make([]subscription, len(b.subscribers[t]))
	copy(handlers, b.subscribers[t])
	b.mu.Unlock()

	b.metrics.recordPublished(typeName(current))
	for _, s := range handlers {
		b.runHandler(s.handler, current)
	}
}

func (b *Bus) runMiddleware(mw Middleware, e Event) (out Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("middleware panicked, blocking event",
				zap.Any("recover", r), zap.String("event_type", typeName(e)))
			out = nil
		}
	}()
	return mw(e)
}

func (b *Bus) runHandler(h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				zap.Any("recover", r), zap.String("event_type", typeName(e)))
			b.metrics.recordHandlerError(typeName(e))
		}
	}()
	h(e)
}

// EventLog returns a snapshot of the in-memory audit log, in publish order.
func (b *Bus) EventLog() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Event, len(b.log))
	copy(out, b.log)
	return out
}

func typeName(e Event) string {
	return fmt.Sprintf("%T", e)
}
