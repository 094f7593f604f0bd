package bus

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Logger interface for dependency injection.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is used when no logger is provided.
type noopLogger struct{}

func (noopLogger) Debug(msg string, args ...any) {}
func (noopLogger) Info(msg string, args ...any)  {}
func (noopLogger) Warn(msg string, args ...any)  {}
func (noopLogger) Error(msg string, args ...any) {}

// Handler receives emitted events. Handlers run synchronously on the
// emitter's goroutine; anything slow belongs on the handler's own
// goroutine or queue.
type Handler func(Event)

// subscription pairs a handler with its registration identity.
type subscription struct {
	id   string
	name string
	fn   Handler
}

// Bus fans events out to subscribed listeners, synchronously and in
// registration order. A panic in one listener is recovered and logged
// so delivery always reaches the rest.
type Bus struct {
	mu   sync.RWMutex
	subs []subscription

	logger   Logger
	loggerMu sync.RWMutex

	emitted atomic.Uint64
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{logger: noopLogger{}}
}

// SetLogger sets the logger used to report listener panics.
func (b *Bus) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	defer b.loggerMu.Unlock()
	if logger != nil {
		b.logger = logger
	}
}

func (b *Bus) log() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}

// Subscribe registers a named listener and returns its unsubscribe
// handle. The name identifies the listener in panic logs; several
// listeners may share one name. A nil handler is ignored and the
// returned handle is a no-op.
func (b *Bus) Subscribe(name string, fn Handler) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}

	id := uuid.NewString()

	b.mu.Lock()
	b.subs = append(b.subs, subscription{id: id, name: name, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(id) })
	}
}

func (b *Bus) remove(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.subs {
		if sub.id == id {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// Emit delivers the event to every listener in registration order on
// the calling goroutine. Listeners registered during delivery see only
// later events.
func (b *Bus) Emit(event Event) {
	b.mu.RLock()
	subs := make([]subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	b.emitted.Add(1)

	for _, sub := range subs {
		b.deliver(sub, event)
	}
}

// deliver invokes one listener with panic recovery, so a broken
// listener never aborts delivery to the others.
func (b *Bus) deliver(sub subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log().Error("event listener panicked",
				"listener", sub.name,
				"kind", event.Kind,
				"device_id", event.DeviceID,
				"panic", r)
		}
	}()
	sub.fn(event)
}

// SubscriberCount returns the number of registered listeners.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Emitted returns the number of events emitted since creation.
func (b *Bus) Emitted() uint64 {
	return b.emitted.Load()
}
