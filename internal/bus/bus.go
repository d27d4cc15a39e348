// Package bus is a topic-based publish/subscribe emitter with an optional
// outbound sender hook.
//
// Listeners run synchronously in registration order. A panicking listener is
// recovered and logged; delivery continues with the next listener.
package bus

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// SenderTopic is emitted whenever the sender hook is installed or removed.
const SenderTopic = "bridge:sender"

// ErrSenderNotReady is returned by Send when no sender is installed and the
// caller asked to fail.
var ErrSenderNotReady = errors.New("bus: sender not ready")

// Listener receives events published on a topic.
type Listener func(event any)

// Handle identifies one registration and is passed to Off.
type Handle struct {
	topic string
	id    uint64
}

// SenderStatus is the payload of SenderTopic events.
type SenderStatus struct {
	Ready bool
}

type entry struct {
	id uint64
	fn Listener
}

// Bus fans events out to per-topic listeners.
type Bus struct {
	mu     sync.RWMutex
	topics map[string][]entry
	nextID uint64

	senderMu sync.RWMutex
	post     func(data any)

	logger *slog.Logger
}

// Default is a process-wide bus for callers that do not inject their own.
var Default = New(nil)

// New creates a bus. A nil logger uses slog.Default().
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{topics: map[string][]entry{}, logger: logger}
}

// On registers fn for topic.
func (b *Bus) On(topic string, fn Listener) Handle {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	h := Handle{topic: topic, id: b.nextID}
	b.topics[topic] = append(b.topics[topic], entry{id: h.id, fn: fn})
	return h
}

// Once registers fn for the next event on topic only.
func (b *Bus) Once(topic string, fn Listener) Handle {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	h := Handle{topic: topic, id: b.nextID}
	var once sync.Once
	b.topics[topic] = append(b.topics[topic], entry{id: h.id, fn: func(event any) {
		once.Do(func() {
			b.Off(h)
			fn(event)
		})
	}})
	return h
}

// Off removes a registration. Removing twice is a no-op.
func (b *Bus) Off(h Handle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	entries := b.topics[h.topic]
	for i, e := range entries {
		if e.id == h.id {
			b.topics[h.topic] = append(entries[:i:i], entries[i+1:]...)
			break
		}
	}
	if len(b.topics[h.topic]) == 0 {
		delete(b.topics, h.topic)
	}
}

// Emit delivers event to every listener registered on topic at call time.
func (b *Bus) Emit(topic string, event any) {
	b.mu.RLock()
	entries := b.topics[topic]
	if len(entries) == 0 {
		b.mu.RUnlock()
		return
	}
	snapshot := make([]entry, len(entries))
	copy(snapshot, entries)
	b.mu.RUnlock()

	for _, e := range snapshot {
		b.deliver(topic, e.fn, event)
	}
}

func (b *Bus) deliver(topic string, fn Listener, event any) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("bus listener error", "topic", topic, "error", fmt.Sprint(r))
		}
	}()
	fn(event)
}

// Clear removes every listener on topic.
func (b *Bus) Clear(topic string) {
	b.mu.Lock()
	delete(b.topics, topic)
	b.mu.Unlock()
}

// ClearAll removes every listener on every topic.
func (b *Bus) ClearAll() {
	b.mu.Lock()
	b.topics = map[string][]entry{}
	b.mu.Unlock()
}

// Listeners reports how many listeners are registered on topic.
func (b *Bus) Listeners(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}

// Subscribe registers a typed listener; events of other types are skipped.
func Subscribe[T any](b *Bus, topic string, fn func(T)) Handle {
	return b.On(topic, func(event any) {
		if v, ok := event.(T); ok {
			fn(v)
		}
	})
}
