package state

import (
	"sync"
	"sync/atomic"
)

// Source says what produced a change.
type Source string

const (
	SourceHydrate Source = "hydrate"
	SourceLocal   Source = "local"
	SourceNested  Source = "nested"
	SourceRemote  Source = "remote"
	SourceRefresh Source = "refresh"
	SourceClear   Source = "clear"
)

// Change is delivered to listeners after the in-memory value changed, or
// after the durable entry was cleared.
type Change struct {
	Key    string
	Seq    int64
	Source Source
}

// Listener is anything that can be notified when a state changes.
type Listener interface {
	// ID returns a unique identifier used to deduplicate subscriptions.
	ID() uint64

	// Notify is called synchronously on the goroutine that made the change.
	Notify(c Change)
}

var listenerIDs atomic.Uint64

// NextListenerID returns a process-unique listener ID.
func NextListenerID() uint64 {
	return listenerIDs.Add(1)
}

type funcListener struct {
	id uint64
	fn func(Change)
}

func (l *funcListener) ID() uint64 { return l.id }

func (l *funcListener) Notify(c Change) { l.fn(c) }

// NewListener wraps fn as a Listener with a fresh ID.
func NewListener(fn func(Change)) Listener {
	return &funcListener{id: NextListenerID(), fn: fn}
}

// listenerSet holds subscribers deduplicated by ID.
type listenerSet struct {
	mu   sync.RWMutex
	subs []Listener
}

// add reports whether l was newly added.
func (s *listenerSet) add(l Listener) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	lid := l.ID()
	for _, existing := range s.subs {
		if existing.ID() == lid {
			return false
		}
	}
	s.subs = append(s.subs, l)
	return true
}

// remove reports whether l was subscribed.
func (s *listenerSet) remove(l Listener) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	lid := l.ID()
	for i, existing := range s.subs {
		if existing.ID() == lid {
			s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
			return true
		}
	}
	return false
}

func (s *listenerSet) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

// snapshot copies subscribers so notification runs without the lock held.
func (s *listenerSet) snapshot() []Listener {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Listener, len(s.subs))
	copy(out, s.subs)
	return out
}
