package testutil

import (
	"sync"

	"github.com/roach88/tabstate/internal/state"
)

// RecordingListener records every change it is notified of.
//
// Thread-safety: All methods are safe for concurrent use.
type RecordingListener struct {
	id uint64

	mu      sync.Mutex
	changes []state.Change
}

var _ state.Listener = (*RecordingListener)(nil)

// NewRecordingListener creates a listener with a fresh ID.
func NewRecordingListener() *RecordingListener {
	return &RecordingListener{id: state.NextListenerID()}
}

func (l *RecordingListener) ID() uint64 { return l.id }

func (l *RecordingListener) Notify(c state.Change) {
	l.mu.Lock()
	l.changes = append(l.changes, c)
	l.mu.Unlock()
}

// Changes returns a copy of the recorded changes in delivery order.
func (l *RecordingListener) Changes() []state.Change {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]state.Change, len(l.changes))
	copy(out, l.changes)
	return out
}

// Sources returns the source of each recorded change.
func (l *RecordingListener) Sources() []state.Source {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]state.Source, len(l.changes))
	for i, c := range l.changes {
		out[i] = c.Source
	}
	return out
}

// Count returns the number of recorded changes.
func (l *RecordingListener) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.changes)
}
