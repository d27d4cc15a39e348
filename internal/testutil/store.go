package testutil

import (
	"context"
	"sync"

	"github.com/roach88/tabstate/internal/store"
)

// FaultyStore wraps a Store with injectable failures and call counters.
//
// Thread-safety: All methods are safe for concurrent use.
type FaultyStore struct {
	inner store.Store

	mu        sync.Mutex
	getErr    error
	setErr    error
	deleteErr error
	gate      chan struct{}
	gets      int
	sets      int
	deletes   int
}

var _ store.Store = (*FaultyStore)(nil)

// NewFaultyStore wraps inner, or a fresh store.Memory when inner is nil.
func NewFaultyStore(inner store.Store) *FaultyStore {
	if inner == nil {
		inner = store.NewMemory()
	}
	return &FaultyStore{inner: inner}
}

// FailGet makes every Get return err. A nil err clears the fault.
func (f *FaultyStore) FailGet(err error) {
	f.mu.Lock()
	f.getErr = err
	f.mu.Unlock()
}

// FailSet makes every Set return err.
func (f *FaultyStore) FailSet(err error) {
	f.mu.Lock()
	f.setErr = err
	f.mu.Unlock()
}

// FailDelete makes every Delete return err.
func (f *FaultyStore) FailDelete(err error) {
	f.mu.Lock()
	f.deleteErr = err
	f.mu.Unlock()
}

// HoldGets blocks every Get until the returned release function is called.
func (f *FaultyStore) HoldGets() (release func()) {
	gate := make(chan struct{})
	f.mu.Lock()
	f.gate = gate
	f.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() { close(gate) })
	}
}

func (f *FaultyStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	f.mu.Lock()
	f.gets++
	gate, err := f.gate, f.getErr
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}
	}
	if err != nil {
		return nil, false, err
	}
	return f.inner.Get(ctx, key)
}

func (f *FaultyStore) Set(ctx context.Context, key string, value []byte) error {
	f.mu.Lock()
	f.sets++
	err := f.setErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.inner.Set(ctx, key, value)
}

func (f *FaultyStore) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	f.deletes++
	err := f.deleteErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.inner.Delete(ctx, key)
}

// Gets returns the number of Get calls.
func (f *FaultyStore) Gets() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gets
}

// Sets returns the number of Set calls, failed ones included.
func (f *FaultyStore) Sets() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sets
}

// Deletes returns the number of Delete calls.
func (f *FaultyStore) Deletes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deletes
}
