package state

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/tabstate/internal/broadcast"
	"github.com/roach88/tabstate/internal/bus"
	"github.com/roach88/tabstate/internal/codec"
	"github.com/roach88/tabstate/internal/store"
)

// Env describes the capabilities available to a container. Probing the
// runtime environment is the caller's job; the container only looks at what
// it is given.
type Env struct {
	// Store is the durable backend. Nil means a purely in-memory container:
	// no hydration and no broadcast.
	Store store.Store

	// Channels opens broadcast channels. Nil means no cross-tab sync.
	Channels broadcast.Opener

	// Reporter receives swallowed failures. Defaults to a LogReporter.
	Reporter Reporter

	// Logger is used for debug output. Defaults to slog.Default().
	Logger *slog.Logger

	// Bus, when set, receives every Change under Topic(key).
	Bus *bus.Bus
}

// Options configures one container.
type Options[T any] struct {
	// Serializer defaults to codec.JSON[T].
	Serializer codec.Serializer[T]

	// SyncTabs enables cross-tab broadcast. Defaults to false.
	SyncTabs bool
}

// Topic returns the bus topic changes for key are published under.
func Topic(key string) string {
	return "state:" + key
}

// State is a persisted, observable value for one key.
type State[T any] struct {
	key        string
	serializer codec.Serializer[T]
	syncTabs   bool
	env        Env
	logger     *slog.Logger
	reporter   Reporter
	origin     string
	clock      *Clock

	mu          sync.Mutex
	current     T
	lastChange  int64
	initialized bool
	nodes       nodeCache

	ready   chan struct{}
	pending inflight

	// writeMu orders background store writes; written is the sequence of
	// the last one that succeeded.
	writeMu sync.Mutex
	written int64

	listeners listenerSet

	// chanMu serializes listener-count transitions with channel setup.
	chanMu    sync.Mutex
	channel   broadcast.Channel
	cancelSub func()
}

// New creates a container holding initial and, when env has a store, starts
// hydrating it in the background.
func New[T any](key string, initial T, env Env, opts Options[T]) *State[T] {
	logger := env.Logger
	if logger == nil {
		logger = slog.Default()
	}
	reporter := env.Reporter
	if reporter == nil {
		reporter = LogReporter{Logger: logger}
	}
	serializer := opts.Serializer
	if serializer == nil {
		serializer = codec.JSON[T]{}
	}

	s := &State[T]{
		key:        norm.NFC.String(key),
		serializer: serializer,
		syncTabs:   opts.SyncTabs,
		env:        env,
		logger:     logger,
		reporter:   reporter,
		origin:     broadcast.NewOrigin(),
		clock:      NewClock(),
		current:    initial,
		ready:      make(chan struct{}),
	}

	if env.Store == nil {
		s.initialized = true
		close(s.ready)
		return s
	}

	s.pending.add()
	go s.hydrate(initial)
	return s
}

// Key returns the normalized key.
func (s *State[T]) Key() string {
	return s.key
}

// Origin returns the ID this container stamps on outbound broadcasts.
func (s *State[T]) Origin() string {
	return s.origin
}

// Initialized reports whether hydration has settled.
func (s *State[T]) Initialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

// Current returns the in-memory value without subscribing.
func (s *State[T]) Current() T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Track returns the in-memory value and subscribes l to future changes.
// Subscribing the same listener twice is a no-op.
func (s *State[T]) Track(l Listener) T {
	s.Subscribe(l)
	return s.Current()
}

// Subscribe registers l. The first subscriber opens the broadcast channel
// when cross-tab sync is enabled.
func (s *State[T]) Subscribe(l Listener) {
	if l == nil {
		return
	}
	s.chanMu.Lock()
	defer s.chanMu.Unlock()
	if s.listeners.add(l) && s.listeners.len() == 1 {
		s.activateLocked()
	}
}

// Unsubscribe removes l. The last subscriber leaving closes the channel.
func (s *State[T]) Unsubscribe(l Listener) {
	if l == nil {
		return
	}
	s.chanMu.Lock()
	defer s.chanMu.Unlock()
	if s.listeners.remove(l) && s.listeners.len() == 0 {
		s.deactivateLocked()
	}
}

// Watch subscribes fn and returns a function that unsubscribes it.
func (s *State[T]) Watch(fn func(Change)) (cancel func()) {
	l := NewListener(fn)
	s.Subscribe(l)
	var once sync.Once
	return func() {
		once.Do(func() { s.Unsubscribe(l) })
	}
}

// Set replaces the value, notifies listeners, and persists in the background.
func (s *State[T]) Set(v T) {
	s.mu.Lock()
	s.current = v
	s.nodes.reset()
	change := s.stampLocked(SourceLocal)
	data, err := s.encodeLocked(v)
	s.mu.Unlock()

	s.notify(change)
	s.persistEncoded(data, err, change.Seq, "set")
}

// Update applies fn to the current value and sets the result.
func (s *State[T]) Update(fn func(T) T) {
	s.Set(fn(s.Current()))
}

// Ready blocks until hydration settles or ctx is done. It returns nil once
// hydration has settled, whether or not it succeeded.
func (s *State[T]) Ready(ctx context.Context) error {
	select {
	case <-s.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Refresh re-reads the durable entry and replaces memory with it. An absent
// or undecodable entry leaves memory unchanged.
func (s *State[T]) Refresh(ctx context.Context) {
	if s.env.Store == nil {
		return
	}
	data, ok, err := s.env.Store.Get(ctx, s.key)
	if err != nil {
		s.report(KindLoad, "refresh", err)
		return
	}
	if !ok {
		return
	}
	v, err := s.serializer.Decode(data)
	if err != nil {
		s.report(KindDecode, "refresh", err)
		return
	}

	s.mu.Lock()
	s.current = v
	s.nodes.reset()
	change := s.stampLocked(SourceRefresh)
	s.mu.Unlock()

	s.notify(change)
}

// Clear deletes the durable entry. Memory is left as is; listeners are
// notified once the delete succeeds.
func (s *State[T]) Clear(ctx context.Context) {
	if s.env.Store == nil {
		return
	}
	if err := s.env.Store.Delete(ctx, s.key); err != nil {
		s.report(KindDelete, "clear", err)
		return
	}
	s.notify(Change{Key: s.key, Seq: s.clock.Next(), Source: SourceClear})
}

// Flush blocks until hydration and every background persist started so far
// have finished, or ctx is done.
func (s *State[T]) Flush(ctx context.Context) error {
	return s.pending.wait(ctx)
}

// stampLocked records an in-memory change. s.mu must be held.
func (s *State[T]) stampLocked(source Source) Change {
	seq := s.clock.Next()
	s.lastChange = seq
	return Change{Key: s.key, Seq: seq, Source: source}
}

// encodeLocked serializes v for persistence. s.mu must be held so nested
// writes cannot race the encoder.
func (s *State[T]) encodeLocked(v T) ([]byte, error) {
	if s.env.Store == nil {
		return nil, nil
	}
	return s.serializer.Encode(v)
}

// persistEncoded starts a background write of data, or reports the encode
// error that produced it.
func (s *State[T]) persistEncoded(data []byte, encodeErr error, seq int64, op string) {
	if s.env.Store == nil {
		return
	}
	if encodeErr != nil {
		s.report(KindPersist, op, encodeErr)
		return
	}
	s.pending.add()
	go func() {
		defer s.pending.done()
		s.persist(context.Background(), data, seq, op)
	}()
}

// persist writes data and, once the write succeeded, broadcasts it. Writes
// older than the last one that reached the store are dropped, and so is the
// hydration write-through (seq 0) once any change has landed in memory.
func (s *State[T]) persist(ctx context.Context, data []byte, seq int64, op string) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if seq < s.written || (seq == 0 && s.changed()) {
		return
	}
	if err := s.env.Store.Set(ctx, s.key, data); err != nil {
		s.report(KindPersist, op, err)
		return
	}
	s.written = seq
	s.post(data)
}

func (s *State[T]) changed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastChange != 0
}

func (s *State[T]) notify(c Change) {
	for _, l := range s.listeners.snapshot() {
		l.Notify(c)
	}
	if s.env.Bus != nil {
		s.env.Bus.Emit(Topic(s.key), c)
	}
}

func (s *State[T]) report(kind FailureKind, op string, err error) {
	s.reporter.Report(Failure{Key: s.key, Op: op, Kind: kind, Err: err})
}
