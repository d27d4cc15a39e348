package state

import "context"

// hydrate loads the durable entry once. A local write made before the load
// completes wins over the stored value. When nothing is stored, the initial
// value is written through so other tabs see it.
func (s *State[T]) hydrate(initial T) {
	defer s.pending.done()
	defer func() {
		s.mu.Lock()
		s.initialized = true
		s.mu.Unlock()
		close(s.ready)
	}()

	ctx := context.Background()
	data, ok, err := s.env.Store.Get(ctx, s.key)
	if err != nil {
		s.report(KindLoad, "hydrate", err)
		return
	}

	if !ok {
		s.mu.Lock()
		if s.lastChange != 0 {
			s.mu.Unlock()
			return
		}
		data, err := s.encodeLocked(initial)
		s.mu.Unlock()
		if err != nil {
			s.report(KindPersist, "hydrate", err)
			return
		}
		s.persist(ctx, data, 0, "hydrate")
		return
	}

	v, err := s.serializer.Decode(data)
	if err != nil {
		s.report(KindDecode, "hydrate", err)
		return
	}

	s.mu.Lock()
	if s.lastChange != 0 {
		s.mu.Unlock()
		s.logger.Debug("hydration superseded by local write", "key", s.key)
		return
	}
	s.current = v
	s.nodes.reset()
	change := s.stampLocked(SourceHydrate)
	s.mu.Unlock()

	s.notify(change)
}
