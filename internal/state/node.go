package state

import (
	"reflect"
	"slices"
	"unsafe"
)

// Node observes in-place mutation of plain data held by a State: maps of
// type map[string]any and sequences of type []any, nested to any depth.
// Every write through a Node notifies listeners and persists the root value.
//
// Nodes are memoized per underlying object, so reaching the same map twice
// returns the same *Node. The memo is dropped whenever the root is replaced.
// A node whose object is no longer reachable from the root is detached: reads
// still see the old object, writes report false and change nothing.
// Values of any other type are returned raw and their mutation is invisible
// to the container.
type Node struct {
	owner  nodeOwner
	target any
	parent *Node
	slot   any
	gen    uint64
}

// nodeOwner is the container side of a Node. Callbacks run with the
// container lock held.
type nodeOwner interface {
	view(fn func(c *nodeCache))
	mutate(fn func(c *nodeCache) bool)
	rootLocked() any
	replaceRootLocked(v any) bool
}

type seqID struct {
	data unsafe.Pointer
	n    int
}

// nodeCache memoizes nodes by object identity: the map header for maps, the
// backing array and length for sequences.
type nodeCache struct {
	maps map[unsafe.Pointer]*Node
	seqs map[seqID]*Node
	gen  uint64
}

func (c *nodeCache) reset() {
	c.maps = nil
	c.seqs = nil
	c.gen++
}

func idOfSeq(s []any) (seqID, bool) {
	if cap(s) == 0 {
		return seqID{}, false
	}
	return seqID{data: unsafe.Pointer(unsafe.SliceData(s)), n: len(s)}, true
}

// wrap returns the memoized node for v, or v itself when it is not plain data.
func (c *nodeCache) wrap(owner nodeOwner, v any, parent *Node, slot any) any {
	switch t := v.(type) {
	case map[string]any:
		if t == nil {
			return v
		}
		id := reflect.ValueOf(t).UnsafePointer()
		if n, ok := c.maps[id]; ok {
			return n
		}
		n := &Node{owner: owner, target: t, parent: parent, slot: slot, gen: c.gen}
		if c.maps == nil {
			c.maps = map[unsafe.Pointer]*Node{}
		}
		c.maps[id] = n
		return n
	case []any:
		id, ok := idOfSeq(t)
		if !ok {
			return &Node{owner: owner, target: t, parent: parent, slot: slot, gen: c.gen}
		}
		if n, ok := c.seqs[id]; ok {
			return n
		}
		n := &Node{owner: owner, target: t, parent: parent, slot: slot, gen: c.gen}
		if c.seqs == nil {
			c.seqs = map[seqID]*Node{}
		}
		c.seqs[id] = n
		return n
	default:
		return v
	}
}

func (c *nodeCache) rekey(n *Node, old, grown []any) {
	if id, ok := idOfSeq(old); ok && c.seqs[id] == n {
		delete(c.seqs, id)
	}
	if id, ok := idOfSeq(grown); ok {
		if c.seqs == nil {
			c.seqs = map[seqID]*Node{}
		}
		c.seqs[id] = n
	}
}

// Node returns the observation wrapper for the root value. It reports false
// when the root is not plain data.
func (s *State[T]) Node() (*Node, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes.wrap(s, any(s.current), nil, nil).(*Node)
	return n, ok
}

// TrackNode subscribes l and returns the root node, as Track does for the
// plain value.
func (s *State[T]) TrackNode(l Listener) (*Node, bool) {
	s.Subscribe(l)
	return s.Node()
}

func (s *State[T]) view(fn func(c *nodeCache)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.nodes)
}

// mutate runs fn under the lock and, when it reports a change, notifies and
// persists the root.
func (s *State[T]) mutate(fn func(c *nodeCache) bool) {
	s.mu.Lock()
	if !fn(&s.nodes) {
		s.mu.Unlock()
		return
	}
	change := s.stampLocked(SourceNested)
	data, err := s.encodeLocked(s.current)
	s.mu.Unlock()

	s.notify(change)
	s.persistEncoded(data, err, change.Seq, "nested")
}

func (s *State[T]) rootLocked() any {
	return s.current
}

func (s *State[T]) replaceRootLocked(v any) bool {
	t, ok := v.(T)
	if !ok {
		return false
	}
	s.current = t
	return true
}

// Value returns the underlying map[string]any or []any. Reading it while
// another goroutine writes through a Node is a data race.
func (n *Node) Value() any {
	var out any
	n.owner.view(func(*nodeCache) { out = n.target })
	return out
}

// IsMap reports whether n wraps a map.
func (n *Node) IsMap() bool {
	var ok bool
	n.owner.view(func(*nodeCache) { _, ok = n.target.(map[string]any) })
	return ok
}

// IsSeq reports whether n wraps a sequence.
func (n *Node) IsSeq() bool {
	var ok bool
	n.owner.view(func(*nodeCache) { _, ok = n.target.([]any) })
	return ok
}

// Len returns the number of entries or elements.
func (n *Node) Len() int {
	var out int
	n.owner.view(func(*nodeCache) {
		switch t := n.target.(type) {
		case map[string]any:
			out = len(t)
		case []any:
			out = len(t)
		}
	})
	return out
}

// Keys returns the map keys in sorted order, or nil for a sequence.
func (n *Node) Keys() []string {
	var out []string
	n.owner.view(func(*nodeCache) {
		m, ok := n.target.(map[string]any)
		if !ok {
			return
		}
		out = make([]string, 0, len(m))
		for k := range m {
			out = append(out, k)
		}
	})
	slices.Sort(out)
	return out
}

// Get returns the value under key. Plain data comes back as a *Node.
func (n *Node) Get(key string) any {
	var out any
	n.owner.view(func(c *nodeCache) {
		m, ok := n.target.(map[string]any)
		if !ok {
			return
		}
		v, ok := m[key]
		if !ok {
			return
		}
		out = c.wrap(n.owner, v, n, key)
	})
	return out
}

// At returns element i, or nil when out of range. Plain data comes back as
// a *Node.
func (n *Node) At(i int) any {
	var out any
	n.owner.view(func(c *nodeCache) {
		s, ok := n.target.([]any)
		if !ok || i < 0 || i >= len(s) {
			return
		}
		out = c.wrap(n.owner, s[i], n, i)
	})
	return out
}

// Set stores v under key. It reports false when n is not a map or is
// detached.
func (n *Node) Set(key string, v any) bool {
	var ok bool
	n.owner.mutate(func(c *nodeCache) bool {
		m, isMap := n.target.(map[string]any)
		if !isMap || !n.attachedLocked(c) {
			return false
		}
		m[key] = unwrap(v)
		ok = true
		return true
	})
	return ok
}

// Delete removes key. It reports whether the key was present and removed.
func (n *Node) Delete(key string) bool {
	var found bool
	n.owner.mutate(func(c *nodeCache) bool {
		m, ok := n.target.(map[string]any)
		if !ok || !n.attachedLocked(c) {
			return false
		}
		if _, found = m[key]; !found {
			return false
		}
		delete(m, key)
		return true
	})
	return found
}

// SetAt replaces element i. It reports false when n is not a sequence, i is
// out of range or n is detached.
func (n *Node) SetAt(i int, v any) bool {
	var ok bool
	n.owner.mutate(func(c *nodeCache) bool {
		s, isSeq := n.target.([]any)
		if !isSeq || i < 0 || i >= len(s) || !n.attachedLocked(c) {
			return false
		}
		s[i] = unwrap(v)
		ok = true
		return true
	})
	return ok
}

// Append grows a sequence and writes the result back into its parent, or
// into the root. It reports false when n is not a sequence or is detached.
func (n *Node) Append(vs ...any) bool {
	var ok bool
	n.owner.mutate(func(c *nodeCache) bool {
		old, isSeq := n.target.([]any)
		if !isSeq || !n.attachedLocked(c) {
			return false
		}
		ok = true
		if len(vs) == 0 {
			return false
		}
		grown := old
		for _, v := range vs {
			grown = append(grown, unwrap(v))
		}
		n.writeBackLocked(grown)
		c.rekey(n, old, grown)
		n.target = grown
		return true
	})
	return ok
}

// attachedLocked reports whether n belongs to the current root: its memo
// generation is current and every slot from the root down still holds the
// object its node wraps.
func (n *Node) attachedLocked(c *nodeCache) bool {
	for cur := n; cur != nil; cur = cur.parent {
		if cur.gen != c.gen || !sameObject(cur.slotValueLocked(), cur.target) {
			return false
		}
	}
	return true
}

// slotValueLocked returns what the parent slot, or the root, holds now.
func (n *Node) slotValueLocked() any {
	if n.parent == nil {
		return n.owner.rootLocked()
	}
	switch p := n.parent.target.(type) {
	case map[string]any:
		return p[n.slot.(string)]
	case []any:
		if i := n.slot.(int); i < len(p) {
			return p[i]
		}
	}
	return nil
}

// writeBackLocked stores grown in the parent slot, or in the root. n must be
// attached.
func (n *Node) writeBackLocked(grown []any) {
	if n.parent == nil {
		n.owner.replaceRootLocked(grown)
		return
	}
	switch p := n.parent.target.(type) {
	case map[string]any:
		p[n.slot.(string)] = grown
	case []any:
		p[n.slot.(int)] = grown
	}
}

func sameObject(a, b any) bool {
	switch x := a.(type) {
	case map[string]any:
		y, ok := b.(map[string]any)
		return ok && x != nil && y != nil &&
			reflect.ValueOf(x).UnsafePointer() == reflect.ValueOf(y).UnsafePointer()
	case []any:
		y, ok := b.([]any)
		return ok && sameSeq(x, y)
	default:
		return false
	}
}

func sameSeq(a, b []any) bool {
	return len(a) == len(b) && unsafe.SliceData(a) == unsafe.SliceData(b)
}

// unwrap must run with the container lock held.
func unwrap(v any) any {
	if n, ok := v.(*Node); ok {
		return n.target
	}
	return v
}
