package broadcast

import "sync"

// Hub links channels of the same name within one process.
//
// Delivery is synchronous: Post returns after every peer's subscribers ran.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*hubChannel]struct{}
}

var _ Opener = (*Hub)(nil)

func NewHub() *Hub {
	return &Hub{rooms: map[string]map[*hubChannel]struct{}{}}
}

// Open joins the room called name.
func (h *Hub) Open(name string) (Channel, error) {
	c := &hubChannel{hub: h, name: name, subs: map[uint64]func(Message){}}

	h.mu.Lock()
	room, ok := h.rooms[name]
	if !ok {
		room = map[*hubChannel]struct{}{}
		h.rooms[name] = room
	}
	room[c] = struct{}{}
	h.mu.Unlock()

	return c, nil
}

// Members reports how many open channels share name.
func (h *Hub) Members(name string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[name])
}

func (h *Hub) leave(c *hubChannel) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room := h.rooms[c.name]
	delete(room, c)
	if len(room) == 0 {
		delete(h.rooms, c.name)
	}
}

func (h *Hub) peers(c *hubChannel) []*hubChannel {
	h.mu.RLock()
	defer h.mu.RUnlock()
	room := h.rooms[c.name]
	out := make([]*hubChannel, 0, len(room))
	for peer := range room {
		if peer != c {
			out = append(out, peer)
		}
	}
	return out
}

type hubChannel struct {
	hub  *Hub
	name string

	mu     sync.Mutex
	subs   map[uint64]func(Message)
	nextID uint64
	closed bool
}

func (c *hubChannel) Name() string { return c.name }

func (c *hubChannel) Post(msg Message) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}

	for _, peer := range c.hub.peers(c) {
		peer.dispatch(msg)
	}
	return nil
}

func (c *hubChannel) dispatch(msg Message) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	subs := make([]func(Message), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.mu.Unlock()

	for _, fn := range subs {
		fn(msg)
	}
}

func (c *hubChannel) Subscribe(fn func(Message)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	c.subs[id] = fn
	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

// Close leaves the room. Closing twice is a no-op.
func (c *hubChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.subs = map[uint64]func(Message){}
	c.mu.Unlock()

	c.hub.leave(c)
	return nil
}
