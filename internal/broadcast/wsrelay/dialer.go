package wsrelay

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/roach88/tabstate/internal/broadcast"
)

// Dialer opens broadcast channels on a remote Relay.
type Dialer struct {
	// BaseURL is the relay root, for example ws://localhost:8787.
	BaseURL string

	// WS defaults to websocket.DefaultDialer.
	WS *websocket.Dialer

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

var _ broadcast.Opener = (*Dialer)(nil)

// Open dials the relay room for name and starts its read loop.
func (d *Dialer) Open(name string) (broadcast.Channel, error) {
	ws := d.WS
	if ws == nil {
		ws = websocket.DefaultDialer
	}
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	target := strings.TrimRight(d.BaseURL, "/") + "/channels/" + url.PathEscape(name)
	conn, resp, err := ws.Dial(target, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial relay %s: %s: %w", target, resp.Status, err)
		}
		return nil, fmt.Errorf("dial relay %s: %w", target, err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	c := &channel{
		name:   name,
		conn:   conn,
		logger: logger,
		subs:   make(map[uint64]func(broadcast.Message)),
	}
	go c.readLoop()
	return c, nil
}

type channel struct {
	name   string
	conn   *websocket.Conn
	logger *slog.Logger

	writeMu sync.Mutex

	mu     sync.Mutex
	subs   map[uint64]func(broadcast.Message)
	nextID uint64
	closed bool
}

func (c *channel) Name() string { return c.name }

func (c *channel) Post(msg broadcast.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return broadcast.ErrClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("post %s: %w", c.name, err)
	}
	return nil
}

func (c *channel) Subscribe(fn func(broadcast.Message)) func() {
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

// Close may be called from a subscriber; it does not wait for the read loop.
func (c *channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.subs = make(map[uint64]func(broadcast.Message))
	c.mu.Unlock()

	c.writeMu.Lock()
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	return c.conn.Close()
}

func (c *channel) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			closed := c.closed
			c.mu.Unlock()
			if !closed {
				c.logger.Debug("relay connection lost", "channel", c.name, "error", err)
			}
			return
		}

		var msg broadcast.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Debug("relay frame dropped", "channel", c.name, "error", err)
			continue
		}
		c.dispatch(msg)
	}
}

func (c *channel) dispatch(msg broadcast.Message) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	subs := make([]func(broadcast.Message), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.mu.Unlock()

	for _, fn := range subs {
		fn(msg)
	}
}
