// Package wsrelay links broadcast channels across processes over WebSocket.
//
// A Relay is a server holding one room per channel name. Every text frame a
// connection sends is forwarded to every other connection in its room. A
// Dialer is the client side: it implements broadcast.Opener so containers in
// different processes behave like tabs of one origin.
package wsrelay

import (
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/roach88/tabstate/internal/broadcast"
)

// Observer receives relay traffic events. Implementations must be safe for
// concurrent use.
type Observer interface {
	Connected()
	Disconnected()
	Relayed()
}

type nopObserver struct{}

func (nopObserver) Connected()    {}
func (nopObserver) Disconnected() {}
func (nopObserver) Relayed()      {}

// Config configures a Relay.
type Config struct {
	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Observer is notified of connections and relayed frames.
	Observer Observer

	// CheckOrigin overrides the upgrader's origin check. The default
	// accepts every origin.
	CheckOrigin func(r *http.Request) bool
}

// Relay serves GET /channels/{name}.
type Relay struct {
	router   chi.Router
	upgrader websocket.Upgrader
	logger   *slog.Logger
	observer Observer

	mu     sync.RWMutex
	rooms  map[string]map[*peer]struct{}
	closed bool
}

var _ http.Handler = (*Relay)(nil)

// New creates a relay.
func New(cfg Config) *Relay {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	observer := cfg.Observer
	if observer == nil {
		observer = nopObserver{}
	}
	checkOrigin := cfg.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}

	r := &Relay{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		logger:   logger,
		observer: observer,
		rooms:    make(map[string]map[*peer]struct{}),
	}

	router := chi.NewRouter()
	router.Get("/channels/{name}", r.handleChannel)
	r.router = router
	return r
}

func (r *Relay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.router.ServeHTTP(w, req)
}

// Members reports how many connections are joined to name.
func (r *Relay) Members(name string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[name])
}

// Close disconnects every peer. Later upgrades are refused.
func (r *Relay) Close() error {
	r.mu.Lock()
	r.closed = true
	var peers []*peer
	for _, room := range r.rooms {
		for p := range room {
			peers = append(peers, p)
		}
	}
	r.mu.Unlock()

	for _, p := range peers {
		p.conn.Close()
	}
	return nil
}

func (r *Relay) handleChannel(w http.ResponseWriter, req *http.Request) {
	name := chi.URLParam(req, "name")
	if req.URL.RawPath != "" {
		if unescaped, err := url.PathUnescape(name); err == nil {
			name = unescaped
		}
	}
	if _, ok := broadcast.KeyFromChannel(name); !ok {
		http.Error(w, "unknown channel", http.StatusBadRequest)
		return
	}

	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Debug("relay upgrade failed", "channel", name, "error", err)
		return
	}

	p := &peer{name: name, conn: conn}
	if !r.join(p) {
		conn.Close()
		return
	}
	r.observer.Connected()
	r.logger.Debug("relay peer joined", "channel", name)

	defer func() {
		r.leave(p)
		conn.Close()
		r.observer.Disconnected()
		r.logger.Debug("relay peer left", "channel", name)
	}()

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		r.forward(p, data)
	}
}

func (r *Relay) join(p *peer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	room, ok := r.rooms[p.name]
	if !ok {
		room = make(map[*peer]struct{})
		r.rooms[p.name] = room
	}
	room[p] = struct{}{}
	return true
}

func (r *Relay) leave(p *peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room := r.rooms[p.name]
	delete(room, p)
	if len(room) == 0 {
		delete(r.rooms, p.name)
	}
}

func (r *Relay) forward(from *peer, data []byte) {
	r.mu.RLock()
	peers := make([]*peer, 0, len(r.rooms[from.name]))
	for p := range r.rooms[from.name] {
		if p != from {
			peers = append(peers, p)
		}
	}
	r.mu.RUnlock()

	for _, p := range peers {
		if err := p.write(data); err != nil {
			r.logger.Debug("relay write failed", "channel", p.name, "error", err)
			p.conn.Close()
			continue
		}
		r.observer.Relayed()
	}
}

// peer is one connection. gorilla/websocket allows a single concurrent
// writer, so writes are serialized.
type peer struct {
	name string
	conn *websocket.Conn

	writeMu sync.Mutex
}

func (p *peer) write(data []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return p.conn.WriteMessage(websocket.TextMessage, data)
}
