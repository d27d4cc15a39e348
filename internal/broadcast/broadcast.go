// Package broadcast carries committed state writes between containers that
// share a key, the way a browser BroadcastChannel links tabs of one origin.
//
// Channels are named, unordered and at-most-once. A channel never receives
// its own posts. Absence of a broadcast capability is modeled by a nil
// Opener, never by an error.
package broadcast

import (
	"errors"
	"strings"
)

// TypeStateUpdate is the only message type containers act on.
const TypeStateUpdate = "state-update"

// ChannelPrefix scopes channel names to persisted state.
const ChannelPrefix = "persisted-state-"

// ErrClosed is returned when posting on a closed channel.
var ErrClosed = errors.New("broadcast: channel closed")

// Message is the payload exchanged on a channel. Value holds the encoded
// state; Origin names the sending container for diagnostics.
type Message struct {
	Type   string `json:"type"`
	Key    string `json:"key"`
	Value  []byte `json:"value"`
	Origin string `json:"origin,omitempty"`
}

// Channel is one endpoint on a named channel.
type Channel interface {
	Name() string
	Post(msg Message) error
	// Subscribe registers fn for messages posted by other endpoints.
	Subscribe(fn func(Message)) (cancel func())
	Close() error
}

// Opener creates channel endpoints by name.
type Opener interface {
	Open(name string) (Channel, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(name string) (Channel, error)

func (f OpenerFunc) Open(name string) (Channel, error) { return f(name) }

// ChannelName returns the channel name for a state key.
func ChannelName(key string) string {
	return ChannelPrefix + key
}

// KeyFromChannel reverses ChannelName. It reports false for names outside
// the persisted-state namespace.
func KeyFromChannel(name string) (string, bool) {
	if !strings.HasPrefix(name, ChannelPrefix) {
		return "", false
	}
	return strings.TrimPrefix(name, ChannelPrefix), true
}
