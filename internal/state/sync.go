package state

import (
	"github.com/roach88/tabstate/internal/broadcast"
)

// activateLocked opens the broadcast channel for the first subscriber.
// s.chanMu must be held.
func (s *State[T]) activateLocked() {
	if !s.syncTabs || s.env.Channels == nil || s.env.Store == nil || s.channel != nil {
		return
	}
	ch, err := s.env.Channels.Open(broadcast.ChannelName(s.key))
	if err != nil {
		s.report(KindBroadcast, "open", err)
		return
	}
	s.channel = ch
	s.cancelSub = ch.Subscribe(s.receive)
	s.logger.Debug("broadcast channel opened", "key", s.key, "channel", ch.Name())
}

// deactivateLocked closes the channel once the last subscriber left.
// s.chanMu must be held.
func (s *State[T]) deactivateLocked() {
	if s.channel == nil {
		return
	}
	if s.cancelSub != nil {
		s.cancelSub()
		s.cancelSub = nil
	}
	if err := s.channel.Close(); err != nil {
		s.report(KindBroadcast, "close", err)
	}
	s.logger.Debug("broadcast channel closed", "key", s.key)
	s.channel = nil
}

// post announces a committed write to peers. Without an open channel it is
// a no-op.
func (s *State[T]) post(data []byte) {
	s.chanMu.Lock()
	ch := s.channel
	s.chanMu.Unlock()
	if ch == nil {
		return
	}

	msg := broadcast.Message{
		Type:   broadcast.TypeStateUpdate,
		Key:    s.key,
		Value:  data,
		Origin: s.origin,
	}
	if err := ch.Post(msg); err != nil {
		s.report(KindBroadcast, "post", err)
	}
}

// receive applies a peer's write to memory. The value is already durable, so
// it is not persisted again.
func (s *State[T]) receive(msg broadcast.Message) {
	if msg.Type != broadcast.TypeStateUpdate || msg.Key != s.key {
		return
	}
	v, err := s.serializer.Decode(msg.Value)
	if err != nil {
		s.report(KindDecode, "receive", err)
		return
	}

	s.mu.Lock()
	s.current = v
	s.nodes.reset()
	change := s.stampLocked(SourceRemote)
	s.mu.Unlock()

	s.notify(change)
}
