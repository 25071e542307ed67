package relay

import (
	"context"
	"sync"
)

// Bus is an in-process relay backend. It is an injected dependency, one bus
// per wiring, shared by every session that should be able to rendezvous.
type Bus struct {
	mu       sync.Mutex
	sessions map[string][]*Session
	// mailbox buffers emissions on a channel nobody is listening to yet, so
	// the handshake does not depend on connection order.
	mailbox map[string][]pendingEvent
}

type pendingEvent struct {
	event   string
	payload []byte
	origin  *Session
}

func NewBus() *Bus {
	return &Bus{
		sessions: make(map[string][]*Session),
		mailbox:  make(map[string][]pendingEvent),
	}
}

// Session creates an unconnected participant handle on this bus.
func (b *Bus) Session() *Session {
	return &Session{bus: b, handlers: make(map[string][]func([]byte))}
}

func (b *Bus) attach(channel string, s *Session) {
	b.mu.Lock()
	b.sessions[channel] = append(b.sessions[channel], s)
	pending := b.mailbox[channel]
	delete(b.mailbox, channel)
	b.mu.Unlock()

	for _, ev := range pending {
		if ev.origin != s {
			s.dispatch(ev.event, ev.payload)
		}
	}
}

func (b *Bus) detach(channel string, s *Session) {
	b.mu.Lock()
	defer b.mu.Unlock()
	kept := b.sessions[channel][:0]
	for _, other := range b.sessions[channel] {
		if other != s {
			kept = append(kept, other)
		}
	}
	if len(kept) == 0 {
		delete(b.sessions, channel)
	} else {
		b.sessions[channel] = kept
	}
}

func (b *Bus) publish(channel, event string, payload []byte, origin *Session) {
	b.mu.Lock()
	peers := make([]*Session, 0, len(b.sessions[channel]))
	for _, s := range b.sessions[channel] {
		if s != origin {
			peers = append(peers, s)
		}
	}
	if len(peers) == 0 {
		b.mailbox[channel] = append(b.mailbox[channel], pendingEvent{
			event: event, payload: append([]byte(nil), payload...), origin: origin,
		})
	}
	b.mu.Unlock()

	for _, peer := range peers {
		peer.dispatch(event, payload)
	}
}

// Session is one participant's connection to the in-memory bus.
type Session struct {
	bus      *Bus
	mu       sync.Mutex
	channel  string
	handlers map[string][]func([]byte)
}

func (s *Session) Connect(_ context.Context, channel string) error {
	if !validChannel(channel) {
		return ErrInvalidChannel
	}
	s.mu.Lock()
	if s.channel != "" {
		s.bus.detach(s.channel, s)
	}
	s.channel = channel
	s.mu.Unlock()
	s.bus.attach(channel, s)
	return nil
}

func (s *Session) On(event string, handler func(payload []byte)) {
	s.mu.Lock()
	s.handlers[event] = append(s.handlers[event], handler)
	s.mu.Unlock()
}

func (s *Session) Emit(_ context.Context, event string, payload []byte) error {
	s.mu.Lock()
	channel := s.channel
	s.mu.Unlock()
	if channel == "" {
		return ErrNotConnected
	}
	s.bus.publish(channel, event, payload, s)
	return nil
}

func (s *Session) Disconnect() error {
	s.mu.Lock()
	channel := s.channel
	s.channel = ""
	s.handlers = make(map[string][]func([]byte))
	s.mu.Unlock()
	if channel != "" {
		s.bus.detach(channel, s)
	}
	return nil
}

func (s *Session) dispatch(event string, payload []byte) {
	s.mu.Lock()
	handlers := make([]func([]byte), len(s.handlers[event]))
	copy(handlers, s.handlers[event])
	s.mu.Unlock()
	for _, handler := range handlers {
		handler(append([]byte(nil), payload...))
	}
}
