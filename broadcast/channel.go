// Package broadcast is the tab-to-tab message bus. A Channel behaves
// like a browser BroadcastChannel: every message goes to every other
// member of the same named channel, never back to the sender, and
// sends never wait on slow receivers.
package broadcast

import (
	"context"
	"sync"
)

// inboxSize bounds each member's backlog. Messages beyond it are
// dropped; the protocol tolerates loss (a lost reply reads as timeout).
const inboxSize = 64

// Channel is one tab's membership of a named broadcast channel.
type Channel interface {
	// Send delivers m to every other member. It does not block on
	// receivers.
	Send(ctx context.Context, m Message) error

	// Messages yields messages from other members. It is closed by Close.
	Messages() <-chan Message

	Close() error
}

// Hub is an in-process broadcast bus, used when all tabs share one
// process and as the test double for the relay.
type Hub struct {
	lock     sync.RWMutex
	channels map[string]map[*hubMember]struct{}
}

func NewHub() *Hub {
	return &Hub{channels: make(map[string]map[*hubMember]struct{})}
}

// Join adds a member to the named channel.
func (h *Hub) Join(name string) Channel {
	m := &hubMember{hub: h, name: name, inbox: make(chan Message, inboxSize)}

	h.lock.Lock()
	defer h.lock.Unlock()
	members, ok := h.channels[name]
	if !ok {
		members = make(map[*hubMember]struct{})
		h.channels[name] = members
	}
	members[m] = struct{}{}
	return m
}

// Members returns how many members the named channel has.
func (h *Hub) Members(name string) int {
	h.lock.RLock()
	defer h.lock.RUnlock()
	return len(h.channels[name])
}

func (h *Hub) publish(from *hubMember, msg Message) {
	h.lock.RLock()
	defer h.lock.RUnlock()

	for m := range h.channels[from.name] {
		if m == from {
			continue
		}
		m.deliver(msg)
	}
}

func (h *Hub) leave(m *hubMember) {
	h.lock.Lock()
	defer h.lock.Unlock()

	members := h.channels[m.name]
	delete(members, m)
	if len(members) == 0 {
		delete(h.channels, m.name)
	}
}

type hubMember struct {
	hub   *Hub
	name  string
	inbox chan Message

	closeOnce sync.Once
	lock      sync.RWMutex
	closed    bool
}

func (m *hubMember) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.lock.RLock()
	closed := m.closed
	m.lock.RUnlock()
	if closed {
		return ErrClosed
	}
	if !msg.Type.valid() {
		return ErrUnknownMessage
	}
	m.hub.publish(m, msg)
	return nil
}

func (m *hubMember) Messages() <-chan Message {
	return m.inbox
}

func (m *hubMember) deliver(msg Message) {
	m.lock.RLock()
	defer m.lock.RUnlock()
	if m.closed {
		return
	}
	select {
	case m.inbox <- msg:
	default:
	}
}

func (m *hubMember) Close() error {
	m.closeOnce.Do(func() {
		m.hub.leave(m)
		m.lock.Lock()
		m.closed = true
		close(m.inbox)
		m.lock.Unlock()
	})
	return nil
}
