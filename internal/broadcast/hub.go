package broadcast

import (
	"errors"
	"sync"

	"go.uber.org/zap"
)

var (
	ErrUnknownConnection = errors.New("unknown connection")
	ErrAlreadyBound      = errors.New("connection is already bound to another identity")
)

// Event is one outbound message.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Sender delivers events to one connection. Send must not block; an error means
// the event was dropped.
type Sender interface {
	Send(Event) error
}

// Delivery reports how many connections an event reached. Delivery is at most once:
// a dropped event is never retried.
type Delivery struct {
	Delivered int
	Dropped   int
}

func (d *Delivery) add(other Delivery) {
	d.Delivered += other.Delivered
	d.Dropped += other.Dropped
}

type conn struct {
	sender   Sender
	identity string
	channels map[string]struct{}
}

// Hub manages connections, their bound identities and channel subscriptions, and
// delivers events to them.
type Hub struct {
	mu         sync.RWMutex
	conns      map[string]*conn
	channels   map[string]map[string]struct{}
	identities map[string]map[string]struct{}
	logger     *zap.Logger
}

// NewHub creates a new broadcast hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		conns:      make(map[string]*conn),
		channels:   make(map[string]map[string]struct{}),
		identities: make(map[string]map[string]struct{}),
		logger:     logger,
	}
}

// Register adds a connection. Registering an existing id replaces its sender and
// keeps its identity and subscriptions.
func (h *Hub) Register(id string, s Sender) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.conns[id]; ok {
		c.sender = s
		return
	}
	h.conns[id] = &conn{sender: s, channels: make(map[string]struct{})}
}

// Unregister removes a connection with its subscriptions and returns the identity it
// was bound to, if any.
func (h *Hub) Unregister(id string) (identity string, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, exists := h.conns[id]
	if !exists {
		return "", false
	}
	for ch := range c.channels {
		h.leave(ch, id)
	}
	if c.identity != "" {
		delete(h.identities[c.identity], id)
		if len(h.identities[c.identity]) == 0 {
			delete(h.identities, c.identity)
		}
	}
	delete(h.conns, id)
	return c.identity, c.identity != ""
}

// Bind attaches an identity to a connection. A connection is bound once; binding it
// again to the same identity is a no-op.
func (h *Hub) Bind(id, identity string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.conns[id]
	if !ok {
		return ErrUnknownConnection
	}
	switch c.identity {
	case identity:
		return nil
	case "":
	default:
		return ErrAlreadyBound
	}
	c.identity = identity
	if h.identities[identity] == nil {
		h.identities[identity] = make(map[string]struct{})
	}
	h.identities[identity][id] = struct{}{}
	return nil
}

// Identity returns the identity bound to a connection.
func (h *Hub) Identity(id string) (string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.conns[id]
	if !ok || c.identity == "" {
		return "", false
	}
	return c.identity, true
}

// Online reports whether any connection is bound to identity.
func (h *Hub) Online(identity string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.identities[identity]) > 0
}

// Subscribe adds a connection to a channel.
func (h *Hub) Subscribe(id, channel string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.conns[id]
	if !ok {
		return ErrUnknownConnection
	}
	c.channels[channel] = struct{}{}
	if h.channels[channel] == nil {
		h.channels[channel] = make(map[string]struct{})
	}
	h.channels[channel][id] = struct{}{}
	return nil
}

// Unsubscribe removes a connection from a channel.
func (h *Hub) Unsubscribe(id, channel string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.conns[id]
	if !ok {
		return ErrUnknownConnection
	}
	delete(c.channels, channel)
	h.leave(channel, id)
	return nil
}

func (h *Hub) leave(channel, id string) {
	delete(h.channels[channel], id)
	if len(h.channels[channel]) == 0 {
		delete(h.channels, channel)
	}
}

// Subscribers returns the number of connections subscribed to a channel.
func (h *Hub) Subscribers(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[channel])
}

// Connections returns the number of registered connections.
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// SendTo delivers ev to one connection.
func (h *Hub) SendTo(id string, ev Event) Delivery {
	h.mu.RLock()
	c, ok := h.conns[id]
	var targets []target
	if ok {
		targets = []target{{id: id, sender: c.sender}}
	}
	h.mu.RUnlock()
	return h.deliver(targets, ev)
}

// SendToIdentity delivers ev to every connection bound to identity.
func (h *Hub) SendToIdentity(identity string, ev Event) Delivery {
	h.mu.RLock()
	targets := h.collect(h.identities[identity], "")
	h.mu.RUnlock()
	return h.deliver(targets, ev)
}

// Publish delivers ev to every subscriber of channel except the connection exclude.
func (h *Hub) Publish(channel string, ev Event, exclude string) Delivery {
	h.mu.RLock()
	targets := h.collect(h.channels[channel], exclude)
	h.mu.RUnlock()
	return h.deliver(targets, ev)
}

// BroadcastAll delivers ev to every registered connection.
func (h *Hub) BroadcastAll(ev Event) Delivery {
	h.mu.RLock()
	targets := make([]target, 0, len(h.conns))
	for id, c := range h.conns {
		targets = append(targets, target{id: id, sender: c.sender})
	}
	h.mu.RUnlock()
	return h.deliver(targets, ev)
}

type target struct {
	id     string
	sender Sender
}

// collect must be called with h.mu held.
func (h *Hub) collect(ids map[string]struct{}, exclude string) []target {
	out := make([]target, 0, len(ids))
	for id := range ids {
		if id == exclude {
			continue
		}
		if c, ok := h.conns[id]; ok {
			out = append(out, target{id: id, sender: c.sender})
		}
	}
	return out
}

// deliver sends outside the lock so a slow sender never stalls registry changes.
func (h *Hub) deliver(targets []target, ev Event) Delivery {
	var d Delivery
	for _, t := range targets {
		if err := t.sender.Send(ev); err != nil {
			d.Dropped++
			h.logger.Debug("event dropped",
				zap.String("conn_id", t.id),
				zap.String("type", ev.Type),
				zap.Error(err),
			)
			continue
		}
		d.Delivered++
	}
	return d
}
