// Package events is the publish/subscribe broadcast layer that fans call
// state changes out to connected WebSocket observers.
package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/villagehq/village/pkg/core"
)

// Config tunes per-client delivery. Zero values fall back to defaults.
type Config struct {
	SendBuffer   int
	PingInterval time.Duration
	WriteTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.SendBuffer <= 0 {
		c.SendBuffer = 64
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 20 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	return c
}

// Hub tracks connected observers and their per-call subscriptions and
// broadcasts events to them. Delivery is best-effort and fire-and-forget:
// a slow or dead observer is dropped, never waited on, and a failure to
// deliver to one observer does not affect the rest.
type Hub struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	clients map[*Client]struct{}
	// Per-call subscription index. Entries are created lazily on first
	// subscribe and not removed when they empty out; an empty set is a
	// valid, harmless state.
	subs map[string]map[*Client]struct{}
}

func NewHub(cfg Config, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		cfg:     cfg.withDefaults(),
		logger:  logger,
		clients: make(map[*Client]struct{}),
		subs:    make(map[string]map[*Client]struct{}),
	}
}

// Register adds an observer connection and starts its writer. The returned
// client is the observer handle used for Subscribe/SendDirect/Unregister.
func (h *Hub) Register(conn Conn) *Client {
	c := &Client{
		hub:  h,
		conn: conn,
		send: make(chan core.Event, h.cfg.SendBuffer),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	total := len(h.clients)
	h.mu.Unlock()

	go c.writePump()
	h.logger.Debug("observer connected", "total_connections", total)
	return c
}

// Unregister removes the observer from the global set and from every
// per-call subscription set. Safe to call repeatedly and concurrently
// with in-flight broadcasts.
func (h *Hub) Unregister(c *Client) {
	if c == nil {
		return
	}

	h.mu.Lock()
	_, present := h.clients[c]
	delete(h.clients, c)
	for _, set := range h.subs {
		delete(set, c)
	}
	total := len(h.clients)
	h.mu.Unlock()

	c.stop()
	if present {
		h.logger.Debug("observer disconnected", "total_connections", total)
	}
}

// Subscribe adds the observer to a call's subscription set. Subscriptions
// to different calls are additive.
func (h *Hub) Subscribe(c *Client, callID string) {
	if c == nil || callID == "" {
		return
	}
	h.mu.Lock()
	if h.subs[callID] == nil {
		h.subs[callID] = make(map[*Client]struct{})
	}
	h.subs[callID][c] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("observer subscribed", "call_id", callID)
}

// PublishGlobal delivers ev to every registered observer.
func (h *Hub) PublishGlobal(ev core.Event) {
	h.mu.Lock()
	var overflow []*Client
	for c := range h.clients {
		if !c.enqueue(ev) {
			overflow = append(overflow, c)
		}
	}
	h.mu.Unlock()
	h.drop(overflow, ev.Type)
}

// PublishToCall delivers ev only to observers subscribed to callID.
// A no-op when the call has no subscribers.
func (h *Hub) PublishToCall(callID string, ev core.Event) {
	h.mu.Lock()
	var overflow []*Client
	for c := range h.subs[callID] {
		if !c.enqueue(ev) {
			overflow = append(overflow, c)
		}
	}
	h.mu.Unlock()
	h.drop(overflow, ev.Type)
}

// SendDirect delivers ev to exactly one observer. Used for the connection
// handshake and request acks.
func (h *Hub) SendDirect(c *Client, ev core.Event) {
	if c == nil {
		return
	}
	if !c.enqueue(ev) {
		h.drop([]*Client{c}, ev.Type)
	}
}

// drop unregisters observers whose outbound queue overflowed. An observer
// that cannot keep up must not stall the publisher.
func (h *Hub) drop(clients []*Client, eventType string) {
	for _, c := range clients {
		h.logger.Warn("dropping slow observer", "event_type", eventType)
		h.Unregister(c)
	}
}

// ConnectionCount returns the number of registered observers.
func (h *Hub) ConnectionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// SubscriberCount returns the number of observers subscribed to callID.
func (h *Hub) SubscriberCount(callID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[callID])
}

// CloseAll disconnects every observer. Called on shutdown after draining.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.Unregister(c)
	}
}
