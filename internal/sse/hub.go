package sse

import (
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/threadscope/threadscope-backend/internal/logger"
	"github.com/threadscope/threadscope-backend/internal/realtime"
)

type Client struct {
	ID       uuid.UUID
	Channels map[string]bool
	Outbound chan realtime.SSEMessage
}

// Hub fans job events out to connected SSE clients by channel. When a
// Redis bus is wired, cross-process messages arrive through Broadcast
// as well; the hub itself is process-local.
type Hub struct {
	mu            sync.RWMutex
	log           *logger.Logger
	subscriptions map[string]map[*Client]bool
}

func NewHub(baseLog *logger.Logger) *Hub {
	return &Hub{
		log:           baseLog.With("component", "SSEHub"),
		subscriptions: make(map[string]map[*Client]bool),
	}
}

func (h *Hub) NewClient() *Client {
	return &Client{
		ID:       uuid.New(),
		Channels: make(map[string]bool),
		Outbound: make(chan realtime.SSEMessage, 16),
	}
}

func (h *Hub) Subscribe(c *Client, channel string) {
	channel = strings.TrimSpace(channel)
	if channel == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	c.Channels[channel] = true
	clients, ok := h.subscriptions[channel]
	if !ok {
		clients = make(map[*Client]bool)
		h.subscriptions[channel] = clients
	}
	clients[c] = true
	h.log.Debug("sse client subscribed", "client_id", c.ID, "channel", channel)
}

func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range c.Channels {
		if clients, ok := h.subscriptions[ch]; ok {
			delete(clients, c)
			if len(clients) == 0 {
				delete(h.subscriptions, ch)
			}
		}
	}
	c.Channels = make(map[string]bool)
	close(c.Outbound)
	h.log.Debug("sse client removed", "client_id", c.ID)
}

// Broadcast delivers to every subscriber of the message's channel.
// Slow clients drop messages rather than block the caller.
func (h *Hub) Broadcast(msg realtime.SSEMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.subscriptions[msg.Channel] {
		select {
		case c.Outbound <- msg:
		default:
			h.log.Warn("sse client lagging, dropping message",
				"client_id", c.ID, "channel", msg.Channel, "event", msg.Event)
		}
	}
}
