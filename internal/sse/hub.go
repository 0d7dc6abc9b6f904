package sse

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// EventType defines the SSE event name.
type EventType string

const (
	EventConversionCreated  EventType = "conversion.created"
	EventConversionFinished EventType = "conversion.finished"
)

// ConversionEvent is the payload pushed to admin streams.
type ConversionEvent struct {
	Event          EventType `json:"event"`
	EventID        int64     `json:"event_id"`
	EventType      int       `json:"event_type"`
	Status         string    `json:"status"`
	OuterEventID   *string   `json:"outer_event_id,omitempty"`
	ReplayOf       *int64    `json:"replay_of,omitempty"`
	CallbackStatus *int      `json:"callback_status,omitempty"`
	ErrorMessage   *string   `json:"error_message,omitempty"`
	ProcessingTime *int      `json:"processing_time,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// Client is one connected admin stream.
type Client struct {
	ID     string
	Events chan []byte
	// failedOnly limits the stream to failed outcomes.
	failedOnly bool
}

func (c *Client) wants(status string) bool {
	return !c.failedOnly || status == "failed"
}

type entry struct {
	status string
	data   []byte
}

// Hub fans conversion events out to admin streams and keeps the last few so
// a new stream does not start empty.
type Hub struct {
	mu      sync.Mutex
	clients map[string]*Client
	recent  []entry
	keep    int
}

// NewHub creates a hub that replays up to keep recent events on subscribe.
func NewHub(keep int) *Hub {
	return &Hub{clients: make(map[string]*Client), keep: keep}
}

// Subscribe registers a stream and returns it with the backlog it should
// send first, oldest first.
func (h *Hub) Subscribe(clientID string, failedOnly bool) (*Client, [][]byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c := &Client{ID: clientID, Events: make(chan []byte, 64), failedOnly: failedOnly}
	h.clients[clientID] = c

	var backlog [][]byte
	for _, e := range h.recent {
		if c.wants(e.status) {
			backlog = append(backlog, e.data)
		}
	}
	log.Info().Str("client_id", clientID).Int("total_clients", len(h.clients)).Msg("SSE client connected")
	return c, backlog
}

// Unsubscribe removes a stream and closes its channel.
func (h *Hub) Unsubscribe(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if c, ok := h.clients[clientID]; ok {
		close(c.Events)
		delete(h.clients, clientID)
		log.Info().Str("client_id", clientID).Int("total_clients", len(h.clients)).Msg("SSE client disconnected")
	}
}

// Publish records ev in the backlog and offers it to every interested
// stream. A stream whose buffer is full misses the event.
func (h *Hub) Publish(ev *ConversionEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal SSE event")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.keep > 0 {
		h.recent = append(h.recent, entry{status: ev.Status, data: data})
		if len(h.recent) > h.keep {
			h.recent = h.recent[len(h.recent)-h.keep:]
		}
	}

	for _, c := range h.clients {
		if !c.wants(ev.Status) {
			continue
		}
		select {
		case c.Events <- data:
		default:
			log.Warn().Str("client_id", c.ID).Int64("event_id", ev.EventID).Msg("SSE client buffer full, dropping event")
		}
	}
}

// Len returns the number of connected streams.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
