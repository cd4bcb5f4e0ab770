package hub

import (
	"encoding/json"
	"sync"

	"github.com/krevetka-D/conecta-realtime/internal/config"
	"github.com/krevetka-D/conecta-realtime/pkg/log"
)

// Hub owns the websocket connections on this instance, keyed by session id.
// Delivery targets explicit session id lists resolved by the dispatch
// pipeline, so the hub itself knows nothing about rooms or users.
type Hub struct {
	clients    map[string]*Client // sessionID -> client
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	config     config.WebSocketConfig

	// onDisconnect cascades session teardown (registry, rooms, typing).
	// Invoked from the run loop, once per session.
	onDisconnect func(sessionID string)
}

func NewHub(cfg config.WebSocketConfig) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		config:     cfg,
	}
}

// OnDisconnect sets the teardown callback. Must be called before Run.
func (h *Hub) OnDisconnect(fn func(sessionID string)) {
	h.onDisconnect = fn
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.SessionID] = client
			h.mu.Unlock()
			log.L().Debug().Str(log.FieldSessionID, client.SessionID).Msg("client registered")

		case client := <-h.unregister:
			h.mu.Lock()
			current, ok := h.clients[client.SessionID]
			if ok && current == client {
				delete(h.clients, client.SessionID)
				close(client.Send)
			}
			h.mu.Unlock()
			if ok && current == client {
				if h.onDisconnect != nil {
					h.onDisconnect(client.SessionID)
				}
				log.L().Debug().Str(log.FieldSessionID, client.SessionID).Msg("client unregistered")
			}
		}
	}
}

func (h *Hub) Register(client *Client) {
	h.register <- client
}

func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Deliver marshals the event once and pushes it to each target session's
// send buffer. Sessions whose buffer is full are disconnected (a reader that
// slow is effectively dead) and reported in failed along with sessions that
// are not connected to this instance.
func (h *Hub) Deliver(sessionIDs []string, event interface{}) (failed []string, err error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}
	return h.DeliverRaw(sessionIDs, data), nil
}

// DeliverRaw pushes pre-encoded bytes to each target session.
func (h *Hub) DeliverRaw(sessionIDs []string, data []byte) (failed []string) {
	var stuck []*Client
	h.mu.RLock()
	for _, id := range sessionIDs {
		client, ok := h.clients[id]
		if !ok {
			failed = append(failed, id)
			continue
		}
		select {
		case client.Send <- data:
		default:
			failed = append(failed, id)
			stuck = append(stuck, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range stuck {
		log.L().Warn().Str(log.FieldSessionID, client.SessionID).Msg("send buffer full, disconnecting slow consumer")
		go h.Unregister(client)
	}
	return failed
}

// BroadcastAll fans one event out to every connected session. Used for
// presence updates, which any client may be rendering.
func (h *Hub) BroadcastAll(event interface{}) {
	data, err := json.Marshal(event)
	if err != nil {
		log.L().Error().Err(err).Msg("failed to encode broadcast event")
		return
	}

	h.mu.RLock()
	ids := make([]string, 0, len(h.clients))
	for id := range h.clients {
		ids = append(ids, id)
	}
	h.mu.RUnlock()

	h.DeliverRaw(ids, data)
}

// SendToSession delivers one event to a single session. Absent or stuck
// sessions are not an error for the caller; they are logged and dropped.
func (h *Hub) SendToSession(sessionID string, event interface{}) {
	if _, err := h.Deliver([]string{sessionID}, event); err != nil {
		log.L().Error().Err(err).Str(log.FieldSessionID, sessionID).Msg("failed to encode event")
	}
}

// IsConnected reports whether the session has a live connection here.
func (h *Hub) IsConnected(sessionID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[sessionID]
	return ok
}

// ClientCount returns the number of connected clients, for stats endpoints.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
