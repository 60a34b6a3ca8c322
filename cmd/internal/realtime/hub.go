package realtime

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"quay/cmd/identity"
)

// Hub owns the set of live connections.
//
// It provides the two capabilities the rest of the system needs from the
// transport: closing every connection authenticated with a revoked token
// (consumed by the accounts evictor) and pushing a user's own record
// projection to that user's connections (the user.updated channel, driven
// by the identity watcher).
type Hub struct {
	log *slog.Logger

	mu      sync.RWMutex
	clients map[string]*Client
}

var _ identity.Watcher = (*Hub)(nil)

// NewHub constructs a Hub instance.
func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		log:     log,
		clients: make(map[string]*Client),
	}
}

// Add registers a connected client.
func (h *Hub) Add(c *Client) {
	if h == nil || c == nil || c.ConnID == "" {
		return
	}

	h.mu.Lock()
	h.clients[c.ConnID] = c
	h.mu.Unlock()

	h.log.Info("hub.client.add", "conn_id", c.ConnID)
}

// Remove unregisters a client and signals its shutdown.
func (h *Hub) Remove(connID string) {
	if h == nil || connID == "" {
		return
	}

	h.mu.Lock()
	c := h.clients[connID]
	delete(h.clients, connID)
	h.mu.Unlock()

	// Signal shutdown after removing from the registry so a concurrent
	// pusher never holds a pointer to a client mid-teardown.
	if c != nil {
		c.Close()
	}

	h.log.Info("hub.client.remove", "conn_id", connID)
}

// Len returns the number of live connections.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// CloseByLoginTokens closes every live connection whose credential is one
// of the given token strings. It implements accounts.ConnCloser.
func (h *Hub) CloseByLoginTokens(tokens []string, reason string) int {
	if h == nil || len(tokens) == 0 {
		return 0
	}

	revoked := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		revoked[t] = true
	}

	h.mu.RLock()
	var victims []*Client
	for _, c := range h.clients {
		if t := c.LoginToken(); t != "" && revoked[t] {
			victims = append(victims, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range victims {
		c.Evict(reason)
		h.log.Info("hub.client.evict", "conn_id", c.ConnID, "reason", reason)
	}
	return len(victims)
}

// Broadcast pushes an envelope to every live connection, best effort.
func (h *Hub) Broadcast(env Envelope) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, c := range h.clients {
		select {
		case <-c.Done():
		case c.Send <- env:
		default:
		}
	}
}

// OnChanged implements identity.Watcher: push the fresh record projection
// to every connection bound to that identity.
func (h *Hub) OnChanged(_, new identity.Record) {
	h.pushUserView(new.ID, new.Public())
}

// OnRemoved implements identity.Watcher. Nothing to push — connections of
// a deleted identity are torn down by the evictor.
func (h *Hub) OnRemoved(identity.Record) {}

func (h *Hub) pushUserView(userID string, view identity.PublicView) {
	if userID == "" {
		return
	}

	payload, err := json.Marshal(view)
	if err != nil {
		return
	}
	env := Envelope{Type: TypeUserUpdated, TS: time.Now().UTC(), Payload: payload}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, c := range h.clients {
		if c.UserID() != userID {
			continue
		}
		select {
		case <-c.Done():
		case c.Send <- env:
		default:
			// Non-blocking push: a full queue drops the update.
		}
	}
}
