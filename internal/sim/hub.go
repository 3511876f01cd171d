package sim

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/kevyamon/yely-go/internal/models"
)

// client is one connected user session. Writes are serialized per
// connection; gorilla permits a single concurrent writer.
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) send(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(models.Envelope{Event: event, Data: data})
}

// Hub tracks connected users and their zone membership. Zones model the
// dispatch pools: joinZone/leaveZone from the channel map straight onto
// Join/Leave here.
type Hub struct {
	log *slog.Logger

	mu      sync.RWMutex
	clients map[string]*client
	zones   map[string]map[string]struct{}
}

func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:     log,
		clients: make(map[string]*client),
		zones:   make(map[string]map[string]struct{}),
	}
}

// Add registers a connection for userID, displacing any previous one.
func (h *Hub) Add(userID string, conn *websocket.Conn) {
	h.mu.Lock()
	old := h.clients[userID]
	h.clients[userID] = &client{conn: conn}
	h.mu.Unlock()
	if old != nil {
		_ = old.conn.Close()
	}
}

// Remove drops the connection and every zone membership it held. Returns
// the zones the user was in so callers can settle gauges. When conn is no
// longer the registered one (the user reconnected and displaced it), nothing
// is touched.
func (h *Hub) Remove(userID string, conn *websocket.Conn) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	cur, ok := h.clients[userID]
	if !ok || cur.conn != conn {
		return nil
	}
	delete(h.clients, userID)
	var left []string
	for zone, members := range h.zones {
		if _, ok := members[userID]; ok {
			delete(members, userID)
			left = append(left, zone)
		}
	}
	return left
}

// Join adds userID to a zone. Reports whether this was a new membership.
func (h *Hub) Join(zone, userID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.zones[zone]
	if !ok {
		members = make(map[string]struct{})
		h.zones[zone] = members
	}
	if _, exists := members[userID]; exists {
		return false
	}
	members[userID] = struct{}{}
	return true
}

// Leave removes userID from a zone. Reports whether a membership existed;
// leaving a pool never joined is a valid no-op.
func (h *Hub) Leave(zone, userID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.zones[zone]
	if !ok {
		return false
	}
	if _, exists := members[userID]; !exists {
		return false
	}
	delete(members, userID)
	return true
}

// InZone reports membership.
func (h *Hub) InZone(zone, userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.zones[zone][userID]
	return ok
}

// SendUser delivers one event to one user. Best-effort: a missing or broken
// connection is not an error worth propagating.
func (h *Hub) SendUser(userID, event string, payload any) {
	h.mu.RLock()
	c := h.clients[userID]
	h.mu.RUnlock()
	if c == nil {
		return
	}
	if err := c.send(event, payload); err != nil {
		h.log.Debug("ws send failed", "user_id", userID, "event", event, "error", err)
	}
}

// BroadcastZone delivers an event to every member of a zone except the
// optional sender.
func (h *Hub) BroadcastZone(zone, exceptUserID, event string, payload any) {
	h.mu.RLock()
	targets := make([]*client, 0, len(h.zones[zone]))
	for userID := range h.zones[zone] {
		if userID == exceptUserID {
			continue
		}
		if c := h.clients[userID]; c != nil {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range targets {
		if err := c.send(event, payload); err != nil {
			h.log.Debug("ws broadcast send failed", "zone", zone, "event", event, "error", err)
		}
	}
}

// SendZoneMembers delivers an event to the listed users, skipping those not
// in the zone. Used to target only the drivers near a pickup.
func (h *Hub) SendZoneMembers(zone string, userIDs []string, event string, payload any) int {
	sent := 0
	for _, id := range userIDs {
		if !h.InZone(zone, id) {
			continue
		}
		h.SendUser(id, event, payload)
		sent++
	}
	return sent
}
