package realtime

import (
	"log/slog"
	"sync"
	"time"

	"stockroom/cmd/internal/auth/session"
)

// Hub tracks connected clients per user. It implements session.Notifier.
type Hub struct {
	log *slog.Logger

	mu    sync.RWMutex
	users map[string]map[string]*Client
}

var _ session.Notifier = (*Hub)(nil)

// NewHub constructs a Hub instance.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:   log,
		users: make(map[string]map[string]*Client),
	}
}

// Register adds c under its user.
func (h *Hub) Register(c *Client) {
	if c == nil || c.UserID == "" || c.ID == "" {
		return
	}

	h.mu.Lock()
	set, ok := h.users[c.UserID]
	if !ok {
		set = make(map[string]*Client)
		h.users[c.UserID] = set
	}
	set[c.ID] = c
	h.mu.Unlock()

	h.log.Debug("realtime.client.register", "user_id", c.UserID, "client_id", c.ID)
}

// Unregister removes c. Safe to call more than once.
func (h *Hub) Unregister(c *Client) {
	if c == nil {
		return
	}

	h.mu.Lock()
	if set, ok := h.users[c.UserID]; ok {
		delete(set, c.ID)
		if len(set) == 0 {
			delete(h.users, c.UserID)
		}
	}
	h.mu.Unlock()

	h.log.Debug("realtime.client.unregister", "user_id", c.UserID, "client_id", c.ID)
}

// Count returns how many clients userID has connected.
func (h *Hub) Count(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID])
}

// SessionsRevoked tells every client of userID that its sessions are gone.
// The clients are detached here; each connection writes the event and
// closes on its own goroutine.
func (h *Hub) SessionsRevoked(userID string, reason session.RevokeReason, at time.Time) {
	h.mu.Lock()
	set := h.users[userID]
	delete(h.users, userID)
	h.mu.Unlock()

	ev := Event{Type: TypeSessionsRevoked, Reason: string(reason), At: at.UTC()}
	for _, c := range set {
		c.Revoke(ev)
	}
	if len(set) > 0 {
		h.log.Info("realtime.sessions_revoked", "user_id", userID, "reason", string(reason), "clients", len(set))
	}
}
