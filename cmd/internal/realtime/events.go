package realtime

import "time"

// Event types sent to clients.
const (
	TypeReady           = "ready"
	TypeSessionsRevoked = "sessions.revoked"
)

// Event is the only frame the server writes.
type Event struct {
	Type     string    `json:"type"`
	ClientID string    `json:"client_id,omitempty"`
	Reason   string    `json:"reason,omitempty"`
	At       time.Time `json:"at"`
}
