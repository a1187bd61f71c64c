package realtime

import (
	"sync"
)

// Client represents one connected websocket.
//
// done signals the connection goroutines to stop; revoked carries the final
// event once the user's sessions are gone.
type Client struct {
	ID     string
	UserID string

	done      chan struct{}
	closeOnce sync.Once

	revoked    chan struct{}
	revokeOnce sync.Once
	revokeEv   Event
}

// NewClient constructs a Client.
func NewClient(id, userID string) *Client {
	return &Client{
		ID:      id,
		UserID:  userID,
		done:    make(chan struct{}),
		revoked: make(chan struct{}),
	}
}

// Done returns a channel that is closed when the client is shutting down.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close signals the client goroutines to stop (idempotent).
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Revoked is closed once Revoke has been called.
func (c *Client) Revoked() <-chan struct{} {
	return c.revoked
}

// Revoke records ev as the final event for this client. Only the first call
// has effect and it never blocks.
func (c *Client) Revoke(ev Event) {
	c.revokeOnce.Do(func() {
		c.revokeEv = ev
		close(c.revoked)
	})
}

// RevokeEvent returns the event passed to Revoke. Valid after Revoked is closed.
func (c *Client) RevokeEvent() Event {
	<-c.revoked
	return c.revokeEv
}
