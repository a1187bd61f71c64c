package realtime

import (
	"time"

	"stockroom/cmd/identity/ids"
)

// NewClientID returns a ULID naming one websocket connection in logs.
func NewClientID(now time.Time) string {
	return ids.MustULID(now)
}
