package realtime

import "time"

const (
	// Clients only send control frames and the occasional keepalive.
	maxFrameBytes = 4 << 10 // 4 KiB

	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second
	maxPingFailures   = 3

	// Per-connection inbound limit (events per window).
	rateLimitEvents = 30
	rateLimitWindow = 10 * time.Second

	defaultWriteTimeout = 5 * time.Second
	defaultReadIdle     = 2 * time.Minute
	closeGrace          = time.Second
)
