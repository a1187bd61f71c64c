package realtime

import "time"

// Config controls the websocket gateway.
type Config struct {
	// Origin is required unless OriginRequired is false. AllowedOrigins holds
	// full origins ("https://app.example.com") or "*".
	OriginRequired bool
	AllowedOrigins []string

	WriteTimeout     time.Duration
	ReadIdleTimeout  time.Duration
	HeartbeatEvery   time.Duration
	HeartbeatTimeout time.Duration

	RateEvents int
	RateWindow time.Duration
}

// DefaultConfig allows localhost origins only.
func DefaultConfig() Config {
	return Config{
		OriginRequired:   true,
		AllowedOrigins:   []string{"http://localhost", "http://127.0.0.1"},
		WriteTimeout:     defaultWriteTimeout,
		ReadIdleTimeout:  defaultReadIdle,
		HeartbeatEvery:   heartbeatInterval,
		HeartbeatTimeout: heartbeatTimeout,
		RateEvents:       rateLimitEvents,
		RateWindow:       rateLimitWindow,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.ReadIdleTimeout <= 0 {
		c.ReadIdleTimeout = d.ReadIdleTimeout
	}
	if c.HeartbeatEvery <= 0 {
		c.HeartbeatEvery = d.HeartbeatEvery
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = d.HeartbeatTimeout
	}
	return c
}
