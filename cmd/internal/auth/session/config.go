package session

import "time"

// Config tunes store housekeeping. Token lifetimes live in token.Config.
type Config struct {
	// PruneInterval is how often expired rows are deleted. Zero disables pruning.
	PruneInterval time.Duration

	// PruneGrace is how long a row is kept after expires_at. It must be at
	// least the token verification leeway so a prunable row can never belong
	// to a token that still verifies.
	PruneGrace time.Duration

	// PruneTimeout bounds a single prune statement.
	PruneTimeout time.Duration
}

// DefaultConfig prunes hourly and keeps expired rows for one day.
func DefaultConfig() Config {
	return Config{
		PruneInterval: time.Hour,
		PruneGrace:    24 * time.Hour,
		PruneTimeout:  30 * time.Second,
	}
}

// Validate returns ErrConfig for values the pruner cannot honor.
// leeway is the refresh-token verification leeway.
func (c Config) Validate(leeway time.Duration) error {
	switch {
	case c.PruneInterval < 0:
		return ErrConfig
	case c.PruneGrace < leeway:
		return ErrConfig
	case c.PruneInterval > 0 && c.PruneTimeout <= 0:
		return ErrConfig
	}
	return nil
}
