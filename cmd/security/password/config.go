package password

import (
	"fmt"

	"stockroom/cmd/security/secret"
)

// Policy controls password validation and anti-DoS boundaries.
type Policy struct {
	MinLength int
	MaxLength int
	// If true, enable an extra, minimal weak-pattern rejection.
	RejectVeryWeak bool
}

// Config is the single configuration surface for this package.
type Config struct {
	Params secret.Params
	Policy Policy
}

// DefaultConfig returns the baseline policy with the default hashing cost.
func DefaultConfig() Config {
	return Config{
		Params: secret.DefaultParams(),
		Policy: Policy{
			MinLength:      12,
			MaxLength:      256,
			RejectVeryWeak: false,
		},
	}
}

// Check validates the configuration itself (not a password).
func (c Config) Check() error {
	if c.Policy.MinLength < 1 || c.Policy.MaxLength > 4096 {
		return fmt.Errorf("password policy invalid: lengths out of range [1..4096]")
	}
	if c.Policy.MinLength > c.Policy.MaxLength {
		return fmt.Errorf(
			"password policy invalid: min_len(%d) > max_len(%d)",
			c.Policy.MinLength,
			c.Policy.MaxLength,
		)
	}
	if err := c.Params.Validate(); err != nil {
		return fmt.Errorf("password params: %w", err)
	}
	return nil
}
