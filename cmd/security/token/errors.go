package token

import "errors"

// Public, stable errors for callers.
var (
	// ErrInvalidToken is the only error returned by verification.
	ErrInvalidToken = errors.New("invalid token")

	// ErrConfig is returned for invalid codec configuration.
	ErrConfig = errors.New("invalid token config")
)
