package secret

import "errors"

// Public, stable errors for callers.
var (
	ErrInvalidHash   = errors.New("invalid secret hash")
	ErrInvalidParams = errors.New("invalid hash params")
	ErrEmptySecret   = errors.New("empty secret")
)
