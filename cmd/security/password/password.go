package password

import (
	"stockroom/cmd/security/secret"
)

// Hash validates password against the policy and returns an encoded digest.
func (c Config) Hash(password string) (string, error) {
	if err := c.Validate(password); err != nil {
		return "", err
	}
	h, err := secret.New(c.Params)
	if err != nil {
		return "", err
	}
	return h.Hash(password)
}

// Verify checks whether password matches the given encoded hash.
// Returns (true, nil) for a match, (false, nil) for mismatch,
// and (false, ErrInvalidHash) for malformed/unsupported hashes.
func (c Config) Verify(encodedHash, password string) (bool, error) {
	h, err := secret.New(c.Params)
	if err != nil {
		return false, err
	}
	ok, err := h.Compare(password, encodedHash)
	if err == secret.ErrInvalidHash {
		return false, ErrInvalidHash
	}
	return ok, err
}

// NeedsRehash reports whether a stored hash predates the current params.
func (c Config) NeedsRehash(encodedHash string) bool {
	h, err := secret.New(c.Params)
	if err != nil {
		return false
	}
	return h.NeedsRehash(encodedHash)
}
