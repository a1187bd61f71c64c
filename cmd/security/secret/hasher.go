package secret

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

const (
	argon2Version = 19 // argon2.Version is 0x13 (19)

	// bcrypt refuses inputs longer than this; longer secrets never match.
	bcryptMaxInput = 72
)

// Hasher produces and checks slow salted digests.
// The zero value is not usable; construct with New.
type Hasher struct {
	params Params
}

// New returns a Hasher for the given Argon2id params.
func New(p Params) (*Hasher, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Hasher{params: p}, nil
}

// MustNew is New for params known to be valid at compile time.
func MustNew(p Params) *Hasher {
	h, err := New(p)
	if err != nil {
		panic(err)
	}
	return h
}

// Params returns the hashing cost used for new digests.
func (h *Hasher) Params() Params { return h.params }

// Hash returns an encoded Argon2id digest of raw.
// Format:
// $argon2id$v=19$m=<mem>,t=<iter>,p=<par>$<salt_b64>$<hash_b64>
func (h *Hasher) Hash(raw string) (string, error) {
	if raw == "" {
		return "", ErrEmptySecret
	}

	salt := make([]byte, h.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("salt: %w", err)
	}

	key := argon2.IDKey(
		[]byte(raw),
		salt,
		h.params.Iterations,
		h.params.MemoryKiB,
		h.params.Parallelism,
		h.params.KeyLength,
	)

	b64 := base64.RawStdEncoding
	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2Version,
		h.params.MemoryKiB,
		h.params.Iterations,
		h.params.Parallelism,
		b64.EncodeToString(salt),
		b64.EncodeToString(key),
	), nil
}

// Compare checks raw against an encoded digest.
// Returns (true, nil) for a match, (false, nil) for mismatch,
// and (false, ErrInvalidHash) for malformed or unsupported digests.
func (h *Hasher) Compare(raw, digest string) (bool, error) {
	if isBcrypt(digest) {
		return compareBcrypt(raw, digest)
	}

	params, salt, expected, err := decode(digest)
	if err != nil {
		return false, err
	}

	// Anti-DoS boundary: attacker-controlled digests must not dictate cost.
	if !withinReasonableBounds(params, h.params) {
		return false, ErrInvalidHash
	}

	key := argon2.IDKey(
		[]byte(raw),
		salt,
		params.Iterations,
		params.MemoryKiB,
		params.Parallelism,
		uint32(len(expected)), // #nosec G115 -- bounded by decode().
	)

	return subtle.ConstantTimeCompare(key, expected) == 1, nil
}

// NeedsRehash reports whether digest should be replaced by a fresh Hash
// (legacy bcrypt, or Argon2id weaker than the current params).
func (h *Hasher) NeedsRehash(digest string) bool {
	if isBcrypt(digest) {
		return true
	}
	params, _, _, err := decode(digest)
	if err != nil {
		return true
	}
	return params.weakerThan(h.params)
}

func isBcrypt(digest string) bool {
	return strings.HasPrefix(digest, "$2a$") ||
		strings.HasPrefix(digest, "$2b$") ||
		strings.HasPrefix(digest, "$2y$")
}

func compareBcrypt(raw, digest string) (bool, error) {
	if len(raw) > bcryptMaxInput {
		return false, nil
	}
	err := bcrypt.CompareHashAndPassword([]byte(digest), []byte(raw))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, ErrInvalidHash
	}
}

func withinReasonableBounds(got Params, limits Params) bool {
	// Older or smaller settings verify; wildly larger ones do not.
	if got.MemoryKiB > limits.MemoryKiB*2 {
		return false
	}
	if got.Iterations > limits.Iterations*2 {
		return false
	}
	if got.Parallelism > limits.Parallelism*2 {
		return false
	}
	if got.SaltLength < 8 || got.SaltLength > 64 {
		return false
	}
	if got.KeyLength < 16 || got.KeyLength > 128 {
		return false
	}
	return true
}

// decode parses an encoded digest and returns params, salt and expected key.
func decode(encoded string) (Params, []byte, []byte, error) {
	// $argon2id$v=19$m=65536,t=3,p=1$<salt>$<hash>
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return Params{}, nil, nil, ErrInvalidHash
	}
	if parts[2] != "v=19" {
		return Params{}, nil, nil, ErrInvalidHash
	}

	var mem, it, par uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &mem, &it, &par); err != nil {
		return Params{}, nil, nil, ErrInvalidHash
	}
	if mem == 0 || it == 0 || par == 0 || par > 255 {
		return Params{}, nil, nil, ErrInvalidHash
	}

	b64 := base64.RawStdEncoding
	salt, err := b64.DecodeString(parts[4])
	if err != nil {
		return Params{}, nil, nil, ErrInvalidHash
	}
	key, err := b64.DecodeString(parts[5])
	if err != nil {
		return Params{}, nil, nil, ErrInvalidHash
	}

	return Params{
		MemoryKiB:   mem,
		Iterations:  it,
		Parallelism: uint8(par),       // #nosec G115 -- checked <= 255 above.
		SaltLength:  uint32(len(salt)), // #nosec G115 -- base64 segment of a bounded string.
		KeyLength:   uint32(len(key)),  // #nosec G115 -- base64 segment of a bounded string.
	}, salt, key, nil
}
