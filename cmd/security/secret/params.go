package secret

import (
	"runtime"
)

// Params controls Argon2id hashing cost.
// MemoryKiB is in KiB as required by argon2.IDKey.
type Params struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultParams returns a cost that lands around 100ms per hash on a
// typical server core.
func DefaultParams() Params {
	// Clamp to [1..4] to keep resource usage predictable in containers.
	threads := runtime.NumCPU()
	if threads <= 0 {
		threads = 1
	}
	if threads > 4 {
		threads = 4
	}

	return Params{
		MemoryKiB:   64 * 1024, // 64 MiB
		Iterations:  3,
		Parallelism: uint8(threads), // #nosec G115 -- clamped to [1..4] above.
		SaltLength:  16,
		KeyLength:   32,
	}
}

// Validate reports ErrInvalidParams for values argon2 cannot use safely.
func (p Params) Validate() error {
	switch {
	case p.MemoryKiB < 8:
		return ErrInvalidParams
	case p.Iterations == 0 || p.Iterations > 20:
		return ErrInvalidParams
	case p.Parallelism == 0:
		return ErrInvalidParams
	case p.SaltLength < 8 || p.SaltLength > 64:
		return ErrInvalidParams
	case p.KeyLength < 16 || p.KeyLength > 128:
		return ErrInvalidParams
	}
	return nil
}

// weakerThan reports whether p is cheaper than want on any axis.
func (p Params) weakerThan(want Params) bool {
	return p.MemoryKiB < want.MemoryKiB ||
		p.Iterations < want.Iterations ||
		p.KeyLength < want.KeyLength
}
