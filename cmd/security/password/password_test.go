package password

import (
	"testing"

	"stockroom/cmd/security/secret"

	"golang.org/x/crypto/bcrypt"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Params = secret.Params{MemoryKiB: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
	return cfg
}

func TestHashAndVerify_OK(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	h, err := cfg.Hash("this is a strong password 123!")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	ok, err := cfg.Verify(h, "this is a strong password 123!")
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if !ok {
		t.Fatalf("expected match")
	}
}

func TestVerify_WrongPassword(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	h, err := cfg.Hash("this is a strong password 123!")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	ok, err := cfg.Verify(h, "wrong password")
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if ok {
		t.Fatalf("expected mismatch")
	}
}

func TestVerify_InvalidHash(t *testing.T) {
	t.Parallel()

	ok, err := testConfig().Verify("not-a-hash", "whatever")
	if err != ErrInvalidHash {
		t.Fatalf("expected ErrInvalidHash, got %v", err)
	}
	if ok {
		t.Fatalf("expected false")
	}
}

func TestVerify_LegacyBcryptNeedsRehash(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	legacy, err := bcrypt.GenerateFromPassword([]byte("legacy-password-1"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}

	ok, err := cfg.Verify(string(legacy), "legacy-password-1")
	if err != nil || !ok {
		t.Fatalf("expected legacy match, ok=%v err=%v", ok, err)
	}
	if !cfg.NeedsRehash(string(legacy)) {
		t.Fatalf("expected legacy hash to need rehash")
	}
}

func TestHash_EnforcesPolicy(t *testing.T) {
	t.Parallel()

	if _, err := testConfig().Hash("short"); err != ErrPasswordTooShort {
		t.Fatalf("expected ErrPasswordTooShort, got %v", err)
	}
}

func TestValidate_MinMax(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Policy.MinLength = 12
	cfg.Policy.MaxLength = 16

	if err := cfg.Validate("short"); err != ErrPasswordTooShort {
		t.Fatalf("expected ErrPasswordTooShort, got %v", err)
	}
	if err := cfg.Validate("this password is definitely too long"); err != ErrPasswordTooLong {
		t.Fatalf("expected ErrPasswordTooLong, got %v", err)
	}
	if err := cfg.Validate("goodpassw0rd!"); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
}

func TestPolicy_RejectVeryWeak(t *testing.T) {
	t.Parallel()

	p := Policy{MinLength: 8, MaxLength: 64, RejectVeryWeak: true}

	for _, pw := range []string{"password", "11111111", "aaaaaaaaaa", "Stockroom", "12345678901"} {
		if err := p.Check(pw); err != ErrWeakPassword {
			t.Fatalf("Check(%q): expected ErrWeakPassword, got %v", pw, err)
		}
	}
	if err := p.Check("a-very-ok-pass"); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
}

func TestConfigCheck(t *testing.T) {
	t.Parallel()

	if err := DefaultConfig().Check(); err != nil {
		t.Fatalf("DefaultConfig().Check: %v", err)
	}

	cfg := testConfig()
	cfg.Policy.MinLength = 20
	cfg.Policy.MaxLength = 10
	if err := cfg.Check(); err == nil {
		t.Fatalf("expected error for min > max")
	}
}
