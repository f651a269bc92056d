package password

import (
	"errors"
	"strings"
	"testing"
)

func testHasher(t *testing.T) *Hasher {
	t.Helper()
	// Cheapest legal parameters to keep the test fast.
	h, err := NewHasher(Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   16,
	})
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	return h
}

func TestHashVerifyRoundTrip(t *testing.T) {
	t.Parallel()
	h := testHasher(t)

	encoded, err := h.Hash("correct horse battery")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if !strings.HasPrefix(encoded, "$argon2id$") {
		t.Fatalf("not a PHC string: %q", encoded)
	}

	if err := h.Verify("correct horse battery", encoded); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if err := h.Verify("wrong password!", encoded); !errors.Is(err, ErrMismatch) {
		t.Fatalf("expected ErrMismatch, got %v", err)
	}
}

func TestHashesAreSalted(t *testing.T) {
	t.Parallel()
	h := testHasher(t)

	a, err := h.Hash("same password")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	b, err := h.Hash("same password")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if a == b {
		t.Fatalf("two hashes of one password must differ")
	}
}

func TestCorruptStoredHashIsMismatch(t *testing.T) {
	t.Parallel()
	h := testHasher(t)

	for _, bad := range []string{
		"",
		"plaintext",
		"$argon2id$v=19$m=8192,t=1,p=1$notb64!$notb64!",
		"$bcrypt$v=19$m=8192,t=1,p=1$AAAA$AAAA",
	} {
		if err := h.Verify("anything", bad); !errors.Is(err, ErrMismatch) {
			t.Fatalf("corrupt hash %q: expected ErrMismatch, got %v", bad, err)
		}
	}
}

func TestShortPasswordRejected(t *testing.T) {
	t.Parallel()
	h := testHasher(t)

	if _, err := h.Hash("short"); err == nil {
		t.Fatalf("expected error for short password")
	}
}

func TestNewHasherValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewHasher(Config{Memory: 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 16}); err == nil {
		t.Fatalf("expected error for low memory")
	}
	if _, err := NewHasher(Config{Memory: 8192, Time: 1, Parallelism: 1, SaltLength: 8, KeyLength: 16}); err == nil {
		t.Fatalf("expected error for short salt")
	}
}
