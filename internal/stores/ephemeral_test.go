package stores

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newEphemeralTest(t *testing.T) (*EphemeralStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})
	return New(rdb), mr
}

func TestConsumeOnce(t *testing.T) {
	s, _ := newEphemeralTest(t)
	ctx := context.Background()

	tok, err := s.Create(ctx, "u-1", "dev@example.com", KindEmailVerification)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	rec, err := s.Consume(ctx, tok, KindEmailVerification)
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if rec.UserID != "u-1" || rec.Email != "dev@example.com" {
		t.Fatalf("unexpected record: %+v", rec)
	}

	if _, err := s.Consume(ctx, tok, KindEmailVerification); !errors.Is(err, ErrEphemeralNotFound) {
		t.Fatalf("second consume must fail, got %v", err)
	}
}

func TestVerifyDoesNotConsume(t *testing.T) {
	s, _ := newEphemeralTest(t)
	ctx := context.Background()

	tok, err := s.Create(ctx, "u-1", "dev@example.com", KindPasswordReset)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := s.Verify(ctx, tok, KindPasswordReset); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if _, err := s.Verify(ctx, tok, KindPasswordReset); err != nil {
		t.Fatalf("Verify after Verify: %v", err)
	}
	if _, err := s.Consume(ctx, tok, KindPasswordReset); err != nil {
		t.Fatalf("Consume after Verify: %v", err)
	}
}

func TestKindMismatchLeavesTokenIntact(t *testing.T) {
	s, _ := newEphemeralTest(t)
	ctx := context.Background()

	tok, err := s.Create(ctx, "u-1", "dev@example.com", KindPasswordReset)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := s.Consume(ctx, tok, KindEmailVerification); !errors.Is(err, ErrEphemeralNotFound) {
		t.Fatalf("expected ErrEphemeralNotFound for wrong kind, got %v", err)
	}

	// The reset token is still redeemable under its real kind.
	if _, err := s.Consume(ctx, tok, KindPasswordReset); err != nil {
		t.Fatalf("token consumed by wrong-kind attempt: %v", err)
	}
}

func TestKindTTLs(t *testing.T) {
	s, mr := newEphemeralTest(t)
	ctx := context.Background()

	verify, err := s.Create(ctx, "u-1", "dev@example.com", KindEmailVerification)
	if err != nil {
		t.Fatalf("Create verification: %v", err)
	}
	reset, err := s.Create(ctx, "u-1", "dev@example.com", KindPasswordReset)
	if err != nil {
		t.Fatalf("Create reset: %v", err)
	}

	if ttl := mr.TTL("verify_token:" + verify); ttl != 24*time.Hour {
		t.Fatalf("verification TTL = %v, want 24h", ttl)
	}
	if ttl := mr.TTL("reset_token:" + reset); ttl != time.Hour {
		t.Fatalf("reset TTL = %v, want 1h", ttl)
	}

	mr.FastForward(2 * time.Hour)
	if _, err := s.Consume(ctx, reset, KindPasswordReset); !errors.Is(err, ErrEphemeralNotFound) {
		t.Fatalf("expired reset token redeemed: %v", err)
	}
	if _, err := s.Consume(ctx, verify, KindEmailVerification); err != nil {
		t.Fatalf("verification token should outlive 2h: %v", err)
	}
}

func TestInvalidateAllForUser(t *testing.T) {
	s, _ := newEphemeralTest(t)
	ctx := context.Background()

	t1, _ := s.Create(ctx, "u-1", "dev@example.com", KindEmailVerification)
	t2, _ := s.Create(ctx, "u-1", "dev@example.com", KindEmailVerification)
	keep, _ := s.Create(ctx, "u-2", "other@example.com", KindEmailVerification)
	reset, _ := s.Create(ctx, "u-1", "dev@example.com", KindPasswordReset)

	count, err := s.InvalidateAllForUser(ctx, "u-1", KindEmailVerification)
	if err != nil {
		t.Fatalf("InvalidateAllForUser: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 invalidated, got %d", count)
	}

	for _, tok := range []string{t1, t2} {
		if _, err := s.Verify(ctx, tok, KindEmailVerification); !errors.Is(err, ErrEphemeralNotFound) {
			t.Fatalf("token survived invalidation: %v", err)
		}
	}
	// Other users and other kinds are untouched.
	if _, err := s.Verify(ctx, keep, KindEmailVerification); err != nil {
		t.Fatalf("unrelated user's token removed: %v", err)
	}
	if _, err := s.Verify(ctx, reset, KindPasswordReset); err != nil {
		t.Fatalf("other-kind token removed: %v", err)
	}
}
