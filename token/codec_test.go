package token

import (
	"strings"
	"testing"
	"time"
)

func testCodec(t *testing.T) *Codec {
	t.Helper()
	c, err := NewCodec(Config{
		AccessSecret:  []byte("access-secret-0123456789abcdefghij"),
		RefreshSecret: []byte("refresh-secret-0123456789abcdefghi"),
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    7 * 24 * time.Hour,
		Issuer:        "authcore-test",
	})
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	return c
}

func TestAccessRoundTrip(t *testing.T) {
	t.Parallel()
	c := testCodec(t)

	tok, err := c.IssueAccess("u-1", "dev@example.com")
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}

	claims, err := c.VerifyAccess(tok)
	if err != nil {
		t.Fatalf("VerifyAccess: %v", err)
	}
	if claims.UserID != "u-1" {
		t.Fatalf("userID mismatch: got %q", claims.UserID)
	}
	if claims.Email != "dev@example.com" {
		t.Fatalf("email mismatch: got %q", claims.Email)
	}
	if claims.Kind != KindAccess {
		t.Fatalf("kind mismatch: got %q", claims.Kind)
	}
}

func TestKindConfusionRejected(t *testing.T) {
	t.Parallel()
	c := testCodec(t)

	access, err := c.IssueAccess("u-1", "dev@example.com")
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	if _, err := c.VerifyRefresh(access); err != ErrTokenInvalid {
		t.Fatalf("expected ErrTokenInvalid for access-as-refresh, got %v", err)
	}

	refresh, err := c.IssueRefresh("u-1", "dev@example.com")
	if err != nil {
		t.Fatalf("IssueRefresh: %v", err)
	}
	if _, err := c.VerifyAccess(refresh); err != ErrTokenInvalid {
		t.Fatalf("expected ErrTokenInvalid for refresh-as-access, got %v", err)
	}
}

func TestExpiredToken(t *testing.T) {
	t.Parallel()
	c, err := NewCodec(Config{
		AccessSecret:  []byte("access-secret-0123456789abcdefghij"),
		RefreshSecret: []byte("refresh-secret-0123456789abcdefghi"),
		AccessTTL:     time.Nanosecond,
		RefreshTTL:    time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}

	tok, err := c.IssueAccess("u-1", "dev@example.com")
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}

	time.Sleep(5 * time.Millisecond)
	if _, err := c.VerifyAccess(tok); err != ErrTokenExpired {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestTamperedTokenRejected(t *testing.T) {
	t.Parallel()
	c := testCodec(t)

	tok, err := c.IssueAccess("u-1", "dev@example.com")
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}

	parts := strings.Split(tok, ".")
	if len(parts) != 3 {
		t.Fatalf("unexpected token shape")
	}
	tampered := parts[0] + "." + parts[1] + "." + strings.Repeat("A", len(parts[2]))
	if _, err := c.VerifyAccess(tampered); err != ErrTokenInvalid {
		t.Fatalf("expected ErrTokenInvalid for tampered token, got %v", err)
	}
}

func TestPairUsesDistinctSecrets(t *testing.T) {
	t.Parallel()
	c := testCodec(t)

	pair, err := c.IssuePair("u-1", "dev@example.com")
	if err != nil {
		t.Fatalf("IssuePair: %v", err)
	}
	if pair.AccessToken == pair.RefreshToken {
		t.Fatalf("pair tokens must differ")
	}
	if _, err := c.VerifyAccess(pair.AccessToken); err != nil {
		t.Fatalf("VerifyAccess: %v", err)
	}
	if _, err := c.VerifyRefresh(pair.RefreshToken); err != nil {
		t.Fatalf("VerifyRefresh: %v", err)
	}
}

func TestEveryMintIsUnique(t *testing.T) {
	t.Parallel()
	c := testCodec(t)

	// Downstream stores key records by a hash of the token string, so
	// back-to-back mints for the same identity must never collide, not
	// even within one clock second.
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		refresh, err := c.IssueRefresh("u-1", "dev@example.com")
		if err != nil {
			t.Fatalf("IssueRefresh: %v", err)
		}
		if seen[refresh] {
			t.Fatalf("duplicate refresh token minted on iteration %d", i)
		}
		seen[refresh] = true

		access, err := c.IssueAccess("u-1", "dev@example.com")
		if err != nil {
			t.Fatalf("IssueAccess: %v", err)
		}
		if seen[access] {
			t.Fatalf("duplicate access token minted on iteration %d", i)
		}
		seen[access] = true
	}
}

func TestMintCarriesTokenID(t *testing.T) {
	t.Parallel()
	c := testCodec(t)

	tok, err := c.IssueRefresh("u-1", "dev@example.com")
	if err != nil {
		t.Fatalf("IssueRefresh: %v", err)
	}
	claims, err := c.VerifyRefresh(tok)
	if err != nil {
		t.Fatalf("VerifyRefresh: %v", err)
	}
	if claims.ID == "" {
		t.Fatalf("minted token has no jti")
	}
}

func TestDecodeUnsafe(t *testing.T) {
	t.Parallel()
	c := testCodec(t)

	tok, err := c.IssueRefresh("u-9", "ops@example.com")
	if err != nil {
		t.Fatalf("IssueRefresh: %v", err)
	}

	claims, ok := c.DecodeUnsafe(tok)
	if !ok {
		t.Fatalf("DecodeUnsafe failed on valid token")
	}
	if claims.UserID != "u-9" || claims.Kind != KindRefresh {
		t.Fatalf("unexpected claims: %+v", claims)
	}

	if _, ok := c.DecodeUnsafe("not-a-token"); ok {
		t.Fatalf("DecodeUnsafe accepted garbage")
	}
}

func TestNewCodecValidation(t *testing.T) {
	t.Parallel()

	base := Config{
		AccessSecret:  []byte("access-secret-0123456789abcdefghij"),
		RefreshSecret: []byte("refresh-secret-0123456789abcdefghi"),
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    24 * time.Hour,
	}

	short := base
	short.AccessSecret = []byte("short")
	if _, err := NewCodec(short); err == nil {
		t.Fatalf("expected error for short secret")
	}

	same := base
	same.RefreshSecret = same.AccessSecret
	if _, err := NewCodec(same); err == nil {
		t.Fatalf("expected error for identical secrets")
	}

	inverted := base
	inverted.RefreshTTL = time.Minute
	if _, err := NewCodec(inverted); err == nil {
		t.Fatalf("expected error for refresh TTL <= access TTL")
	}
}
