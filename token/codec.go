// Package token signs and verifies the short-lived access tokens and
// longer-lived refresh tokens used by authcore. The codec is stateless
// apart from its secret material and is safe for concurrent use.
package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Kind discriminates access tokens from refresh tokens inside the
// signed claims. Verification rejects a token whose kind does not
// match the verifying method, so an access token can never be
// exchanged as a refresh token or vice versa.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

var (
	// ErrTokenExpired is returned when a token is well-formed and
	// correctly signed but past its expiry.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenInvalid is returned for a bad signature, malformed
	// token, or kind mismatch. Callers must not distinguish further.
	ErrTokenInvalid = errors.New("token invalid")
)

// Claims is the signed payload carried by both token kinds.
type Claims struct {
	UserID string `json:"uid"`
	Email  string `json:"email"`
	Kind   Kind   `json:"kind"`
	jwt.RegisteredClaims
}

// Config holds the secret material and lifetimes for the codec.
// Access and refresh tokens are signed with independent secrets so a
// leaked access secret cannot forge refresh tokens.
type Config struct {
	AccessSecret  []byte
	RefreshSecret []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Issuer        string
	Leeway        time.Duration
}

// Codec issues and verifies token pairs.
type Codec struct {
	config Config
}

// Pair is an access+refresh token pair minted together.
type Pair struct {
	AccessToken  string
	RefreshToken string
}

// NewCodec validates the configuration and returns a Codec.
func NewCodec(cfg Config) (*Codec, error) {
	if len(cfg.AccessSecret) < 32 || len(cfg.RefreshSecret) < 32 {
		return nil, errors.New("token secrets must be at least 32 bytes")
	}
	if string(cfg.AccessSecret) == string(cfg.RefreshSecret) {
		return nil, errors.New("access and refresh secrets must differ")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.RefreshTTL <= cfg.AccessTTL {
		return nil, errors.New("refresh TTL must exceed access TTL")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	return &Codec{config: cfg}, nil
}

// AccessTTL reports the configured access-token lifetime.
func (c *Codec) AccessTTL() time.Duration { return c.config.AccessTTL }

// RefreshTTL reports the configured refresh-token lifetime.
func (c *Codec) RefreshTTL() time.Duration { return c.config.RefreshTTL }

// IssueAccess mints a signed access token for the user.
func (c *Codec) IssueAccess(userID, email string) (string, error) {
	return c.issue(userID, email, KindAccess, c.config.AccessSecret, c.config.AccessTTL)
}

// IssueRefresh mints a signed refresh token for the user.
func (c *Codec) IssueRefresh(userID, email string) (string, error) {
	return c.issue(userID, email, KindRefresh, c.config.RefreshSecret, c.config.RefreshTTL)
}

// IssuePair mints an access+refresh pair in one call.
func (c *Codec) IssuePair(userID, email string) (Pair, error) {
	access, err := c.IssueAccess(userID, email)
	if err != nil {
		return Pair{}, err
	}
	refresh, err := c.IssueRefresh(userID, email)
	if err != nil {
		return Pair{}, err
	}
	return Pair{AccessToken: access, RefreshToken: refresh}, nil
}

func (c *Codec) issue(userID, email string, kind Kind, secret []byte, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		Email:  email,
		Kind:   kind,
		RegisteredClaims: jwt.RegisteredClaims{
			// The jti makes every mint unique. Stores downstream key
			// records by a hash of the token string; two tokens minted
			// in the same second must never collide.
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    c.config.Issuer,
		},
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// VerifyAccess verifies signature, expiry, and kind of an access token.
func (c *Codec) VerifyAccess(tokenStr string) (*Claims, error) {
	return c.verify(tokenStr, KindAccess, c.config.AccessSecret)
}

// VerifyRefresh verifies signature, expiry, and kind of a refresh token.
func (c *Codec) VerifyRefresh(tokenStr string) (*Claims, error) {
	return c.verify(tokenStr, KindRefresh, c.config.RefreshSecret)
}

func (c *Codec) verify(tokenStr string, kind Kind, secret []byte) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if c.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(c.config.Leeway))
	}
	if c.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(c.config.Issuer))
	}

	parser := jwt.NewParser(options...)
	parsed, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrTokenInvalid
	}
	// Kind confusion is an attack, not an expiry problem.
	if claims.Kind != kind {
		return nil, ErrTokenInvalid
	}

	return claims, nil
}

// DecodeUnsafe parses claims without any signature or expiry check.
// Debugging only; never use its output for authorization decisions.
func (c *Codec) DecodeUnsafe(tokenStr string) (*Claims, bool) {
	parser := jwt.NewParser()
	parsed, _, err := parser.ParseUnverified(tokenStr, &Claims{})
	if err != nil {
		return nil, false
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok {
		return nil, false
	}
	return claims, true
}
