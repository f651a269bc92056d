package authcore

import (
	"errors"
	"time"
)

// TokenConfig holds the signing material and lifetimes for the codec.
type TokenConfig struct {
	// AccessSecret and RefreshSecret must be distinct and at least
	// 32 bytes each.
	AccessSecret  []byte
	RefreshSecret []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Issuer        string
	Leeway        time.Duration
}

// SessionConfig controls session key layout and lifetime.
type SessionConfig struct {
	// Prefix namespaces session keys; defaults to "session".
	Prefix string
	// TTL defaults to the refresh-token lifetime: a session should
	// not outlive the credential that backs it.
	TTL time.Duration
}

// EventConfig controls the security-event dispatcher.
type EventConfig struct {
	BufferSize int
	DropIfFull bool
}

// Config is the full configuration for [Builder.Build].
type Config struct {
	Token    TokenConfig
	Session  SessionConfig
	Events   EventConfig
	Password PasswordConfig

	// DisableRateLimits turns every endpoint budget off. Meant for
	// test setups only; production deployments keep this false.
	DisableRateLimits bool
}

// PasswordConfig tunes the argon2id cost parameters. Zero values take
// the defaults from the password package.
type PasswordConfig struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
}

// DefaultConfig returns a production-shaped configuration. Secrets
// have no default; Build fails until both are supplied.
func DefaultConfig() Config {
	return Config{
		Token: TokenConfig{
			AccessTTL:  15 * time.Minute,
			RefreshTTL: 7 * 24 * time.Hour,
			Issuer:     "authcore",
		},
		Session: SessionConfig{
			Prefix: "session",
		},
		Events: EventConfig{
			BufferSize: 256,
			DropIfFull: true,
		},
	}
}

func (c *Config) normalize() error {
	if c.Token.AccessTTL <= 0 {
		c.Token.AccessTTL = 15 * time.Minute
	}
	if c.Token.RefreshTTL <= 0 {
		c.Token.RefreshTTL = 7 * 24 * time.Hour
	}
	if len(c.Token.AccessSecret) == 0 || len(c.Token.RefreshSecret) == 0 {
		return errors.New("authcore: token secrets are required")
	}
	if c.Session.TTL <= 0 {
		c.Session.TTL = c.Token.RefreshTTL
	}
	if c.Session.TTL > c.Token.RefreshTTL {
		return errors.New("authcore: session TTL must not exceed refresh TTL")
	}
	if c.Events.BufferSize <= 0 {
		c.Events.BufferSize = 256
	}
	return nil
}
