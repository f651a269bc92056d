// Package rate provides fixed-window request counters keyed by
// (endpoint, identifier) in Redis.
//
// # Window semantics
//
// INCR plus a conditional EXPIRE on the first hit of the window. The
// counter's remaining TTL doubles as the client's retry hint.
//
// # Failure policy
//
// On store errors the limiter fails OPEN: availability of the product
// outranks strict throttling. Authentication paths never share this
// policy — they fail closed in their own packages.
package rate

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRateLimited is returned by [Limiter.Check] when a preset budget
// is exhausted.
var ErrRateLimited = errors.New("rate limited")

// Result reports the outcome of one request against its window.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// Preset is a named (window, max) budget for one endpoint.
type Preset struct {
	Endpoint string
	Window   time.Duration
	Max      int
}

// Endpoint budgets. Windows are deliberately coarse: these protect
// credential-guessing surfaces, not fairness between API consumers.
var (
	PresetLogin                = Preset{Endpoint: "login", Window: 15 * time.Minute, Max: 5}
	PresetRegistration         = Preset{Endpoint: "registration", Window: time.Hour, Max: 3}
	PresetPasswordResetRequest = Preset{Endpoint: "password_reset_request", Window: time.Hour, Max: 3}
	PresetPasswordResetConfirm = Preset{Endpoint: "password_reset_confirm", Window: time.Hour, Max: 5}
	PresetEmailVerification    = Preset{Endpoint: "email_verification", Window: time.Hour, Max: 5}
	PresetTokenRefresh         = Preset{Endpoint: "token_refresh", Window: 15 * time.Minute, Max: 20}
)

// Limiter enforces fixed-window rate limits backed by Redis counters.
type Limiter struct {
	redis redis.UniversalClient
}

// New creates a [Limiter] on the given Redis client.
func New(redisClient redis.UniversalClient) *Limiter {
	return &Limiter{redis: redisClient}
}

func key(endpoint, identifier string) string {
	return "rate_limit:" + endpoint + ":" + identifier
}

// Allow counts this request against the (endpoint, identifier) window
// and reports whether it may proceed. Store errors are swallowed and
// the request is allowed.
func (l *Limiter) Allow(ctx context.Context, endpoint, identifier string, window time.Duration, max int) Result {
	now := time.Now()
	open := Result{
		Allowed:   true,
		Limit:     max,
		Remaining: max,
		ResetAt:   now.Add(window),
	}

	k := key(endpoint, identifier)
	count, err := l.redis.Incr(ctx, k).Result()
	if err != nil {
		return open
	}
	if count == 1 {
		if err := l.redis.Expire(ctx, k, window).Err(); err != nil {
			return open
		}
	}

	ttl, err := l.redis.TTL(ctx, k).Result()
	if err != nil || ttl <= 0 {
		ttl = window
	}
	resetAt := now.Add(ttl)

	remaining := max - int(count)
	if remaining < 0 {
		remaining = 0
	}

	if count > int64(max) {
		return Result{
			Allowed:    false,
			Limit:      max,
			Remaining:  0,
			ResetAt:    resetAt,
			RetryAfter: ttl,
		}
	}

	return Result{
		Allowed:   true,
		Limit:     max,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
}

// AllowPreset applies a named budget.
func (l *Limiter) AllowPreset(ctx context.Context, p Preset, identifier string) Result {
	return l.Allow(ctx, p.Endpoint, identifier, p.Window, p.Max)
}

// Check is AllowPreset collapsed to an error for flow code that only
// needs pass/fail.
func (l *Limiter) Check(ctx context.Context, p Preset, identifier string) error {
	if res := l.AllowPreset(ctx, p, identifier); !res.Allowed {
		return ErrRateLimited
	}
	return nil
}

// Reset clears the counter for an (endpoint, identifier) pair. Called
// after a successful login to stop penalizing the legitimate user.
func (l *Limiter) Reset(ctx context.Context, endpoint, identifier string) {
	_ = l.redis.Del(ctx, key(endpoint, identifier)).Err()
}
