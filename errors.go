package authcore

import "errors"

var (
	// ErrInvalidCredentials covers unknown email and wrong password
	// alike; the distinction must not leak to clients.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrEmailTaken is returned by Register for a duplicate email.
	ErrEmailTaken = errors.New("email already registered")
	// ErrUserNotFound is returned by lookups keyed by user ID.
	ErrUserNotFound = errors.New("user not found")
	// ErrInvalidToken is the single client-visible verdict for
	// expired, forged, replayed, and unknown tokens of every kind.
	// The finer cause is emitted as a security event only.
	ErrInvalidToken = errors.New("invalid or expired token")
	// ErrRateLimited is returned when an endpoint budget is exhausted.
	ErrRateLimited = errors.New("rate limited")
	// ErrSessionNotFound is returned for operations on a session ID
	// with no live record.
	ErrSessionNotFound = errors.New("session not found")
	// ErrStoreUnavailable is returned when Redis is unreachable on a
	// fail-closed path.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrAlreadyVerified is returned when requesting verification for
	// an address that is already confirmed.
	ErrAlreadyVerified = errors.New("email already verified")
	// ErrWeakPassword is returned when a password fails hashing
	// policy before any account state is touched.
	ErrWeakPassword = errors.New("password does not meet requirements")
	// ErrNotReady is returned by a Service built without its required
	// dependencies.
	ErrNotReady = errors.New("service not initialized")
)
