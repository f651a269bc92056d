// Package authcore is the token and session core of a single-tenant
// issue-tracking API: JWT access tokens, rotating refresh tokens with
// whole-family replay invalidation, Redis-backed sessions, single-use
// email-verification and password-reset tokens, and fixed-window rate
// limiting.
//
// The package is designed for concurrent server workloads: Service
// methods are safe to call from many goroutines after initialization
// through [Builder.Build]. All bookkeeping lives in the shared Redis
// store; the process holds no auth state beyond the client handle, so
// instances scale horizontally.
//
// # Architecture boundaries
//
// authcore is the public surface. It exposes [Service], [Builder],
// [Config], error sentinels, and the collaborator interfaces
// ([UserProvider], [Mailer]). Rotation mechanics live in [ledger],
// session persistence in [session], signing in [token]; rate limiting
// and security-event dispatch live under internal/ and surface here
// only through type aliases and Service methods.
//
// # Failure policy
//
// Rate limiting fails open: if Redis is unreachable the request
// proceeds. Everything that admits a credential fails closed: a token
// that cannot be verified against the store is treated as invalid.
package authcore
