// Package session provides Redis-backed session persistence for the
// token core: one JSON record per session plus a per-user index set,
// so bulk enumeration and revocation never require a keyspace scan.
//
// # Architecture boundaries
//
// This package owns the [Store] (Redis operations) and the [Session]
// model. It does NOT interpret tokens or enforce authentication
// policy — those responsibilities belong to the Service and the
// refresh ledger. Session IDs are opaque here; in practice the ledger
// derives them from the hash of the backing refresh token.
//
// # What this package must NOT do
//
//   - Import authcore, token, or ledger (no upward imports).
//   - Store token material in [Session] fields.
package session
