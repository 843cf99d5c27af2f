// Package session implements the opaque-token session store: creation,
// non-consuming validation, idempotent deletion, and per-user purge, all
// over Redis with TTL-enforced expiry.
package session
