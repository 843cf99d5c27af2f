// Package stores implements the Redis-backed ephemeral record store used
// for single-use login-flow secrets: OAuth CSRF state, pending signups,
// and TOTP login challenges.
package stores
