// Package authcore establishes caller identity for a content platform:
// password login, federated OAuth login (Google, GitHub) with PKCE, an
// optional TOTP second factor, and opaque server-side sessions backed by
// Redis.
//
// The package is designed for concurrent server workloads: Engine methods
// are safe to call from multiple goroutines after initialization through
// [Builder.Build].
//
// # Architecture boundaries
//
// authcore is the public surface. It exposes [Engine], [Builder],
// [Config], the [UserStore] collaborator contract, and value types
// (LoginResult, OAuthLoginResult, TotpStatus, MetricsSnapshot). Ephemeral
// record storage, audit dispatch, and token generation live under
// internal/ and are never exported.
//
// # Authentication model
//
// Every login path terminates in an opaque session id stored server-side
// with a TTL; nothing about the caller is encoded in the token itself. A
// caller mid-TOTP-challenge holds only a temp token, which is explicitly
// not a session and authorizes nothing except the completion call.
//
// # What this package must NOT do
//
//   - Expose Redis clients, record encodings, or key layouts in its
//     public API.
//   - Log or return TOTP secrets or backup-code plaintext outside the
//     one-time enable/regenerate responses.
//   - Perform I/O outside of Engine methods (construction via Builder is
//     allocation-only until Build).
package authcore
