// Package credential owns the provider credential bundle: its shape, its
// validity rule, the interchangeable persistence backends, and the refresher
// that rotates it.
//
// Key invariants:
//   - A usable bundle has an access token and a known expiry in the future.
//     A bundle without expiry is treated as expired.
//   - Store.Set merges; only fields present in the Patch are overwritten.
//   - Refresher writes a complete bundle only after a successful exchange.
//   - Concurrent refreshes of the same refresh token share one exchange.
package credential
