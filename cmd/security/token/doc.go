// Package token provides hashing and sealing primitives for provider credentials.
//
// Raw access and refresh tokens never appear in logs or map keys; callers use
// Fingerprint instead. Seal and Open protect credential files at rest.
//
// Environment:
// - INVOICECHAT_TOKEN_HMAC_KEY: when set, fingerprints are HMAC-SHA256 instead of SHA-256.
package token
