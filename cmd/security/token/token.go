package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"strings"
)

const (
	// HMACEnvKey is the env var name for the fingerprint HMAC secret.
	// #nosec G101 -- not a credential; it's an environment variable name.
	HMACEnvKey = "INVOICECHAT_TOKEN_HMAC_KEY"

	fingerprintLen = 16
)

// HashSHA256Hex returns a SHA-256 hex digest of s.
func HashSHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// HashHMACSHA256Hex returns an HMAC-SHA256 hex digest of s using key.
func HashHMACSHA256Hex(s string, key []byte) string {
	m := hmac.New(sha256.New, key)
	_, _ = m.Write([]byte(s))
	return hex.EncodeToString(m.Sum(nil))
}

// Fingerprint returns a short stable identifier for a secret token.
// It is safe to log and to use as a single-flight key.
// Empty input yields an empty fingerprint.
func Fingerprint(secret string) string {
	if secret == "" {
		return ""
	}
	key := strings.TrimSpace(os.Getenv(HMACEnvKey))
	var sum string
	if key == "" {
		sum = HashSHA256Hex(secret)
	} else {
		sum = HashHMACSHA256Hex(secret, []byte(key))
	}
	return sum[:fingerprintLen]
}
