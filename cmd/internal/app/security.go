package app

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const minTokenFileKeyBytes = 16

// validateSecurity rejects malformed secrets and unsafe cookie/CORS combinations.
func validateSecurity(c Config) error {
	var errs []error

	if k := strings.TrimSpace(c.StateSigningKey); k != "" {
		// Ed25519 secret keys are 64 bytes.
		if raw, err := hex.DecodeString(k); err != nil || len(raw) != 64 {
			errs = append(errs, errors.New("STATE_SIGNING_KEY must be a hex-encoded 64-byte Ed25519 secret key"))
		}
	}

	if k := c.TokenFileKey; k != "" && len(k) < minTokenFileKeyBytes {
		errs = append(errs, fmt.Errorf("TOKEN_FILE_KEY is too short (min %d bytes)", minTokenFileKeyBytes))
	}

	if c.CORSAllowCredentials {
		for _, o := range c.CORSAllowedOrigins {
			if strings.TrimSpace(o) == "*" {
				errs = append(errs, errors.New("CORS_ALLOWED_ORIGINS cannot contain * when credentials are allowed"))
				break
			}
		}
	}

	if strings.EqualFold(strings.TrimSpace(c.CookieSameSite), "none") && !c.CookieSecure {
		errs = append(errs, errors.New("COOKIE_SAMESITE=none requires COOKIE_SECURE=true"))
	}

	return errors.Join(errs...)
}
