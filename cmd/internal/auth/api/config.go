package authapi

import (
	"net/http"
	"strings"
	"time"
)

// Config controls the auth endpoints.
type Config struct {
	// FrontendURL receives the bundle after the callback as ?tokens=.
	FrontendURL string
	TrustProxy  bool

	MaxBodyBytes int64

	// Per-IP budget for token exchanges (/auth/refresh and the callback).
	ExchangeIPMax    int
	ExchangeIPWindow time.Duration

	StateCookieName string
	StateTTL        time.Duration
	CookieSecure    bool
	CookieSameSite  http.SameSite
}

// DefaultConfig returns the defaults used for zero fields.
func DefaultConfig() Config {
	return Config{
		FrontendURL:      "http://localhost:3000",
		MaxBodyBytes:     64 << 10,
		ExchangeIPMax:    30,
		ExchangeIPWindow: time.Minute,
		StateCookieName:  "invoicechat_oauth_state",
		StateTTL:         10 * time.Minute,
		CookieSameSite:   http.SameSiteLaxMode,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if strings.TrimSpace(c.FrontendURL) == "" {
		c.FrontendURL = def.FrontendURL
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = def.MaxBodyBytes
	}
	if c.ExchangeIPMax <= 0 {
		c.ExchangeIPMax = def.ExchangeIPMax
	}
	if c.ExchangeIPWindow <= 0 {
		c.ExchangeIPWindow = def.ExchangeIPWindow
	}
	if strings.TrimSpace(c.StateCookieName) == "" {
		c.StateCookieName = def.StateCookieName
	}
	if c.StateTTL <= 0 {
		c.StateTTL = def.StateTTL
	}
	if c.CookieSameSite == 0 {
		c.CookieSameSite = def.CookieSameSite
	}
	// Browsers drop SameSite=None cookies without Secure.
	if c.CookieSameSite == http.SameSiteNoneMode {
		c.CookieSecure = true
	}
	return c
}

// ParseSameSite maps a config string to http.SameSite. Unknown values become Lax.
func ParseSameSite(v string) http.SameSite {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	case "default":
		return http.SameSiteDefaultMode
	default:
		return http.SameSiteLaxMode
	}
}
