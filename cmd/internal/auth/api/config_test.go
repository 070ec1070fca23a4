package authapi

import (
	"net/http"
	"testing"
)

func TestConfigDefaults_SameSiteNoneForcesSecure(t *testing.T) {
	cfg := Config{CookieSameSite: http.SameSiteNoneMode}.withDefaults()

	if !cfg.CookieSecure {
		t.Fatalf("SameSite=None requires Secure=true")
	}
	if cfg.StateCookieName == "" || cfg.FrontendURL == "" {
		t.Fatalf("expected defaults to be filled: %+v", cfg)
	}
}

func TestParseSameSite(t *testing.T) {
	tests := []struct {
		in   string
		want http.SameSite
	}{
		{in: "strict", want: http.SameSiteStrictMode},
		{in: "lax", want: http.SameSiteLaxMode},
		{in: "none", want: http.SameSiteNoneMode},
		{in: "default", want: http.SameSiteDefaultMode},
		{in: "unknown", want: http.SameSiteLaxMode},
	}

	for _, tc := range tests {
		got := ParseSameSite(tc.in)
		if got != tc.want {
			t.Fatalf("ParseSameSite(%q)=%v, want %v", tc.in, got, tc.want)
		}
	}
}
