package app

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv(EnvPrefix+"CLIENT_ID", "cid")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.HTTPAddr != "0.0.0.0:8080" {
		t.Fatalf("HTTPAddr=%q", cfg.HTTPAddr)
	}
	if cfg.CredentialBackend != BackendFile || cfg.TokenFile != "tokens.json" {
		t.Fatalf("backend=%q file=%q", cfg.CredentialBackend, cfg.TokenFile)
	}
	if cfg.ChatMaxSteps != 5 {
		t.Fatalf("ChatMaxSteps=%d want 5", cfg.ChatMaxSteps)
	}
	if cfg.StateTTL != 10*time.Minute {
		t.Fatalf("StateTTL=%v", cfg.StateTTL)
	}
	if cfg.OpenAITimeout != 60*time.Second || cfg.ChatTurnTimeout != 2*time.Minute {
		t.Fatalf("OpenAITimeout=%v ChatTurnTimeout=%v", cfg.OpenAITimeout, cfg.ChatTurnTimeout)
	}
	if cfg.ProviderConfigured() {
		t.Fatal("provider should not be configured without a secret")
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv(EnvPrefix+"CLIENT_ID", "cid")
	t.Setenv(EnvPrefix+"CLIENT_SECRET", "secret")
	t.Setenv(EnvPrefix+"SCOPES", "a,b")
	t.Setenv(EnvPrefix+"CREDENTIAL_BACKEND", "bolt")
	t.Setenv(EnvPrefix+"BOLT_PATH", "/tmp/x.db")
	t.Setenv(EnvPrefix+"CHAT_MAX_STEPS", "3")
	t.Setenv(EnvPrefix+"OPENAI_TIMEOUT", "20s")
	t.Setenv(EnvPrefix+"WS_ALLOWED_ORIGINS", "https://chat.example.com")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if !cfg.ProviderConfigured() {
		t.Fatal("provider should be configured")
	}
	if len(cfg.Scopes) != 2 || cfg.Scopes[1] != "b" {
		t.Fatalf("Scopes=%v", cfg.Scopes)
	}
	if cfg.CredentialBackend != BackendBolt || cfg.BoltPath != "/tmp/x.db" {
		t.Fatalf("backend=%q path=%q", cfg.CredentialBackend, cfg.BoltPath)
	}
	if cfg.ChatMaxSteps != 3 {
		t.Fatalf("ChatMaxSteps=%d", cfg.ChatMaxSteps)
	}
	if cfg.OpenAITimeout != 20*time.Second {
		t.Fatalf("OpenAITimeout=%v", cfg.OpenAITimeout)
	}
	if len(cfg.WSAllowedOrigins) != 1 {
		t.Fatalf("WSAllowedOrigins=%v", cfg.WSAllowedOrigins)
	}
}

func TestLoadConfigRejectsBadEnv(t *testing.T) {
	t.Setenv(EnvPrefix+"CHAT_MAX_STEPS", "many")

	if _, err := LoadConfig(); !errors.Is(err, ErrConfig) {
		t.Fatalf("err=%v want ErrConfig", err)
	}
}

func validConfig() Config {
	return Config{
		HTTPAddr:          "127.0.0.1:0",
		RedirectURL:       "http://localhost:8080/auth/provider/callback",
		FrontendURL:       "http://localhost:3000",
		APIBaseURL:        "https://sandbox.example.com",
		CredentialBackend: BackendMemory,
		ChatMaxSteps:      5,
		CookieSameSite:    "lax",
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "ok", mutate: func(*Config) {}},
		{name: "unknown backend", mutate: func(c *Config) { c.CredentialBackend = "redis" }, wantErr: "unknown credential backend"},
		{name: "postgres without url", mutate: func(c *Config) { c.CredentialBackend = BackendPostgres }, wantErr: "DATABASE_URL"},
		{name: "file without path", mutate: func(c *Config) { c.CredentialBackend = BackendFile }, wantErr: "TOKEN_FILE"},
		{name: "bolt without path", mutate: func(c *Config) { c.CredentialBackend = BackendBolt }, wantErr: "BOLT_PATH"},
		{name: "zero steps", mutate: func(c *Config) { c.ChatMaxSteps = 0 }, wantErr: "CHAT_MAX_STEPS"},
		{name: "relative frontend", mutate: func(c *Config) { c.FrontendURL = "/app" }, wantErr: "FRONTEND_URL"},
		{name: "short file key", mutate: func(c *Config) { c.TokenFileKey = "short" }, wantErr: "TOKEN_FILE_KEY"},
		{name: "bad state key", mutate: func(c *Config) { c.StateSigningKey = "zz" }, wantErr: "STATE_SIGNING_KEY"},
		{name: "wildcard cors with credentials", mutate: func(c *Config) {
			c.CORSAllowCredentials = true
			c.CORSAllowedOrigins = []string{"*"}
		}, wantErr: "CORS_ALLOWED_ORIGINS"},
		{name: "samesite none insecure", mutate: func(c *Config) { c.CookieSameSite = "None" }, wantErr: "COOKIE_SAMESITE"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if !errors.Is(err, ErrConfig) {
				t.Fatalf("err=%v want ErrConfig", err)
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("err=%q want substring %q", err, tc.wantErr)
			}
		})
	}
}
