package app

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// ErrConfig wraps every configuration problem found at startup.
var ErrConfig = errors.New("invalid configuration")

// Credential backends.
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendBolt     = "bolt"
	BackendPostgres = "postgres"
)

// Config contains all runtime configuration loaded from INVOICECHAT_* variables.
type Config struct {
	HTTPAddr  string `env:"HTTP_ADDR" envDefault:"0.0.0.0:8080"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	ReadHeaderTimeout time.Duration `env:"HTTP_READ_HEADER_TIMEOUT" envDefault:"5s"`
	ReadTimeout       time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	// Chat turns run several model and API round trips.
	WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"150s"`
	IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"60s"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"10s"`
	MaxHeaderBytes  int           `env:"HTTP_MAX_HEADER_BYTES" envDefault:"1048576"`
	TrustProxy      bool          `env:"TRUST_PROXY" envDefault:"false"`

	CORSAllowedOrigins   []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`
	CORSAllowCredentials bool     `env:"CORS_ALLOW_CREDENTIALS" envDefault:"true"`
	CORSMaxAgeSeconds    int      `env:"CORS_MAX_AGE_SECONDS" envDefault:"600"`

	// Authorization server.
	ClientID        string        `env:"CLIENT_ID"`
	ClientSecret    string        `env:"CLIENT_SECRET"`
	RedirectURL     string        `env:"REDIRECT_URL" envDefault:"http://localhost:8080/auth/provider/callback"`
	AuthURL         string        `env:"AUTH_URL"`
	TokenURL        string        `env:"TOKEN_URL"`
	Scopes          []string      `env:"SCOPES" envSeparator:","`
	FrontendURL     string        `env:"FRONTEND_URL" envDefault:"http://localhost:3000"`
	StateSigningKey string        `env:"STATE_SIGNING_KEY"`
	StateTTL        time.Duration `env:"STATE_TTL" envDefault:"10m"`
	CookieSameSite  string        `env:"COOKIE_SAMESITE" envDefault:"lax"`
	CookieSecure    bool          `env:"COOKIE_SECURE" envDefault:"false"`
	OAuthTimeout    time.Duration `env:"OAUTH_TIMEOUT" envDefault:"15s"`
	RefreshIPMax    int           `env:"REFRESH_IP_MAX" envDefault:"30"`
	RefreshIPWindow time.Duration `env:"REFRESH_IP_WINDOW" envDefault:"1m"`

	// Resource server.
	APIBaseURL      string        `env:"API_BASE_URL" envDefault:"https://sandbox-quickbooks.api.intuit.com"`
	APIMinorVersion string        `env:"API_MINOR_VERSION"`
	APITimeout      time.Duration `env:"API_TIMEOUT" envDefault:"30s"`

	// Credential store.
	CredentialBackend string `env:"CREDENTIAL_BACKEND" envDefault:"file"`
	CredentialKey     string `env:"CREDENTIAL_KEY" envDefault:"default"`
	TokenFile         string `env:"TOKEN_FILE" envDefault:"tokens.json"`
	TokenFileKey      string `env:"TOKEN_FILE_KEY"`
	BoltPath          string `env:"BOLT_PATH" envDefault:"data/invoicechat.db"`

	DatabaseURL        string `env:"DATABASE_URL"`
	DBSchema           string `env:"DB_SCHEMA" envDefault:"invoicechat"`
	DBMaxConns         int32  `env:"DB_MAX_CONNS" envDefault:"10"`
	DBMinConns         int32  `env:"DB_MIN_CONNS" envDefault:"0"`
	ReadinessRequireDB bool   `env:"READINESS_REQUIRE_DB" envDefault:"false"`

	// Language model.
	OpenAIAPIKey      string        `env:"OPENAI_API_KEY"`
	OpenAIModel       string        `env:"OPENAI_MODEL" envDefault:"gpt-4o"`
	OpenAIBaseURL     string        `env:"OPENAI_BASE_URL"`
	OpenAITemperature float64       `env:"OPENAI_TEMPERATURE" envDefault:"0.1"`
	OpenAITimeout     time.Duration `env:"OPENAI_TIMEOUT" envDefault:"60s"`
	ChatMaxSteps      int           `env:"CHAT_MAX_STEPS" envDefault:"5"`
	ChatTurnTimeout   time.Duration `env:"CHAT_TURN_TIMEOUT" envDefault:"2m"`

	// Websocket chat.
	WSOriginRequired bool     `env:"WS_ORIGIN_REQUIRED" envDefault:"true"`
	WSAllowedOrigins []string `env:"WS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost,http://127.0.0.1"`
	WSDevInsecure    bool     `env:"WS_DEV_INSECURE" envDefault:"false"`

	// Tracing is off unless an endpoint is set.
	OTLPEndpoint string `env:"OTLP_ENDPOINT"`
	ServiceName  string `env:"SERVICE_NAME" envDefault:"invoicechat"`
}

// LoadConfig reads .env (if present) and the environment, then validates.
func LoadConfig() (Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	var cfg Config
	if err := parseEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints. Errors wrap ErrConfig.
func (c Config) Validate() error {
	var errs []error

	switch c.CredentialBackend {
	case BackendMemory, BackendFile, BackendBolt:
	case BackendPostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			errs = append(errs, errors.New("postgres credential backend requires DATABASE_URL"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown credential backend %q", c.CredentialBackend))
	}

	if c.CredentialBackend == BackendFile && strings.TrimSpace(c.TokenFile) == "" {
		errs = append(errs, errors.New("file credential backend requires TOKEN_FILE"))
	}
	if c.CredentialBackend == BackendBolt && strings.TrimSpace(c.BoltPath) == "" {
		errs = append(errs, errors.New("bolt credential backend requires BOLT_PATH"))
	}
	if c.ChatMaxSteps <= 0 {
		errs = append(errs, errors.New("CHAT_MAX_STEPS must be positive"))
	}
	for name, raw := range map[string]string{
		"FRONTEND_URL": c.FrontendURL,
		"API_BASE_URL": c.APIBaseURL,
		"REDIRECT_URL": c.RedirectURL,
	} {
		if u, err := url.Parse(raw); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("%s must be an absolute URL", name))
		}
	}
	if err := validateSecurity(c); err != nil {
		errs = append(errs, err)
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrConfig, errors.Join(errs...))
}

// ProviderConfigured reports whether OAuth client credentials are present.
func (c Config) ProviderConfigured() bool {
	return strings.TrimSpace(c.ClientID) != "" && strings.TrimSpace(c.ClientSecret) != ""
}
