package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"invoicechat/cmd/internal/credential"

	"golang.org/x/oauth2"
)

// Provider defaults for the accounting service.
const (
	DefaultAuthURL  = "https://appcenter.intuit.com/connect/oauth2"
	DefaultTokenURL = "https://oauth.platform.intuit.com/oauth2/v1/tokens/bearer"
	DefaultScope    = "com.intuit.quickbooks.accounting"
)

var (
	// ErrMissingCode is returned when the callback carries no authorization code.
	ErrMissingCode = errors.New("oauth: missing authorization code")

	// ErrNotConfigured is returned when client credentials are absent.
	ErrNotConfigured = errors.New("oauth: client not configured")
)

// Config is the provider client configuration.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	AuthURL      string
	TokenURL     string
	Scopes       []string

	// Timeout bounds every call to the token endpoint.
	Timeout time.Duration
}

// Client implements credential.Exchanger over golang.org/x/oauth2.
type Client struct {
	oc   *oauth2.Config
	http *http.Client
}

var _ credential.Exchanger = (*Client)(nil)

// NewClient constructs a Client. Empty URLs and scopes fall back to provider defaults.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.ClientID) == "" || strings.TrimSpace(cfg.ClientSecret) == "" {
		return nil, ErrNotConfigured
	}
	if cfg.AuthURL == "" {
		cfg.AuthURL = DefaultAuthURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = DefaultTokenURL
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = []string{DefaultScope}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	return &Client{
		oc: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.AuthURL,
				TokenURL: cfg.TokenURL,
				// The token endpoint expects HTTP Basic client authentication.
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		http: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// AuthCodeURL returns the consent URL carrying client id, redirect URI, scope and state.
func (c *Client) AuthCodeURL(state string) string {
	return c.oc.AuthCodeURL(state)
}

// Exchange trades an authorization code for a token. tenantID comes from the
// callback query, not from the token response.
func (c *Client) Exchange(ctx context.Context, code, tenantID string) (credential.Token, error) {
	if strings.TrimSpace(code) == "" {
		return credential.Token{}, ErrMissingCode
	}
	tok, err := c.oc.Exchange(c.withHTTP(ctx), code)
	if err != nil {
		return credential.Token{}, wrapRetrieve("exchange", err)
	}
	out := toToken(tok)
	out.TenantID = tenantID
	return out, nil
}

// Refresh implements credential.Exchanger.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (credential.Token, error) {
	if refreshToken == "" {
		return credential.Token{}, credential.ErrNoRefreshToken
	}
	// An empty access token forces the token source to hit the token endpoint.
	ts := c.oc.TokenSource(c.withHTTP(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := ts.Token()
	if err != nil {
		return credential.Token{}, wrapRetrieve("refresh", err)
	}
	return toToken(tok), nil
}

func (c *Client) withHTTP(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.http)
}

func toToken(tok *oauth2.Token) credential.Token {
	out := credential.Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
	}
	switch {
	case tok.ExpiresIn > 0:
		out.ExpiresIn = time.Duration(tok.ExpiresIn) * time.Second
	case !tok.Expiry.IsZero():
		out.ExpiresIn = time.Until(tok.Expiry)
	}
	return out
}

// ExchangeError describes a token endpoint failure without leaking the response body.
type ExchangeError struct {
	Op         string
	StatusCode int
	Code       string
	Err        error
}

func (e *ExchangeError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("oauth %s: status %d: %s", e.Op, e.StatusCode, e.Code)
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("oauth %s: status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("oauth %s: %v", e.Op, e.Err)
}

func (e *ExchangeError) Unwrap() error { return e.Err }

func wrapRetrieve(op string, err error) error {
	out := &ExchangeError{Op: op, Err: err}
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		out.Code = re.ErrorCode
		if re.Response != nil {
			out.StatusCode = re.Response.StatusCode
		}
	}
	return out
}
