package accounting

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"invoicechat/cmd/internal/credential"
	"invoicechat/cmd/internal/gateway"
)

// ConnectorConfig holds what every bound client shares.
type ConnectorConfig struct {
	BaseURL      string
	Exchanger    credential.Exchanger
	Flight       *credential.Flight
	HTTPClient   *http.Client
	Timeout      time.Duration
	MinorVersion string
	Logger       *slog.Logger
}

// Connector builds Clients bound to one credential store each. The refresh
// Flight is shared, so clients bound to copies of the same bundle still
// exchange the refresh token once.
type Connector struct {
	cfg ConnectorConfig
}

// NewConnector validates cfg.
func NewConnector(cfg ConnectorConfig) (*Connector, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("accounting: base url is required")
	}
	if cfg.Exchanger == nil {
		return nil, errors.New("accounting: exchanger is required")
	}
	if cfg.Flight == nil {
		cfg.Flight = credential.NewFlight(0)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MinorVersion == "" {
		cfg.MinorVersion = DefaultMinorVersion
	}
	return &Connector{cfg: cfg}, nil
}

// Connect returns a Client whose calls authenticate from store and persist
// refreshed credentials back into it.
func (c *Connector) Connect(store credential.Store) (*Client, error) {
	ref := credential.NewRefresher(c.cfg.Exchanger, store,
		credential.WithFlight(c.cfg.Flight),
		credential.WithLogger(c.cfg.Logger),
	)
	gw, err := gateway.New(c.cfg.BaseURL, store, ref,
		gateway.WithHTTPClient(c.cfg.HTTPClient),
		gateway.WithLogger(c.cfg.Logger),
		gateway.WithTimeout(c.cfg.Timeout),
	)
	if err != nil {
		return nil, err
	}
	return NewClient(gw, WithMinorVersion(c.cfg.MinorVersion)), nil
}
