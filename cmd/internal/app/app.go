// Package app wires the invoicechat server runtime: config, logging, tracing,
// credential storage, HTTP routes and the websocket chat gateway.
package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"invoicechat/cmd/internal/accounting"
	authapi "invoicechat/cmd/internal/auth/api"
	"invoicechat/cmd/internal/auth/oauth"
	"invoicechat/cmd/internal/chat"
	chatapi "invoicechat/cmd/internal/chat/api"
	"invoicechat/cmd/internal/credential"
	"invoicechat/cmd/internal/realtime"

	"github.com/jackc/pgx/v5/pgxpool"
)

// App owns the HTTP server and every long-lived dependency behind it.
type App struct {
	cfg Config
	log Logger

	dbPool *pgxpool.Pool
	store  credential.Store

	routes routes
	ready  readiness

	closers []closer
}

// New constructs a fully wired App from config and logger.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}
	a := &App{cfg: cfg, log: log}

	shutdownTracing, err := setupTracing(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, shutdownTracing)

	if cfg.DatabaseURL != "" {
		pool, err := NewDBPool(ctx, cfg)
		if err != nil {
			a.close(ctx)
			return nil, err
		}
		a.dbPool = pool
		a.closers = append(a.closers, func(context.Context) error { pool.Close(); return nil })
		log.Info("db.enabled")
	}

	store, closeStore, err := openCredentialStore(ctx, cfg, a.dbPool, log)
	if err != nil {
		a.close(ctx)
		return nil, err
	}
	a.store = store
	// Stores close before the pool they may use.
	a.closers = append(a.closers, closeStore)

	if err := a.wire(); err != nil {
		a.close(ctx)
		return nil, err
	}
	return a, nil
}

// wire builds the provider client, model and handlers. A missing provider or
// model leaves the dependent routes answering 503 instead of failing startup.
func (a *App) wire() error {
	cfg, log := a.cfg, a.log
	a.ready = readiness{pool: a.dbPool, store: a.store}

	// One Flight for every refresher in the process.
	flight := credential.NewFlight(0)

	provider, err := oauth.NewClient(oauth.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		AuthURL:      cfg.AuthURL,
		TokenURL:     cfg.TokenURL,
		Scopes:       cfg.Scopes,
		Timeout:      cfg.OAuthTimeout,
	})
	switch {
	case errors.Is(err, oauth.ErrNotConfigured):
		log.Warn("provider.disabled", "reason", "client credentials not set")
		return nil
	case err != nil:
		return err
	}
	a.ready.provider = true

	states, err := oauth.NewStateSigner(cfg.StateSigningKey, cfg.StateTTL)
	if err != nil {
		return err
	}
	if cfg.StateSigningKey == "" {
		log.Warn("oauth.state.ephemeral_key", "note", "in-flight logins do not survive restarts")
	}

	authCfg := authapi.Config{
		FrontendURL:      cfg.FrontendURL,
		TrustProxy:       cfg.TrustProxy,
		ExchangeIPMax:    cfg.RefreshIPMax,
		ExchangeIPWindow: cfg.RefreshIPWindow,
		StateTTL:         cfg.StateTTL,
		CookieSecure:     cfg.CookieSecure,
		CookieSameSite:   authapi.ParseSameSite(cfg.CookieSameSite),
	}
	a.routes.auth, err = authapi.NewHandler(log, authCfg, provider, states, a.store, authapi.WithFlight(flight))
	if err != nil {
		return err
	}

	model, err := chat.NewOpenAIModel(chat.OpenAIConfig{
		APIKey:      cfg.OpenAIAPIKey,
		Model:       cfg.OpenAIModel,
		BaseURL:     cfg.OpenAIBaseURL,
		Temperature: cfg.OpenAITemperature,
		Timeout:     cfg.OpenAITimeout,
	})
	if err != nil {
		log.Warn("chat.disabled", "reason", err.Error())
		return nil
	}
	a.ready.model = true

	conn, err := accounting.NewConnector(accounting.ConnectorConfig{
		BaseURL:      cfg.APIBaseURL,
		Exchanger:    provider,
		Flight:       flight,
		Timeout:      cfg.APITimeout,
		MinorVersion: cfg.APIMinorVersion,
		Logger:       log,
	})
	if err != nil {
		return err
	}
	orch, err := chat.NewOrchestrator(model, chat.WithMaxSteps(cfg.ChatMaxSteps), chat.WithLogger(log))
	if err != nil {
		return err
	}
	svc, err := chat.NewService(orch, conn, log)
	if err != nil {
		return err
	}

	a.routes.chat, err = chatapi.NewHandler(log, svc, conn, a.store, chatapi.WithTurnTimeout(cfg.ChatTurnTimeout))
	if err != nil {
		return err
	}

	wsCfg := realtime.DefaultConfig()
	wsCfg.OriginRequired = cfg.WSOriginRequired
	wsCfg.AllowedOrigins = cfg.WSAllowedOrigins
	wsCfg.DevInsecure = cfg.WSDevInsecure
	if cfg.ChatTurnTimeout > 0 {
		wsCfg.TurnTimeout = cfg.ChatTurnTimeout
	}
	a.routes.ws, err = realtime.NewWSGateway(log, svc, realtime.NewHub(log), wsCfg)
	return err
}

// Handler returns the full middleware chain around the route mux.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.routes, a.ready)
	return WithRequestLogging(WithSecurityHeaders(WithCORS(mux, a.cfg, a.log)), a.log)
}

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 150*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	base := runtimeBaseURL(a.cfg.HTTPAddr)
	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"url", base,
		"ws_url", wsBaseURL(base)+"/ws/chat",
		"db_enabled", a.dbPool != nil,
		"credential_backend", a.cfg.CredentialBackend,
		"provider", a.ready.provider,
		"model", a.ready.model,
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		a.close(context.Background())
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second))
	defer cancel()

	// Hijacked websocket connections are not tracked by Shutdown.
	if a.routes.ws != nil {
		a.routes.ws.Hub().CloseAll()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		a.close(shutdownCtx)
		return err
	}

	a.close(shutdownCtx)
	a.log.Info("server.stopped")
	return nil
}

// close runs closers in reverse registration order.
func (a *App) close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.log.Error("app.close.fail", "err", err)
		}
	}
	a.closers = nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// runtimeBaseURL turns a listen address into a URL a local client can dial.
// Wildcard binds map to loopback.
func runtimeBaseURL(addr string) string {
	host, port, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return "http://" + addr
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

func wsBaseURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return "ws://" + base
	}
}
