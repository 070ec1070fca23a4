package authapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"invoicechat/cmd/internal/credential"
)

// Provider is the authorization server as seen by the auth endpoints.
type Provider interface {
	credential.Exchanger
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code, tenantID string) (credential.Token, error)
}

// StateSigner issues and checks the OAuth state parameter.
type StateSigner interface {
	Issue(now time.Time) (string, error)
	Verify(state string, now time.Time) error
}

// Handler serves the provider connection endpoints.
type Handler struct {
	log *slog.Logger
	cfg Config

	provider Provider
	states   StateSigner
	store    credential.Store
	flight   *credential.Flight
	limiter  *exchangeLimiter

	now func() time.Time
}

// HandlerOption configures optional auth handler dependencies.
type HandlerOption func(*Handler)

// WithFlight shares refresh coalescing with other components.
func WithFlight(f *credential.Flight) HandlerOption {
	return func(h *Handler) {
		if h == nil || f == nil {
			return
		}
		h.flight = f
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) HandlerOption {
	return func(h *Handler) {
		if h == nil || now == nil {
			return
		}
		h.now = now
	}
}

// NewHandler constructs an auth Handler. store holds the server-side bundle
// written by the OAuth callback.
func NewHandler(log *slog.Logger, cfg Config, provider Provider, states StateSigner, store credential.Store, opts ...HandlerOption) (*Handler, error) {
	if log == nil {
		log = slog.Default()
	}
	if provider == nil {
		return nil, errors.New("auth: nil provider")
	}
	if states == nil {
		return nil, errors.New("auth: nil state signer")
	}
	if store == nil {
		return nil, errors.New("auth: nil credential store")
	}
	cfg = cfg.withDefaults()

	h := &Handler{
		log:      log,
		cfg:      cfg,
		provider: provider,
		states:   states,
		store:    store,
		limiter:  newExchangeLimiter(cfg.ExchangeIPMax, cfg.ExchangeIPWindow),
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(h)
	}
	if h.flight == nil {
		h.flight = credential.NewFlight(0)
	}
	return h, nil
}

// Register wires auth routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("/auth/provider", h.handleAuthorize)
	mux.HandleFunc("/auth/provider/callback", h.handleCallback)
	mux.HandleFunc("/auth/validate", h.handleValidate)
	mux.HandleFunc("/auth/refresh", h.handleRefresh)
	mux.HandleFunc("/auth/logout", h.handleLogout)
	mux.HandleFunc("/auth/sync", h.handleSync)
	mux.HandleFunc("/auth/status", h.handleStatus)
}

// ---- handlers ----

func (h *Handler) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	now := h.now()
	state, err := h.states.Issue(now)
	if err != nil {
		h.log.Error("auth.authorize.state_fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "could not start authorization")
		return
	}
	h.setStateCookie(w, state, now)
	http.Redirect(w, r, h.provider.AuthCodeURL(state), http.StatusFound)
}

func (h *Handler) handleCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()
	q := r.URL.Query()
	now := h.now()

	if e := strings.TrimSpace(q.Get("error")); e != "" {
		h.auditConnectFailed(ctx, r, "provider_error")
		writeError(w, http.StatusBadRequest, "authorization_denied", e)
		return
	}

	state := q.Get("state")
	if err := h.states.Verify(state, now); err != nil || !h.stateCookieMatches(r, state) {
		h.auditConnectFailed(ctx, r, "bad_state")
		writeError(w, http.StatusBadRequest, "invalid_state", "invalid or expired state")
		return
	}
	h.clearStateCookie(w)

	code := strings.TrimSpace(q.Get("code"))
	if code == "" {
		h.auditConnectFailed(ctx, r, "missing_code")
		writeError(w, http.StatusBadRequest, "invalid_request", "missing authorization code")
		return
	}
	tenant := strings.TrimSpace(q.Get("realmId"))
	if tenant == "" {
		tenant = strings.TrimSpace(q.Get("tenantId"))
	}

	ip := clientIP(r, h.cfg.TrustProxy)
	if ok, retry := h.limiter.allow(ip, now); !ok {
		h.auditRateLimited(ctx, r, "callback")
		writeRateLimited(w, retry)
		return
	}

	tok, err := h.provider.Exchange(ctx, code, tenant)
	if err != nil {
		h.limiter.fail(ip, now)
		h.log.Warn("auth.callback.exchange_fail", "err", err)
		h.auditConnectFailed(ctx, r, "exchange_failed")
		writeError(w, http.StatusBadGateway, "oauth_failed", "authorization code exchange failed")
		return
	}
	b := credential.BundleFrom(tok, credential.Bundle{TenantID: tenant}, now)
	saved, err := credential.Replace(ctx, h.store, b)
	if err != nil {
		h.log.Error("auth.callback.persist_fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "could not store credentials")
		return
	}
	h.auditConnected(ctx, r, saved.TenantID)

	target, err := tokensRedirect(h.cfg.FrontendURL, saved)
	if err != nil {
		h.log.Error("auth.callback.redirect_fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "bad frontend url")
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func (h *Handler) handleValidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req bundleRequest
	if !readBundle(w, r, h.cfg.MaxBodyBytes, &req) {
		return
	}
	if strings.TrimSpace(req.AccessToken) == "" {
		writeJSON(w, http.StatusUnauthorized, validateResponse{
			Valid:     false,
			Message:   "No access token provided",
			NeedsAuth: true,
		})
		return
	}

	b := credential.Bundle{AccessToken: req.AccessToken, RefreshToken: req.RefreshToken, TenantID: req.tenant()}
	if req.ExpiresAt != nil {
		b.ExpiresAt = time.Time(*req.ExpiresAt)
	}
	if !credential.IsValid(b, h.now()) {
		hasRefresh := b.RefreshToken != ""
		writeJSON(w, http.StatusUnauthorized, validateResponse{
			Valid:           false,
			Message:         "Access token expired",
			NeedsRefresh:    true,
			HasRefreshToken: &hasRefresh,
		})
		return
	}
	writeJSON(w, http.StatusOK, validateResponse{
		Valid:     true,
		Message:   "Access token is valid",
		TenantID:  b.TenantID,
		ExpiresAt: req.ExpiresAt,
	})
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()

	var req bundleRequest
	if !readBundle(w, r, h.cfg.MaxBodyBytes, &req) {
		return
	}
	if strings.TrimSpace(req.RefreshToken) == "" {
		writeJSON(w, http.StatusBadRequest, refreshResponse{Success: false, Message: "No refresh token provided"})
		return
	}

	now := h.now()
	ip := clientIP(r, h.cfg.TrustProxy)
	if ok, retry := h.limiter.allow(ip, now); !ok {
		h.auditRateLimited(ctx, r, "refresh")
		writeRateLimited(w, retry)
		return
	}

	store, current, err := h.refreshTarget(ctx, req)
	if err != nil {
		h.log.Error("auth.refresh.store_fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "credential store unavailable")
		return
	}
	refresher := credential.NewRefresher(h.provider, store,
		credential.WithFlight(h.flight),
		credential.WithLogger(h.log),
		credential.WithClock(h.now),
	)
	next, err := refresher.Refresh(ctx, current)
	h.auditRefresh(ctx, r, req.RefreshToken, err)
	if err != nil {
		h.limiter.fail(ip, now)
		writeJSON(w, http.StatusUnauthorized, refreshResponse{
			Success: false,
			Message: "Token refresh failed",
			Error:   refreshErrorText(err),
		})
		return
	}

	ts := credential.Timestamp(next.ExpiresAt)
	writeJSON(w, http.StatusOK, refreshResponse{
		Success:      true,
		Message:      "Token refreshed successfully",
		AccessToken:  next.AccessToken,
		RefreshToken: next.RefreshToken,
		TenantID:     next.TenantID,
		ExpiresAt:    &ts,
	})
}

// refreshTarget picks the store a refresh writes to. When the request carries
// the refresh token the server holds, the server bundle is rotated in place;
// otherwise the client's bundle is rotated in a private store.
func (h *Handler) refreshTarget(ctx context.Context, req bundleRequest) (credential.Store, credential.Bundle, error) {
	stored, err := h.store.Get(ctx)
	if err != nil {
		return nil, credential.Bundle{}, err
	}
	if stored.RefreshToken != "" && secureStringEqual(stored.RefreshToken, req.RefreshToken) {
		return h.store, stored, nil
	}
	current := credential.Bundle{RefreshToken: req.RefreshToken, TenantID: req.tenant()}
	return credential.NewMemoryStore(current), current, nil
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := h.store.Clear(r.Context()); err != nil {
		h.log.Error("auth.logout.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "could not clear credentials")
		return
	}
	h.auditLogout(r.Context(), r)
	writeJSON(w, http.StatusOK, successResponse{Success: true, Message: "Logged out successfully"})
}

// handleSync merges a client-held bundle into the server store.
func (h *Handler) handleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req bundleRequest
	if !readBundle(w, r, h.cfg.MaxBodyBytes, &req) {
		return
	}
	b := credential.Bundle{AccessToken: req.AccessToken, RefreshToken: req.RefreshToken, TenantID: req.tenant()}
	if req.ExpiresAt != nil {
		b.ExpiresAt = time.Time(*req.ExpiresAt)
	}
	if b.AccessToken == "" && b.RefreshToken == "" {
		writeJSON(w, http.StatusBadRequest, successResponse{Success: false, Message: "No tokens provided"})
		return
	}
	if _, err := h.store.Set(r.Context(), credential.PatchFrom(b)); err != nil {
		h.log.Error("auth.sync.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "could not store credentials")
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true, Message: "Tokens synced successfully"})
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	b, err := h.store.Get(r.Context())
	if err != nil {
		h.log.Error("auth.status.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "credential store unavailable")
		return
	}
	resp := statusResponse{
		Connected: b.AccessToken != "" || b.RefreshToken != "",
		Valid:     credential.IsValid(b, h.now()),
		TenantID:  b.TenantID,
	}
	if !b.ExpiresAt.IsZero() {
		ts := credential.Timestamp(b.ExpiresAt)
		resp.ExpiresAt = &ts
	}
	writeJSON(w, http.StatusOK, resp)
}

// ---- helpers ----

// tokensRedirect appends the bundle as JSON in the tokens query parameter.
func tokensRedirect(frontend string, b credential.Bundle) (string, error) {
	u, err := url.Parse(frontend)
	if err != nil {
		return "", err
	}
	raw, err := json.Marshal(b)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("tokens", string(raw))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func refreshErrorText(err error) string {
	var rf *credential.RefreshFailedError
	if errors.As(err, &rf) && rf.Err != nil {
		return rf.Err.Error()
	}
	return err.Error()
}

func clientIP(r *http.Request, trustProxy bool) net.IP {
	if trustProxy {
		if ip := parseForwardedIP(r.Header.Get("X-Forwarded-For")); ip != nil {
			return ip
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip
		}
	}
	return nil
}

func parseForwardedIP(raw string) net.IP {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	for _, p := range parts {
		if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
			return ip
		}
	}
	return nil
}
