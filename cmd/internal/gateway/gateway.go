// Package gateway performs authenticated calls against the resource server.
//
// Each call reads the credential store, refreshes proactively when the access
// token is unusable, and refreshes once more on a 401 before retrying exactly
// once. A second 401, or a refresh the provider rejects, clears the store and
// returns ErrAuthenticationFailed. Cancellation and timeouts never clear it. Every other response is handed back unmodified.
package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"invoicechat/cmd/internal/credential"
	"invoicechat/cmd/internal/metrics"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TenantPlaceholder in Call.Path is replaced with the bundle's tenant id.
const TenantPlaceholder = "{tenant}"

const (
	defaultTimeout = 20 * time.Second
	maxBodyBytes   = 8 << 20
)

// Refresher rotates a bundle. *credential.Refresher satisfies it.
type Refresher interface {
	Refresh(ctx context.Context, current credential.Bundle) (credential.Bundle, error)
}

// Call describes one outbound call. It is rebuilt into a fresh
// *http.Request for every attempt so a retry never reuses a consumed body.
type Call struct {
	Method string
	// Path is relative to the gateway base URL and may contain TenantPlaceholder.
	Path   string
	Query  url.Values
	Body   []byte
	Header http.Header
}

// Response is a fully read resource-server response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// OK reports a 2xx status.
func (r *Response) OK() bool { return r.StatusCode >= 200 && r.StatusCode < 300 }

// Gateway attaches bearer credentials to outbound calls.
type Gateway struct {
	base      *url.URL
	http      *http.Client
	store     credential.Store
	refresher Refresher
	log       *slog.Logger
	now       func() time.Time
	timeout   time.Duration
	tracer    trace.Tracer
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(g *Gateway) {
		if c != nil {
			g.http = c
		}
	}
}

// WithLogger sets the gateway logger.
func WithLogger(log *slog.Logger) Option {
	return func(g *Gateway) {
		if log != nil {
			g.log = log
		}
	}
}

// WithClock overrides time.Now for validity checks.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) {
		if now != nil {
			g.now = now
		}
	}
}

// WithTimeout bounds each attempt.
func WithTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// New constructs a Gateway against baseURL.
func New(baseURL string, store credential.Store, refresher Refresher, opts ...Option) (*Gateway, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("gateway: invalid base url %q", baseURL)
	}
	if store == nil || refresher == nil {
		return nil, errors.New("gateway: nil store or refresher")
	}
	g := &Gateway{
		base:      u,
		http:      http.DefaultClient,
		store:     store,
		refresher: refresher,
		log:       slog.Default(),
		now:       time.Now,
		timeout:   defaultTimeout,
		tracer:    otel.Tracer("invoicechat/gateway"),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(g)
	}
	return g, nil
}

// Tenant returns the tenant id of the stored bundle.
func (g *Gateway) Tenant(ctx context.Context) (string, error) {
	b, err := g.store.Get(ctx)
	if err != nil {
		return "", err
	}
	return b.TenantID, nil
}

// Do executes call with bearer authentication.
func (g *Gateway) Do(ctx context.Context, call Call) (*Response, error) {
	ctx, span := g.tracer.Start(ctx, "gateway.call", trace.WithAttributes(
		attribute.String("http.method", call.Method),
		attribute.String("gateway.path", call.Path),
	))
	defer span.End()

	start := time.Now()
	resp, outcome, err := g.do(ctx, call)
	metrics.GatewayLatency.Observe(time.Since(start).Seconds())
	metrics.GatewayCalls.WithLabelValues(outcome).Inc()
	span.SetAttributes(attribute.String("gateway.outcome", outcome))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		return nil, err
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	return resp, nil
}

func (g *Gateway) do(ctx context.Context, call Call) (*Response, string, error) {
	b, err := g.store.Get(ctx)
	if err != nil {
		return nil, "store_error", err
	}

	var outcome string
	if !credential.IsValid(b, g.now()) {
		if b, outcome, err = g.refresh(ctx, call, b); err != nil {
			return nil, outcome, err
		}
	}

	resp, err := g.send(ctx, call, b)
	if err != nil {
		return nil, "transport_error", err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, outcomeOf(resp), nil
	}

	g.log.Info("gateway.unauthorized", "method", call.Method, "path", call.Path)
	if b, outcome, err = g.refresh(ctx, call, b); err != nil {
		return nil, outcome, err
	}

	resp, err = g.send(ctx, call, b)
	if err != nil {
		return nil, "transport_error", err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, "auth_failed", g.failClosed(ctx, "unauthorized_after_refresh", nil)
	}
	return resp, outcomeOf(resp) + "_after_refresh", nil
}

func outcomeOf(resp *Response) string {
	if resp.OK() {
		return "ok"
	}
	return "upstream_error"
}

// refresh runs the refresher. A refresh that failed because the caller went
// away or ran out of time says nothing about the credential, so it surfaces as
// a TransportError and the store is kept.
func (g *Gateway) refresh(ctx context.Context, call Call, b credential.Bundle) (credential.Bundle, string, error) {
	next, err := g.refresher.Refresh(ctx, b)
	if err == nil {
		return next, "", nil
	}
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		timeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded)
		g.log.Info("gateway.refresh.abandoned", "method", call.Method, "path", call.Path, "err", err)
		return credential.Bundle{}, "transport_error", &TransportError{Method: call.Method, Path: call.Path, Timeout: timeout, Err: err}
	}
	return credential.Bundle{}, "auth_failed", g.failClosed(ctx, "refresh_failed", err)
}

// failClosed clears the store so the next use forces re-authorization.
func (g *Gateway) failClosed(ctx context.Context, reason string, cause error) error {
	if err := g.store.Clear(context.WithoutCancel(ctx)); err != nil {
		g.log.Error("gateway.clear.fail", "err", err)
	}
	g.log.Warn("gateway.auth_failed", "reason", reason, "err", cause)
	return &AuthenticationFailedError{Reason: reason, Err: cause}
}

func (g *Gateway) send(ctx context.Context, call Call, b credential.Bundle) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	req, err := g.build(ctx, call, b)
	if err != nil {
		return nil, err
	}

	res, err := g.http.Do(req)
	if err != nil {
		return nil, &TransportError{
			Method:  call.Method,
			Path:    call.Path,
			Timeout: errors.Is(err, context.DeadlineExceeded) || isTimeout(err),
			Err:     err,
		}
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
	if err != nil {
		return nil, &TransportError{
			Method:  call.Method,
			Path:    call.Path,
			Timeout: errors.Is(err, context.DeadlineExceeded),
			Err:     err,
		}
	}
	return &Response{StatusCode: res.StatusCode, Header: res.Header, Body: body}, nil
}

func (g *Gateway) build(ctx context.Context, call Call, b credential.Bundle) (*http.Request, error) {
	method := call.Method
	if method == "" {
		method = http.MethodGet
	}
	path := call.Path
	if strings.Contains(path, TenantPlaceholder) {
		if b.TenantID == "" || strings.ContainsAny(b.TenantID, "/?#") {
			return nil, ErrMissingTenant
		}
		path = strings.ReplaceAll(path, TenantPlaceholder, b.TenantID)
	}

	u := *g.base
	u.Path = g.base.Path + "/" + strings.TrimLeft(path, "/")
	if len(call.Query) > 0 {
		u.RawQuery = call.Query.Encode()
	}

	var body io.Reader
	if call.Body != nil {
		body = bytes.NewReader(call.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, err
	}
	for k, vs := range call.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	if call.Body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+b.AccessToken)
	return req, nil
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
