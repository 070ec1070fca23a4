package credential

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"invoicechat/cmd/internal/metrics"
	"invoicechat/cmd/security/token"

	"golang.org/x/sync/singleflight"
)

// Exchanger trades a refresh token for a new token at the authorization server.
type Exchanger interface {
	Refresh(ctx context.Context, refreshToken string) (Token, error)
}

// Flight coalesces concurrent exchanges of the same refresh token. One Flight
// may be shared by many Refreshers (for example one per chat request) so that
// overlapping requests carrying the same client bundle still exchange once.
//
// Because providers rotate refresh tokens on use, a caller that arrives just
// after an exchange completed would present a token the server already
// invalidated. Flight remembers recent results for a short window and hands
// them to such late callers.
type Flight struct {
	group singleflight.Group

	mu     sync.Mutex
	recent map[string]recentToken
	ttl    time.Duration
	now    func() time.Time
}

type recentToken struct {
	tok Token
	at  time.Time
}

// DefaultRecentTTL bounds how long a completed exchange is reused.
const DefaultRecentTTL = 30 * time.Second

// NewFlight returns a Flight that remembers results for ttl (DefaultRecentTTL when <= 0).
func NewFlight(ttl time.Duration) *Flight {
	if ttl <= 0 {
		ttl = DefaultRecentTTL
	}
	return &Flight{recent: make(map[string]recentToken), ttl: ttl, now: time.Now}
}

func (f *Flight) lookup(fp string) (Token, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.now()
	for k, v := range f.recent {
		if now.Sub(v.at) > f.ttl {
			delete(f.recent, k)
		}
	}
	r, ok := f.recent[fp]
	return r.tok, ok
}

func (f *Flight) remember(fp string, tok Token) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recent[fp] = recentToken{tok: tok, at: f.now()}
}

// do runs exchange once per fingerprint. outcome is "ok", "shared" or "reused".
func (f *Flight) do(fp string, exchange func() (Token, error)) (Token, string, error) {
	v, err, shared := f.group.Do(fp, func() (any, error) {
		if tok, ok := f.lookup(fp); ok {
			return flightResult{tok: tok, reused: true}, nil
		}
		tok, err := exchange()
		if err != nil {
			return nil, err
		}
		f.remember(fp, tok)
		return flightResult{tok: tok}, nil
	})
	if err != nil {
		return Token{}, "fail", err
	}
	res := v.(flightResult)
	switch {
	case res.reused:
		return res.tok, "reused", nil
	case shared:
		return res.tok, "shared", nil
	default:
		return res.tok, "ok", nil
	}
}

type flightResult struct {
	tok    Token
	reused bool
}

// Refresher exchanges the stored refresh token and persists the new bundle.
type Refresher struct {
	ex      Exchanger
	store   Store
	flight  *Flight
	log     *slog.Logger
	now     func() time.Time
	timeout time.Duration
}

// RefresherOption configures a Refresher.
type RefresherOption func(*Refresher)

// WithFlight shares a Flight between refreshers.
func WithFlight(f *Flight) RefresherOption {
	return func(r *Refresher) {
		if f != nil {
			r.flight = f
		}
	}
}

// WithLogger sets the refresher logger.
func WithLogger(log *slog.Logger) RefresherOption {
	return func(r *Refresher) {
		if log != nil {
			r.log = log
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) RefresherOption {
	return func(r *Refresher) {
		if now != nil {
			r.now = now
		}
	}
}

// WithExchangeTimeout bounds a single token exchange.
func WithExchangeTimeout(d time.Duration) RefresherOption {
	return func(r *Refresher) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// NewRefresher constructs a Refresher writing to store.
func NewRefresher(ex Exchanger, store Store, opts ...RefresherOption) *Refresher {
	r := &Refresher{
		ex:      ex,
		store:   store,
		log:     slog.Default(),
		now:     time.Now,
		timeout: 15 * time.Second,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(r)
	}
	if r.flight == nil {
		r.flight = NewFlight(0)
	}
	return r
}

// Store returns the store this refresher writes to.
func (r *Refresher) Store() Store { return r.store }

// Refresh exchanges current.RefreshToken for a new bundle, persists it and returns it.
//
// If the store already holds a usable bundle whose access token differs from
// current's, another caller refreshed first and that bundle is returned
// without a new exchange. On failure the store is left untouched.
func (r *Refresher) Refresh(ctx context.Context, current Bundle) (Bundle, error) {
	if current.RefreshToken == "" {
		return Bundle{}, ErrNoRefreshToken
	}
	fp := token.Fingerprint(current.RefreshToken)

	stored, err := r.store.Get(ctx)
	if err != nil {
		return Bundle{}, &RefreshFailedError{Fingerprint: fp, Err: err}
	}
	if IsValid(stored, r.now()) && stored.AccessToken != current.AccessToken {
		metrics.CredentialRefreshes.WithLabelValues("stored").Inc()
		r.log.Debug("credential.refresh.skip", "fp", fp, "reason", "already_rotated")
		return stored, nil
	}
	if current.TenantID == "" {
		current.TenantID = stored.TenantID
	}

	tok, outcome, err := r.flight.do(fp, func() (Token, error) {
		// Detached from the first caller's cancellation: other callers share this result.
		xctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()
		return r.ex.Refresh(xctx, current.RefreshToken)
	})
	metrics.CredentialRefreshes.WithLabelValues(outcome).Inc()
	if err != nil {
		r.log.Warn("credential.refresh.fail", "fp", fp, "err", err)
		return Bundle{}, &RefreshFailedError{Fingerprint: fp, Err: err}
	}
	if tok.AccessToken == "" {
		return Bundle{}, &RefreshFailedError{Fingerprint: fp, Err: errEmptyAccessToken}
	}

	// The provider has rotated the refresh token by now. Losing the caller must
	// not lose the only copy of the new one.
	next := BundleFrom(tok, current, r.now())
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	saved, err := r.store.Set(sctx, PatchFrom(next))
	cancel()
	if err != nil {
		r.log.Error("credential.refresh.persist_fail", "fp", fp, "err", err)
		return Bundle{}, &RefreshFailedError{Fingerprint: fp, Err: err}
	}

	r.log.Info("credential.refresh.ok",
		"fp", fp,
		"new_fp", token.Fingerprint(saved.RefreshToken),
		"outcome", outcome,
		"expires_at", saved.ExpiresAt,
	)
	return saved, nil
}
