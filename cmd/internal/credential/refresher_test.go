package credential

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExchanger struct {
	calls atomic.Int32
	delay time.Duration
	err   error
	next  func(n int32, refresh string) Token
}

func (f *fakeExchanger) Refresh(ctx context.Context, refreshToken string) (Token, error) {
	n := f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return Token{}, ctx.Err()
		}
	}
	if f.err != nil {
		return Token{}, f.err
	}
	if f.next != nil {
		return f.next(n, refreshToken), nil
	}
	return Token{AccessToken: "access-new", RefreshToken: "refresh-new", ExpiresIn: time.Hour}, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestRefresher(ex Exchanger, s Store, opts ...RefresherOption) *Refresher {
	base := []RefresherOption{WithLogger(quietLogger()), WithClock(func() time.Time { return testNow })}
	return NewRefresher(ex, s, append(base, opts...)...)
}

func TestRefresh_NoRefreshToken(t *testing.T) {
	ex := &fakeExchanger{}
	r := newTestRefresher(ex, NewMemoryStore(Bundle{}))

	_, err := r.Refresh(context.Background(), Bundle{AccessToken: "a"})
	require.ErrorIs(t, err, ErrNoRefreshToken)
	require.Zero(t, ex.calls.Load())
}

func TestRefresh_PersistsCompleteBundle(t *testing.T) {
	ctx := context.Background()
	expired := Bundle{AccessToken: "access-old", RefreshToken: "refresh-old", TenantID: "realm-1", ExpiresAt: testNow.Add(-time.Minute)}
	s := NewMemoryStore(expired)
	ex := &fakeExchanger{}

	got, err := newTestRefresher(ex, s).Refresh(ctx, expired)
	require.NoError(t, err)

	want := Bundle{AccessToken: "access-new", RefreshToken: "refresh-new", TenantID: "realm-1", ExpiresAt: testNow.Add(time.Hour)}
	require.Equal(t, want, got)

	stored, err := s.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, want, stored)
	require.EqualValues(t, 1, ex.calls.Load())
}

func TestRefresh_DefaultExpiry(t *testing.T) {
	ex := &fakeExchanger{next: func(int32, string) Token { return Token{AccessToken: "a", RefreshToken: "r"} }}
	cur := Bundle{RefreshToken: "r0", TenantID: "t"}

	got, err := newTestRefresher(ex, NewMemoryStore(cur)).Refresh(context.Background(), cur)
	require.NoError(t, err)
	require.Equal(t, testNow.Add(time.Hour), got.ExpiresAt)
}

func TestRefresh_FailureLeavesStoreUntouched(t *testing.T) {
	ctx := context.Background()
	cur := Bundle{AccessToken: "a", RefreshToken: "r", TenantID: "t", ExpiresAt: testNow.Add(-time.Second)}
	s := NewMemoryStore(cur)
	upstream := errors.New("invalid_grant")

	_, err := newTestRefresher(&fakeExchanger{err: upstream}, s).Refresh(ctx, cur)
	require.ErrorIs(t, err, ErrRefreshFailed)
	require.ErrorIs(t, err, upstream)

	var rf *RefreshFailedError
	require.ErrorAs(t, err, &rf)
	require.NotEmpty(t, rf.Fingerprint)

	stored, err := s.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, cur, stored)
}

func TestRefresh_EmptyAccessTokenIsFailure(t *testing.T) {
	cur := Bundle{RefreshToken: "r", TenantID: "t"}
	s := NewMemoryStore(cur)
	ex := &fakeExchanger{next: func(int32, string) Token { return Token{RefreshToken: "r2"} }}

	_, err := newTestRefresher(ex, s).Refresh(context.Background(), cur)
	require.ErrorIs(t, err, ErrRefreshFailed)

	stored, _ := s.Get(context.Background())
	require.Equal(t, cur, stored)
}

func TestRefresh_SkipsWhenStoreAlreadyRotated(t *testing.T) {
	ctx := context.Background()
	rotated := Bundle{AccessToken: "access-2", RefreshToken: "refresh-2", TenantID: "t", ExpiresAt: testNow.Add(time.Hour)}
	ex := &fakeExchanger{}

	got, err := newTestRefresher(ex, NewMemoryStore(rotated)).Refresh(ctx, Bundle{AccessToken: "access-1", RefreshToken: "refresh-1", TenantID: "t"})
	require.NoError(t, err)
	require.Equal(t, rotated, got)
	require.Zero(t, ex.calls.Load())
}

func TestRefresh_SingleFlight(t *testing.T) {
	ctx := context.Background()
	expired := Bundle{AccessToken: "access-old", RefreshToken: "refresh-old", TenantID: "t", ExpiresAt: testNow.Add(-time.Minute)}
	s := NewMemoryStore(expired)
	ex := &fakeExchanger{delay: 50 * time.Millisecond}
	r := newTestRefresher(ex, s)

	const n = 16
	var wg sync.WaitGroup
	results := make([]Bundle, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b, err := r.Refresh(ctx, expired)
			assert.NoError(t, err)
			results[i] = b
		}(i)
	}
	wg.Wait()

	require.EqualValues(t, 1, ex.calls.Load())
	for _, b := range results {
		require.Equal(t, "access-new", b.AccessToken)
	}
}

func TestRefresh_SharedFlightAcrossStores(t *testing.T) {
	ctx := context.Background()
	client := Bundle{AccessToken: "access-old", RefreshToken: "refresh-old", TenantID: "t", ExpiresAt: testNow.Add(-time.Minute)}
	ex := &fakeExchanger{next: func(n int32, _ string) Token {
		return Token{AccessToken: "access-new", RefreshToken: "refresh-new", ExpiresIn: time.Hour}
	}}
	flight := NewFlight(time.Minute)

	// Two requests carrying the same client bundle, one after the other.
	s1 := NewMemoryStore(client)
	b1, err := newTestRefresher(ex, s1, WithFlight(flight)).Refresh(ctx, client)
	require.NoError(t, err)

	s2 := NewMemoryStore(client)
	b2, err := newTestRefresher(ex, s2, WithFlight(flight)).Refresh(ctx, client)
	require.NoError(t, err)

	require.EqualValues(t, 1, ex.calls.Load(), "late caller reuses the rotated token")
	require.Equal(t, b1, b2)

	stored, _ := s2.Get(ctx)
	require.Equal(t, "refresh-new", stored.RefreshToken)
}

func TestFlight_RecentExpires(t *testing.T) {
	f := NewFlight(time.Second)
	clock := testNow
	f.now = func() time.Time { return clock }

	f.remember("fp", Token{AccessToken: "a"})
	_, ok := f.lookup("fp")
	require.True(t, ok)

	clock = clock.Add(2 * time.Second)
	_, ok = f.lookup("fp")
	require.False(t, ok)
}

func TestRefresh_CallerCancelDoesNotAbortSharedExchange(t *testing.T) {
	expired := Bundle{AccessToken: "a", RefreshToken: "r", TenantID: "t", ExpiresAt: testNow.Add(-time.Minute)}
	s := NewMemoryStore(expired)
	ex := &fakeExchanger{delay: 30 * time.Millisecond}
	r := newTestRefresher(ex, s)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got, err := r.Refresh(ctx, expired)
	require.NoError(t, err)
	require.Equal(t, "access-new", got.AccessToken)
}

// ctxStore fails on a done context the way a database-backed store does.
type ctxStore struct {
	*MemoryStore
}

func (s ctxStore) Get(ctx context.Context) (Bundle, error) {
	if err := ctx.Err(); err != nil {
		return Bundle{}, err
	}
	return s.MemoryStore.Get(ctx)
}

func (s ctxStore) Set(ctx context.Context, p Patch) (Bundle, error) {
	if err := ctx.Err(); err != nil {
		return Bundle{}, err
	}
	return s.MemoryStore.Set(ctx, p)
}

func TestRefresh_CallerGoneAfterExchangeStillPersists(t *testing.T) {
	expired := Bundle{AccessToken: "a", RefreshToken: "r", TenantID: "t", ExpiresAt: testNow.Add(-time.Minute)}
	s := ctxStore{NewMemoryStore(expired)}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ex := &fakeExchanger{next: func(int32, string) Token {
		cancel()
		return Token{AccessToken: "access-new", RefreshToken: "refresh-new", ExpiresIn: time.Hour}
	}}
	r := newTestRefresher(ex, s)

	got, err := r.Refresh(ctx, expired)
	require.NoError(t, err)
	require.Equal(t, "refresh-new", got.RefreshToken)

	stored, err := s.MemoryStore.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "refresh-new", stored.RefreshToken)
	assert.Equal(t, "t", stored.TenantID)
}
