package oauth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"invoicechat/cmd/internal/credential"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tokenServer(t *testing.T, handle func(w http.ResponseWriter, form url.Values)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "client-id" || pass != "client-secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		assert.NoError(t, r.ParseForm())
		handle(w, r.PostForm)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T, tokenURL string) *Client {
	t.Helper()
	c, err := NewClient(Config{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURL:  "http://localhost:8080/auth/provider/callback",
		TokenURL:     tokenURL,
		Timeout:      2 * time.Second,
	})
	require.NoError(t, err)
	return c
}

func writeToken(w http.ResponseWriter, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

func TestNewClient_RequiresCredentials(t *testing.T) {
	_, err := NewClient(Config{ClientID: "x"})
	require.ErrorIs(t, err, ErrNotConfigured)
}

func TestAuthCodeURL(t *testing.T) {
	c := newTestClient(t, "http://unused")
	u, err := url.Parse(c.AuthCodeURL("state-123"))
	require.NoError(t, err)

	require.Equal(t, "appcenter.intuit.com", u.Host)
	q := u.Query()
	require.Equal(t, "client-id", q.Get("client_id"))
	require.Equal(t, "code", q.Get("response_type"))
	require.Equal(t, DefaultScope, q.Get("scope"))
	require.Equal(t, "state-123", q.Get("state"))
	require.Equal(t, "http://localhost:8080/auth/provider/callback", q.Get("redirect_uri"))
}

func TestRefresh(t *testing.T) {
	srv := tokenServer(t, func(w http.ResponseWriter, form url.Values) {
		assert.Equal(t, "refresh_token", form.Get("grant_type"))
		assert.Equal(t, "refresh-1", form.Get("refresh_token"))
		writeToken(w, map[string]any{
			"access_token":  "access-2",
			"refresh_token": "refresh-2",
			"token_type":    "bearer",
			"expires_in":    3600,
		})
	})

	tok, err := newTestClient(t, srv.URL).Refresh(context.Background(), "refresh-1")
	require.NoError(t, err)
	require.Equal(t, "access-2", tok.AccessToken)
	require.Equal(t, "refresh-2", tok.RefreshToken)
	require.Equal(t, time.Hour, tok.ExpiresIn)
}

func TestRefresh_ServerRejects(t *testing.T) {
	srv := tokenServer(t, func(w http.ResponseWriter, _ url.Values) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
	})

	_, err := newTestClient(t, srv.URL).Refresh(context.Background(), "refresh-1")
	require.Error(t, err)

	var xe *ExchangeError
	require.ErrorAs(t, err, &xe)
	require.Equal(t, "refresh", xe.Op)
	require.Equal(t, http.StatusBadRequest, xe.StatusCode)
	require.Equal(t, "invalid_grant", xe.Code)
	require.NotContains(t, err.Error(), "refresh-1")
}

func TestRefresh_EmptyToken(t *testing.T) {
	_, err := newTestClient(t, "http://unused").Refresh(context.Background(), "")
	require.ErrorIs(t, err, credential.ErrNoRefreshToken)
}

func TestExchange(t *testing.T) {
	srv := tokenServer(t, func(w http.ResponseWriter, form url.Values) {
		assert.Equal(t, "authorization_code", form.Get("grant_type"))
		assert.Equal(t, "code-abc", form.Get("code"))
		assert.Equal(t, "http://localhost:8080/auth/provider/callback", form.Get("redirect_uri"))
		writeToken(w, map[string]any{
			"access_token":  "access-1",
			"refresh_token": "refresh-1",
			"token_type":    "bearer",
		})
	})
	c := newTestClient(t, srv.URL)

	tok, err := c.Exchange(context.Background(), "code-abc", "realm-77")
	require.NoError(t, err)
	require.Equal(t, "access-1", tok.AccessToken)
	require.Equal(t, "realm-77", tok.TenantID)
	require.Zero(t, tok.ExpiresIn, "missing expires_in is left to the default")

	_, err = c.Exchange(context.Background(), " ", "realm-77")
	require.ErrorIs(t, err, ErrMissingCode)
}

func TestRefresh_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	c, err := NewClient(Config{ClientID: "id", ClientSecret: "secret", TokenURL: srv.URL, Timeout: 50 * time.Millisecond})
	require.NoError(t, err)

	_, err = c.Refresh(context.Background(), "refresh-1")
	require.Error(t, err)
}
