package chatapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"invoicechat/cmd/internal/accounting"
	"invoicechat/cmd/internal/accounting/accountingtest"
	"invoicechat/cmd/internal/chat"
	chatapi "invoicechat/cmd/internal/chat/api"
	"invoicechat/cmd/internal/credential"
	"invoicechat/cmd/internal/tools"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rotatingExchanger struct {
	calls  atomic.Int32
	access string
}

func (e *rotatingExchanger) Refresh(_ context.Context, rt string) (credential.Token, error) {
	e.calls.Add(1)
	return credential.Token{AccessToken: e.access, RefreshToken: rt + "-next", ExpiresIn: time.Hour}, nil
}

// listOnce lists invoices on the first step and answers on the second.
type listOnce struct{}

func (listOnce) Next(_ context.Context, msgs []chat.Message, _ []tools.Definition) (chat.Reply, error) {
	if msgs[len(msgs)-1].Role == chat.RoleTool {
		return chat.Reply{Text: "Here are your invoices."}, nil
	}
	return chat.Reply{ToolCalls: []chat.ToolCall{{ID: "c1", Name: tools.ListInvoices, Arguments: json.RawMessage(`{"maxResults":20}`)}}}, nil
}

type fixture struct {
	srv    *accountingtest.Server
	ex     *rotatingExchanger
	server *credential.MemoryStore
	mux    *http.ServeMux
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	srv := accountingtest.NewServer(t)
	srv.Token = "good-access"
	ex := &rotatingExchanger{access: "good-access"}

	conn, err := accounting.NewConnector(accounting.ConnectorConfig{BaseURL: srv.URL, Exchanger: ex, Logger: log})
	require.NoError(t, err)
	orch, err := chat.NewOrchestrator(listOnce{}, chat.WithLogger(log))
	require.NoError(t, err)
	svc, err := chat.NewService(orch, conn, log)
	require.NoError(t, err)

	server := credential.NewMemoryStore(credential.Bundle{})
	h, err := chatapi.NewHandler(log, svc, conn, server)
	require.NoError(t, err)

	mux := http.NewServeMux()
	h.Register(mux)
	return &fixture{srv: srv, ex: ex, server: server, mux: mux}
}

func (f *fixture) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, httptest.NewRequest(method, path, rd))
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return rec, out
}

func validExpiry() int64 { return time.Now().Add(time.Hour).UnixMilli() }

func TestChat_MissingCredentials(t *testing.T) {
	f := newFixture(t)
	rec, out := f.do(t, http.MethodPost, "/chat", map[string]any{"message": "hi", "accessToken": "a"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Missing accounting authentication tokens", out["error"])
	assert.Zero(t, f.srv.Requests())
}

func TestChat_ReturnsInvoices(t *testing.T) {
	f := newFixture(t)
	f.srv.Seed(3)

	rec, out := f.do(t, http.MethodPost, "/chat", map[string]any{
		"message":      "show invoices",
		"accessToken":  "good-access",
		"refreshToken": "rt",
		"realmId":      accountingtest.TenantID,
		"expiresAt":    validExpiry(),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Here are your invoices.", out["text"])
	assert.Equal(t, true, out["hasInvoices"])
	assert.Len(t, out["invoices"], 3)
	assert.Len(t, out["toolResults"], 1)
	assert.NotContains(t, out, "credentials")
	assert.Zero(t, f.ex.calls.Load())
}

func TestChat_RotatedCredentialsAreReturned(t *testing.T) {
	f := newFixture(t)
	f.srv.Seed(1)

	rec, out := f.do(t, http.MethodPost, "/chat", map[string]any{
		"message":      "show invoices",
		"accessToken":  "expired-access",
		"refreshToken": "rt",
		"tenantId":     accountingtest.TenantID,
		"expiresAt":    validExpiry(),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.EqualValues(t, 1, f.ex.calls.Load())

	creds, ok := out["credentials"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "good-access", creds["accessToken"])
	assert.Equal(t, "rt-next", creds["refreshToken"])
	assert.Equal(t, accountingtest.TenantID, creds["tenantId"])
}

// Without expiresAt the bundle refreshes once; the reply carries an expiry the
// client can send next turn.
func TestChat_MissingExpiryRefreshesOnce(t *testing.T) {
	f := newFixture(t)
	f.srv.Seed(1)

	rec, out := f.do(t, http.MethodPost, "/chat", map[string]any{
		"message":      "show invoices",
		"accessToken":  "good-access",
		"refreshToken": "rt",
		"tenantId":     accountingtest.TenantID,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.EqualValues(t, 1, f.ex.calls.Load())

	creds, ok := out["credentials"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "rt-next", creds["refreshToken"])
	exp, ok := creds["expiresAt"].(float64)
	require.True(t, ok, "expiresAt missing from %v", creds)
	assert.Greater(t, int64(exp), time.Now().UnixMilli())

	rec, out = f.do(t, http.MethodPost, "/chat", map[string]any{
		"message":      "show invoices",
		"accessToken":  creds["accessToken"],
		"refreshToken": creds["refreshToken"],
		"tenantId":     creds["tenantId"],
		"expiresAt":    creds["expiresAt"],
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.EqualValues(t, 1, f.ex.calls.Load())
	assert.NotContains(t, out, "credentials")
}

func TestChat_AuthenticationFailure(t *testing.T) {
	f := newFixture(t)
	f.ex.access = "still-wrong"

	rec, out := f.do(t, http.MethodPost, "/chat", map[string]any{
		"message":      "show invoices",
		"accessToken":  "expired-access",
		"refreshToken": "rt",
		"tenantId":     accountingtest.TenantID,
		"expiresAt":    validExpiry(),
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, true, out["needsAuth"])
}

func TestChat_MethodNotAllowed(t *testing.T) {
	f := newFixture(t)
	rec, _ := f.do(t, http.MethodGet, "/chat", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestInvoices_RequireServerConnection(t *testing.T) {
	f := newFixture(t)
	rec, out := f.do(t, http.MethodGet, "/invoices", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "not_connected", out["error"].(map[string]any)["code"])
}

func TestInvoices_ListAndGet(t *testing.T) {
	f := newFixture(t)
	f.srv.Seed(5)
	_, err := credential.Replace(context.Background(), f.server, credential.Bundle{
		AccessToken:  "good-access",
		RefreshToken: "rt",
		TenantID:     accountingtest.TenantID,
		ExpiresAt:    time.Now().Add(time.Hour),
	})
	require.NoError(t, err)

	rec, out := f.do(t, http.MethodGet, "/invoices?limit=2&offset=1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.EqualValues(t, 2, out["count"])
	assert.Contains(t, out["query"], "STARTPOSITION 2 MAXRESULTS 2")
	first := out["invoices"].([]any)[0].(map[string]any)
	assert.Equal(t, "2", first["id"])

	rec, out = f.do(t, http.MethodGet, "/invoices/4", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "4", out["invoice"].(map[string]any)["id"])

	rec, _ = f.do(t, http.MethodGet, "/invoices/404", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// stalledRunner blocks until its context ends.
type stalledRunner struct{}

func (stalledRunner) Run(ctx context.Context, _ credential.Bundle, _ chat.Request) (chat.Turn, error) {
	<-ctx.Done()
	return chat.Turn{}, fmt.Errorf("chat: model step 1: %w", ctx.Err())
}

func TestChat_TurnTimeout(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := accountingtest.NewServer(t)
	conn, err := accounting.NewConnector(accounting.ConnectorConfig{BaseURL: srv.URL, Exchanger: &rotatingExchanger{}, Logger: log})
	require.NoError(t, err)

	h, err := chatapi.NewHandler(log, stalledRunner{}, conn, credential.NewMemoryStore(credential.Bundle{}),
		chatapi.WithTurnTimeout(50*time.Millisecond))
	require.NoError(t, err)
	f := &fixture{srv: srv, mux: http.NewServeMux()}
	h.Register(f.mux)

	start := time.Now()
	rec, out := f.do(t, http.MethodPost, "/chat", map[string]any{
		"message":      "show invoices",
		"accessToken":  "good-access",
		"refreshToken": "rt",
		"tenantId":     accountingtest.TenantID,
		"expiresAt":    validExpiry(),
	})
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	assert.Equal(t, "Timed out", out["error"])
	assert.NotEqual(t, true, out["needsAuth"])
}
