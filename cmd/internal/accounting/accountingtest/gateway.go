package accountingtest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"invoicechat/cmd/internal/credential"
	"invoicechat/cmd/internal/gateway"
)

// TenantID is the tenant seeded by NewGateway.
const TenantID = "9130350000000000"

// ErrNoRefresh is returned by the refresher NewGateway installs.
var ErrNoRefresh = errors.New("accountingtest: refresh not expected")

type noRefresh struct{}

func (noRefresh) Refresh(context.Context, credential.Bundle) (credential.Bundle, error) {
	return credential.Bundle{}, ErrNoRefresh
}

// NewGateway returns a gateway pointed at s holding a valid bundle for TenantID.
func NewGateway(tb testing.TB, s *Server) (*gateway.Gateway, *credential.MemoryStore) {
	tb.Helper()
	token := s.Token
	if token == "" {
		token = "test-access"
	}
	store := credential.NewMemoryStore(credential.Bundle{
		AccessToken:  token,
		RefreshToken: "test-refresh",
		TenantID:     TenantID,
		ExpiresAt:    time.Now().Add(time.Hour),
	})
	gw, err := gateway.New(s.URL, store, noRefresh{},
		gateway.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		gateway.WithTimeout(5*time.Second),
	)
	if err != nil {
		tb.Fatalf("gateway.New: %v", err)
	}
	return gw, store
}
