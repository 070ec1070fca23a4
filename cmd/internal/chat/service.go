package chat

import (
	"context"
	"errors"
	"log/slog"

	"invoicechat/cmd/internal/accounting"
	"invoicechat/cmd/internal/credential"
	"invoicechat/cmd/internal/tools"
)

// ErrMissingCredentials is returned when a turn arrives without a usable bundle.
var ErrMissingCredentials = errors.New("chat: access token, refresh token and tenant id are required")

// Connector binds an invoice client to a credential store.
type Connector interface {
	Connect(store credential.Store) (*accounting.Client, error)
}

// Turn is a Response plus the caller's bundle when it was rotated during the turn.
type Turn struct {
	Response
	Credentials *credential.Bundle
}

// Service runs turns for callers that hold their own credential bundle.
// Each turn gets a private store seeded from that bundle.
type Service struct {
	orch *Orchestrator
	conn Connector
	log  *slog.Logger
}

// NewService builds a Service.
func NewService(orch *Orchestrator, conn Connector, log *slog.Logger) (*Service, error) {
	if orch == nil || conn == nil {
		return nil, errors.New("chat: nil orchestrator or connector")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{orch: orch, conn: conn, log: log}, nil
}

// Run executes one turn with b. Errors from the orchestrator are returned
// alongside the partial Turn.
func (s *Service) Run(ctx context.Context, b credential.Bundle, req Request) (Turn, error) {
	if b.AccessToken == "" || b.RefreshToken == "" || b.TenantID == "" {
		return Turn{}, ErrMissingCredentials
	}

	store := credential.NewMemoryStore(b)
	client, err := s.conn.Connect(store)
	if err != nil {
		return Turn{}, err
	}
	cat, err := tools.NewCatalog(client, s.log)
	if err != nil {
		return Turn{}, err
	}

	resp, runErr := s.orch.Run(ctx, cat, req)
	turn := Turn{Response: resp}

	after, err := store.Get(ctx)
	if err == nil && !after.Empty() && rotated(b, after) {
		turn.Credentials = &after
	}
	return turn, runErr
}

func rotated(before, after credential.Bundle) bool {
	return before.AccessToken != after.AccessToken ||
		before.RefreshToken != after.RefreshToken ||
		!before.ExpiresAt.Equal(after.ExpiresAt)
}
