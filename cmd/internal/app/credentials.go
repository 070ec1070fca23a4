package app

import (
	"context"
	"fmt"

	"invoicechat/cmd/internal/credential"

	"github.com/jackc/pgx/v5/pgxpool"
)

// closer releases whatever a backend holds open.
type closer func(ctx context.Context) error

func nopCloser(context.Context) error { return nil }

// openCredentialStore builds the server-side store selected by
// CREDENTIAL_BACKEND. pool is only used (and required) by the postgres backend.
func openCredentialStore(ctx context.Context, cfg Config, pool *pgxpool.Pool, log Logger) (credential.Store, closer, error) {
	switch cfg.CredentialBackend {
	case BackendMemory:
		log.Info("credential.store", "backend", BackendMemory)
		return credential.NewMemoryStore(credential.Bundle{}), nopCloser, nil

	case BackendFile:
		var opts []credential.FileOption
		if cfg.TokenFileKey != "" {
			opts = append(opts, credential.WithEncryptionKey(cfg.TokenFileKey))
		}
		st, err := credential.NewFileStore(cfg.TokenFile, opts...)
		if err != nil {
			return nil, nil, err
		}
		log.Info("credential.store", "backend", BackendFile, "path", st.Path(), "encrypted", cfg.TokenFileKey != "")
		return st, nopCloser, nil

	case BackendBolt:
		st, err := credential.OpenBoltStore(cfg.BoltPath, cfg.CredentialKey)
		if err != nil {
			return nil, nil, err
		}
		log.Info("credential.store", "backend", BackendBolt, "path", cfg.BoltPath)
		return st, func(context.Context) error { return st.Close() }, nil

	case BackendPostgres:
		if pool == nil {
			return nil, nil, fmt.Errorf("%w: postgres credential backend without a database", ErrConfig)
		}
		st, err := credential.NewPostgresStore(pool,
			credential.WithSchema(cfg.DBSchema),
			credential.WithStoreKey(cfg.CredentialKey),
		)
		if err != nil {
			return nil, nil, err
		}
		if err := st.EnsureSchema(ctx); err != nil {
			return nil, nil, fmt.Errorf("credential schema: %w", err)
		}
		log.Info("credential.store", "backend", BackendPostgres, "schema", cfg.DBSchema)
		return st, nopCloser, nil

	default:
		return nil, nil, fmt.Errorf("%w: unknown credential backend %q", ErrConfig, cfg.CredentialBackend)
	}
}
