package credential

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps bundles in a table keyed by store key, so several
// server instances can share one credential.
//
// Ownership model:
// - PostgresStore does NOT own the pgx pool. The caller must close the pool.
//
// Concurrency model:
//   - Set locks the row with SELECT ... FOR UPDATE, so merges from different
//     instances serialize instead of losing updates.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
	key    string
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

var pgIdent = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// WithSchema sets the DB schema used by this store (default: "invoicechat").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if !pgIdent.MatchString(schema) {
			return errors.New("credential: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// WithStoreKey selects which row this store reads and writes (default: "default").
func WithStoreKey(key string) PostgresOption {
	return func(s *PostgresStore) error {
		key = strings.TrimSpace(key)
		if key == "" {
			return errors.New("credential: empty store key")
		}
		s.key = key
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed Store.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{pool: pool, schema: "invoicechat", key: "default"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("credential: nil pool")
	}
	return st, nil
}

func (s *PostgresStore) table() string {
	return pgx.Identifier{s.schema, "credentials"}.Sanitize()
}

// EnsureSchema creates the schema and table when missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `CREATE SCHEMA IF NOT EXISTS `+pgx.Identifier{s.schema}.Sanitize())
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS `+s.table()+` (
			store_key     TEXT PRIMARY KEY,
			access_token  TEXT,
			refresh_token TEXT,
			tenant_id     TEXT,
			expires_at    TIMESTAMPTZ,
			updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	return err
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context) (Bundle, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT access_token, refresh_token, tenant_id, expires_at
		FROM `+s.table()+`
		WHERE store_key = $1
	`, s.key)
	b, err := scanBundle(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Bundle{}, nil
	}
	return b, err
}

// Set implements Store.
func (s *PostgresStore) Set(ctx context.Context, p Patch) (Bundle, error) {
	var next Bundle
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO `+s.table()+` (store_key) VALUES ($1)
			ON CONFLICT (store_key) DO NOTHING
		`, s.key); err != nil {
			return err
		}

		cur, err := scanBundle(tx.QueryRow(ctx, `
			SELECT access_token, refresh_token, tenant_id, expires_at
			FROM `+s.table()+`
			WHERE store_key = $1
			FOR UPDATE
		`, s.key))
		if err != nil {
			return err
		}

		next = p.Apply(cur)
		_, err = tx.Exec(ctx, `
			UPDATE `+s.table()+`
			SET access_token = $2, refresh_token = $3, tenant_id = $4, expires_at = $5, updated_at = $6
			WHERE store_key = $1
		`, s.key,
			nullIfEmpty(next.AccessToken),
			nullIfEmpty(next.RefreshToken),
			nullIfEmpty(next.TenantID),
			nullIfZero(next.ExpiresAt),
			time.Now().UTC(),
		)
		return err
	})
	if err != nil {
		return Bundle{}, err
	}
	return next, nil
}

// Clear implements Store.
func (s *PostgresStore) Clear(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM `+s.table()+` WHERE store_key = $1`, s.key)
	return err
}

func scanBundle(row pgx.Row) (Bundle, error) {
	var (
		access, refresh, tenant *string
		expires                 *time.Time
	)
	if err := row.Scan(&access, &refresh, &tenant, &expires); err != nil {
		return Bundle{}, err
	}
	var b Bundle
	if access != nil {
		b.AccessToken = *access
	}
	if refresh != nil {
		b.RefreshToken = *refresh
	}
	if tenant != nil {
		b.TenantID = *tenant
	}
	if expires != nil {
		b.ExpiresAt = expires.UTC()
	}
	return b, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullIfZero(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
