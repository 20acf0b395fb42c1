package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store on PostgreSQL. TTL is enforced at read
// time via expires_at; a periodic sweep reclaims expired rows.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore creates a PostgresStore backed by the given pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: pool}
}

// InitSchema creates the kv and set tables if they do not exist.
func (s *PostgresStore) InitSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS audit_kv (
			key        TEXT PRIMARY KEY,
			value      JSONB NOT NULL,
			expires_at TIMESTAMPTZ
		);
		CREATE TABLE IF NOT EXISTS audit_sets (
			key        TEXT NOT NULL,
			member     TEXT NOT NULL,
			expires_at TIMESTAMPTZ,
			PRIMARY KEY (key, member)
		);
		CREATE INDEX IF NOT EXISTS audit_sets_key_idx ON audit_sets (key)
	`)
	if err != nil {
		return fmt.Errorf("init audit schema: %w", err)
	}
	return nil
}

func expiry(ttl time.Duration) *time.Time {
	if ttl <= 0 {
		return nil
	}
	t := time.Now().UTC().Add(ttl)
	return &t
}

func (s *PostgresStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO audit_kv (key, value, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at
	`, key, value, expiry(ttl))
	if err != nil {
		return fmt.Errorf("audit put: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRow(ctx, `
		SELECT value FROM audit_kv
		WHERE key = $1 AND (expires_at IS NULL OR expires_at > NOW())
	`, key).Scan(&value)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("audit get: %w", err)
	}
	return value, nil
}

func (s *PostgresStore) SAdd(ctx context.Context, key, member string, ttl time.Duration) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO audit_sets (key, member, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key, member) DO UPDATE SET expires_at = EXCLUDED.expires_at
	`, key, member, expiry(ttl))
	if err != nil {
		return fmt.Errorf("audit sadd: %w", err)
	}
	return nil
}

func (s *PostgresStore) SMembers(ctx context.Context, key string) ([]string, error) {
	rows, err := s.db.Query(ctx, `
		SELECT member FROM audit_sets
		WHERE key = $1 AND (expires_at IS NULL OR expires_at > NOW())
	`, key)
	if err != nil {
		return nil, fmt.Errorf("audit smembers: %w", err)
	}
	defer rows.Close()

	var members []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, fmt.Errorf("audit smembers scan: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

func (s *PostgresStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	_, err := s.db.Exec(ctx, `DELETE FROM audit_kv WHERE key = ANY($1)`, keys)
	if err != nil {
		return fmt.Errorf("audit delete kv: %w", err)
	}
	_, err = s.db.Exec(ctx, `DELETE FROM audit_sets WHERE key = ANY($1)`, keys)
	if err != nil {
		return fmt.Errorf("audit delete sets: %w", err)
	}
	return nil
}

// Sweep removes expired rows. Run it periodically; reads are already
// correct without it.
func (s *PostgresStore) Sweep(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `DELETE FROM audit_kv WHERE expires_at IS NOT NULL AND expires_at <= NOW()`)
	if err != nil {
		return fmt.Errorf("audit sweep kv: %w", err)
	}
	_, err = s.db.Exec(ctx, `DELETE FROM audit_sets WHERE expires_at IS NOT NULL AND expires_at <= NOW()`)
	if err != nil {
		return fmt.Errorf("audit sweep sets: %w", err)
	}
	return nil
}
