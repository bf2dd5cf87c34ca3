package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgxQuerier is the subset of *pgxpool.Pool used by PostgresStore.
type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const (
	pgGetSQL = `SELECT record FROM hub_sessions
WHERE connection_id = $1 AND (expires_at IS NULL OR expires_at > now())`

	pgUpsertSQL = `INSERT INTO hub_sessions (connection_id, record, updated_at, expires_at)
VALUES ($1, $2, now(), $3)
ON CONFLICT (connection_id) DO UPDATE
SET record = EXCLUDED.record, updated_at = EXCLUDED.updated_at, expires_at = EXCLUDED.expires_at`

	pgDeleteSQL = `DELETE FROM hub_sessions WHERE connection_id = $1`
)

// PostgresStore keeps records in the hub_sessions table (see internal/app/db migrations).
type PostgresStore struct {
	q     pgxQuerier
	pool  *pgxpool.Pool
	ttl   time.Duration
	clock func() time.Time
}

// NewPostgresStore wraps an open pool; the pool is closed by Close.
func NewPostgresStore(pool *pgxpool.Pool, ttl time.Duration) *PostgresStore {
	return &PostgresStore{q: pool, pool: pool, ttl: ttl, clock: time.Now}
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, connectionID string) (Record, error) {
	var data []byte
	err := s.q.QueryRow(ctx, pgGetSQL, connectionID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("session: postgres get: %w", err)
	}
	return Decode(data)
}

// Set implements Store.
func (s *PostgresStore) Set(ctx context.Context, connectionID string, rec Record) error {
	data, err := Encode(rec)
	if err != nil {
		return err
	}

	var expiresAt *time.Time
	if s.ttl > 0 {
		t := s.clock().Add(s.ttl)
		expiresAt = &t
	}

	if _, err := s.q.Exec(ctx, pgUpsertSQL, connectionID, data, expiresAt); err != nil {
		return fmt.Errorf("session: postgres upsert: %w", err)
	}
	return nil
}

// Delete implements Store.
func (s *PostgresStore) Delete(ctx context.Context, connectionID string) error {
	if _, err := s.q.Exec(ctx, pgDeleteSQL, connectionID); err != nil {
		return fmt.Errorf("session: postgres delete: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *PostgresStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}
