package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	id         TEXT PRIMARY KEY,
	content    TEXT NOT NULL DEFAULT '',
	version    BIGINT NOT NULL DEFAULT 0,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Postgres stores document snapshots in a documents table.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(ctx context.Context, url string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// EnsureSchema creates the documents table if it is missing.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, schema)
	return err
}

func (p *Postgres) Fetch(ctx context.Context, documentID string) (Snapshot, error) {
	var snap Snapshot
	err := p.pool.QueryRow(ctx,
		`SELECT content, version FROM documents WHERE id = $1`, documentID,
	).Scan(&snap.Content, &snap.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return Snapshot{}, ErrNotFound
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("fetch document %s: %w", documentID, err)
	}
	return snap, nil
}

func (p *Postgres) Persist(ctx context.Context, documentID string, content string) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO documents (id, content, version) VALUES ($1, $2, 1)
		 ON CONFLICT (id) DO UPDATE
		 SET content = EXCLUDED.content,
		     version = documents.version + 1,
		     updated_at = now()`,
		documentID, content)
	if err != nil {
		return fmt.Errorf("persist document %s: %w", documentID, err)
	}
	return nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
