package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/your-org/facegate/internal/config"
	"github.com/your-org/facegate/internal/models"
)

const schemaSQL = `
CREATE EXTENSION IF NOT EXISTS vector;
CREATE TABLE IF NOT EXISTS reference_embeddings (
	member_id  TEXT NOT NULL,
	image      TEXT NOT NULL,
	model      TEXT NOT NULL,
	embedding  vector NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (member_id, image, model)
);`

// PostgresCache keeps reference embeddings in a pgvector table shared by
// restarts of the terminal. Rows are scoped by embedding model id.
type PostgresCache struct {
	pool  *pgxpool.Pool
	model string
}

func NewPostgresCache(ctx context.Context, cfg config.DatabaseConfig, model string) (*PostgresCache, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	c := &PostgresCache{pool: pool, model: model}
	if err := c.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return c, nil
}

// EnsureSchema creates the pgvector extension and the embeddings table.
func (c *PostgresCache) EnsureSchema(ctx context.Context) error {
	if _, err := c.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (c *PostgresCache) Close() {
	c.pool.Close()
}

func (c *PostgresCache) Ping(ctx context.Context) error {
	return c.pool.Ping(ctx)
}

func (c *PostgresCache) Get(ctx context.Context, key models.RefKey) ([]float32, bool, error) {
	var vec pgvector.Vector
	err := c.pool.QueryRow(ctx,
		`SELECT embedding FROM reference_embeddings WHERE member_id = $1 AND image = $2 AND model = $3`,
		key.MemberID, key.Image, c.model,
	).Scan(&vec)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("get reference embedding: %w", err)
	}
	return vec.Slice(), true, nil
}

func (c *PostgresCache) Put(ctx context.Context, key models.RefKey, embedding []float32) error {
	_, err := c.pool.Exec(ctx,
		`INSERT INTO reference_embeddings (member_id, image, model, embedding)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (member_id, image, model) DO UPDATE SET embedding = EXCLUDED.embedding, created_at = now()`,
		key.MemberID, key.Image, c.model, pgvector.NewVector(embedding))
	if err != nil {
		return fmt.Errorf("put reference embedding: %w", err)
	}
	return nil
}

// DeleteMember drops the member's rows for every model.
func (c *PostgresCache) DeleteMember(ctx context.Context, memberID string) error {
	if _, err := c.pool.Exec(ctx, `DELETE FROM reference_embeddings WHERE member_id = $1`, memberID); err != nil {
		return fmt.Errorf("delete reference embeddings: %w", err)
	}
	return nil
}

// Count returns the number of cached embeddings for the current model.
func (c *PostgresCache) Count(ctx context.Context) (int, error) {
	var n int
	err := c.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM reference_embeddings WHERE model = $1`, c.model,
	).Scan(&n)
	return n, err
}
