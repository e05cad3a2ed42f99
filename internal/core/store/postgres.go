package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Durable on a postgres pool. Schema:
//
//	CREATE TABLE entities (
//	    id         TEXT PRIMARY KEY,
//	    type       TEXT NOT NULL,
//	    components JSONB NOT NULL,
//	    owner_id   TEXT
//	);
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to url and verifies the connection.
func NewPostgresStore(ctx context.Context, url string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err = pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Insert(ctx context.Context, p Projection) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO entities (id, type, components, owner_id) VALUES ($1, $2, $3, $4)`,
		p.ID, p.Type, p.Components, nullable(p.OwnerID))
	if err != nil {
		return fmt.Errorf("insert entity %s: %w", p.ID, err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Projection, error) {
	var (
		p     Projection
		owner *string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, type, components, owner_id FROM entities WHERE id = $1`,
		id).Scan(&p.ID, &p.Type, &p.Components, &owner)
	if errors.Is(err, pgx.ErrNoRows) {
		return Projection{}, ErrDurableMiss
	}
	if err != nil {
		return Projection{}, fmt.Errorf("select entity %s: %w", id, err)
	}
	if owner != nil {
		p.OwnerID = *owner
	}
	return p, nil
}

func (s *PostgresStore) Update(ctx context.Context, p Projection) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE entities SET type = $2, components = $3, owner_id = $4 WHERE id = $1`,
		p.ID, p.Type, p.Components, nullable(p.OwnerID))
	if err != nil {
		return fmt.Errorf("update entity %s: %w", p.ID, err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM entities WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete entity %s: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) UpsertBatch(ctx context.Context, ps []Projection) error {
	if len(ps) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, p := range ps {
		batch.Queue(
			`INSERT INTO entities (id, type, components, owner_id) VALUES ($1, $2, $3, $4)
			 ON CONFLICT (id) DO UPDATE SET type = EXCLUDED.type,
			     components = EXCLUDED.components, owner_id = EXCLUDED.owner_id`,
			p.ID, p.Type, p.Components, nullable(p.OwnerID))
	}
	results := s.pool.SendBatch(ctx, batch)
	defer func() { _ = results.Close() }()
	for range ps {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("upsert batch: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
