package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const createQueueTable = `
CREATE TABLE IF NOT EXISTS taskpool_queue (
	id         TEXT PRIMARY KEY,
	data       BYTEA NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	attempts   INT NOT NULL DEFAULT 0,
	status     TEXT NOT NULL DEFAULT 'pending'
);
CREATE INDEX IF NOT EXISTS taskpool_queue_pending_idx
	ON taskpool_queue (created_at) WHERE status = 'pending';
`

// PostgresQueue is a Queue backed by a Postgres table. Pop uses
// FOR UPDATE SKIP LOCKED so multiple consumers never hand out the same
// item twice.
type PostgresQueue struct {
	pool *pgxpool.Pool
}

// NewPostgresQueue connects to databaseURL, verifies the connection and
// creates the queue table if missing.
func NewPostgresQueue(ctx context.Context, databaseURL string) (*PostgresQueue, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("persistence: create pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("persistence: ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, createQueueTable); err != nil {
		pool.Close()
		return nil, fmt.Errorf("persistence: create queue table: %w", err)
	}
	return &PostgresQueue{pool: pool}, nil
}

func (q *PostgresQueue) Push(ctx context.Context, item *Item) error {
	_, err := q.pool.Exec(ctx,
		`INSERT INTO taskpool_queue (id, data, created_at, attempts) VALUES ($1, $2, $3, $4)`,
		item.ID, item.Data, item.CreatedAt, item.Attempts)
	return err
}

func (q *PostgresQueue) Pop(ctx context.Context) (*Item, error) {
	row := q.pool.QueryRow(ctx, `
		UPDATE taskpool_queue SET status = 'processing'
		WHERE id = (
			SELECT id FROM taskpool_queue
			WHERE status = 'pending'
			ORDER BY created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, data, created_at, attempts`)

	var item Item
	if err := row.Scan(&item.ID, &item.Data, &item.CreatedAt, &item.Attempts); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrQueueEmpty
		}
		return nil, err
	}
	return &item, nil
}

func (q *PostgresQueue) Peek(ctx context.Context) (*Item, error) {
	row := q.pool.QueryRow(ctx, `
		SELECT id, data, created_at, attempts FROM taskpool_queue
		WHERE status = 'pending'
		ORDER BY created_at
		LIMIT 1`)

	var item Item
	if err := row.Scan(&item.ID, &item.Data, &item.CreatedAt, &item.Attempts); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrQueueEmpty
		}
		return nil, err
	}
	return &item, nil
}

func (q *PostgresQueue) Ack(ctx context.Context, itemID string) error {
	tag, err := q.pool.Exec(ctx,
		`DELETE FROM taskpool_queue WHERE id = $1 AND status = 'processing'`, itemID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotProcessing
	}
	return nil
}

func (q *PostgresQueue) Nack(ctx context.Context, itemID string) error {
	tag, err := q.pool.Exec(ctx, `
		UPDATE taskpool_queue SET status = 'pending', attempts = attempts + 1
		WHERE id = $1 AND status = 'processing'`, itemID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotProcessing
	}
	return nil
}

// RecoverProcessing marks every in-flight item pending again. Call once at
// startup, before consumers run.
func (q *PostgresQueue) RecoverProcessing(ctx context.Context) (int, error) {
	tag, err := q.pool.Exec(ctx,
		`UPDATE taskpool_queue SET status = 'pending' WHERE status = 'processing'`)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (q *PostgresQueue) Len() int {
	var n int
	err := q.pool.QueryRow(context.Background(),
		`SELECT count(*) FROM taskpool_queue WHERE status = 'pending'`).Scan(&n)
	if err != nil {
		return 0
	}
	return n
}

func (q *PostgresQueue) Close() error {
	q.pool.Close()
	return nil
}
