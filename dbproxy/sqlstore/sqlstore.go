// Package sqlstore implements DBProxy's Replica adapter against Postgres,
// grounded on the oltp_clients pack's pgxpool usage (storage/postgres.go):
// a pooled connection, plain SQL upserts, no ORM.
package sqlstore

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/electoral-net/votepipeline/dbproxy"
)

// Replica is the Postgres-backed Replica adapter.
type Replica struct {
	pool *pgxpool.Pool
}

// Open connects to Postgres at dsn and ensures the kv table exists.
func Open(ctx context.Context, dsn string) (*Replica, error) {
	pool, err := pgxpool.Connect(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: connect: %w", err)
	}
	r := &Replica{pool: pool}
	if err := r.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return r, nil
}

func (r *Replica) ensureSchema(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS vote_records (
		key TEXT PRIMARY KEY,
		value BYTEA NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`)
	if err != nil {
		return fmt.Errorf("sqlstore: ensure schema: %w", err)
	}
	return nil
}

// ExecuteWrite upserts q.Params[0]=>q.Params[1] directly into Postgres.
func (r *Replica) ExecuteWrite(ctx context.Context, q dbproxy.QueryParams) (dbproxy.TransactionInfo, error) {
	if len(q.Params) < 2 {
		return dbproxy.TransactionInfo{}, fmt.Errorf("sqlstore: write query requires key and value params")
	}
	_, err := r.pool.Exec(ctx, `INSERT INTO vote_records (key, value, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`, q.Params[0], []byte(q.Params[1]))
	if err != nil {
		return dbproxy.TransactionInfo{}, fmt.Errorf("sqlstore: write: %w", err)
	}
	return dbproxy.TransactionInfo{Data: []byte(q.Params[1]), Timestamp: time.Now().UTC(), State: "COMMITTED"}, nil
}

// ExecuteRead reads q.Params[0]'s current value.
func (r *Replica) ExecuteRead(ctx context.Context, q dbproxy.QueryParams) (dbproxy.QueryResult, error) {
	if len(q.Params) == 0 {
		return dbproxy.QueryResult{}, fmt.Errorf("sqlstore: read query requires a key param")
	}
	var value []byte
	err := r.pool.QueryRow(ctx, `SELECT value FROM vote_records WHERE key = $1`, q.Params[0]).Scan(&value)
	if err != nil {
		return dbproxy.QueryResult{Successful: false}, fmt.Errorf("sqlstore: read: %w", err)
	}
	return dbproxy.QueryResult{Successful: true, Value: value}, nil
}

// ConfirmReplication applies a Primary's committed write onto Postgres,
// called after Primary emits its TransactionInfo.
func (r *Replica) ConfirmReplication(ctx context.Context, tx dbproxy.TransactionInfo) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO vote_records (key, value, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`, tx.Key, tx.Data)
	if err != nil {
		return fmt.Errorf("sqlstore: confirm replication: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (r *Replica) Close() {
	r.pool.Close()
}
