package dbproxy

import (
	"context"
	"fmt"

	"github.com/electoral-net/votepipeline/db"
)

// KVReplica is the in-process Replica adapter used when no Postgres DSN is
// configured: a second db.Database instance that mirrors Primary via
// ConfirmReplication. Reads are routed here by QueryRouter whenever the
// replica's circuit is healthy.
type KVReplica struct {
	backend db.Database
}

// NewKVReplica wraps backend as a Replica.
func NewKVReplica(backend db.Database) *KVReplica {
	return &KVReplica{backend: backend}
}

// ExecuteWrite applies q directly to the replica; only used if a caller
// ever targets the replica for a write, which the router does not do in
// normal operation.
func (r *KVReplica) ExecuteWrite(_ context.Context, q QueryParams) (TransactionInfo, error) {
	if len(q.Params) < 2 {
		return TransactionInfo{}, fmt.Errorf("dbproxy: write query requires key and value params")
	}
	tx := r.backend.WriteTx()
	defer tx.Discard()
	if err := tx.Set([]byte(q.Params[0]), []byte(q.Params[1])); err != nil {
		return TransactionInfo{}, err
	}
	if err := tx.Commit(); err != nil {
		return TransactionInfo{}, err
	}
	return TransactionInfo{Key: q.Params[0], Data: []byte(q.Params[1]), State: "COMMITTED"}, nil
}

// ExecuteRead reads q.Params[0] from the replica.
func (r *KVReplica) ExecuteRead(_ context.Context, q QueryParams) (QueryResult, error) {
	if len(q.Params) == 0 {
		return QueryResult{}, fmt.Errorf("dbproxy: read query requires a key param")
	}
	value, err := r.backend.Get([]byte(q.Params[0]))
	if err != nil {
		return QueryResult{Successful: false}, err
	}
	return QueryResult{Successful: true, Value: value}, nil
}

// ConfirmReplication applies a Primary's committed write onto the replica
// backend.
func (r *KVReplica) ConfirmReplication(_ context.Context, tx TransactionInfo) error {
	wtx := r.backend.WriteTx()
	defer wtx.Discard()
	if err := wtx.Set([]byte(tx.Key), tx.Data); err != nil {
		return err
	}
	return wtx.Commit()
}
