package dbproxy

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/electoral-net/votepipeline/db"
)

// KVPrimary is the Primary adapter, backed by any db.Database. Production
// wiring backs it with pebbledb; tests use the in-memory backend.
type KVPrimary struct {
	backend db.Database
}

// NewKVPrimary wraps backend as a Primary.
func NewKVPrimary(backend db.Database) *KVPrimary {
	return &KVPrimary{backend: backend}
}

// ExecuteWrite implements Store: it applies q against backend inside a
// single optimistic transaction and emits the TransactionInfo the write
// path needs before replication is attempted.
func (p *KVPrimary) ExecuteWrite(_ context.Context, q QueryParams) (TransactionInfo, error) {
	tx := p.backend.WriteTx()
	defer tx.Discard()

	if len(q.Params) < 2 {
		return TransactionInfo{}, fmt.Errorf("dbproxy: write query requires key and value params")
	}
	key, value := q.Params[0], q.Params[1]
	if err := tx.Set([]byte(key), []byte(value)); err != nil {
		return TransactionInfo{}, err
	}
	if err := tx.Commit(); err != nil {
		return TransactionInfo{}, err
	}

	return TransactionInfo{
		TransactionID: uuid.NewString(),
		Key:           key,
		Data:          []byte(value),
		Timestamp:     time.Now().UTC(),
		State:         "PENDING",
	}, nil
}

// ExecuteRead implements Store: a plain point lookup or prefix scan.
func (p *KVPrimary) ExecuteRead(_ context.Context, q QueryParams) (QueryResult, error) {
	if len(q.Params) == 0 {
		return QueryResult{}, fmt.Errorf("dbproxy: read query requires a key param")
	}
	value, err := p.backend.Get([]byte(q.Params[0]))
	if err != nil {
		return QueryResult{Successful: false}, err
	}
	return QueryResult{Successful: true, Value: value}, nil
}

// ConfirmReplication is a no-op on Primary; only Replica implements it
// meaningfully.
func (p *KVPrimary) ConfirmReplication(context.Context, TransactionInfo) error {
	return nil
}

// record is the JSON envelope persisted for both votes and candidate
// counters, keeping KVPrimary's KV surface schema-free.
type record struct {
	VoteID      string    `json:"voteId,omitempty"`
	CandidateID string    `json:"candidateId"`
	Timestamp   time.Time `json:"timestamp,omitempty"`
	Hash        string    `json:"hash,omitempty"`
	Count       int       `json:"count,omitempty"`
}

func encodeRecord(r record) ([]byte, error) { return json.Marshal(r) }

func decodeRecord(data []byte) (record, error) {
	var r record
	err := json.Unmarshal(data, &r)
	return r, err
}
