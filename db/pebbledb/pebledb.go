// Package pebbledb implements db.Database on top of cockroachdb/pebble,
// the persistent backend behind DBProxy's KV primary and replica when
// they are configured with the pebble type.
package pebbledb

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/cockroachdb/pebble"

	"github.com/electoral-net/votepipeline/db"
)

// PebbleDB implements db.Database.
type PebbleDB struct {
	pdb *pebble.DB
}

var _ db.Database = (*PebbleDB)(nil)

// New opens (creating if needed) a Pebble store at opts.Path.
func New(opts db.Options) (*PebbleDB, error) {
	if err := os.MkdirAll(opts.Path, os.ModePerm); err != nil {
		return nil, err
	}
	pdb, err := pebble.Open(opts.Path, &pebble.Options{
		Levels: []pebble.LevelOptions{
			{Compression: pebble.SnappyCompression},
		},
	})
	if err != nil {
		return nil, err
	}
	return &PebbleDB{pdb: pdb}, nil
}

func (d *PebbleDB) Get(k []byte) ([]byte, error) {
	return readKey(d.pdb, k)
}

func (d *PebbleDB) Iterate(prefix []byte, callback func(k, v []byte) bool) error {
	return scanPrefix(d.pdb, prefix, callback)
}

func (d *PebbleDB) WriteTx() db.WriteTx {
	return &WriteTx{batch: d.pdb.NewIndexedBatch()}
}

// Compact compacts the whole key range currently present in the store.
func (d *PebbleDB) Compact() error {
	defer recoverClosed()
	iter, err := d.pdb.NewIter(nil)
	if err != nil {
		return err
	}
	var first, last []byte
	if iter.First() {
		first = append(first, iter.Key()...)
	}
	if iter.Last() {
		last = append(last, iter.Key()...)
	}
	if err := iter.Close(); err != nil {
		return err
	}
	return d.pdb.Compact(first, last, true)
}

func (d *PebbleDB) Close() error {
	defer recoverClosed()
	return d.pdb.Close()
}

// WriteTx implements db.WriteTx as an indexed pebble batch. Commit applies
// the batch as is: it does no conflict detection and never returns
// db.ErrConflict.
type WriteTx struct {
	batch *pebble.Batch
}

var _ db.WriteTx = (*WriteTx)(nil)

func (tx *WriteTx) Get(k []byte) ([]byte, error) {
	return readKey(tx.batch, k)
}

func (tx *WriteTx) Iterate(prefix []byte, callback func(k, v []byte) bool) error {
	return scanPrefix(tx.batch, prefix, callback)
}

func (tx *WriteTx) Set(k, v []byte) error {
	defer recoverClosed()
	return tx.batch.Set(k, v, nil)
}

func (tx *WriteTx) Delete(k []byte) error {
	defer recoverClosed()
	return tx.batch.Delete(k, nil)
}

// Apply merges other's batch into tx. Both must belong to the same
// PebbleDB instance.
func (tx *WriteTx) Apply(other db.WriteTx) error {
	defer recoverClosed()
	otherPebble, ok := other.(*WriteTx)
	if !ok {
		return fmt.Errorf("pebbledb: Apply requires another pebbledb.WriteTx")
	}
	return tx.batch.Apply(otherPebble.batch, nil)
}

func (tx *WriteTx) Commit() error {
	defer recoverClosed()
	if tx.batch == nil {
		return fmt.Errorf("cannot commit pebble tx: already committed or discarded")
	}
	err := tx.batch.Commit(nil)
	tx.batch = nil
	return err
}

func (tx *WriteTx) Discard() {
	if tx.batch == nil {
		// Discarding twice, or after a commit, is allowed so callers can
		// defer Discard unconditionally. Pebble itself does not tolerate a
		// double Close: the batch goes back into a shared pool.
		return
	}
	_ = tx.batch.Close()
	tx.batch = nil
}

func readKey(reader pebble.Reader, k []byte) ([]byte, error) {
	defer recoverClosed()
	v, closer, err := reader.Get(k)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, db.ErrKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	// The slice pebble returns is only valid until closer.Close; copy it.
	v2 := bytes.Clone(v)
	if err := closer.Close(); err != nil {
		return nil, err
	}
	return v2, nil
}

func scanPrefix(reader pebble.Reader, prefix []byte, callback func(k, v []byte) bool) (err error) {
	defer recoverClosed()
	iter, err := reader.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixEnd(prefix),
	})
	if err != nil {
		return err
	}
	defer func() {
		errC := iter.Close()
		if err == nil {
			err = errC
		}
	}()

	for iter.First(); iter.Valid(); iter.Next() {
		localKey := iter.Key()[len(prefix):]
		if cont := callback(localKey, iter.Value()); !cont {
			break
		}
	}
	return iter.Error()
}

// prefixEnd returns the smallest key strictly greater than every key with
// the given prefix, or nil if the prefix is all 0xff bytes.
func prefixEnd(b []byte) []byte {
	end := bytes.Clone(b)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

// recoverClosed swallows the panic pebble raises when an operation races a
// concurrent Close of the database, which can happen during shutdown while
// sweeps are draining. Any other panic is re-raised.
func recoverClosed() {
	if r := recover(); r != nil {
		if strings.Contains(fmt.Sprintf("%v", r), "closed") {
			return
		}
		panic(r)
	}
}
