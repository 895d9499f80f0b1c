// Package inmemory implements db.Database as an ephemeral, versioned map,
// used by tests and by deployments that opt out of on-disk persistence.
// Writes go through optimistic transactions: every key carries a version
// counter, and Commit fails with db.ErrConflict when a key read during the
// transaction was committed by someone else in the meantime.
package inmemory

import (
	"bytes"
	"fmt"
	"slices"
	"sync"

	"github.com/electoral-net/votepipeline/db"
)

type versioned struct {
	value   []byte
	version uint64
	deleted bool
}

// InMemoryDB implements an ephemeral in-memory db.Database.
type InMemoryDB struct {
	mu          sync.RWMutex
	data        map[string]versioned
	nextVersion uint64
}

var _ db.Database = (*InMemoryDB)(nil)

// New returns a new in-memory database. Options are ignored.
func New(_ db.Options) (*InMemoryDB, error) {
	return &InMemoryDB{data: make(map[string]versioned)}, nil
}

func (d *InMemoryDB) Get(key []byte) ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ent, ok := d.data[string(key)]
	if !ok || ent.deleted {
		return nil, db.ErrKeyNotFound
	}
	return bytes.Clone(ent.value), nil
}

func (d *InMemoryDB) Iterate(prefix []byte, callback func(key, value []byte) bool) error {
	d.mu.RLock()
	snapshot := make(map[string][]byte, len(d.data))
	for k, ent := range d.data {
		if ent.deleted || !bytes.HasPrefix([]byte(k), prefix) {
			continue
		}
		snapshot[k] = bytes.Clone(ent.value)
	}
	d.mu.RUnlock()
	return visitSorted(snapshot, callback)
}

func (d *InMemoryDB) WriteTx() db.WriteTx {
	d.mu.RLock()
	baseVer := d.nextVersion
	d.mu.RUnlock()
	return &WriteTx{
		db:      d,
		pending: make(map[string]*[]byte),
		readSet: make(map[string]uint64),
		baseVer: baseVer,
	}
}

// Compact is a no-op: the map reclaims nothing.
func (d *InMemoryDB) Compact() error { return nil }

func (d *InMemoryDB) Close() error { return nil }

// versionOf must be called with d.mu held.
func (d *InMemoryDB) versionOf(key string) uint64 {
	return d.data[key].version
}

// commitWrite must be called with d.mu held for writing.
func (d *InMemoryDB) commitWrite(key string, value []byte, deleteKey bool) {
	d.nextVersion++
	ent := d.data[key]
	ent.version = d.nextVersion
	ent.deleted = deleteKey
	if deleteKey {
		ent.value = nil
	} else {
		ent.value = bytes.Clone(value)
	}
	d.data[key] = ent
}

// WriteTx buffers writes (a nil pointer marks a delete) and records the
// version of every key it touched, validated at Commit.
type WriteTx struct {
	db        *InMemoryDB
	pending   map[string]*[]byte
	readSet   map[string]uint64
	baseVer   uint64
	committed bool
	discarded bool
}

var _ db.WriteTx = (*WriteTx)(nil)

func (tx *WriteTx) trackRead(key string, version uint64) {
	if _, ok := tx.readSet[key]; !ok {
		tx.readSet[key] = version
	}
}

func (tx *WriteTx) trackCurrent(key string) {
	if _, ok := tx.readSet[key]; ok {
		return
	}
	tx.db.mu.RLock()
	version := tx.db.versionOf(key)
	tx.db.mu.RUnlock()
	tx.trackRead(key, version)
}

func (tx *WriteTx) Get(key []byte) ([]byte, error) {
	strKey := string(key)
	if buffered, ok := tx.pending[strKey]; ok {
		if buffered == nil {
			return nil, db.ErrKeyNotFound
		}
		return bytes.Clone(*buffered), nil
	}

	tx.db.mu.RLock()
	ent, ok := tx.db.data[strKey]
	version := tx.db.versionOf(strKey)
	tx.db.mu.RUnlock()

	tx.trackRead(strKey, version)
	if !ok || ent.deleted {
		return nil, db.ErrKeyNotFound
	}
	return bytes.Clone(ent.value), nil
}

func (tx *WriteTx) Iterate(prefix []byte, callback func(k, v []byte) bool) error {
	tx.db.mu.RLock()
	snapshot := make(map[string][]byte, len(tx.db.data))
	versions := make(map[string]uint64, len(tx.db.data))
	for k, ent := range tx.db.data {
		if ent.deleted || !bytes.HasPrefix([]byte(k), prefix) {
			continue
		}
		snapshot[k] = bytes.Clone(ent.value)
		versions[k] = ent.version
	}
	tx.db.mu.RUnlock()

	// Overlay this transaction's own buffered writes.
	for k, v := range tx.pending {
		if !bytes.HasPrefix([]byte(k), prefix) {
			continue
		}
		if v == nil {
			delete(snapshot, k)
			continue
		}
		snapshot[k] = bytes.Clone(*v)
	}

	for k, ver := range versions {
		tx.trackRead(k, ver)
	}
	return visitSorted(snapshot, callback)
}

func (tx *WriteTx) Set(key, value []byte) error {
	strKey := string(key)
	tx.trackCurrent(strKey)
	valCopy := bytes.Clone(value)
	tx.pending[strKey] = &valCopy
	return nil
}

func (tx *WriteTx) Delete(key []byte) error {
	strKey := string(key)
	tx.trackCurrent(strKey)
	tx.pending[strKey] = nil
	return nil
}

func (tx *WriteTx) Apply(other db.WriteTx) error {
	return other.Iterate(nil, func(k, v []byte) bool {
		return tx.Set(k, v) == nil
	})
}

func (tx *WriteTx) Commit() error {
	if tx.committed || tx.discarded {
		return fmt.Errorf("cannot commit inmemory tx: already committed or discarded")
	}

	tx.db.mu.Lock()
	defer tx.db.mu.Unlock()

	for key, readVersion := range tx.readSet {
		if readVersion > tx.baseVer || tx.db.versionOf(key) != readVersion {
			return db.ErrConflict
		}
	}

	for key, value := range tx.pending {
		if value == nil {
			tx.db.commitWrite(key, nil, true)
			continue
		}
		tx.db.commitWrite(key, *value, false)
	}
	tx.committed = true
	return nil
}

func (tx *WriteTx) Discard() {
	tx.pending = map[string]*[]byte{}
	tx.readSet = map[string]uint64{}
	tx.discarded = true
}

func visitSorted(entries map[string][]byte, callback func(key, value []byte) bool) error {
	keys := make([]string, 0, len(entries))
	for key := range entries {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	for _, key := range keys {
		if !callback([]byte(key), entries[key]) {
			break
		}
	}
	return nil
}
