// Package db defines the minimal key-value storage interface shared by all
// backends (in-memory, Pebble, ...). Higher-level packages (recordstore,
// dbproxy) depend only on this interface, never on a concrete backend.
package db

import "errors"

// Backend type names recognized by metadb.New.
const (
	TypePebble = "pebble"
	TypeMemory = "memory"
)

var (
	// ErrKeyNotFound is returned by Get when the key does not exist.
	ErrKeyNotFound = errors.New("db: key not found")
	// ErrConflict is returned by WriteTx.Commit when a read performed
	// during the transaction was invalidated by a concurrent write.
	ErrConflict = errors.New("db: write conflict")
)

// Options configures a backend at construction time.
type Options struct {
	// Path is the on-disk directory for persistent backends. Ignored by
	// ephemeral backends such as the in-memory one.
	Path string
}

// Database is a prefix-iterable key-value store supporting optimistic
// read-write transactions.
type Database interface {
	// Get returns the value stored at key, or ErrKeyNotFound.
	Get(key []byte) ([]byte, error)
	// Iterate calls callback for every key with the given prefix, in
	// ascending key order, until callback returns false.
	Iterate(prefix []byte, callback func(key, value []byte) bool) error
	// WriteTx starts a new read-write transaction.
	WriteTx() WriteTx
	// Compact reclaims space from deleted/overwritten entries. A no-op
	// for backends that do not need it.
	Compact() error
	// Close releases resources held by the database.
	Close() error
}

// WriteTx is a read-write transaction. In the in-memory backend it is
// optimistic: Commit fails with ErrConflict if any key read or written
// during the transaction's lifetime was mutated by another transaction
// that committed first. The Pebble backend commits its batch without
// conflict detection and never returns ErrConflict.
type WriteTx interface {
	Get(key []byte) ([]byte, error)
	Iterate(prefix []byte, callback func(key, value []byte) bool) error
	Set(key, value []byte) error
	Delete(key []byte) error
	// Apply merges every write recorded in other into tx, without
	// committing either transaction. The Pebble backend accepts only
	// another Pebble transaction as other.
	Apply(other WriteTx) error
	Commit() error
	Discard()
}
