// Package verrors defines the error kinds shared by every component of the
// vote-collection pipeline. Each kind is a typed error so
// callers can branch with errors.As, and every kind carries enough context
// to render a useful audit-journal detail string.
package verrors

import "fmt"

// DuplicateVoteError reports that a vote with this id, voter, or payload
// hash was already processed.
type DuplicateVoteError struct {
	VoteID string
	Reason string
}

func (e *DuplicateVoteError) Error() string {
	return fmt.Sprintf("duplicate vote %s: %s", e.VoteID, e.Reason)
}

// NewDuplicateVote constructs a DuplicateVoteError.
func NewDuplicateVote(voteID, reason string) error {
	return &DuplicateVoteError{VoteID: voteID, Reason: reason}
}

// StorageError reports that local or remote persistence failed.
type StorageError struct {
	Message string
	Cause   error
}

func (e *StorageError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("storage error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("storage error: %s", e.Message)
}

func (e *StorageError) Unwrap() error { return e.Cause }

// NewStorage wraps cause as a StorageError.
func NewStorage(message string, cause error) error {
	return &StorageError{Message: message, Cause: cause}
}

// QueueFullError reports that the broker refused further enqueue.
type QueueFullError struct {
	Max int
}

func (e *QueueFullError) Error() string {
	return fmt.Sprintf("queue full: max capacity %d reached", e.Max)
}

// NewQueueFull constructs a QueueFullError.
func NewQueueFull(max int) error { return &QueueFullError{Max: max} }

// QueryTimeoutError reports that a DB operation exceeded its deadline.
type QueryTimeoutError struct {
	Query string
}

func (e *QueryTimeoutError) Error() string {
	return fmt.Sprintf("query timeout: %s", e.Query)
}

// NewQueryTimeout constructs a QueryTimeoutError.
func NewQueryTimeout(query string) error { return &QueryTimeoutError{Query: query} }

// DBConnectionError reports that no usable connection exists to a target.
type DBConnectionError struct {
	Target  string
	Message string
}

func (e *DBConnectionError) Error() string {
	return fmt.Sprintf("db connection %s: %s", e.Target, e.Message)
}

// NewDBConnection constructs a DBConnectionError.
func NewDBConnection(target, message string) error {
	return &DBConnectionError{Target: target, Message: message}
}

// ReplicationError reports that a replica did not confirm a transaction.
type ReplicationError struct {
	TxID    string
	Message string
}

func (e *ReplicationError) Error() string {
	return fmt.Sprintf("replication %s: %s", e.TxID, e.Message)
}

// NewReplication constructs a ReplicationError.
func NewReplication(txID, message string) error {
	return &ReplicationError{TxID: txID, Message: message}
}

// CacheError reports that the cache layer misbehaved.
type CacheError struct {
	Op      string
	Message string
}

func (e *CacheError) Error() string {
	return fmt.Sprintf("cache %s: %s", e.Op, e.Message)
}

// NewCache constructs a CacheError.
func NewCache(op, message string) error { return &CacheError{Op: op, Message: message} }

// CircuitOpenError reports that a request was rejected because the target's
// circuit breaker is OPEN.
type CircuitOpenError struct {
	Target string
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open: %s", e.Target)
}

// NewCircuitOpen constructs a CircuitOpenError.
func NewCircuitOpen(target string) error { return &CircuitOpenError{Target: target} }
