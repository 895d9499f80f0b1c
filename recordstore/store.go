// Package recordstore implements the append-only, line-oriented,
// pipe-delimited local stores shared by StationAgent, CenterReceiver,
// CentralServer and Broker. Each store is a durable write-ahead log of
// pipe-delimited records plus an in-memory index of the latest record per
// key, rebuilt on Open by replaying the log. Every mutation is also
// appended to a parallel audit journal in the form
// `SCOPE|ISO8601|OPERATION|key|detail`.
//
// Open creates the directory backing a store and its log files if they
// are absent: a directory's absence is not an error.
package recordstore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/wal"
	golock "github.com/viney-shih/go-lock"

	"github.com/electoral-net/votepipeline/log"
)

const fieldSep = "|"

// Record is a single decoded line: the key followed by its ordered fields.
type Record struct {
	Key    string
	Fields []string
}

// Store is a durable append-only key-indexed log. The zero value is not
// usable; construct with Open.
type Store struct {
	scope string
	dir   string

	mu         golock.RWMutex
	opened     bool
	openOnce   sync.Once
	openErr    error
	recordsLog *wal.Log
	auditLog   *wal.Log
	nextIndex  uint64
	index      map[string]uint64 // key -> wal index of its latest record
	order      []string          // keys in first-seen order, for stable Scan
}

// Open returns a Store scoped under dir. It creates dir and the records and
// audit logs if they do not exist yet, so a fresh directory yields an
// empty store.
func Open(scope, dir string) (*Store, error) {
	s := &Store{
		scope: scope,
		dir:   dir,
		mu:    golock.NewCASMutex(),
		index: make(map[string]uint64),
	}
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureOpen() error {
	s.openOnce.Do(func() {
		if err := os.MkdirAll(s.dir, 0o755); err != nil {
			s.openErr = fmt.Errorf("recordstore %s: create dir: %w", s.scope, err)
			return
		}
		recordsLog, err := wal.Open(filepath.Join(s.dir, "records.wal"), nil)
		if err != nil {
			s.openErr = fmt.Errorf("recordstore %s: open records log: %w", s.scope, err)
			return
		}
		auditLog, err := wal.Open(filepath.Join(s.dir, "audit.wal"), nil)
		if err != nil {
			s.openErr = fmt.Errorf("recordstore %s: open audit log: %w", s.scope, err)
			return
		}
		s.recordsLog = recordsLog
		s.auditLog = auditLog
		s.opened = true
		s.openErr = s.rebuildIndex()
	})
	return s.openErr
}

// rebuildIndex replays the records log so that restart never loses data.
func (s *Store) rebuildIndex() error {
	first, err := s.recordsLog.FirstIndex()
	if err != nil {
		return fmt.Errorf("recordstore %s: first index: %w", s.scope, err)
	}
	last, err := s.recordsLog.LastIndex()
	if err != nil {
		return fmt.Errorf("recordstore %s: last index: %w", s.scope, err)
	}
	s.nextIndex = last + 1
	if first == 0 && last == 0 {
		return nil
	}
	for idx := first; idx <= last; idx++ {
		data, err := s.recordsLog.Read(idx)
		if err != nil {
			return fmt.Errorf("recordstore %s: replay index %d: %w", s.scope, idx, err)
		}
		key, _ := decodeLine(string(data))
		if _, seen := s.index[key]; !seen {
			s.order = append(s.order, key)
		}
		s.index[key] = idx
	}
	log.Infow("recordstore replayed", "scope", s.scope, "records", len(s.index))
	return nil
}

func decodeLine(line string) (key string, fields []string) {
	parts := strings.Split(line, fieldSep)
	if len(parts) == 0 {
		return "", nil
	}
	return parts[0], parts[1:]
}

func encodeLine(key string, fields []string) string {
	return key + fieldSep + strings.Join(fields, fieldSep)
}

// Append writes a new record under key, superseding any previous record for
// the same key. It is the only mutating primitive; callers encode state
// transitions as successive Append calls.
func (s *Store) Append(key string, fields ...string) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.nextIndex
	if err := s.recordsLog.Write(idx, []byte(encodeLine(key, fields))); err != nil {
		return fmt.Errorf("recordstore %s: append %s: %w", s.scope, key, err)
	}
	s.nextIndex++
	if _, seen := s.index[key]; !seen {
		s.order = append(s.order, key)
	}
	s.index[key] = idx
	return nil
}

// Audit appends one line to the store's audit journal:
// SCOPE|ISO8601|OPERATION|key|detail. Audit failures are logged but never
// surfaced: a confirmation-path failure must not abort the calling
// operation.
func (s *Store) Audit(operation, key, detail string) {
	if err := s.ensureOpen(); err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	line := strings.Join([]string{
		s.scope,
		time.Now().UTC().Format(time.RFC3339Nano),
		operation,
		key,
		detail,
	}, fieldSep)
	idx, err := s.auditLog.LastIndex()
	if err != nil {
		log.Warnw("audit journal unavailable", "scope", s.scope, "error", err.Error())
		return
	}
	if err := s.auditLog.Write(idx+1, []byte(line)); err != nil {
		log.Warnw("audit journal write failed", "scope", s.scope, "error", err.Error())
	}
}

// Get returns the latest fields recorded for key.
func (s *Store) Get(key string) ([]string, bool, error) {
	if err := s.ensureOpen(); err != nil {
		return nil, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.index[key]
	if !ok {
		return nil, false, nil
	}
	data, err := s.recordsLog.Read(idx)
	if err != nil {
		return nil, false, fmt.Errorf("recordstore %s: read %s: %w", s.scope, key, err)
	}
	_, fields := decodeLine(string(data))
	return fields, true, nil
}

// Scan calls fn for the latest record of every key, in first-seen order.
// It stops early if fn returns false.
func (s *Store) Scan(fn func(key string, fields []string) bool) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	s.mu.RLock()
	keys := make([]string, len(s.order))
	copy(keys, s.order)
	s.mu.RUnlock()

	for _, key := range keys {
		fields, ok, err := s.Get(key)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if !fn(key, fields) {
			break
		}
	}
	return nil
}

// Count returns the number of distinct keys currently recorded.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.index)
}

// Close releases the underlying log files.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.opened {
		return nil
	}
	if err := s.recordsLog.Close(); err != nil {
		return err
	}
	return s.auditLog.Close()
}
